package tenant

import "testing"

func TestValidSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"hospital-a", true},
		{"h1", true},
		{"9lives", true},
		{"a", true},
		{"", false},
		{"-leading", false},
		{"UPPER", false},
		{"under_score", false},
		{"semi;colon", false},
		{"drop table", false},
		{"tenant.dot", false},
	}

	for _, tt := range tests {
		if got := ValidSlug(tt.slug); got != tt.want {
			t.Errorf("ValidSlug(%q) = %v, want %v", tt.slug, got, tt.want)
		}
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		slug string
		want string
	}{
		{"hospital-a", "tenant_hospital_a"},
		{"mercy", "tenant_mercy"},
		{"st-judes-2", "tenant_st_judes_2"},
	}

	for _, tt := range tests {
		if got := SchemaName(tt.slug); got != tt.want {
			t.Errorf("SchemaName(%q) = %q, want %q", tt.slug, got, tt.want)
		}
	}
}

func TestSchemaName_Deterministic(t *testing.T) {
	if SchemaName("hospital-a") != SchemaName("hospital-a") {
		t.Error("schema name must be a pure function of the slug")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusSuspended, StatusInactive} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Error("unknown status should be invalid")
	}
}
