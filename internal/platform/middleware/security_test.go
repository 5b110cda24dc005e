package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/internal/platform/ratelimit"
)

type captureStore struct {
	mu      sync.Mutex
	entries []*hipaa.Entry
}

func (s *captureStore) Insert(ctx context.Context, e *hipaa.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}
func (s *captureStore) InsertBatch(ctx context.Context, es []*hipaa.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, es...)
	return nil
}
func (s *captureStore) Query(ctx context.Context, f hipaa.QueryFilter) ([]*hipaa.Entry, int, error) {
	return nil, 0, nil
}
func (s *captureStore) CountPHIAccess(ctx context.Context, userID string, since time.Time) (int, error) {
	return 0, nil
}
func (s *captureStore) ActivityReport(ctx context.Context, start, end time.Time) (*hipaa.ActivityReport, error) {
	return nil, nil
}

func newTestSecurity(t *testing.T) (*Security, *hipaa.Trail, *captureStore) {
	t.Helper()
	store := &captureStore{}
	signer, err := hipaa.NewIntegritySigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	trail := hipaa.NewTrail(store, signer, zerolog.Nop())
	limiter := ratelimit.New(zerolog.Nop())
	return NewSecurity(limiter, trail, DefaultRouteProfiles(), zerolog.Nop()), trail, store
}

func doRequest(sec *Security, target, ip string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = sec.Middleware()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	return rec
}

func TestProfileFor(t *testing.T) {
	sec, _, _ := newTestSecurity(t)

	tests := []struct {
		path string
		want string
	}{
		{"/api/auth/login", "AUTH"},
		{"/api/medical-records/123", "PHI_ACCESS"},
		{"/api/telemetry/vitals", "DEVICE_TELEMETRY"},
		{"/api/incidents/breaches", "BREACH_NOTIFICATION"},
		{"/api/incidents/42", "INCIDENT_REPORT"},
		{"/api/billing", "API_GENERAL"},
		{"/healthz", "API_GENERAL"},
	}
	for _, tt := range tests {
		if got := sec.ProfileFor(tt.path).Name; got != tt.want {
			t.Errorf("ProfileFor(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestSecurity_RateHeadersOnAllowed(t *testing.T) {
	sec, _, _ := newTestSecurity(t)
	rec := doRequest(sec, "/api/billing", "10.0.0.1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	limit, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))
	if limit != ratelimit.ProfileGeneral.MaxRequests {
		t.Errorf("X-RateLimit-Limit = %d", limit)
	}
	if remaining != limit-1 {
		t.Errorf("X-RateLimit-Remaining = %d, want %d", remaining, limit-1)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset missing")
	}
}

func TestSecurity_EndpointLimitDenies(t *testing.T) {
	sec, _, store := newTestSecurity(t)

	var rec *httptest.ResponseRecorder
	for i := 0; i <= ratelimit.ProfileAuth.MaxRequests; i++ {
		rec = doRequest(sec, "/api/auth/login", "10.0.0.2")
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on 429")
	}

	var body struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message == "" || body.RetryAfter < 1 {
		t.Errorf("body = %+v", body)
	}

	// The denial is audited (warning severity, buffered).
	found := false
	for _, e := range buffered(store, sec) {
		if e.Action == hipaa.ActionRateLimitExceeded {
			found = true
		}
	}
	if !found {
		t.Error("rate limit denial should be audited")
	}
}

// buffered flushes the trail and returns everything the store has seen.
func buffered(store *captureStore, sec *Security) []*hipaa.Entry {
	sec.audit.Flush(context.Background())
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]*hipaa.Entry(nil), store.entries...)
}

func TestSecurity_SuspiciousPatternLogsButPasses(t *testing.T) {
	sec, _, store := newTestSecurity(t)

	rec := doRequest(sec, "/api/notes?q=union+select+1", "10.0.0.3")
	if rec.Code != http.StatusOK {
		t.Fatalf("suspicious content must not be blocked, status = %d", rec.Code)
	}

	found := false
	for _, e := range buffered(store, sec) {
		if e.Action == hipaa.ActionSuspiciousActivity {
			found = true
			if e.Metadata["pattern"] == "" {
				t.Error("audit entry should name the matched pattern")
			}
		}
	}
	if !found {
		t.Error("suspicious pattern should be audited")
	}
}

func TestSecurity_CleanRequestNotFlagged(t *testing.T) {
	sec, _, store := newTestSecurity(t)

	doRequest(sec, "/api/billing?patient=select-committee-notes", "10.0.0.4")
	for _, e := range buffered(store, sec) {
		if e.Action == hipaa.ActionSuspiciousActivity {
			t.Errorf("benign request flagged: %v", e.Metadata)
		}
	}
}

func TestScanPatterns(t *testing.T) {
	sec, _, _ := newTestSecurity(t)

	flagged := []string{
		"/api/x?q=<script>alert(1)</script>",
		"/api/x?q=UNION SELECT password",
		"/api/x?q=base64_decode(abc)",
		"/api/x?q=eval (payload)",
		"/api/x/../../etc/passwd",
	}
	for _, target := range flagged {
		if sec.scan(target) == "" {
			t.Errorf("scan(%q) should flag", target)
		}
	}

	clean := []string{
		"/api/medical-records?diagnosis=selective+mutism",
		"/api/billing?union=local-402", // "union" without "select"
		"/api/x?note=evaluation+complete",
	}
	for _, target := range clean {
		if got := sec.scan(target); got != "" {
			t.Errorf("scan(%q) flagged %q", target, got)
		}
	}
}

func TestSecurity_IPCeilingPrecedesProfile(t *testing.T) {
	sec, _, store := newTestSecurity(t)

	// Spread traffic across profiles so every endpoint limit has headroom
	// while the per-address ceiling is exhausted.
	spread := []struct {
		path string
		n    int
	}{
		{"/api/telemetry/vitals", 250},
		{"/api/incidents/breaches", 150},
		{"/api/billing", 90},
		{"/api/medical-records/r-1", 10},
	}
	for _, s := range spread {
		for i := 0; i < s.n; i++ {
			if rec := doRequest(sec, s.path, "10.9.9.9"); rec.Code != http.StatusOK {
				t.Fatalf("request %d to %s denied early, status = %d", i, s.path, rec.Code)
			}
		}
	}

	// 500 requests so far. The next one trips the address ceiling even
	// though its own profile still has capacity.
	rec := doRequest(sec, "/api/billing", "10.9.9.9")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("address ceiling should deny regardless of endpoint, status = %d", rec.Code)
	}
	found := false
	for _, e := range buffered(store, sec) {
		if e.Action == hipaa.ActionRateLimitExceeded && e.Metadata["profile"] == "IP_CEILING" {
			found = true
		}
	}
	if !found {
		t.Error("ceiling denial should be audited under the IP_CEILING scope")
	}
}

func TestSecurity_ProfileCounterSharedAcrossRecords(t *testing.T) {
	sec, _, _ := newTestSecurity(t)

	// Reads of distinct records draw down one PHI_ACCESS counter per
	// caller; varying the path must not mint fresh windows.
	var rec *httptest.ResponseRecorder
	for i := 0; i <= ratelimit.ProfilePHIAccess.MaxRequests; i++ {
		rec = doRequest(sec, "/api/medical-records/rec-"+strconv.Itoa(i), "10.0.0.7")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("distinct record paths must share one counter, status = %d", rec.Code)
	}
}

func TestSecurity_EncodedPayloadStillFlagged(t *testing.T) {
	sec, _, store := newTestSecurity(t)

	rec := doRequest(sec, "/api/notes?q=union%20select%20name", "10.0.0.8")
	if rec.Code != http.StatusOK {
		t.Fatalf("suspicious content must not be blocked, status = %d", rec.Code)
	}
	found := false
	for _, e := range buffered(store, sec) {
		if e.Action == hipaa.ActionSuspiciousActivity {
			found = true
		}
	}
	if !found {
		t.Error("percent-encoded payload should be flagged after decoding")
	}
}
