package incident

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier records notification deliveries in the structured log. The
// delivery integrations (mail house, HHS breach portal, press-release queue)
// plug in behind Notifier; until they are configured every obligation is
// logged so compliance can follow up manually.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "breach-notifier").Logger()}
}

func (n *LogNotifier) Send(ctx context.Context, inc *Incident, notif *Notification) error {
	n.log.Warn().
		Str("incident_id", inc.ID.String()).
		Str("channel", string(notif.Channel)).
		Int("affected_patients", inc.AffectedPatients).
		Time("deadline", notif.Deadline).
		Msg("breach notification due: no delivery channel configured, manual follow-up required")
	return nil
}
