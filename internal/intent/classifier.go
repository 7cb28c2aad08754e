// Package intent labels inbound messages as reminder, weather or chat.
package intent

import (
	"context"
	"strings"

	"github.com/pathakanu/memobot/internal/metrics"
	"go.uber.org/zap"
)

// Intent is the routed category of a message.
type Intent string

const (
	Reminder Intent = "reminder"
	Weather  Intent = "weather"
	Chat     Intent = "chat"
)

// Labels is the closed label set offered to the model.
var Labels = []Intent{Reminder, Weather, Chat}

// Labeler asks the language model for a single label.
type Labeler interface {
	ClassifyIntent(ctx context.Context, text string) (string, error)
}

// Classifier wraps a Labeler with the fallback policy: anything other than a
// clean known label becomes Chat. Scheduling by mistake costs more than an
// unneeded chat reply.
type Classifier struct {
	labeler Labeler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClassifier returns a Classifier. A nil labeler classifies everything as Chat.
func NewClassifier(labeler Labeler, logger *zap.Logger, m *metrics.Metrics) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Classifier{labeler: labeler, logger: logger, metrics: m}
}

// Classify never fails; errors are logged and mapped to Chat.
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	if c.labeler == nil || strings.TrimSpace(text) == "" {
		return Chat
	}

	raw, err := c.labeler.ClassifyIntent(ctx, text)
	if err != nil {
		c.logger.Warn("intent classification failed", zap.Error(err))
		c.metrics.IntentFallbacks.Inc()
		return Chat
	}

	label, ok := Parse(raw)
	if !ok {
		c.logger.Warn("intent classification returned unknown label", zap.String("label", raw))
		c.metrics.IntentFallbacks.Inc()
		return Chat
	}
	return label
}

// Parse maps a model response to an Intent. It expects a single token and
// also accepts the Spanish labels recordatorio, clima and generalquery.
func Parse(raw string) (Intent, bool) {
	fields := strings.Fields(strings.Trim(strings.TrimSpace(raw), `."'`+"`"))
	if len(fields) != 1 {
		return Chat, false
	}
	switch strings.ToLower(strings.Trim(fields[0], `."'`+"`")) {
	case "reminder", "schedule_reminder", "recordatorio":
		return Reminder, true
	case "weather", "clima":
		return Weather, true
	case "chat", "general", "generalquery":
		return Chat, true
	}
	return Chat, false
}
