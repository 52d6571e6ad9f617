package alerts

import (
	"context"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert model.Alert) error
}
