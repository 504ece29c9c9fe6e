package dispatch

import (
	"log/slog"

	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
)

// Notifier pushes events to whichever handle is registered for an identity.
// Delivery is best effort: absent identities and send failures are logged
// and dropped.
type Notifier struct {
	reg *Registry
	log *slog.Logger
}

func NewNotifier(reg *Registry, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{reg: reg, log: log}
}

func (n *Notifier) Notify(identity string, kind models.EventKind, payload any) {
	h, ok := n.reg.Lookup(identity)
	if !ok {
		observability.NotificationsTotal.WithLabelValues(string(kind), "absent").Inc()
		n.log.Debug("notify_absent", "identity", identity, "event", kind)
		return
	}
	if err := h.Send(kind, payload); err != nil {
		observability.NotificationsTotal.WithLabelValues(string(kind), "dropped").Inc()
		n.log.Warn("notify_dropped", "identity", identity, "event", kind, "error", err)
		return
	}
	observability.NotificationsTotal.WithLabelValues(string(kind), "delivered").Inc()
}
