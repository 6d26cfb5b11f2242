package discovery

import (
	"context"

	"evalgo.org/flightdeck/internal/notify"
)

// targetDiscovery is the TargetJvmDiscovery notification payload.
type targetDiscovery struct {
	Event Event `json:"event"`
}

// ForwardNotifications publishes every target event of t to sink until ctx
// is done.
func ForwardNotifications(ctx context.Context, t *Tree, sink notify.Sink) {
	sub := t.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.IsTargetEvent() {
				sink.Publish(notify.CategoryTargetJvmDiscovery, targetDiscovery{Event: ev})
			}
		}
	}
}
