package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/perptools/journal/internal/domain"
)

// EventListener subscribes to the journal event channel and forwards
// noteworthy events to the Notifier. It runs until the context is cancelled.
type EventListener struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewEventListener creates an EventListener on the given pub/sub channel.
func NewEventListener(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *EventListener {
	if channel == "" {
		channel = "journal"
	}
	return &EventListener{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes events from the bus and dispatches notifications. Delivery
// failures are logged and the loop continues; notifications are advisory.
func (l *EventListener) Run(ctx context.Context) error {
	msgCh, err := l.bus.Subscribe(ctx, l.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", l.channel, err)
	}

	l.logger.InfoContext(ctx, "listening for journal events",
		slog.String("channel", l.channel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				l.logger.WarnContext(ctx, "event channel closed")
				return nil
			}
			l.handle(ctx, data)
		}
	}
}

func (l *EventListener) handle(ctx context.Context, data []byte) {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		l.logger.WarnContext(ctx, "malformed event payload",
			slog.String("error", err.Error()),
		)
		return
	}

	kind, _ := event["event"].(string)
	if kind == "" {
		return
	}

	title, message := formatEvent(kind, event)
	if err := l.notifier.Notify(ctx, kind, title, message); err != nil {
		l.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", kind),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a journal event as a human-readable notification.
func formatEvent(kind string, event map[string]any) (string, string) {
	switch kind {
	case "trades_updated":
		return "Journal updated", fmt.Sprintf(
			"%s: %v trades reconstructed for account %v",
			str(event, "source"), num(event, "trades"), str(event, "account_id"),
		)
	case "unmatched_funding":
		return "Unmatched funding events", fmt.Sprintf(
			"%s: %v funding events could not be attributed to a trade",
			str(event, "source"), num(event, "count"),
		)
	case "coverage_error":
		return "Price coverage gaps", fmt.Sprintf(
			"%v trades skipped excursion metrics due to missing price bars",
			num(event, "count"),
		)
	default:
		return "Journal event: " + kind, string(mustCompact(event))
	}
}

func str(event map[string]any, key string) string {
	if s, ok := event[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func num(event map[string]any, key string) any {
	if f, ok := event[key].(float64); ok {
		return int64(f)
	}
	return 0
}

func mustCompact(event map[string]any) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return data
}
