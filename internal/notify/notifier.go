// Package notify fans execution outcomes out to alert channels. Senders
// (Telegram, Discord) are tried independently and can be narrowed down by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// Event types the platform emits.
const (
	EventExecutionSuccess = "execution_success"
	EventExecutionFailed  = "execution_failed"
	EventBreakerOpen      = "breaker_open"
)

// dispatchTimeout bounds a background dispatch that has no request context
// to inherit.
const dispatchTimeout = 15 * time.Second

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender, e.g. "telegram".
	Name() string
}

// Notifier dispatches notifications to its senders, filtered by event type.
// It implements the executor's notifier contract.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types, empty means all
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events listed in events are forwarded; an empty list allows all of them.
func NewNotifier(senders []Sender, events []string, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// ExecutionResult reports one settled execution. Failed rows raise
// execution_failed, everything else execution_success. Delivery problems are
// logged and counted, never surfaced to the execution path.
func (n *Notifier) ExecutionResult(ctx context.Context, log domain.TransactionLog) {
	event := EventExecutionSuccess
	title := "Execution succeeded"
	if log.Status == domain.TxFailed {
		event = EventExecutionFailed
		title = "Execution failed"
	}
	n.Notify(ctx, event, title, executionMessage(log))
}

// BreakerState reports a signer circuit transition. It is called under the
// breaker mutex, so delivery happens on a background goroutine with its own
// timeout.
func (n *Notifier) BreakerState(open bool) {
	title := "Signer breaker recovered"
	message := "Signer calls are flowing again."
	if open {
		title = "Signer breaker opened"
		message = "Consecutive signer failures tripped the circuit. Executions are rejected until a cooldown probe succeeds."
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		n.Notify(ctx, EventBreakerOpen, title, message)
	}()
}

// Notify sends to all senders when the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}
	n.dispatch(ctx, title, message)
}

// dispatch tries every sender. A failing sender does not stop delivery to
// the remaining ones.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.metrics.NotificationsSent.WithLabelValues(s.Name(), "error").Inc()
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.metrics.NotificationsSent.WithLabelValues(s.Name(), "ok").Inc()
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// executionMessage renders a transaction log row as a short plain-text body.
func executionMessage(log domain.TransactionLog) string {
	var b strings.Builder
	if log.Description != "" {
		b.WriteString(log.Description)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "status: %s", log.Status)
	if log.Chain != "" {
		fmt.Fprintf(&b, "\nchain: %s", log.Chain)
	}
	if log.TxHash != "" {
		fmt.Fprintf(&b, "\ntx: %s", log.TxHash)
	}
	fmt.Fprintf(&b, "\nuser: %d", log.UserID)
	if log.StrategyID != nil {
		fmt.Fprintf(&b, "\nstrategy: %d", *log.StrategyID)
	}
	if stage, ok := log.Details["stage"].(string); ok && stage != "" {
		fmt.Fprintf(&b, "\nstage: %s", stage)
	}
	return b.String()
}
