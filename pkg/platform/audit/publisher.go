package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"attest/pkg/attrs"
	"attest/pkg/requestcontext"
)

// Publisher accepts events without blocking the caller. Emission is
// fire-and-forget: a full buffer drops the event rather than stalling
// the issuance path.
type Publisher struct {
	inbox   chan Event
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewPublisher creates a buffered publisher. Pair it with a Worker that
// drains the inbox into a Store.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Emit enqueues the event, dropping it if the buffer is full.
func (p *Publisher) Emit(_ context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.dropped.Add(1)
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped", "action", event.Action, "subject", event.Subject)
		}
	}
}

// Inbox exposes the receive side for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Dropped reports how many events were discarded on a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Worker consumes audit events from a publisher inbox and persists them.
// It keeps background processing testable without wiring queue implementations.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until ctx is cancelled. Store failures are logged,
// not propagated: audit persistence must never take the service down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil && w.logger != nil {
				w.logger.Error("audit append failed", "action", event.Action, "error", err)
			}
		}
	}
}

// LogAudit logs an audit event to both the structured logger and the publisher.
// It enriches events with the request ID and extracts subject/reason from attrList.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher *Publisher, event AuditEvent, status string, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "status", status, "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	details := make(map[string]string)
	for i := 0; i < len(attrList)-1; i += 2 {
		if k, ok := attrList[i].(string); ok {
			details[k] = attrs.Stringify(attrList, k)
		}
	}

	publisher.Emit(ctx, Event{
		Category:  event.Category(),
		Timestamp: requestcontext.Now(ctx),
		Subject:   extractSubject(attrList),
		Action:    string(event),
		Status:    status,
		Reason:    attrs.ExtractString(attrList, "reason"),
		RequestID: requestID,
		Details:   details,
	})
}

func extractSubject(attrList []any) string {
	for _, key := range []string{"credential_id", "status_list_id", "client_id"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			return val
		}
	}
	return ""
}
