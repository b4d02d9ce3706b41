package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/pkg/requestcontext"
)

// =============================================================================
// Audit Pipeline Test Suite
// =============================================================================

type AuditSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AuditSuite) TestLogAudit() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithTime(ctx, now)

	s.Run("publishes an enriched event", func() {
		publisher := NewPublisher(8, s.logger)
		LogAudit(ctx, s.logger, publisher, EventCredentialIssued, "success",
			"credential_id", "cred-1",
			"client_id", "client-1",
			"format", "ldp_vc",
		)

		event := <-publisher.Inbox()
		s.Equal("credential_issued", event.Action)
		s.Equal("success", event.Status)
		s.Equal(CategoryCompliance, event.Category)
		s.Equal("cred-1", event.Subject)
		s.Equal("req-1", event.RequestID)
		s.Equal(now, event.Timestamp)
		s.Equal("ldp_vc", event.Details["format"])
	})

	s.Run("subject falls back from credential to list to client", func() {
		publisher := NewPublisher(8, s.logger)
		LogAudit(ctx, s.logger, publisher, EventProofRejected, "failure",
			"client_id", "client-1",
			"reason", "nonce mismatch",
		)
		event := <-publisher.Inbox()
		s.Equal("client-1", event.Subject)
		s.Equal("nonce mismatch", event.Reason)
		s.Equal(CategorySecurity, event.Category)
	})

	s.Run("nil publisher only logs", func() {
		s.NotPanics(func() {
			LogAudit(ctx, s.logger, nil, EventNonceIssued, "success", "client_id", "client-1")
		})
	})
}

func (s *AuditSuite) TestPublisherBackpressure() {
	s.Run("a full buffer drops instead of blocking", func() {
		publisher := NewPublisher(1, s.logger)
		publisher.Emit(context.Background(), Event{Action: "first"})

		done := make(chan struct{})
		go func() {
			publisher.Emit(context.Background(), Event{Action: "second"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			s.Fail("emit blocked on a full buffer")
		}

		event := <-publisher.Inbox()
		s.Equal("first", event.Action)
		s.EqualValues(1, publisher.Dropped())
	})

	s.Run("concurrent emitters share the drop counter safely", func() {
		publisher := NewPublisher(1, s.logger)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				publisher.Emit(context.Background(), Event{Action: "burst"})
			}()
		}
		wg.Wait()

		s.Len(publisher.Inbox(), 1)
		s.EqualValues(7, publisher.Dropped())
	})
}

func (s *AuditSuite) TestWorker() {
	s.Run("drains the inbox into the store", func() {
		publisher := NewPublisher(8, s.logger)
		store := NewMemoryStore()
		worker := NewWorker(store, publisher.Inbox(), s.logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = worker.Run(ctx) }()

		publisher.Emit(ctx, Event{Action: "credential_issued", Subject: "cred-1"})
		publisher.Emit(ctx, Event{Action: "credential_revoked", Subject: "cred-1"})

		s.Eventually(func() bool {
			return len(store.All()) == 2
		}, time.Second, 10*time.Millisecond)

		events, err := store.ListBySubject(ctx, "cred-1", 10)
		s.Require().NoError(err)
		s.Len(events, 2)
		// Newest first.
		s.Equal("credential_revoked", events[0].Action)
	})
}
