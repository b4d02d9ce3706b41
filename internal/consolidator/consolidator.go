// Package consolidator folds the append-only status transaction log into the
// status list bitstrings. It runs periodically under a cross-instance lease;
// the synchronous revoke path keeps lists correct between runs, so the job is
// a batching and repair mechanism, not the source of truth.
package consolidator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attest/internal/ledger"
	"attest/internal/platform/metrics"
	"attest/internal/statuslist"
	"attest/pkg/platform/audit"
)

// leaseName is the shared mutual-exclusion key for the job.
const leaseName = "status-list-consolidation"

// Consolidator rebuilds status list bitstrings from the transaction log.
type Consolidator struct {
	transactions ledger.Store
	lists        statuslist.Store
	builder      statuslist.CredentialBuilder
	lease        Lease
	watermark    WatermarkStore

	batchSize int
	// epoch is the watermark of last resort when neither a stored watermark
	// nor any list row exists.
	epoch        time.Time
	leaseMinHold time.Duration
	leaseMaxHold time.Duration

	logger  *slog.Logger
	sink    *audit.Publisher
	metrics *metrics.Metrics
	clock   func() time.Time
}

type Option func(*Consolidator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consolidator) { c.logger = logger }
}

func WithAuditPublisher(sink *audit.Publisher) Option {
	return func(c *Consolidator) { c.sink = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consolidator) { c.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(c *Consolidator) { c.batchSize = n }
}

func WithEpoch(epoch time.Time) Option {
	return func(c *Consolidator) { c.epoch = epoch }
}

func WithLeaseHold(minHold, maxHold time.Duration) Option {
	return func(c *Consolidator) {
		c.leaseMinHold = minHold
		c.leaseMaxHold = maxHold
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Consolidator) { c.clock = clock }
}

func New(transactions ledger.Store, lists statuslist.Store, builder statuslist.CredentialBuilder, lease Lease, watermark WatermarkStore, opts ...Option) (*Consolidator, error) {
	if transactions == nil || lists == nil || builder == nil {
		return nil, fmt.Errorf("transaction store, list store and credential builder are required")
	}
	if lease == nil || watermark == nil {
		return nil, fmt.Errorf("lease and watermark store are required")
	}
	c := &Consolidator{
		transactions: transactions,
		lists:        lists,
		builder:      builder,
		lease:        lease,
		watermark:    watermark,
		batchSize:    1000,
		leaseMinHold: time.Minute,
		leaseMaxHold: 10 * time.Minute,
		logger:       slog.Default(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start runs the job every interval until ctx is cancelled.
func (c *Consolidator) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.ErrorContext(ctx, "consolidation run failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single consolidation pass. It is a no-op when another
// instance holds the lease.
func (c *Consolidator) RunOnce(ctx context.Context) error {
	acquired, err := c.lease.Acquire(ctx, leaseName, c.leaseMaxHold)
	if err != nil {
		return fmt.Errorf("acquire consolidation lease: %w", err)
	}
	if !acquired {
		c.logger.DebugContext(ctx, "consolidation lease held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := c.lease.Release(ctx, leaseName, c.leaseMinHold); err != nil {
			c.logger.WarnContext(ctx, "release consolidation lease failed", "error", err)
		}
	}()

	started := c.clock()
	if c.metrics != nil {
		c.metrics.ConsolidationRuns.Inc()
		defer func() {
			c.metrics.ConsolidationSeconds.Observe(c.clock().Sub(started).Seconds())
		}()
	}

	since, err := c.resolveWatermark(ctx)
	if err != nil {
		return err
	}

	txs, err := c.transactions.TransactionsSince(ctx, since, c.batchSize)
	if err != nil {
		return fmt.Errorf("load status transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil
	}

	// Group by list, preserving the oldest-first order within each group.
	byList := make(map[string][]ledger.Transaction)
	var order []string
	for _, tx := range txs {
		if _, seen := byList[tx.StatusListCredentialID]; !seen {
			order = append(order, tx.StatusListCredentialID)
		}
		byList[tx.StatusListCredentialID] = append(byList[tx.StatusListCredentialID], tx)
	}

	var failed int
	for _, listID := range order {
		if err := c.consolidateList(ctx, listID); err != nil {
			failed++
			if c.metrics != nil {
				c.metrics.ConsolidationErrors.Inc()
			}
			c.logger.ErrorContext(ctx, "status list consolidation failed",
				"status_list_id", listID, "transactions", len(byList[listID]), "error", err)
			audit.LogAudit(ctx, c.logger, c.sink, audit.EventConsolidationListFailed, "failure",
				"status_list_id", listID,
				"reason", err.Error(),
			)
		}
	}

	// The watermark advances past this batch even on partial failure:
	// consolidateList folds the full log per list, so a failed list catches
	// up when its next transaction lands instead of pinning the watermark
	// and replaying the same leading batch forever.
	newest := txs[len(txs)-1].CreatedAt
	if err := c.watermark.Set(ctx, newest); err != nil {
		return fmt.Errorf("advance consolidation watermark: %w", err)
	}

	status := "success"
	if failed > 0 {
		status = "failure"
	}
	audit.LogAudit(ctx, c.logger, c.sink, audit.EventConsolidationCompleted, status,
		"transactions", len(txs),
		"lists", len(order),
		"failed_lists", failed,
	)
	return nil
}

// resolveWatermark picks the starting point for this run: the stored
// watermark, else the newest list update, else the configured epoch.
func (c *Consolidator) resolveWatermark(ctx context.Context) (time.Time, error) {
	mark, err := c.watermark.Get(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load consolidation watermark: %w", err)
	}
	if !mark.IsZero() {
		return mark, nil
	}
	mark, err = c.lists.MaxUpdatedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("derive watermark from lists: %w", err)
	}
	if !mark.IsZero() {
		return mark, nil
	}
	return c.epoch, nil
}

// consolidateList rebuilds one list's bitstring under the row lock. The full
// transaction log is folded latest-per-index, so a bit flipped true at t1 and
// false at t2 ends up false regardless of batch boundaries.
func (c *Consolidator) consolidateList(ctx context.Context, listID string) error {
	desired, err := c.transactions.LatestStatusPerIndex(ctx, listID)
	if err != nil {
		return fmt.Errorf("fold transaction log: %w", err)
	}
	return c.lists.MutateEncodedList(ctx, listID, func(current *statuslist.List) (string, string, error) {
		bits, err := statuslist.DecodeBitstring(current.EncodedList)
		if err != nil {
			return "", "", err
		}
		for index, value := range desired {
			if err := bits.Set(int(index), value); err != nil {
				return "", "", err
			}
		}
		encoded, err := bits.Encode()
		if err != nil {
			return "", "", err
		}
		resigned := *current
		resigned.EncodedList = encoded
		vcDoc, err := c.builder.BuildStatusListCredential(ctx, &resigned)
		if err != nil {
			return "", "", err
		}
		return encoded, vcDoc, nil
	})
}
