package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"attest/internal/credential"
	"attest/internal/platform/metrics"
	"attest/internal/statuslist"
	derrors "attest/pkg/domainerrors"
	"attest/pkg/platform/audit"
	"attest/pkg/sentinel"
)

// Service is the revocation ledger: the append-only record of issuances and
// status changes, plus the synchronous revocation path that flips a bit and
// re-signs the owning status list immediately.
type Service struct {
	store   Store
	lists   statuslist.Store
	builder statuslist.CredentialBuilder

	logger  *slog.Logger
	sink    *audit.Publisher
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(sink *audit.Publisher) Option {
	return func(s *Service) { s.sink = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, lists statuslist.Store, builder statuslist.CredentialBuilder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if lists == nil {
		return nil, fmt.Errorf("status list store is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("status list credential builder is required")
	}
	svc := &Service{store: store, lists: lists, builder: builder}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// StoreIssuance appends one issuance record. Called exactly once per
// successfully issued credential.
func (s *Service) StoreIssuance(ctx context.Context, rec *Record) error {
	if rec.CredentialID == "" {
		return derrors.New(derrors.CodeInvalidRequest, "credential id is required")
	}
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "persist issuance record")
	}
	return nil
}

// Revoke flips the status bit for (listID, index) synchronously: it validates
// the list and the issuance record, sets the bit, re-encodes and re-signs the
// status list credential in one row-locked transaction, and appends the
// change to the transaction log so consolidation rebuilds preserve it.
//
// Revoking an already-revoked index is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, listID string, index int64, purpose credential.StatusPurpose) error {
	list, err := s.lists.Get(ctx, listID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return derrors.Newf(derrors.CodeNotFound, "status list %s not found", listID)
		}
		return derrors.Wrap(err, derrors.CodeInternal, "load status list")
	}
	if list.StatusPurpose != purpose {
		return derrors.Newf(derrors.CodeInvalidRequest, "status list %s has purpose %s, not %s", listID, list.StatusPurpose, purpose)
	}

	rec, err := s.store.FindByStatus(ctx, listID, index, string(purpose))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return derrors.Newf(derrors.CodeNotFound, "no issuance record at index %d of list %s", index, listID)
		}
		return derrors.Wrap(err, derrors.CodeInternal, "lookup issuance record")
	}

	err = s.lists.MutateEncodedList(ctx, listID, func(current *statuslist.List) (string, string, error) {
		bits, err := statuslist.DecodeBitstring(current.EncodedList)
		if err != nil {
			return "", "", err
		}
		if err := bits.Set(int(index), true); err != nil {
			return "", "", err
		}
		encoded, err := bits.Encode()
		if err != nil {
			return "", "", err
		}
		resigned := *current
		resigned.EncodedList = encoded
		vcDoc, err := s.builder.BuildStatusListCredential(ctx, &resigned)
		if err != nil {
			return "", "", err
		}
		return encoded, vcDoc, nil
	})
	if err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "update status list")
	}

	if err := s.store.AppendTransaction(ctx, &Transaction{
		CredentialID:           rec.CredentialID,
		StatusListCredentialID: listID,
		StatusListIndex:        index,
		StatusPurpose:          purpose,
		StatusValue:            true,
	}); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "log status transaction")
	}

	if s.metrics != nil {
		s.metrics.Revocations.Inc()
	}
	audit.LogAudit(ctx, s.logger, s.sink, audit.EventCredentialRevoked, "success",
		"credential_id", rec.CredentialID,
		"status_list_id", listID,
		"status_list_index", index,
		"purpose", string(purpose),
	)
	return nil
}

// RevokeByCredentialHash revokes every revocation-purpose status entry of the
// credential whose signed artifact hashes to hash.
func (s *Service) RevokeByCredentialHash(ctx context.Context, hash string) error {
	rec, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return derrors.New(derrors.CodeNotFound, "no issuance record for credential hash")
		}
		return derrors.Wrap(err, derrors.CodeInternal, "lookup issuance record by hash")
	}
	for _, d := range rec.StatusDetails {
		if d.StatusPurpose != credential.PurposeRevocation {
			continue
		}
		if err := s.Revoke(ctx, d.StatusListCredentialID, d.StatusListIndex, d.StatusPurpose); err != nil {
			return err
		}
	}
	return nil
}

// AppendTransaction records an externally-sourced status change on the batch
// path. The bit is not flipped here; the consolidation job folds it in.
func (s *Service) AppendTransaction(ctx context.Context, credentialID, listID string, index int64, purpose credential.StatusPurpose, value bool) error {
	list, err := s.lists.Get(ctx, listID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return derrors.Newf(derrors.CodeNotFound, "status list %s not found", listID)
		}
		return derrors.Wrap(err, derrors.CodeInternal, "load status list")
	}
	if list.StatusPurpose != purpose {
		return derrors.Newf(derrors.CodeInvalidRequest, "status list %s has purpose %s, not %s", listID, list.StatusPurpose, purpose)
	}
	if err := s.store.AppendTransaction(ctx, &Transaction{
		CredentialID:           credentialID,
		StatusListCredentialID: listID,
		StatusListIndex:        index,
		StatusPurpose:          purpose,
		StatusValue:            value,
	}); err != nil {
		return derrors.Wrap(err, derrors.CodeInternal, "append status transaction")
	}
	return nil
}
