// Package issuance orchestrates the credential endpoint: token and scope
// checks, nonce lifecycle, proof validation, assembly, signing, status
// allocation and ledger recording, in that order. Each step maps its failure
// to the OpenID4VCI error vocabulary; later steps never run after an earlier
// one fails.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"attest/internal/assembler"
	"attest/internal/credential"
	"attest/internal/ledger"
	"attest/internal/metadata"
	"attest/internal/nonce"
	"attest/internal/platform/metrics"
	"attest/internal/proof"
	"attest/internal/signer"
	"attest/internal/statuslist"
	derrors "attest/pkg/domainerrors"
	"attest/pkg/platform/audit"
	"attest/pkg/requestcontext"
	"attest/pkg/sentinel"
)

// NonceRetryError signals that the proof carried a stale or unknown nonce.
// The transport returns invalid_proof together with the fresh challenge so
// the client can retry without a second round-trip.
type NonceRetryError struct {
	CNonce    string
	ExpiresIn time.Duration
}

func (e *NonceRetryError) Error() string {
	return "proof nonce rejected, fresh c_nonce issued"
}

// Service is the issuance orchestrator.
type Service struct {
	nonces     *nonce.Manager
	proofs     *proof.Registry
	resolver   *metadata.Resolver
	assemblers *assembler.Registry
	signers    *signer.Registry
	allocator  *statuslist.Allocator
	records    *ledger.Service

	issuerID string

	logger  *slog.Logger
	sink    *audit.Publisher
	metrics *metrics.Metrics
}

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

func New(
	nonces *nonce.Manager,
	proofs *proof.Registry,
	resolver *metadata.Resolver,
	assemblers *assembler.Registry,
	signers *signer.Registry,
	allocator *statuslist.Allocator,
	records *ledger.Service,
	issuerID string,
	opts ...Option,
) (*Service, error) {
	if nonces == nil || proofs == nil || resolver == nil || assemblers == nil || signers == nil || allocator == nil || records == nil {
		return nil, fmt.Errorf("all issuance collaborators are required")
	}
	if issuerID == "" {
		return nil, fmt.Errorf("issuer id is required")
	}
	s := &Service{
		nonces:     nonces,
		proofs:     proofs,
		resolver:   resolver,
		assemblers: assemblers,
		signers:    signers,
		allocator:  allocator,
		records:    records,
		issuerID:   issuerID,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MintNonce issues a fresh c_nonce for the token identity (the nonce
// endpoint). Also used internally when a proof arrives with a stale nonce.
func (s *Service) MintNonce(ctx context.Context, token credential.AccessToken) (nonce.Record, error) {
	if !token.Active {
		return nonce.Record{}, derrors.New(derrors.CodeUnauthorized, "access token is not active")
	}
	rec, err := s.nonces.Issue(ctx, nonce.HashToken(token.Raw))
	if err != nil {
		return nonce.Record{}, derrors.Wrap(err, derrors.CodeInternal, "issue nonce")
	}
	audit.LogAudit(ctx, s.logger, s.sink, audit.EventNonceIssued, "success",
		"client_id", token.ClientID,
	)
	return rec, nil
}

// IssueCredential runs the full issuance pipeline for one request.
func (s *Service) IssueCredential(ctx context.Context, token credential.AccessToken, req credential.Request) (credential.Response, error) {
	resp, err := s.issue(ctx, token, req)
	if err != nil {
		s.recordFailure(ctx, token, req, err)
		return credential.Response{}, err
	}
	if s.metrics != nil {
		s.metrics.CredentialsIssued.WithLabelValues(string(resp.Format)).Inc()
	}
	return resp, nil
}

func (s *Service) issue(ctx context.Context, token credential.AccessToken, req credential.Request) (credential.Response, error) {
	if !token.Active {
		return credential.Response{}, derrors.New(derrors.CodeUnauthorized, "access token is not active")
	}
	if req.Proof == nil {
		return credential.Response{}, derrors.New(derrors.CodeInvalidRequest, "proof is required")
	}

	meta, err := s.resolveMetadata(ctx, token, req)
	if err != nil {
		return credential.Response{}, err
	}

	tokenIdentity := nonce.HashToken(token.Raw)
	if err := s.checkProof(ctx, token, req, meta, tokenIdentity); err != nil {
		return credential.Response{}, err
	}

	holder, err := s.proofs.KeyMaterial(req.Proof, meta)
	if err != nil {
		return credential.Response{}, err
	}

	statuses, err := s.allocateStatuses(ctx, meta)
	if err != nil {
		return credential.Response{}, err
	}

	credentialID := uuid.NewString()
	issuedAt := requestcontext.Now(ctx)

	unsigned, err := s.assemblers.CreateCredential(ctx, assembler.Input{
		CredentialID: credentialID,
		IssuerID:     s.issuerID,
		HolderID:     holder,
		Claims:       req.Claims,
		Metadata:     meta,
		Statuses:     statuses,
		IssuedAt:     issuedAt,
	})
	if err != nil {
		return credential.Response{}, err
	}

	signed, err := s.signers.SignCredential(ctx, unsigned, meta)
	if err != nil {
		return credential.Response{}, err
	}

	if err := s.recordIssuance(ctx, credentialID, holder, meta, statuses, issuedAt, signed); err != nil {
		return credential.Response{}, err
	}

	audit.LogAudit(ctx, s.logger, s.sink, audit.EventCredentialIssued, "success",
		"credential_id", credentialID,
		"client_id", token.ClientID,
		"format", string(meta.Format),
		"configuration_id", meta.ID,
	)
	return credential.Response{Format: meta.Format, Credential: signed}, nil
}

// resolveMetadata maps the token's scopes to a credential configuration.
// A request naming a configuration may satisfy it through any granted
// scope; otherwise the first granted scope naming a configuration wins.
// The request format, when present, must agree with the result.
func (s *Service) resolveMetadata(ctx context.Context, token credential.AccessToken, req credential.Request) (credential.Metadata, error) {
	var (
		meta credential.Metadata
		err  error
	)
	if req.CredentialConfigurationID != "" {
		meta, err = s.configurationByID(ctx, token.Scopes, req.CredentialConfigurationID)
	} else {
		meta, err = s.resolver.FirstMatch(ctx, token.Scopes)
		if errors.Is(err, sentinel.ErrNotFound) {
			err = derrors.New(derrors.CodeInvalidScope, "no credential configuration granted by token scopes")
		} else if err != nil {
			err = derrors.Wrap(err, derrors.CodeInternal, "resolve credential configuration")
		}
	}
	if err != nil {
		return credential.Metadata{}, err
	}
	if req.Format != "" && req.Format != meta.Format {
		return credential.Metadata{}, derrors.Newf(derrors.CodeInvalidRequest, "requested format %s does not match configuration format %s", req.Format, meta.Format)
	}
	return meta, nil
}

// configurationByID searches every granted scope for the named configuration.
func (s *Service) configurationByID(ctx context.Context, scopes []string, id string) (credential.Metadata, error) {
	for _, scope := range scopes {
		meta, err := s.resolver.ByScope(ctx, scope)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return credential.Metadata{}, derrors.Wrap(err, derrors.CodeInternal, "resolve credential configuration")
		}
		if meta.ID == id {
			return meta, nil
		}
	}
	return credential.Metadata{}, derrors.Newf(derrors.CodeInvalidScope, "configuration %s not granted by token scopes", id)
}

// checkProof validates the nonce lifecycle first, then the proof itself. A
// nonce failure mints a fresh challenge and reports it via NonceRetryError.
func (s *Service) checkProof(ctx context.Context, token credential.AccessToken, req credential.Request, meta credential.Metadata, tokenIdentity string) error {
	proofNonce, err := s.proofs.Nonce(req.Proof, meta)
	if err != nil {
		return err
	}

	if err := s.nonces.Validate(ctx, tokenIdentity, proofNonce); err != nil {
		if errors.Is(err, nonce.ErrNonceExpired) || errors.Is(err, nonce.ErrNonceMismatch) {
			rec, issueErr := s.nonces.Issue(ctx, tokenIdentity)
			if issueErr != nil {
				return derrors.Wrap(issueErr, derrors.CodeInternal, "issue retry nonce")
			}
			audit.LogAudit(ctx, s.logger, s.sink, audit.EventProofRejected, "failure",
				"client_id", token.ClientID,
				"reason", err.Error(),
			)
			return &NonceRetryError{CNonce: rec.Nonce, ExpiresIn: rec.TTL}
		}
		return derrors.Wrap(err, derrors.CodeInternal, "validate nonce")
	}

	expect := proof.Expectation{
		ClientID:      token.ClientID,
		Audience:      s.issuerID,
		Nonce:         proofNonce,
		SupportedAlgs: meta.SupportedSigningAlgs,
	}
	if err := s.proofs.Validate(ctx, req.Proof, meta, expect); err != nil {
		audit.LogAudit(ctx, s.logger, s.sink, audit.EventProofRejected, "failure",
			"client_id", token.ClientID,
			"reason", derrors.MessageOf(err),
		)
		return err
	}
	return nil
}

func (s *Service) allocateStatuses(ctx context.Context, meta credential.Metadata) ([]credential.StatusEntry, error) {
	var entries []credential.StatusEntry
	for _, purpose := range meta.StatusPurposes {
		entry, err := s.allocator.AddCredentialStatus(ctx, purpose)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.IndicesAssigned.Inc()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) recordIssuance(ctx context.Context, credentialID, holder string, meta credential.Metadata, statuses []credential.StatusEntry, issuedAt time.Time, signed string) error {
	details := make([]ledger.StatusDetail, 0, len(statuses))
	for _, entry := range statuses {
		index, err := strconv.ParseInt(entry.StatusListIndex, 10, 64)
		if err != nil {
			return derrors.Wrap(err, derrors.CodeInternal, "parse status list index")
		}
		details = append(details, ledger.StatusDetail{
			StatusListCredentialID: listIDFromURL(entry.StatusListCredential),
			StatusListIndex:        index,
			StatusPurpose:          entry.StatusPurpose,
		})
	}

	sum := sha256.Sum256([]byte(signed))
	rec := &ledger.Record{
		CredentialID:   credentialID,
		IssuerID:       s.issuerID,
		CredentialType: meta.CredentialType,
		IssuanceDate:   issuedAt,
		IndexedAttributes: map[string]string{
			"holder": holder,
			"scope":  meta.Scope,
		},
		CredentialHash: hex.EncodeToString(sum[:]),
		StatusDetails:  details,
	}
	if meta.ValiditySeconds > 0 {
		exp := issuedAt.Add(time.Duration(meta.ValiditySeconds) * time.Second)
		rec.ExpirationDate = &exp
	}
	return s.records.StoreIssuance(ctx, rec)
}

func (s *Service) recordFailure(ctx context.Context, token credential.AccessToken, req credential.Request, err error) {
	var retry *NonceRetryError
	if errors.As(err, &retry) {
		// Already audited as a proof rejection; not an issuance failure.
		return
	}
	code := derrors.CodeOf(err)
	if s.metrics != nil {
		s.metrics.IssuanceFailures.WithLabelValues(string(code)).Inc()
	}
	audit.LogAudit(ctx, s.logger, s.sink, audit.EventCredentialIssueFailed, "failure",
		"client_id", token.ClientID,
		"format", string(req.Format),
		"code", string(code),
		"reason", derrors.MessageOf(err),
	)
}

// listIDFromURL strips the base URL prefix from a status list credential URL.
func listIDFromURL(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
