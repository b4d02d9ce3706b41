package statuslist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"attest/internal/credential"
	"attest/internal/platform/metrics"
	derrors "attest/pkg/domainerrors"
	"attest/pkg/platform/audit"
	"attest/pkg/sentinel"
)

// CredentialBuilder builds and signs the status list credential document for
// a list. Implemented on top of the json-ld assembler and signer so the
// status list VC goes through the same pipeline as issued credentials.
type CredentialBuilder interface {
	BuildStatusListCredential(ctx context.Context, list *List) (string, error)
}

// Allocator owns bitstring status lists: it creates them on demand, assigns
// indices atomically, and marks lists FULL once the usable capacity threshold
// is reached.
type Allocator struct {
	store   Store
	builder CredentialBuilder

	issuerID    string
	listBaseURL string
	// capacityBits is the size of newly created lists (>= MinCapacityBits).
	capacityBits int
	// usablePercent bounds assignment below physical capacity. Deliberate
	// under-fill: it keeps the retry probability near full capacity low and
	// leaves headroom for the consolidation job's eventual-consistency window.
	usablePercent int

	logger  *slog.Logger
	sink    *audit.Publisher
	metrics *metrics.Metrics
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

func WithLogger(logger *slog.Logger) AllocatorOption {
	return func(a *Allocator) { a.logger = logger }
}

func WithAuditPublisher(sink *audit.Publisher) AllocatorOption {
	return func(a *Allocator) { a.sink = sink }
}

func WithMetrics(m *metrics.Metrics) AllocatorOption {
	return func(a *Allocator) { a.metrics = m }
}

func WithCapacity(capacityBits, usablePercent int) AllocatorOption {
	return func(a *Allocator) {
		a.capacityBits = capacityBits
		a.usablePercent = usablePercent
	}
}

// NewAllocator constructs an Allocator. listBaseURL is the public URL prefix
// under which status list credentials are served.
func NewAllocator(store Store, builder CredentialBuilder, issuerID, listBaseURL string, opts ...AllocatorOption) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("status list store is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("status list credential builder is required")
	}
	a := &Allocator{
		store:         store,
		builder:       builder,
		issuerID:      issuerID,
		listBaseURL:   listBaseURL,
		capacityBits:  MinCapacityBits,
		usablePercent: 50,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.capacityBits < MinCapacityBits {
		return nil, fmt.Errorf("status list capacity %d below the bitstring status list minimum %d", a.capacityBits, MinCapacityBits)
	}
	if a.usablePercent <= 0 || a.usablePercent > 100 {
		return nil, fmt.Errorf("usable capacity percent %d out of range (0,100]", a.usablePercent)
	}
	return a, nil
}

// ListURL returns the public URL of a status list credential.
func (a *Allocator) ListURL(listID string) string {
	return a.listBaseURL + "/" + listID
}

// FindOrCreate returns an AVAILABLE list for the purpose, creating one when
// none exists. Two racing creators may each build a list; that only yields
// two AVAILABLE lists, never a shared index.
func (a *Allocator) FindOrCreate(ctx context.Context, purpose credential.StatusPurpose) (*List, error) {
	list, err := a.store.FindAvailable(ctx, string(purpose))
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "lookup status list")
	}
	return a.createList(ctx, purpose)
}

func (a *Allocator) createList(ctx context.Context, purpose credential.StatusPurpose) (*List, error) {
	bits, err := NewBitstring(a.capacityBits)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "allocate bitstring")
	}
	encoded, err := bits.Encode()
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "encode bitstring")
	}

	list := &List{
		ID:            uuid.NewString(),
		IssuerID:      a.issuerID,
		StatusPurpose: purpose,
		CapacityBits:  a.capacityBits,
		EncodedList:   encoded,
		State:         StateAvailable,
	}

	vcDoc, err := a.builder.BuildStatusListCredential(ctx, list)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "sign status list credential")
	}
	list.VCDocument = vcDoc

	if err := a.store.CreateList(ctx, list); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "persist status list")
	}

	if a.metrics != nil {
		a.metrics.StatusListsCreated.Inc()
	}
	audit.LogAudit(ctx, a.logger, a.sink, audit.EventStatusListCreated, "success",
		"status_list_id", list.ID,
		"purpose", string(purpose),
		"capacity_bits", a.capacityBits,
	)
	return list, nil
}

// AcquireIndex claims one index of the list. The second return value is false
// when the list has crossed its usable-capacity threshold or has no free rows;
// in both cases the list is marked FULL.
func (a *Allocator) AcquireIndex(ctx context.Context, list *List) (int64, bool, error) {
	threshold := int64(list.CapacityBits) * int64(a.usablePercent) / 100

	assigned, err := a.store.AssignedCount(ctx, list.ID)
	if err != nil {
		return 0, false, derrors.Wrap(err, derrors.CodeInternal, "count assigned indices")
	}
	if assigned >= threshold {
		return 0, false, a.retire(ctx, list)
	}

	index, err := a.store.ClaimIndex(ctx, list.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrExhausted) {
			return 0, false, a.retire(ctx, list)
		}
		return 0, false, derrors.Wrap(err, derrors.CodeInternal, "claim status list index")
	}
	return index, true, nil
}

func (a *Allocator) retire(ctx context.Context, list *List) error {
	if err := a.store.MarkFull(ctx, list.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return derrors.Wrap(err, derrors.CodeInternal, "mark status list full")
	}
	audit.LogAudit(ctx, a.logger, a.sink, audit.EventStatusListFull, "success",
		"status_list_id", list.ID,
		"purpose", string(list.StatusPurpose),
	)
	return nil
}

// AddCredentialStatus allocates a status entry for a credential being issued:
// find-or-create a list, claim an index, and on a FULL list force a fresh
// list and retry once. A second failure signals a systemic capacity problem
// and fails the issuance.
func (a *Allocator) AddCredentialStatus(ctx context.Context, purpose credential.StatusPurpose) (credential.StatusEntry, error) {
	list, err := a.FindOrCreate(ctx, purpose)
	if err != nil {
		return credential.StatusEntry{}, err
	}

	index, ok, err := a.AcquireIndex(ctx, list)
	if err != nil {
		return credential.StatusEntry{}, err
	}
	if !ok {
		// The list just went FULL; FindOrCreate now yields a fresh one.
		list, err = a.FindOrCreate(ctx, purpose)
		if err != nil {
			return credential.StatusEntry{}, err
		}
		index, ok, err = a.AcquireIndex(ctx, list)
		if err != nil {
			return credential.StatusEntry{}, err
		}
		if !ok {
			return credential.StatusEntry{}, derrors.New(derrors.CodeExhausted, "status list index unavailable")
		}
	}

	listURL := a.ListURL(list.ID)
	return credential.StatusEntry{
		ID:                   listURL + "#" + strconv.FormatInt(index, 10),
		Type:                 credential.StatusEntryType,
		StatusPurpose:        purpose,
		StatusListIndex:      strconv.FormatInt(index, 10),
		StatusListCredential: listURL,
	}, nil
}

// GetSignedCredential returns the signed status list VC JSON for id.
func (a *Allocator) GetSignedCredential(ctx context.Context, id string) (string, error) {
	list, err := a.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", derrors.Newf(derrors.CodeNotFound, "status list %s not found", id)
		}
		return "", derrors.Wrap(err, derrors.CodeInternal, "load status list")
	}
	return list.VCDocument, nil
}
