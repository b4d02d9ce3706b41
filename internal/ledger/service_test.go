package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/credential"
	"attest/internal/statuslist"
	derrors "attest/pkg/domainerrors"
)

// stubBuilder re-signs by wrapping the encoded list in a fixed envelope.
type stubBuilder struct {
	calls int
	fail  bool
}

func (b *stubBuilder) BuildStatusListCredential(_ context.Context, list *statuslist.List) (string, error) {
	b.calls++
	if b.fail {
		return "", fmt.Errorf("signing backend down")
	}
	return fmt.Sprintf(`{"id":%q,"encodedList":%q}`, list.ID, list.EncodedList), nil
}

// =============================================================================
// Revocation Ledger Test Suite
// =============================================================================

type LedgerSuite struct {
	suite.Suite
	store   *MemoryStore
	lists   *statuslist.MemoryStore
	builder *stubBuilder
	svc     *Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.lists = statuslist.NewMemoryStore()
	s.builder = &stubBuilder{}

	var err error
	s.svc, err = New(s.store, s.lists, s.builder)
	s.Require().NoError(err)
}

func (s *LedgerSuite) createList(id string, purpose credential.StatusPurpose) *statuslist.List {
	bits, err := statuslist.NewBitstring(statuslist.MinCapacityBits)
	s.Require().NoError(err)
	encoded, err := bits.Encode()
	s.Require().NoError(err)

	list := &statuslist.List{
		ID:            id,
		IssuerID:      "did:web:issuer.test",
		StatusPurpose: purpose,
		CapacityBits:  statuslist.MinCapacityBits,
		EncodedList:   encoded,
		State:         statuslist.StateAvailable,
		VCDocument:    `{"id":"` + id + `"}`,
	}
	s.Require().NoError(s.lists.CreateList(context.Background(), list))
	return list
}

func (s *LedgerSuite) saveRecord(credentialID, hash string, details ...StatusDetail) {
	s.Require().NoError(s.svc.StoreIssuance(context.Background(), &Record{
		CredentialID:   credentialID,
		IssuerID:       "did:web:issuer.test",
		CredentialType: "TestCredential",
		IssuanceDate:   time.Now(),
		CredentialHash: hash,
		StatusDetails:  details,
	}))
}

func (s *LedgerSuite) bit(listID string, index int) bool {
	list, err := s.lists.Get(context.Background(), listID)
	s.Require().NoError(err)
	bits, err := statuslist.DecodeBitstring(list.EncodedList)
	s.Require().NoError(err)
	value, err := bits.Get(index)
	s.Require().NoError(err)
	return value
}

func (s *LedgerSuite) TestStoreIssuance() {
	s.Run("missing credential id is rejected", func() {
		err := s.svc.StoreIssuance(context.Background(), &Record{})
		s.Error(err)
		s.Equal(derrors.CodeInvalidRequest, derrors.CodeOf(err))
	})

	s.Run("duplicate credential id is rejected", func() {
		s.saveRecord("cred-dup", "hash-dup")
		err := s.svc.StoreIssuance(context.Background(), &Record{CredentialID: "cred-dup"})
		s.Error(err)
	})
}

func (s *LedgerSuite) TestRevoke() {
	ctx := context.Background()

	s.Run("flips the bit, re-signs, and logs the transaction", func() {
		s.createList("list-1", credential.PurposeRevocation)
		s.saveRecord("cred-1", "hash-1", StatusDetail{
			StatusListCredentialID: "list-1",
			StatusListIndex:        7,
			StatusPurpose:          credential.PurposeRevocation,
		})

		s.False(s.bit("list-1", 7))
		s.Require().NoError(s.svc.Revoke(ctx, "list-1", 7, credential.PurposeRevocation))
		s.True(s.bit("list-1", 7))

		// The stored credential reflects the new encoded list.
		list, err := s.lists.Get(ctx, "list-1")
		s.Require().NoError(err)
		s.Contains(list.VCDocument, list.EncodedList)
		s.Equal(1, s.builder.calls)

		txns, err := s.store.TransactionsSince(ctx, time.Time{}, 0)
		s.Require().NoError(err)
		s.Require().Len(txns, 1)
		s.Equal("cred-1", txns[0].CredentialID)
		s.Equal(int64(7), txns[0].StatusListIndex)
		s.True(txns[0].StatusValue)
	})

	s.Run("revoking twice is a no-op, not an error", func() {
		s.createList("list-2", credential.PurposeRevocation)
		s.saveRecord("cred-2", "hash-2", StatusDetail{
			StatusListCredentialID: "list-2",
			StatusListIndex:        3,
			StatusPurpose:          credential.PurposeRevocation,
		})

		s.NoError(s.svc.Revoke(ctx, "list-2", 3, credential.PurposeRevocation))
		s.NoError(s.svc.Revoke(ctx, "list-2", 3, credential.PurposeRevocation))
		s.True(s.bit("list-2", 3))
	})

	s.Run("unknown list maps to not found", func() {
		err := s.svc.Revoke(ctx, "no-such-list", 0, credential.PurposeRevocation)
		s.Error(err)
		s.Equal(derrors.CodeNotFound, derrors.CodeOf(err))
	})

	s.Run("purpose mismatch is an invalid request", func() {
		s.createList("list-3", credential.PurposeSuspension)
		err := s.svc.Revoke(ctx, "list-3", 0, credential.PurposeRevocation)
		s.Error(err)
		s.Equal(derrors.CodeInvalidRequest, derrors.CodeOf(err))
	})

	s.Run("index without an issuance record maps to not found", func() {
		s.createList("list-4", credential.PurposeRevocation)
		err := s.svc.Revoke(ctx, "list-4", 99, credential.PurposeRevocation)
		s.Error(err)
		s.Equal(derrors.CodeNotFound, derrors.CodeOf(err))
	})

	s.Run("signing failure leaves the list untouched", func() {
		s.createList("list-5", credential.PurposeRevocation)
		s.saveRecord("cred-5", "hash-5", StatusDetail{
			StatusListCredentialID: "list-5",
			StatusListIndex:        1,
			StatusPurpose:          credential.PurposeRevocation,
		})
		s.builder.fail = true
		defer func() { s.builder.fail = false }()

		s.Error(s.svc.Revoke(ctx, "list-5", 1, credential.PurposeRevocation))
		s.False(s.bit("list-5", 1))
	})
}

func (s *LedgerSuite) TestRevokeByCredentialHash() {
	ctx := context.Background()

	s.Run("revokes every revocation-purpose entry, skipping others", func() {
		s.createList("rev-list", credential.PurposeRevocation)
		s.createList("sus-list", credential.PurposeSuspension)
		s.saveRecord("cred-h", "hash-h",
			StatusDetail{StatusListCredentialID: "rev-list", StatusListIndex: 5, StatusPurpose: credential.PurposeRevocation},
			StatusDetail{StatusListCredentialID: "sus-list", StatusListIndex: 5, StatusPurpose: credential.PurposeSuspension},
		)

		s.Require().NoError(s.svc.RevokeByCredentialHash(ctx, "hash-h"))
		s.True(s.bit("rev-list", 5))
		s.False(s.bit("sus-list", 5))
	})

	s.Run("unknown hash maps to not found", func() {
		err := s.svc.RevokeByCredentialHash(ctx, "no-such-hash")
		s.Error(err)
		s.Equal(derrors.CodeNotFound, derrors.CodeOf(err))
	})
}

func (s *LedgerSuite) TestAppendTransaction() {
	ctx := context.Background()

	s.Run("logs the change without touching the bitstring", func() {
		s.createList("batch-list", credential.PurposeRevocation)
		s.Require().NoError(s.svc.AppendTransaction(ctx, "cred-b", "batch-list", 11, credential.PurposeRevocation, true))

		s.False(s.bit("batch-list", 11))
		txns, err := s.store.TransactionsSince(ctx, time.Time{}, 0)
		s.Require().NoError(err)
		s.Require().Len(txns, 1)
		s.Equal(int64(11), txns[0].StatusListIndex)
	})

	s.Run("unknown list maps to not found", func() {
		err := s.svc.AppendTransaction(ctx, "cred-b", "nope", 0, credential.PurposeRevocation, true)
		s.Equal(derrors.CodeNotFound, derrors.CodeOf(err))
	})

	s.Run("purpose mismatch is an invalid request", func() {
		s.createList("batch-sus", credential.PurposeSuspension)
		err := s.svc.AppendTransaction(ctx, "cred-b", "batch-sus", 0, credential.PurposeRevocation, true)
		s.Equal(derrors.CodeInvalidRequest, derrors.CodeOf(err))
	})
}
