// Package httptransport is the thin HTTP layer over the issuance and status
// services. Handlers decode, delegate and encode; business rules stay in the
// domain packages.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attest/internal/credential"
	"attest/internal/issuance"
	"attest/internal/ledger"
	"attest/internal/statuslist"
	"attest/internal/token"
	derrors "attest/pkg/domainerrors"
)

// Handler carries the domain services the routes delegate to.
type Handler struct {
	issuer    *issuance.Service
	allocator *statuslist.Allocator
	records   *ledger.Service
	tokens    token.Verifier
	logger    *slog.Logger
}

func NewHandler(issuer *issuance.Service, allocator *statuslist.Allocator, records *ledger.Service, tokens token.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		issuer:    issuer,
		allocator: allocator,
		records:   records,
		tokens:    tokens,
		logger:    logger,
	}
}

// credentialRequest is the wire shape of the credential endpoint payload.
type credentialRequest struct {
	Format                    string         `json:"format"`
	CredentialConfigurationID string         `json:"credential_configuration_id"`
	Proof                     *proofRequest  `json:"proof"`
	Claims                    map[string]any `json:"claims"`
}

type proofRequest struct {
	ProofType string `json:"proof_type"`
	JWT       string `json:"jwt"`
	CWT       string `json:"cwt"`
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	tok, ok := tokenFromContext(r.Context())
	if !ok {
		writeError(w, derrors.New(derrors.CodeUnauthorized, "bearer token required"))
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, derrors.New(derrors.CodeInvalidRequest, "invalid request body"))
		return
	}

	domainReq := credential.Request{
		Format:                    credential.Format(req.Format),
		CredentialConfigurationID: req.CredentialConfigurationID,
		Claims:                    req.Claims,
	}
	if req.Proof != nil {
		domainReq.Proof = &credential.Proof{
			ProofType: credential.ProofType(req.Proof.ProofType),
			JWT:       req.Proof.JWT,
			CWT:       req.Proof.CWT,
		}
	}

	resp, err := h.issuer.IssueCredential(r.Context(), tok, domainReq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type nonceResponse struct {
	CNonce          string `json:"c_nonce"`
	CNonceExpiresIn int64  `json:"c_nonce_expires_in"`
}

func (h *Handler) handleMintNonce(w http.ResponseWriter, r *http.Request) {
	tok, ok := tokenFromContext(r.Context())
	if !ok {
		writeError(w, derrors.New(derrors.CodeUnauthorized, "bearer token required"))
		return
	}
	rec, err := h.issuer.MintNonce(r.Context(), tok)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{
		CNonce:          rec.Nonce,
		CNonceExpiresIn: int64(rec.TTL.Seconds()),
	})
}

func (h *Handler) handleGetStatusList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.allocator.GetSignedCredential(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

type revokeRequest struct {
	StatusListIndex int64  `json:"status_list_index"`
	StatusPurpose   string `json:"status_purpose"`
	// CredentialHash revokes by signed-artifact hash instead of list position.
	CredentialHash string `json:"credential_hash"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, derrors.New(derrors.CodeInvalidRequest, "invalid request body"))
		return
	}

	var err error
	if req.CredentialHash != "" {
		err = h.records.RevokeByCredentialHash(r.Context(), req.CredentialHash)
	} else {
		purpose := credential.StatusPurpose(req.StatusPurpose)
		if purpose == "" {
			purpose = credential.PurposeRevocation
		}
		err = h.records.Revoke(r.Context(), chi.URLParam(r, "id"), req.StatusListIndex, purpose)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transactionRequest struct {
	Transactions []transactionItem `json:"transactions"`
}

type transactionItem struct {
	CredentialID           string `json:"credential_id"`
	StatusListCredentialID string `json:"status_list_credential_id"`
	StatusListIndex        int64  `json:"status_list_index"`
	StatusPurpose          string `json:"status_purpose"`
	StatusValue            bool   `json:"status_value"`
}

// handleAppendTransactions records batch status changes; the consolidation
// job folds them into the bitstrings.
func (h *Handler) handleAppendTransactions(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, derrors.New(derrors.CodeInvalidRequest, "invalid request body"))
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, derrors.New(derrors.CodeInvalidRequest, "transactions are required"))
		return
	}
	for _, item := range req.Transactions {
		err := h.records.AppendTransaction(r.Context(),
			item.CredentialID,
			item.StatusListCredentialID,
			item.StatusListIndex,
			credential.StatusPurpose(item.StatusPurpose),
			item.StatusValue,
		)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
