package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// Issuance and revocation records fall here; they back up the ledger.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: proof validation failures, nonce replay attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// Examples: consolidation runs, status list creation.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject identifies the entity involved: credential id, status list id,
	// or client_id depending on the action.
	Subject string
	Action  string
	// Status is "success" or "failure".
	Status string
	Reason string
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string
	// Details carries action-specific key/value context (format, scope,
	// status list index) already flattened to strings.
	Details map[string]string
}

// AuditEvent names every action the issuer records.
type AuditEvent string

const (
	// Issuance events
	EventCredentialIssued      AuditEvent = "credential_issued"
	EventCredentialIssueFailed AuditEvent = "credential_issue_failed"
	EventProofRejected         AuditEvent = "proof_rejected"
	EventNonceIssued           AuditEvent = "nonce_issued"

	// Status list events
	EventStatusListCreated AuditEvent = "status_list_created"
	EventStatusListFull    AuditEvent = "status_list_full"
	EventCredentialRevoked AuditEvent = "credential_revoked"

	// Consolidation events
	EventConsolidationCompleted  AuditEvent = "consolidation_completed"
	EventConsolidationListFailed AuditEvent = "consolidation_list_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventCredentialIssued:  CategoryCompliance,
	EventCredentialRevoked: CategoryCompliance,

	EventCredentialIssueFailed: CategorySecurity,
	EventProofRejected:         CategorySecurity,

	EventNonceIssued:             CategoryOperations,
	EventStatusListCreated:       CategoryOperations,
	EventStatusListFull:          CategoryOperations,
	EventConsolidationCompleted:  CategoryOperations,
	EventConsolidationListFailed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
