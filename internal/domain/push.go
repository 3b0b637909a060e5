package domain

// PushEventType categorizes push feed notifications.
type PushEventType string

const (
	// PushApplied announces a job application that went through.
	PushApplied PushEventType = "applied"
	// PushRejected announces a job the assistant rejected.
	PushRejected PushEventType = "rejected"
	// PushClarify announces that a job needs user clarification.
	PushClarify PushEventType = "clarify"
	// PushInitial carries the full snapshot sent right after connecting.
	PushInitial PushEventType = "initial"
)

// PushEvent is a single server-initiated notification. Events are advisory:
// they raise user attention immediately while full correctness is restored
// by the next authoritative snapshot merge.
type PushEvent struct {
	Type    PushEventType `json:"type"`
	Message string        `json:"message,omitempty"`
	JobID   string        `json:"job_id,omitempty"`

	// Snapshot buckets, populated only for PushInitial.
	Applied  []JobRecord `json:"applied,omitempty"`
	Rejected []JobRecord `json:"rejected,omitempty"`
}

// Outcome maps the event type onto a job bucket, if it names one.
func (e PushEvent) Outcome() (Outcome, bool) {
	switch e.Type {
	case PushApplied:
		return OutcomeApplied, true
	case PushRejected:
		return OutcomeRejected, true
	default:
		return "", false
	}
}
