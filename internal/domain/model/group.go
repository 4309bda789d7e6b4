package model

import "time"

// Trigger names the orchestration entry point that spawned a job group.
type Trigger string

const (
	TriggerKYC            Trigger = "kyc"
	TriggerScreening      Trigger = "screening"
	TriggerDocument       Trigger = "document"
	TriggerRules          Trigger = "rules"
	TriggerRiskScoring    Trigger = "risk_scoring"
	TriggerAlert          Trigger = "alert"
	TriggerReviewReminder Trigger = "review_reminder"
	TriggerDocumentExpiry Trigger = "document_expiry"
)

// Aggregates reports whether completing a group of this trigger runs risk aggregation.
// Alert groups never aggregate so an alert cannot re-raise itself.
func (t Trigger) Aggregates() bool {
	switch t {
	case TriggerKYC, TriggerScreening, TriggerDocument, TriggerRules, TriggerDocumentExpiry:
		return true
	default:
		return false
	}
}

// Group is the record of one orchestration fan-out.
type Group struct {
	ID          string     `json:"id"                     db:"id"`
	SubjectID   *string    `json:"subject_id,omitempty"   db:"subject_id"`
	Trigger     Trigger    `json:"trigger"                db:"trigger"`
	Degraded    bool       `json:"degraded"               db:"degraded"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Finalized reports whether fan-in already fired for this group.
func (g *Group) Finalized() bool {
	return g != nil && g.FinalizedAt != nil
}

// GroupMember is the per-job view inside a GroupStatus.
type GroupMember struct {
	JobID   string    `json:"job_id"`
	Type    JobType   `json:"type"`
	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt"`
}

// GroupStatus summarises the progress of a group.
type GroupStatus struct {
	GroupID     string        `json:"group_id"`
	SubjectID   *string       `json:"subject_id,omitempty"`
	Trigger     Trigger       `json:"trigger"`
	Pending     int           `json:"pending"`
	Terminal    int           `json:"terminal"`
	Members     []GroupMember `json:"members"`
	Complete    bool          `json:"complete"`
	Degraded    bool          `json:"degraded"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
}

// TriggerResult is returned by every orchestration trigger.
type TriggerResult struct {
	GroupID string   `json:"group_id"`
	JobIDs  []string `json:"job_ids"`
}
