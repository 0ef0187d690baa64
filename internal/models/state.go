// Package models defines state structures for PatientPulse conversations.
package models

import "time"

// Step is a position in the 8-step feedback collection sequence.
type Step string

const (
	StepAwaitGreeting        Step = "AWAIT_GREETING"
	StepAwaitRating          Step = "AWAIT_RATING"
	StepAwaitComments        Step = "AWAIT_COMMENTS"
	StepAwaitCategoryConfirm Step = "AWAIT_CATEGORY_CONFIRM"
	StepAwaitCriticalReview  Step = "AWAIT_CRITICAL_REVIEW"
	StepAwaitSave            Step = "AWAIT_SAVE"
	StepAwaitFollowup        Step = "AWAIT_FOLLOWUP"
	StepComplete             Step = "COMPLETE"
)

// AllSteps lists the workflow steps in strict forward order.
var AllSteps = []Step{
	StepAwaitGreeting,
	StepAwaitRating,
	StepAwaitComments,
	StepAwaitCategoryConfirm,
	StepAwaitCriticalReview,
	StepAwaitSave,
	StepAwaitFollowup,
	StepComplete,
}

// Speaker identifies who produced a history entry.
type Speaker string

const (
	SpeakerPatient   Speaker = "patient"
	SpeakerAssistant Speaker = "assistant"
)

// HistoryEntry is one turn of the conversation. History is append-only and
// never mutated retroactively.
type HistoryEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState holds the full per-session workflow position and
// accumulated answers. It is owned by exactly one session and is only
// mutated under that session's serialization lock.
type ConversationState struct {
	SessionID string `json:"session_id"`
	PatientID string `json:"patient_id"`
	Step      Step   `json:"step"`

	// Pending answer fields; nil/empty until their step completes. All four
	// must be set before the save step executes.
	PendingRating    *int       `json:"pending_rating,omitempty"`
	PendingComments  string     `json:"pending_comments,omitempty"`
	PendingCategory  Category   `json:"pending_category,omitempty"`
	PendingSentiment *Sentiment `json:"pending_sentiment,omitempty"`

	History       []HistoryEntry `json:"history"`
	CriticalFlags []CriticalFlag `json:"critical_flags"`

	// Saved marks that the record for this lineage was persisted; it makes
	// the save step idempotent against transport re-delivery.
	Saved bool `json:"saved"`

	// Generation is bumped on every reset so results from classifier calls
	// started before the reset can be recognized as stale and discarded.
	Generation int `json:"generation"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewConversationState creates a fresh state at AWAIT_GREETING.
func NewConversationState(sessionID, patientID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		SessionID:     sessionID,
		PatientID:     patientID,
		Step:          StepAwaitGreeting,
		History:       []HistoryEntry{},
		CriticalFlags: []CriticalFlag{},
		Generation:    1,
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// Reset returns the state to AWAIT_GREETING under the same session and
// patient, discarding every pending field, the history, and the critical
// flags. The generation is bumped so results from work started before the
// reset can be recognized as stale.
func (s *ConversationState) Reset() {
	s.Step = StepAwaitGreeting
	s.PendingRating = nil
	s.PendingComments = ""
	s.PendingCategory = ""
	s.PendingSentiment = nil
	s.History = []HistoryEntry{}
	s.CriticalFlags = []CriticalFlag{}
	s.Saved = false
	s.Generation++
	s.LastActivity = time.Now()
}

// AppendHistory records one conversation turn.
func (s *ConversationState) AppendHistory(speaker Speaker, text string) {
	s.History = append(s.History, HistoryEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// PendingComplete reports whether all four answer fields are populated.
func (s *ConversationState) PendingComplete() bool {
	return s.PendingRating != nil && s.PendingComments != "" &&
		s.PendingCategory != "" && s.PendingSentiment != nil
}
