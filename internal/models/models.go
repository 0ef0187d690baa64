// Package models defines the core data structures for PatientPulse.
//
// It includes the feedback record, classifier result types, wire message
// formats for the session transport, and notification events shared across
// modules.
package models

import (
	"errors"
	"time"
)

// Category is one of the fixed feedback categories.
type Category string

const (
	CategoryStaff         Category = "Staff"
	CategoryBilling       Category = "Billing"
	CategoryWaitTime      Category = "Wait Time"
	CategoryCleanliness   Category = "Cleanliness"
	CategoryCommunication Category = "Communication"
	CategoryTreatment     Category = "Treatment"
	CategoryOther         Category = "Other"
)

// AllCategories lists every valid category, used for validation and for
// matching patient overrides during category confirmation.
var AllCategories = []Category{
	CategoryStaff,
	CategoryBilling,
	CategoryWaitTime,
	CategoryCleanliness,
	CategoryCommunication,
	CategoryTreatment,
	CategoryOther,
}

// IsValidCategory checks if the given category is one of the fixed set.
func IsValidCategory(c Category) bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

// SentimentLabel classifies the polarity of free text.
type SentimentLabel string

const (
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentPositive SentimentLabel = "positive"
)

// Sentiment is the result of polarity classification.
type Sentiment struct {
	Label SentimentLabel `json:"label"`
	Score float64        `json:"score"` // polarity in [-1.0, 1.0]
}

// NeutralSentiment is the safe default used when the polarity classifier
// degrades; it is never an error condition for the workflow.
func NeutralSentiment() Sentiment {
	return Sentiment{Label: SentimentNeutral, Score: 0.0}
}

// Rating bounds for the satisfaction scale.
const (
	// MinRating is the lowest accepted satisfaction rating.
	MinRating = 1
	// MaxRating is the highest accepted satisfaction rating.
	MaxRating = 5
	// NeutralRating is the threshold separating concerned from appreciative
	// follow-up phrasing.
	NeutralRating = 3
)

// Error variables for validation and workflow failures.
var (
	ErrEmptyPatientID     = errors.New("patient identity cannot be empty")
	ErrInvalidRating      = errors.New("rating must be an integer between 1 and 5")
	ErrIncompleteFeedback = errors.New("feedback record is missing required fields")
	ErrSessionNotFound    = errors.New("session not found")
	ErrStaleGeneration    = errors.New("state generation is stale, result discarded")
)

// CriticalFlag is a single detected critical concern within a comment.
type CriticalFlag struct {
	MatchedTerm  string    `json:"matched_term"`
	ConcernLabel string    `json:"concern_label"`
	DetectedAt   time.Time `json:"detected_at"`
}

// FeedbackRecord is the finalized, persisted feedback entry produced at the
// end of a successful conversation. Records are created in a single atomic
// save; partial records are never persisted.
type FeedbackRecord struct {
	ID             string         `json:"id"`
	PatientID      string         `json:"patient_id"`
	Rating         int            `json:"rating"`
	Comments       string         `json:"comments"`
	Category       Category       `json:"category"`
	SentimentLabel SentimentLabel `json:"sentiment_label"`
	SentimentScore float64        `json:"sentiment_score"`
	CriticalFlags  []CriticalFlag `json:"critical_flags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks that every field required for an atomic save is present.
func (r *FeedbackRecord) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}
	if r.Rating < MinRating || r.Rating > MaxRating {
		return ErrInvalidRating
	}
	if r.Comments == "" || !IsValidCategory(r.Category) || r.SentimentLabel == "" {
		return ErrIncompleteFeedback
	}
	return nil
}

// CategoryCount is one entry of the common-issues read path, most-frequent
// first with ties broken by most recent.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// TrendSummary aggregates stored feedback for periodic reporting.
type TrendSummary struct {
	TotalRecords       int         `json:"total_records"`
	AverageRating      float64     `json:"average_rating"`
	RatingDistribution map[int]int `json:"rating_distribution"`
	TopCategory        Category    `json:"top_category"`
	GeneratedAt        time.Time   `json:"generated_at"`
}

// CriticalEvent is dispatched to notification sinks when a critical concern
// is detected. Delivery is fire-and-forget from the workflow's perspective.
type CriticalEvent struct {
	PatientID    string    `json:"patient_id"`
	ConcernLabel string    `json:"concern_label"`
	MatchedTerm  string    `json:"matched_term"`
	Timestamp    time.Time `json:"timestamp"`
}

// NotificationStatus tracks the human review outcome of a dispatched alert.
type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationAcknowledged NotificationStatus = "acknowledged"
	NotificationRejected     NotificationStatus = "rejected"
)

// Notification is the persisted record of a dispatched critical alert,
// exposed to the patient-facing read side.
type Notification struct {
	ID           string             `json:"id"`
	PatientID    string             `json:"patient_id"`
	ConcernLabel string             `json:"concern_label"`
	MatchedTerm  string             `json:"matched_term"`
	Status       NotificationStatus `json:"status"`
	Read         bool               `json:"read"`
	CreatedAt    time.Time          `json:"created_at"`
}

// APIStatus enumerates the status values of REST responses.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Inbound message types carried by the session transport.
const (
	MessageTypeInit    = "init"
	MessageTypeMessage = "message"
	MessageTypeNewChat = "new_chat"
)

// InboundMessage is one message received from the duplex session channel.
type InboundMessage struct {
	Type      string `json:"type"`
	PatientID string `json:"patient_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// OutboundMessage is one plain-text message intended for direct display.
type OutboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
