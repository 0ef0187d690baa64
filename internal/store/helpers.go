package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/patientpulse/patientpulse/internal/models"
)

// Opts holds configuration for the SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string or file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// flagsToJSON serializes critical flags for the nullable flags column.
func flagsToJSON(flags []models.CriticalFlag) (interface{}, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critical flags: %w", err)
	}
	return string(b), nil
}

// flagsFromJSON deserializes the nullable flags column.
func flagsFromJSON(raw sql.NullString) ([]models.CriticalFlag, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var flags []models.CriticalFlag
	if err := json.Unmarshal([]byte(raw.String), &flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal critical flags: %w", err)
	}
	return flags, nil
}

// scanFeedback scans a FeedbackRecord from sql.Rows.
func scanFeedback(rows *sql.Rows) (models.FeedbackRecord, error) {
	var rec models.FeedbackRecord
	var flags sql.NullString
	err := rows.Scan(&rec.ID, &rec.PatientID, &rec.Rating, &rec.Comments, &rec.Category,
		&rec.SentimentLabel, &rec.SentimentScore, &flags, &rec.CreatedAt)
	if err != nil {
		return rec, fmt.Errorf("scan feedback failed: %w", err)
	}
	rec.CriticalFlags, err = flagsFromJSON(flags)
	if err != nil {
		return rec, err
	}
	return rec, nil
}

// scanNotification scans a Notification from sql.Rows.
func scanNotification(rows *sql.Rows) (models.Notification, error) {
	var n models.Notification
	var matchedTerm sql.NullString
	err := rows.Scan(&n.ID, &n.PatientID, &n.ConcernLabel, &matchedTerm, &n.Status, &n.Read, &n.CreatedAt)
	if err != nil {
		return n, fmt.Errorf("scan notification failed: %w", err)
	}
	n.MatchedTerm = matchedTerm.String
	return n, nil
}
