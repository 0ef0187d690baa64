// Package store provides storage backends for PatientPulse.
//
// This file implements a PostgreSQL-backed store for feedback and notifications.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/patientpulse/patientpulse/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveFeedback(rec models.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		slog.Error("PostgresStore.SaveFeedback validation failed", "error", err, "patientID", rec.PatientID)
		return err
	}
	flags, err := flagsToJSON(rec.CriticalFlags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO feedback (id, patient_id, rating, comments, category, sentiment_label, sentiment_score, critical_flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.PatientID, rec.Rating, rec.Comments, rec.Category, rec.SentimentLabel, rec.SentimentScore, flags, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveFeedback insert failed", "error", err, "patientID", rec.PatientID)
		return fmt.Errorf("failed to insert feedback for %s: %w", rec.PatientID, err)
	}
	slog.Debug("PostgresStore.SaveFeedback succeeded", "id", rec.ID, "category", rec.Category)
	return nil
}

func (s *PostgresStore) FeedbackByPatient(patientID string) ([]models.FeedbackRecord, error) {
	rows, err := s.db.Query(`SELECT id, patient_id, rating, comments, category, sentiment_label, sentiment_score, critical_flags, created_at
		FROM feedback WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		slog.Error("PostgresStore.FeedbackByPatient query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	out := []models.FeedbackRecord{}
	for rows.Next() {
		rec, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CommonIssues(limit int) ([]models.CategoryCount, error) {
	if limit <= 0 {
		limit = len(models.AllCategories)
	}
	rows, err := s.db.Query(`SELECT category, COUNT(*) AS cnt FROM feedback
		GROUP BY category ORDER BY cnt DESC, MAX(created_at) DESC LIMIT $1`, limit)
	if err != nil {
		slog.Error("PostgresStore.CommonIssues query failed", "error", err)
		return nil, fmt.Errorf("failed to query common issues: %w", err)
	}
	defer rows.Close()

	out := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			slog.Error("PostgresStore.CommonIssues scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issue rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) TrendSummary() (models.TrendSummary, error) {
	summary := models.TrendSummary{
		RatingDistribution: map[int]int{},
		GeneratedAt:        time.Now(),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT COUNT(*), AVG(rating) FROM feedback`).Scan(&summary.TotalRecords, &avg)
	if err != nil {
		slog.Error("PostgresStore.TrendSummary aggregate query failed", "error", err)
		return summary, fmt.Errorf("failed to query trend aggregates: %w", err)
	}
	summary.AverageRating = avg.Float64
	if summary.TotalRecords == 0 {
		return summary, nil
	}

	rows, err := s.db.Query(`SELECT rating, COUNT(*) FROM feedback GROUP BY rating`)
	if err != nil {
		return summary, fmt.Errorf("failed to query rating distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return summary, fmt.Errorf("failed to scan rating row: %w", err)
		}
		summary.RatingDistribution[rating] = count
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("failed to iterate rating rows: %w", err)
	}

	top, err := s.CommonIssues(1)
	if err != nil {
		return summary, err
	}
	if len(top) > 0 {
		summary.TopCategory = top[0].Category
	}
	return summary, nil
}

func (s *PostgresStore) AddNotification(n models.Notification) error {
	_, err := s.db.Exec(`INSERT INTO notifications (id, patient_id, concern_label, matched_term, status, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.PatientID, n.ConcernLabel, nilIfEmpty(n.MatchedTerm), n.Status, n.Read, n.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.AddNotification failed", "error", err, "patientID", n.PatientID)
		return fmt.Errorf("failed to insert notification for %s: %w", n.PatientID, err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(patientID string) ([]models.Notification, error) {
	rows, err := s.db.Query(`SELECT id, patient_id, concern_label, matched_term, status, read, created_at
		FROM notifications WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		slog.Error("PostgresStore.ListNotifications query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkAllRead(patientID string) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = TRUE WHERE patient_id = $1`, patientID)
	if err != nil {
		slog.Error("PostgresStore.MarkAllRead failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to mark notifications read for %s: %w", patientID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
