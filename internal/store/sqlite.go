// Package store provides storage backends for PatientPulse.
//
// This file implements an SQLite-backed store for feedback and notifications.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/patientpulse/patientpulse/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveFeedback(rec models.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		slog.Error("SQLiteStore.SaveFeedback validation failed", "error", err, "patientID", rec.PatientID)
		return err
	}
	flags, err := flagsToJSON(rec.CriticalFlags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO feedback (id, patient_id, rating, comments, category, sentiment_label, sentiment_score, critical_flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PatientID, rec.Rating, rec.Comments, rec.Category, rec.SentimentLabel, rec.SentimentScore, flags, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveFeedback insert failed", "error", err, "patientID", rec.PatientID)
		return fmt.Errorf("failed to insert feedback for %s: %w", rec.PatientID, err)
	}
	slog.Debug("SQLiteStore.SaveFeedback succeeded", "id", rec.ID, "category", rec.Category)
	return nil
}

func (s *SQLiteStore) FeedbackByPatient(patientID string) ([]models.FeedbackRecord, error) {
	rows, err := s.db.Query(`SELECT id, patient_id, rating, comments, category, sentiment_label, sentiment_score, critical_flags, created_at
		FROM feedback WHERE patient_id = ? ORDER BY created_at DESC`, patientID)
	if err != nil {
		slog.Error("SQLiteStore.FeedbackByPatient query failed", "error", err, "patientID", patientID)
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

func (s *SQLiteStore) CommonIssues(limit int) ([]models.CategoryCount, error) {
	if limit <= 0 {
		limit = len(models.AllCategories)
	}
	rows, err := s.db.Query(`SELECT category, COUNT(*) AS cnt FROM feedback
		GROUP BY category ORDER BY cnt DESC, MAX(created_at) DESC LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore.CommonIssues query failed", "error", err)
		return nil, fmt.Errorf("failed to query common issues: %w", err)
	}
	defer rows.Close()

	out := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			slog.Error("SQLiteStore.CommonIssues scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issue rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) TrendSummary() (models.TrendSummary, error) {
	summary := models.TrendSummary{
		RatingDistribution: map[int]int{},
		GeneratedAt:        time.Now(),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRow(`SELECT COUNT(*), AVG(rating) FROM feedback`).Scan(&summary.TotalRecords, &avg)
	if err != nil {
		slog.Error("SQLiteStore.TrendSummary aggregate query failed", "error", err)
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

func (s *SQLiteStore) AddNotification(n models.Notification) error {
	_, err := s.db.Exec(`INSERT INTO notifications (id, patient_id, concern_label, matched_term, status, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.PatientID, n.ConcernLabel, nilIfEmpty(n.MatchedTerm), n.Status, n.Read, n.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.AddNotification failed", "error", err, "patientID", n.PatientID)
		return fmt.Errorf("failed to insert notification for %s: %w", n.PatientID, err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(patientID string) ([]models.Notification, error) {
	rows, err := s.db.Query(`SELECT id, patient_id, concern_label, matched_term, status, read, created_at
		FROM notifications WHERE patient_id = ? ORDER BY created_at DESC`, patientID)
	if err != nil {
		slog.Error("SQLiteStore.ListNotifications query failed", "error", err, "patientID", patientID)
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

func (s *SQLiteStore) MarkAllRead(patientID string) error {
	_, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE patient_id = ?`, patientID)
	if err != nil {
		slog.Error("SQLiteStore.MarkAllRead failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to mark notifications read for %s: %w", patientID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
