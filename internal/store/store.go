// Package store provides storage backends for PatientPulse.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backed stores selected at startup.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/patientpulse/patientpulse/internal/models"
)

// Store is the persistence surface used by the workflow and the API. Saves
// are atomic: a feedback record is either fully persisted or not at all.
type Store interface {
	SaveFeedback(rec models.FeedbackRecord) error
	FeedbackByPatient(patientID string) ([]models.FeedbackRecord, error)
	CommonIssues(limit int) ([]models.CategoryCount, error)
	TrendSummary() (models.TrendSummary, error)
	AddNotification(n models.Notification) error
	ListNotifications(patientID string) ([]models.Notification, error)
	MarkAllRead(patientID string) error
	Close() error
}

// InMemoryStore keeps records in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	feedback      []models.FeedbackRecord
	notifications []models.Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveFeedback(rec models.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, rec)
	return nil
}

// FeedbackByPatient returns a patient's saved records, most recent first.
func (s *InMemoryStore) FeedbackByPatient(patientID string) ([]models.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.FeedbackRecord{}
	for _, rec := range s.feedback {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CommonIssues returns category counts ordered most-frequent first; ties are
// broken by the most recently saved record in each category.
func (s *InMemoryStore) CommonIssues(limit int) ([]models.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.Category]int{}
	latest := map[models.Category]time.Time{}
	for _, rec := range s.feedback {
		counts[rec.Category]++
		if rec.CreatedAt.After(latest[rec.Category]) {
			latest[rec.Category] = rec.CreatedAt
		}
	}

	out := make([]models.CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, models.CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return latest[out[i].Category].After(latest[out[j].Category])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) TrendSummary() (models.TrendSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := models.TrendSummary{
		RatingDistribution: map[int]int{},
		GeneratedAt:        time.Now(),
	}
	if len(s.feedback) == 0 {
		return summary, nil
	}

	total := 0
	counts := map[models.Category]int{}
	latest := map[models.Category]time.Time{}
	for _, rec := range s.feedback {
		summary.RatingDistribution[rec.Rating]++
		total += rec.Rating
		counts[rec.Category]++
		if rec.CreatedAt.After(latest[rec.Category]) {
			latest[rec.Category] = rec.CreatedAt
		}
	}
	summary.TotalRecords = len(s.feedback)
	summary.AverageRating = float64(total) / float64(len(s.feedback))

	for cat, n := range counts {
		top := summary.TopCategory
		if top == "" || n > counts[top] ||
			(n == counts[top] && latest[cat].After(latest[top])) {
			summary.TopCategory = cat
		}
	}
	return summary, nil
}

func (s *InMemoryStore) AddNotification(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *InMemoryStore) ListNotifications(patientID string) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.PatientID == patientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) MarkAllRead(patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].PatientID == patientID {
			s.notifications[i].Read = true
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
