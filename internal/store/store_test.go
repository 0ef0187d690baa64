package store

import (
	"errors"
	"testing"
	"time"

	"github.com/patientpulse/patientpulse/internal/models"
)

func record(patientID string, rating int, cat models.Category, at time.Time) models.FeedbackRecord {
	return models.FeedbackRecord{
		ID:             patientID + "-" + at.Format("150405.000000000"),
		PatientID:      patientID,
		Rating:         rating,
		Comments:       "some comments",
		Category:       cat,
		SentimentLabel: models.SentimentNeutral,
		SentimentScore: 0.0,
		CreatedAt:      at,
	}
}

func TestInMemorySaveAndFetch(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()

	rec := record("9434765919", 2, models.CategoryStaff, now)
	rec.CriticalFlags = []models.CriticalFlag{
		{MatchedTerm: "neglect", ConcernLabel: "Patient neglect concern", DetectedAt: now},
	}
	if err := s.SaveFeedback(rec); err != nil {
		t.Fatalf("SaveFeedback failed: %v", err)
	}

	got, err := s.FeedbackByPatient("9434765919")
	if err != nil {
		t.Fatalf("FeedbackByPatient failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Category != models.CategoryStaff || len(got[0].CriticalFlags) != 1 {
		t.Errorf("record round-trip mismatch: %+v", got[0])
	}

	other, err := s.FeedbackByPatient("0000000000")
	if err != nil {
		t.Fatalf("FeedbackByPatient failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated patient got %d records, want 0", len(other))
	}
}

func TestInMemorySaveRejectsInvalid(t *testing.T) {
	s := NewInMemoryStore()

	rec := record("123", 9, models.CategoryStaff, time.Now())
	if err := s.SaveFeedback(rec); !errors.Is(err, models.ErrInvalidRating) {
		t.Errorf("SaveFeedback with rating 9 = %v, want ErrInvalidRating", err)
	}

	rec = record("", 3, models.CategoryStaff, time.Now())
	if err := s.SaveFeedback(rec); !errors.Is(err, models.ErrEmptyPatientID) {
		t.Errorf("SaveFeedback with empty patient = %v, want ErrEmptyPatientID", err)
	}

	issues, err := s.CommonIssues(0)
	if err != nil {
		t.Fatalf("CommonIssues failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("rejected saves leaked into counts: %+v", issues)
	}
}

func TestInMemoryCommonIssuesOrdering(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()

	saves := []struct {
		cat models.Category
		n   int
	}{
		{models.CategoryStaff, 3},
		{models.CategoryBilling, 2},
		{models.CategoryCleanliness, 1},
	}
	i := 0
	for _, sv := range saves {
		for k := 0; k < sv.n; k++ {
			if err := s.SaveFeedback(record("p1", 3, sv.cat, base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("SaveFeedback failed: %v", err)
			}
			i++
		}
	}

	got, err := s.CommonIssues(10)
	if err != nil {
		t.Fatalf("CommonIssues failed: %v", err)
	}
	want := []models.CategoryCount{
		{Category: models.CategoryStaff, Count: 3},
		{Category: models.CategoryBilling, Count: 2},
		{Category: models.CategoryCleanliness, Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d categories, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("issues[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestInMemoryCommonIssuesTieBreak(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()

	// Same counts; Billing has the more recent record so it ranks first.
	if err := s.SaveFeedback(record("p1", 3, models.CategoryStaff, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFeedback(record("p1", 3, models.CategoryBilling, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	got, err := s.CommonIssues(2)
	if err != nil {
		t.Fatalf("CommonIssues failed: %v", err)
	}
	if len(got) != 2 || got[0].Category != models.CategoryBilling {
		t.Errorf("tie-break order = %+v, want Billing first", got)
	}
}

func TestInMemoryCommonIssuesLimit(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()
	for i, cat := range models.AllCategories {
		if err := s.SaveFeedback(record("p1", 3, cat, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.CommonIssues(3)
	if err != nil {
		t.Fatalf("CommonIssues failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("limit 3 returned %d entries", len(got))
	}
}

func TestInMemoryTrendSummary(t *testing.T) {
	s := NewInMemoryStore()

	empty, err := s.TrendSummary()
	if err != nil {
		t.Fatalf("TrendSummary failed: %v", err)
	}
	if empty.TotalRecords != 0 || empty.AverageRating != 0 {
		t.Errorf("empty store summary = %+v", empty)
	}

	base := time.Now()
	ratings := []int{5, 4, 4, 1}
	for i, r := range ratings {
		if err := s.SaveFeedback(record("p1", r, models.CategoryTreatment, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.TrendSummary()
	if err != nil {
		t.Fatalf("TrendSummary failed: %v", err)
	}
	if got.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, want 4", got.TotalRecords)
	}
	if got.AverageRating != 3.5 {
		t.Errorf("AverageRating = %v, want 3.5", got.AverageRating)
	}
	if got.RatingDistribution[4] != 2 || got.RatingDistribution[5] != 1 || got.RatingDistribution[1] != 1 {
		t.Errorf("RatingDistribution = %v", got.RatingDistribution)
	}
	if got.TopCategory != models.CategoryTreatment {
		t.Errorf("TopCategory = %q, want Treatment", got.TopCategory)
	}
}

func TestInMemoryNotifications(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()

	for i := 0; i < 2; i++ {
		err := s.AddNotification(models.Notification{
			ID:           "n" + string(rune('1'+i)),
			PatientID:    "p1",
			ConcernLabel: "Patient neglect concern",
			MatchedTerm:  "neglect",
			Status:       models.NotificationPending,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddNotification failed: %v", err)
		}
	}
	if err := s.AddNotification(models.Notification{ID: "n3", PatientID: "p2", Status: models.NotificationPending, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListNotifications("p1")
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notifications for p1, want 2", len(got))
	}
	if got[0].ID != "n2" {
		t.Errorf("notifications not newest-first: %+v", got)
	}
	if got[0].Read || got[1].Read {
		t.Error("new notifications should be unread")
	}

	if err := s.MarkAllRead("p1"); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	got, err = s.ListNotifications("p1")
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range got {
		if !n.Read {
			t.Errorf("notification %s still unread after MarkAllRead", n.ID)
		}
	}

	p2, err := s.ListNotifications("p2")
	if err != nil {
		t.Fatal(err)
	}
	if len(p2) != 1 || p2[0].Read {
		t.Errorf("MarkAllRead leaked across patients: %+v", p2)
	}
}
