package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/patientpulse/patientpulse/internal/analysis"
	"github.com/patientpulse/patientpulse/internal/models"
	"github.com/patientpulse/patientpulse/internal/store"
)

// recordingDispatcher captures dispatched events for assertions.
type recordingDispatcher struct {
	critical []models.CriticalEvent
	trends   []models.TrendSummary
}

func (d *recordingDispatcher) DispatchCritical(ctx context.Context, e models.CriticalEvent) error {
	d.critical = append(d.critical, e)
	return nil
}

func (d *recordingDispatcher) DispatchTrend(ctx context.Context, s models.TrendSummary) error {
	d.trends = append(d.trends, s)
	return nil
}

// flakyStore fails a configured number of saves, then delegates.
type flakyStore struct {
	*store.InMemoryStore
	failures int
}

func (s *flakyStore) SaveFeedback(rec models.FeedbackRecord) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return s.InMemoryStore.SaveFeedback(rec)
}

type failingScanner struct{}

func (failingScanner) Scan(text string) ([]models.CriticalFlag, error) {
	return nil, errors.New("scanner unavailable")
}

type failingPolarity struct{}

func (failingPolarity) Classify(text string) (models.Sentiment, error) {
	return models.Sentiment{}, errors.New("polarity unavailable")
}

type failingCategory struct{}

func (failingCategory) Classify(text string) (models.Category, error) {
	return "", errors.New("category unavailable")
}

// stubGenAI returns a canned phrasing, or an error when text is empty.
type stubGenAI struct {
	text string
}

func (g stubGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.text == "" {
		return "", errors.New("generation unavailable")
	}
	return g.text, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.InMemoryStore, *recordingDispatcher) {
	t.Helper()
	st := store.NewInMemoryStore()
	d := &recordingDispatcher{}
	return NewEngine(st, d, opts...), st, d
}

func step(t *testing.T, e *Engine, state *models.ConversationState, content string) []models.OutboundMessage {
	t.Helper()
	msgs, err := e.Step(context.Background(), state, models.InboundMessage{Type: models.MessageTypeMessage, Content: content})
	if err != nil {
		t.Fatalf("Step(%q) failed: %v", content, err)
	}
	return msgs
}

func newChat(t *testing.T, e *Engine, state *models.ConversationState) []models.OutboundMessage {
	t.Helper()
	msgs, err := e.Step(context.Background(), state, models.InboundMessage{Type: models.MessageTypeNewChat})
	if err != nil {
		t.Fatalf("new_chat failed: %v", err)
	}
	return msgs
}

func TestScenarioRudeNurse(t *testing.T) {
	e, _, d := newTestEngine(t)
	state := models.NewConversationState("s1", "9434765919")

	step(t, e, state, "hi")
	if state.Step != models.StepAwaitRating {
		t.Fatalf("after greeting step = %q", state.Step)
	}

	msgs := step(t, e, state, "2")
	if state.PendingRating == nil || *state.PendingRating != 2 {
		t.Fatalf("pending rating = %v, want 2", state.PendingRating)
	}
	// A rating below the neutral threshold gets the concerned phrasing.
	if len(msgs) != 1 || msgs[0].Content != commentsLowMsg {
		t.Errorf("low-rating follow-up = %+v", msgs)
	}

	step(t, e, state, "the nurse was rude and ignored my call button")
	if state.PendingComments == "" {
		t.Error("comments not stored")
	}
	if state.PendingSentiment == nil || state.PendingSentiment.Label != models.SentimentNegative {
		t.Errorf("sentiment = %+v, want negative", state.PendingSentiment)
	}
	if len(state.CriticalFlags) != 0 {
		t.Errorf("critical flags = %+v, want none", state.CriticalFlags)
	}
	if len(d.critical) != 0 {
		t.Errorf("dispatched %d critical events, want 0", len(d.critical))
	}

	step(t, e, state, "ok")
	if state.PendingCategory != models.CategoryStaff {
		t.Errorf("category = %q, want Staff", state.PendingCategory)
	}
}

func TestScenarioAllergicReaction(t *testing.T) {
	e, st, d := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hello")
	step(t, e, state, "1")
	step(t, e, state, "I had an allergic reaction to the new prescription")

	// The critical event fires during the comments step, before the category
	// step runs and independent of the later save.
	if len(d.critical) != 1 {
		t.Fatalf("dispatched %d critical events, want 1", len(d.critical))
	}
	if d.critical[0].ConcernLabel != "Adverse reaction" {
		t.Errorf("concern = %q, want Adverse reaction", d.critical[0].ConcernLabel)
	}
	if len(state.CriticalFlags) != 1 {
		t.Errorf("critical flags = %+v", state.CriticalFlags)
	}
	if state.PendingCategory != "" {
		t.Error("category classified before its step")
	}

	notifications, err := st.ListNotifications("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(notifications) != 1 || notifications[0].Status != models.NotificationPending {
		t.Errorf("read-side notifications = %+v", notifications)
	}

	// The acknowledgment surfaces after the category confirmation step.
	step(t, e, state, "ok")
	msgs := step(t, e, state, "ok")
	if len(msgs) != 2 || msgs[0].Content != criticalAckMsg {
		t.Errorf("critical review messages = %+v", msgs)
	}
}

func TestScenarioSaveRetry(t *testing.T) {
	st := &flakyStore{InMemoryStore: store.NewInMemoryStore(), failures: 1}
	d := &recordingDispatcher{}
	e := NewEngine(st, d)
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	step(t, e, state, "4")
	step(t, e, state, "the billing desk double charged my insurance")
	step(t, e, state, "ok")
	step(t, e, state, "ok")
	if state.Step != models.StepAwaitSave {
		t.Fatalf("step = %q, want AWAIT_SAVE", state.Step)
	}

	msgs := step(t, e, state, "save it")
	if state.Step != models.StepAwaitSave {
		t.Errorf("after failed save step = %q, want AWAIT_SAVE", state.Step)
	}
	if len(msgs) != 1 || msgs[0].Content != saveRetryMsg {
		t.Errorf("failed-save messages = %+v", msgs)
	}

	msgs = step(t, e, state, "try again")
	if state.Step != models.StepAwaitFollowup {
		t.Errorf("after retry step = %q, want AWAIT_FOLLOWUP", state.Step)
	}
	if msgs[0].Content != saveSuccessMsg {
		t.Errorf("retry messages = %+v", msgs)
	}

	records, err := st.FeedbackByPatient("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("persisted %d records, want exactly 1", len(records))
	}
	if records[0].Category != models.CategoryBilling || records[0].Rating != 4 {
		t.Errorf("persisted record = %+v", records[0])
	}
}

func TestSaveIdempotentOnRedelivery(t *testing.T) {
	e, st, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")

	for _, u := range []string{"hi", "5", "everyone was kind and helpful", "ok", "ok", "save"} {
		step(t, e, state, u)
	}
	if !state.Saved {
		t.Fatal("state not marked saved")
	}

	// Simulate transport re-delivery of the save trigger.
	state.Step = models.StepAwaitSave
	step(t, e, state, "save")

	records, err := st.FeedbackByPatient("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("re-delivered save wrote %d records, want 1", len(records))
	}
	if state.Step != models.StepAwaitFollowup {
		t.Errorf("step = %q, want AWAIT_FOLLOWUP", state.Step)
	}
}

func TestInvalidRatingsReprompt(t *testing.T) {
	e, _, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")
	step(t, e, state, "hi")

	for _, bad := range []string{"abc", "0", "6", "3.5", "", "five"} {
		msgs := step(t, e, state, bad)
		if state.Step != models.StepAwaitRating {
			t.Fatalf("after %q step = %q, want AWAIT_RATING", bad, state.Step)
		}
		if len(msgs) != 1 || msgs[0].Content != retryRatingMsg {
			t.Errorf("after %q messages = %+v", bad, msgs)
		}
	}

	// The retry count is unbounded; a valid rating still advances.
	step(t, e, state, " 3 ")
	if state.Step != models.StepAwaitComments {
		t.Errorf("valid rating did not advance: step = %q", state.Step)
	}
}

func TestNewChatFromEveryStep(t *testing.T) {
	script := []string{"hi", "2", "it was an emergency and nobody came", "ok", "ok", "save", "nothing else"}

	for advance := 0; advance <= len(script); advance++ {
		e, _, _ := newTestEngine(t)
		state := models.NewConversationState("s1", "p1")
		for i := 0; i < advance; i++ {
			step(t, e, state, script[i])
		}
		fromStep := state.Step
		if fromStep != models.AllSteps[advance] {
			t.Fatalf("advance %d reached %q, want %q", advance, fromStep, models.AllSteps[advance])
		}
		genBefore := state.Generation

		msgs := newChat(t, e, state)
		if state.Step != models.StepAwaitGreeting {
			t.Errorf("new_chat from %q left step %q", fromStep, state.Step)
		}
		if len(state.History) != 0 || len(state.CriticalFlags) != 0 {
			t.Errorf("new_chat from %q left history=%d flags=%d", fromStep, len(state.History), len(state.CriticalFlags))
		}
		if state.PendingRating != nil || state.PendingComments != "" ||
			state.PendingCategory != "" || state.PendingSentiment != nil {
			t.Errorf("new_chat from %q left pending fields set", fromStep)
		}
		if state.Generation != genBefore+1 {
			t.Errorf("new_chat from %q generation %d -> %d", fromStep, genBefore, state.Generation)
		}
		if len(msgs) != 1 || msgs[0].Content != greetingMsg {
			t.Errorf("new_chat messages = %+v", msgs)
		}
	}
}

func TestCompleteTreatsUtteranceAsNewChat(t *testing.T) {
	e, _, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")
	for _, u := range []string{"hi", "5", "great staff", "ok", "ok", "save", "no thanks"} {
		step(t, e, state, u)
	}
	if state.Step != models.StepComplete {
		t.Fatalf("step = %q, want COMPLETE", state.Step)
	}

	msgs := step(t, e, state, "hello again")
	if state.Step != models.StepAwaitGreeting {
		t.Errorf("post-complete utterance left step %q", state.Step)
	}
	if len(msgs) != 1 || msgs[0].Content != greetingMsg {
		t.Errorf("post-complete messages = %+v", msgs)
	}
}

func TestCriticalScanFailsOpen(t *testing.T) {
	e, _, d := newTestEngine(t, WithCriticalScanner(failingScanner{}))
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	step(t, e, state, "2")
	step(t, e, state, "something went wrong with my care")

	if len(state.CriticalFlags) != 1 || state.CriticalFlags[0].ConcernLabel != analysis.ReviewConcernLabel {
		t.Errorf("fail-open flags = %+v", state.CriticalFlags)
	}
	if len(d.critical) != 1 {
		t.Errorf("dispatched %d events, want 1 review event", len(d.critical))
	}
	if state.Step != models.StepAwaitCategoryConfirm {
		t.Errorf("scan failure stalled workflow at %q", state.Step)
	}
}

func TestClassifierDegradation(t *testing.T) {
	e, _, _ := newTestEngine(t, WithPolarityClassifier(failingPolarity{}), WithCategoryClassifier(failingCategory{}))
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	step(t, e, state, "3")
	step(t, e, state, "the parking situation was chaotic")
	if state.PendingSentiment == nil || state.PendingSentiment.Label != models.SentimentNeutral {
		t.Errorf("degraded sentiment = %+v, want neutral", state.PendingSentiment)
	}

	step(t, e, state, "ok")
	if state.PendingCategory != models.CategoryOther {
		t.Errorf("degraded category = %q, want Other", state.PendingCategory)
	}
}

func TestCategoryOverride(t *testing.T) {
	e, st, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	step(t, e, state, "2")
	step(t, e, state, "the nurse was dismissive about my bill")
	step(t, e, state, "ok")
	// The confirmation utterance names a category, overriding the classifier.
	step(t, e, state, "Billing")
	if state.PendingCategory != models.CategoryBilling {
		t.Fatalf("override category = %q, want Billing", state.PendingCategory)
	}

	step(t, e, state, "save")
	records, err := st.FeedbackByPatient("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Category != models.CategoryBilling {
		t.Errorf("persisted record = %+v", records)
	}
}

func TestCriticalFlagsMonotonicUntilReset(t *testing.T) {
	e, _, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	step(t, e, state, "1")
	step(t, e, state, "there was an infection and an overdose on my ward")
	n := len(state.CriticalFlags)
	if n < 2 {
		t.Fatalf("flags = %d, want at least 2", n)
	}

	for _, u := range []string{"ok", "ok", "save", "done"} {
		step(t, e, state, u)
		if len(state.CriticalFlags) < n {
			t.Fatalf("critical flags shrank during %q", u)
		}
	}

	newChat(t, e, state)
	if len(state.CriticalFlags) != 0 {
		t.Errorf("reset left %d flags", len(state.CriticalFlags))
	}
}

func TestInitIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	state := models.NewConversationState("s1", "p1")

	msgs, err := e.Step(context.Background(), state, models.InboundMessage{Type: models.MessageTypeInit, PatientID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Hello") {
		t.Errorf("init messages = %+v", msgs)
	}
	if state.Step != models.StepAwaitGreeting {
		t.Errorf("init advanced step to %q", state.Step)
	}

	step(t, e, state, "hi")
	msgs, err = e.Step(context.Background(), state, models.InboundMessage{Type: models.MessageTypeInit, PatientID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("re-init mid-conversation produced %+v", msgs)
	}
	if state.Step != models.StepAwaitRating {
		t.Errorf("re-init changed step to %q", state.Step)
	}
}

func TestGenAIPhrasingWithFallback(t *testing.T) {
	e, _, _ := newTestEngine(t, WithGenAI(stubGenAI{text: "What shaped your visit the most?"}))
	state := models.NewConversationState("s1", "p1")

	step(t, e, state, "hi")
	msgs := step(t, e, state, "4")
	if len(msgs) != 1 || msgs[0].Content != "What shaped your visit the most?" {
		t.Errorf("generated follow-up = %+v", msgs)
	}

	// A failing generator falls back to the threshold-dependent phrasing.
	e, _, _ = newTestEngine(t, WithGenAI(stubGenAI{}))
	state = models.NewConversationState("s2", "p1")
	step(t, e, state, "hi")
	msgs = step(t, e, state, "2")
	if len(msgs) != 1 || msgs[0].Content != commentsLowMsg {
		t.Errorf("fallback follow-up = %+v", msgs)
	}
}

func TestSaveIncludesTrends(t *testing.T) {
	e, st, _ := newTestEngine(t)

	// Seed prior feedback so the post-save summary has content.
	seed := models.NewConversationState("s0", "p0")
	for _, u := range []string{"hi", "2", "waited hours past my appointment", "ok", "ok", "save"} {
		step(t, e, seed, u)
	}

	state := models.NewConversationState("s1", "p1")
	for _, u := range []string{"hi", "4", "the doctor explained the treatment well", "ok", "ok"} {
		step(t, e, state, u)
	}
	msgs := step(t, e, state, "save")
	if len(msgs) != 3 {
		t.Fatalf("save messages = %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "Recent themes") {
		t.Errorf("trend message missing: %+v", msgs[1])
	}

	issues, err := st.CommonIssues(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 {
		t.Errorf("issues = %+v", issues)
	}
}
