// Package flow implements the conversation workflow engine: the per-session
// state machine that sequences the feedback collection steps, dispatches
// classifier calls, and produces the outbound messages for each inbound
// patient utterance.
package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patientpulse/patientpulse/internal/analysis"
	"github.com/patientpulse/patientpulse/internal/genai"
	"github.com/patientpulse/patientpulse/internal/models"
	"github.com/patientpulse/patientpulse/internal/notify"
	"github.com/patientpulse/patientpulse/internal/store"
)

// PolarityClassifier scores the sentiment of free text. Implementations may
// cross a process boundary; the engine degrades to neutral on failure.
type PolarityClassifier interface {
	Classify(text string) (models.Sentiment, error)
}

// CategoryClassifier assigns one of the fixed feedback categories. The
// engine degrades to Other on failure.
type CategoryClassifier interface {
	Classify(text string) (models.Category, error)
}

// CriticalScanner detects safety-critical phrases. Scan failures are treated
// as fail-open: the engine records a flag for human review instead of
// treating the text as safe.
type CriticalScanner interface {
	Scan(text string) ([]models.CriticalFlag, error)
}

// DefaultIssuesLimit is how many trending categories are shown after a save.
const DefaultIssuesLimit = 3

// Opts holds configuration for the workflow engine.
type Opts struct {
	Polarity    PolarityClassifier
	Category    CategoryClassifier
	Critical    CriticalScanner
	GenAI       genai.ClientInterface
	IssuesLimit int
}

// Option defines a configuration option for the workflow engine.
type Option func(*Opts)

// WithPolarityClassifier overrides the default lexicon polarity classifier.
func WithPolarityClassifier(c PolarityClassifier) Option {
	return func(o *Opts) { o.Polarity = c }
}

// WithCategoryClassifier overrides the default keyword category classifier.
func WithCategoryClassifier(c CategoryClassifier) Option {
	return func(o *Opts) { o.Category = c }
}

// WithCriticalScanner overrides the default curated-lexicon scanner.
func WithCriticalScanner(s CriticalScanner) Option {
	return func(o *Opts) { o.Critical = s }
}

// WithGenAI enables GenAI phrasing for the closing message.
func WithGenAI(c genai.ClientInterface) Option {
	return func(o *Opts) { o.GenAI = c }
}

// WithIssuesLimit sets how many trending categories follow a save.
func WithIssuesLimit(n int) Option {
	return func(o *Opts) { o.IssuesLimit = n }
}

// Engine is the conversation state machine. It is stateless between calls;
// all per-session data lives in the ConversationState it is handed. Callers
// must serialize Step invocations per session.
type Engine struct {
	polarity    PolarityClassifier
	category    CategoryClassifier
	critical    CriticalScanner
	store       store.Store
	dispatcher  notify.Dispatcher
	genai       genai.ClientInterface
	issuesLimit int
}

// NewEngine creates a workflow engine over the given store and notification
// dispatcher. Classifiers default to the in-process lexicon implementations.
func NewEngine(st store.Store, dispatcher notify.Dispatcher, opts ...Option) *Engine {
	cfg := Opts{IssuesLimit: DefaultIssuesLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Polarity == nil {
		cfg.Polarity = analysis.NewPolarityClassifier()
	}
	if cfg.Category == nil {
		cfg.Category = analysis.NewCategoryClassifier()
	}
	if cfg.Critical == nil {
		cfg.Critical = analysis.NewCriticalTermScanner()
	}
	if cfg.IssuesLimit <= 0 {
		cfg.IssuesLimit = DefaultIssuesLimit
	}
	return &Engine{
		polarity:    cfg.Polarity,
		category:    cfg.Category,
		critical:    cfg.Critical,
		store:       st,
		dispatcher:  dispatcher,
		genai:       cfg.GenAI,
		issuesLimit: cfg.IssuesLimit,
	}
}

// Step consumes exactly one inbound message against the given state, mutates
// the state, and returns the outbound messages to deliver. It never returns
// an error for downstream tool failures; every step has a local fallback.
func (e *Engine) Step(ctx context.Context, state *models.ConversationState, msg models.InboundMessage) ([]models.OutboundMessage, error) {
	state.LastActivity = time.Now()

	switch msg.Type {
	case models.MessageTypeNewChat:
		return e.restart(state), nil
	case models.MessageTypeInit:
		// Idempotent re-init: only a brand-new session gets the greeting.
		if state.Step == models.StepAwaitGreeting && len(state.History) == 0 {
			return e.reply(state, GreetingMessage()), nil
		}
		return nil, nil
	}

	state.AppendHistory(models.SpeakerPatient, msg.Content)

	switch state.Step {
	case models.StepAwaitGreeting:
		return e.handleGreeting(state), nil
	case models.StepAwaitRating:
		return e.handleRating(ctx, state, msg.Content), nil
	case models.StepAwaitComments:
		return e.handleComments(ctx, state, msg.Content), nil
	case models.StepAwaitCategoryConfirm:
		return e.handleCategoryConfirm(state), nil
	case models.StepAwaitCriticalReview:
		return e.handleCriticalReview(state, msg.Content), nil
	case models.StepAwaitSave:
		return e.handleSave(state), nil
	case models.StepAwaitFollowup:
		return e.handleFollowup(ctx, state, msg.Content), nil
	case models.StepComplete:
		// Any utterance after completion starts a fresh conversation.
		return e.restart(state), nil
	default:
		slog.Error("Engine.Step: unknown workflow step, restarting session",
			"sessionID", state.SessionID, "step", state.Step)
		return e.restart(state), nil
	}
}

func (e *Engine) handleGreeting(state *models.ConversationState) []models.OutboundMessage {
	state.Step = models.StepAwaitRating
	return e.reply(state, textMessage(askRatingMsg))
}

func (e *Engine) handleRating(ctx context.Context, state *models.ConversationState, utterance string) []models.OutboundMessage {
	rating, err := strconv.Atoi(strings.TrimSpace(utterance))
	if err != nil || rating < models.MinRating || rating > models.MaxRating {
		slog.Debug("Engine.handleRating: invalid rating, re-prompting",
			"sessionID", state.SessionID, "utterance", utterance)
		return e.reply(state, textMessage(retryRatingMsg))
	}

	state.PendingRating = &rating
	state.Step = models.StepAwaitComments
	return e.reply(state, textMessage(e.commentsQuestion(ctx, state, rating)))
}

// commentsQuestion asks GenAI to phrase the open-ended follow-up and falls
// back to the threshold-dependent static phrasing on any failure.
func (e *Engine) commentsQuestion(ctx context.Context, state *models.ConversationState, rating int) string {
	if e.genai == nil {
		return commentsPrompt(rating)
	}
	userPrompt := "The patient rated their visit " + strconv.Itoa(rating) + " out of 5."
	text, err := e.genai.GeneratePrompt(ctx, commentsSystemPrompt, userPrompt)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("Engine.commentsQuestion: generation failed, using static phrasing",
			"error", err, "sessionID", state.SessionID, "rating", rating)
		return commentsPrompt(rating)
	}
	return text
}

func (e *Engine) handleComments(ctx context.Context, state *models.ConversationState, utterance string) []models.OutboundMessage {
	state.PendingComments = utterance

	// Polarity scoring and the critical scan run concurrently against the
	// same text; both complete before the state transition commits.
	var (
		wg        sync.WaitGroup
		sentiment models.Sentiment
		sentErr   error
		flags     []models.CriticalFlag
		scanErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sentiment, sentErr = e.polarity.Classify(utterance)
	}()
	go func() {
		defer wg.Done()
		flags, scanErr = e.critical.Scan(utterance)
	}()
	wg.Wait()

	if sentErr != nil {
		slog.Error("Engine.handleComments: polarity classifier failed, defaulting to neutral",
			"error", sentErr, "sessionID", state.SessionID)
		sentiment = models.NeutralSentiment()
	}
	state.PendingSentiment = &sentiment

	if scanErr != nil {
		// Fail open: route the text to a human rather than treat it as safe.
		slog.Error("Engine.handleComments: critical scan failed, flagging for review",
			"error", scanErr, "sessionID", state.SessionID)
		flags = []models.CriticalFlag{analysis.ReviewFlag()}
	}
	if len(flags) > 0 {
		state.CriticalFlags = append(state.CriticalFlags, flags...)
		for _, flag := range flags {
			e.notifyCritical(ctx, state, flag)
		}
	}

	state.Step = models.StepAwaitCategoryConfirm
	return e.reply(state, textMessage(commentsAckMsg))
}

func (e *Engine) handleCategoryConfirm(state *models.ConversationState) []models.OutboundMessage {
	cat, err := e.category.Classify(state.PendingComments)
	if err != nil {
		slog.Error("Engine.handleCategoryConfirm: category classifier failed, defaulting to Other",
			"error", err, "sessionID", state.SessionID)
		cat = models.CategoryOther
	}
	state.PendingCategory = cat
	state.Step = models.StepAwaitCriticalReview
	return e.reply(state, textMessage(categoryConfirmPrompt(cat)))
}

func (e *Engine) handleCriticalReview(state *models.ConversationState, utterance string) []models.OutboundMessage {
	if override, ok := analysis.MatchOverride(utterance); ok {
		slog.Debug("Engine.handleCriticalReview: category overridden by patient",
			"sessionID", state.SessionID, "from", state.PendingCategory, "to", override)
		state.PendingCategory = override
	}

	var msgs []models.OutboundMessage
	if len(state.CriticalFlags) > 0 {
		msgs = append(msgs, textMessage(criticalAckMsg))
	}
	msgs = append(msgs, textMessage(savePromptMsg))
	state.Step = models.StepAwaitSave
	return e.reply(state, msgs...)
}

func (e *Engine) handleSave(state *models.ConversationState) []models.OutboundMessage {
	if state.Saved {
		// Transport re-delivery after a successful save; never write twice.
		state.Step = models.StepAwaitFollowup
		return e.reply(state, textMessage(followupOfferMsg))
	}
	if !state.PendingComplete() {
		slog.Error("Engine.handleSave: pending fields incomplete, restarting session",
			"sessionID", state.SessionID)
		return e.restart(state)
	}

	rec := models.FeedbackRecord{
		ID:             uuid.New().String(),
		PatientID:      state.PatientID,
		Rating:         *state.PendingRating,
		Comments:       state.PendingComments,
		Category:       state.PendingCategory,
		SentimentLabel: state.PendingSentiment.Label,
		SentimentScore: state.PendingSentiment.Score,
		CriticalFlags:  state.CriticalFlags,
		CreatedAt:      time.Now(),
	}
	if err := e.store.SaveFeedback(rec); err != nil {
		// The patient's next utterance re-triggers this step with the same
		// pending data; no internal retry.
		slog.Error("Engine.handleSave: save failed, asking patient to retry",
			"error", err, "sessionID", state.SessionID)
		return e.reply(state, textMessage(saveRetryMsg))
	}
	state.Saved = true
	slog.Info("Engine.handleSave: feedback recorded",
		"sessionID", state.SessionID, "recordID", rec.ID, "category", rec.Category, "rating", rec.Rating)

	msgs := []models.OutboundMessage{textMessage(saveSuccessMsg)}
	issues, err := e.store.CommonIssues(e.issuesLimit)
	if err != nil {
		slog.Error("Engine.handleSave: common issues query failed, skipping trends",
			"error", err, "sessionID", state.SessionID)
	} else if trends := trendsMessage(issues); trends != "" {
		msgs = append(msgs, textMessage(trends))
	}
	msgs = append(msgs, textMessage(followupOfferMsg))

	state.Step = models.StepAwaitFollowup
	return e.reply(state, msgs...)
}

func (e *Engine) handleFollowup(ctx context.Context, state *models.ConversationState, utterance string) []models.OutboundMessage {
	state.Step = models.StepComplete
	return e.reply(state, textMessage(e.closingText(ctx, state, utterance)))
}

// closingText asks GenAI for a warmer closing line and falls back to the
// static message on any failure.
func (e *Engine) closingText(ctx context.Context, state *models.ConversationState, utterance string) string {
	if e.genai == nil {
		return closingMsg
	}
	userPrompt := "The patient rated their visit " + ratingText(state) +
		" and their feedback was about " + string(state.PendingCategory) + "."
	if strings.TrimSpace(utterance) != "" {
		userPrompt += " Their parting note: " + utterance
	}
	text, err := e.genai.GeneratePrompt(ctx, closingSystemPrompt, userPrompt)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("Engine.closingText: generation failed, using static closing",
			"error", err, "sessionID", state.SessionID)
		return closingMsg
	}
	return text
}

func ratingText(state *models.ConversationState) string {
	if state.PendingRating == nil {
		return "unknown"
	}
	return strconv.Itoa(*state.PendingRating) + " out of 5"
}

// restart resets the state to AWAIT_GREETING and greets the patient. Used by
// new_chat from any step and by any utterance after completion. The greeting
// is not recorded: a reset leaves the history empty.
func (e *Engine) restart(state *models.ConversationState) []models.OutboundMessage {
	state.Reset()
	return []models.OutboundMessage{GreetingMessage()}
}

// notifyCritical dispatches a critical event and records its read-side
// notification. Both are best-effort; neither failure blocks the workflow.
func (e *Engine) notifyCritical(ctx context.Context, state *models.ConversationState, flag models.CriticalFlag) {
	event := models.CriticalEvent{
		PatientID:    state.PatientID,
		ConcernLabel: flag.ConcernLabel,
		MatchedTerm:  flag.MatchedTerm,
		Timestamp:    flag.DetectedAt,
	}
	if err := e.dispatcher.DispatchCritical(ctx, event); err != nil {
		slog.Error("Engine.notifyCritical: dispatch failed",
			"error", err, "sessionID", state.SessionID, "concern", flag.ConcernLabel)
	}
	n := models.Notification{
		ID:           uuid.New().String(),
		PatientID:    state.PatientID,
		ConcernLabel: flag.ConcernLabel,
		MatchedTerm:  flag.MatchedTerm,
		Status:       models.NotificationPending,
		CreatedAt:    flag.DetectedAt,
	}
	if err := e.store.AddNotification(n); err != nil {
		slog.Error("Engine.notifyCritical: notification record failed",
			"error", err, "sessionID", state.SessionID)
	}
}

// reply appends each outbound message to the history and returns them.
func (e *Engine) reply(state *models.ConversationState, msgs ...models.OutboundMessage) []models.OutboundMessage {
	for _, m := range msgs {
		state.AppendHistory(models.SpeakerAssistant, m.Content)
	}
	return msgs
}
