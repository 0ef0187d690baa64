package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/patientpulse/patientpulse/internal/models"
)

// messageCreator is the minimal Twilio API surface used by the notifier.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration for the SMS notifier.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumber   string
}

// TwilioOption defines a configuration option for the SMS notifier.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// WithToNumber sets the on-call phone number that receives critical alerts.
func WithToNumber(to string) TwilioOption {
	return func(o *TwilioOpts) { o.ToNumber = to }
}

// TwilioNotifier sends critical alerts to an on-call phone via SMS. Trend
// summaries are intentionally not sent over SMS.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   string
}

// NewTwilioNotifier creates an SMS notifier based on provided options.
func NewTwilioNotifier(opts ...TwilioOption) (*TwilioNotifier, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTwilioNotifier: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"ToNumber_set", cfg.ToNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" || cfg.ToNumber == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{api: client.Api, from: cfg.FromNumber, to: cfg.ToNumber}, nil
}

func (n *TwilioNotifier) DispatchCritical(ctx context.Context, event models.CriticalEvent) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(fmt.Sprintf("CRITICAL feedback from patient %s: %s (term: %q)",
		event.PatientID, event.ConcernLabel, event.MatchedTerm))

	_, err := n.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier.DispatchCritical failed", "error", err, "patientID", event.PatientID)
		return fmt.Errorf("failed to send critical SMS: %w", err)
	}
	slog.Debug("TwilioNotifier.DispatchCritical sent", "patientID", event.PatientID)
	return nil
}

// DispatchTrend is a no-op for the SMS sink.
func (n *TwilioNotifier) DispatchTrend(ctx context.Context, summary models.TrendSummary) error {
	return nil
}
