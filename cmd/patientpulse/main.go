package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/patientpulse/patientpulse/internal/api"
	"github.com/patientpulse/patientpulse/internal/flow"
	"github.com/patientpulse/patientpulse/internal/genai"
	"github.com/patientpulse/patientpulse/internal/notify"
	"github.com/patientpulse/patientpulse/internal/scheduler"
	"github.com/patientpulse/patientpulse/internal/session"
	"github.com/patientpulse/patientpulse/internal/store"
	"github.com/patientpulse/patientpulse/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PatientPulse state data
	DefaultStateDir = "/var/lib/patientpulse"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "patientpulse.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("PatientPulse failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PatientPulse exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver      string
	DbDSN         string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	TrendCron     string
	SlackToken    string
	SlackChannel  string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	TwilioTo      string
	IdleTimeout   time.Duration
	GenAIDisabled bool
}

// Flags holds command line flag values
type Flags struct {
	dbDriver    *string
	dbDSN       *string
	stateDir    *string
	openaiKey   *string
	apiAddr     *string
	trendCron   *string
	idleTimeout *time.Duration
	config      Config
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:      os.Getenv("DB_DRIVER"),
		DbDSN:         os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("PATIENTPULSE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		TrendCron:     os.Getenv("TREND_SCHEDULE"),
		SlackToken:    os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:  os.Getenv("SLACK_ALERT_CHANNEL"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioTo:      os.Getenv("ONCALL_PHONE_NUMBER"),
		IdleTimeout:   util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", session.DefaultIdleTimeout),
		GenAIDisabled: util.ParseBoolEnv("GENAI_DISABLED", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DbDSN == "" {
		config.DbDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DbDSN)
	}
	if config.TrendCron == "" {
		config.TrendCron = scheduler.DefaultTrendSchedule
	}

	slog.Debug("environment variables loaded",
		"DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DbDSN != "",
		"PATIENTPULSE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"SLACK_CONFIGURED", config.SlackToken != "" && config.SlackChannel != "",
		"TWILIO_CONFIGURED", config.TwilioSID != "",
		"API_ADDR", config.APIAddr,
		"TREND_SCHEDULE", config.TrendCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDriver:    flag.String("db-driver", config.DbDriver, "database driver: sqlite3 or postgres (overrides $DB_DRIVER)"),
		dbDSN:       flag.String("db-dsn", config.DbDSN, "database DSN (overrides $DATABASE_URL)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for PatientPulse data (overrides $PATIENTPULSE_STATE_DIR)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		trendCron:   flag.String("trend-cron", config.TrendCron, "cron schedule for trend reports (overrides $TREND_SCHEDULE)"),
		idleTimeout: flag.Duration("idle-timeout", config.IdleTimeout, "idle window before a session is evicted (overrides $SESSION_IDLE_TIMEOUT)"),
		config:      config,
	}
	flag.Parse()
	return flags
}

// buildStore selects the storage backend from the configured driver.
func buildStore(flags Flags) (store.Store, error) {
	switch *flags.dbDriver {
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
}

// buildDispatcher assembles the notification sinks. The log sink is always
// on; Slack and SMS join when configured.
func buildDispatcher(config Config) notify.Dispatcher {
	sinks := []notify.Dispatcher{notify.NewLogDispatcher()}

	if config.SlackToken != "" && config.SlackChannel != "" {
		slackSink, err := notify.NewSlackNotifier(
			notify.WithSlackToken(config.SlackToken),
			notify.WithSlackChannel(config.SlackChannel),
		)
		if err != nil {
			slog.Error("Slack notifier disabled", "error", err)
		} else {
			sinks = append(sinks, slackSink)
			slog.Info("Slack notifier enabled", "channel", config.SlackChannel)
		}
	}

	if config.TwilioSID != "" {
		smsSink, err := notify.NewTwilioNotifier(
			notify.WithAccountSID(config.TwilioSID),
			notify.WithAuthToken(config.TwilioToken),
			notify.WithFromNumber(config.TwilioFrom),
			notify.WithToNumber(config.TwilioTo),
		)
		if err != nil {
			slog.Error("Twilio notifier disabled", "error", err)
		} else {
			sinks = append(sinks, smsSink)
			slog.Info("Twilio notifier enabled")
		}
	}

	return notify.NewMultiDispatcher(sinks...)
}

// buildEngineOptions assembles the workflow engine options.
func buildEngineOptions(flags Flags) []flow.Option {
	var opts []flow.Option
	if flags.config.GenAIDisabled || *flags.openaiKey == "" {
		slog.Info("GenAI phrasing disabled, using static closing messages")
		return opts
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Error("GenAI client disabled", "error", err)
		return opts
	}
	opts = append(opts, flow.WithGenAI(client))
	return opts
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	dispatcher := buildDispatcher(flags.config)
	engine := flow.NewEngine(st, dispatcher, buildEngineOptions(flags)...)

	registry := session.NewRegistry(engine, session.WithIdleTimeout(*flags.idleTimeout))
	registry.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddTrendReport(*flags.trendCron, st, dispatcher); err != nil {
		slog.Error("Trend report schedule invalid, continuing without it",
			"error", err, "schedule", *flags.trendCron)
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(registry, st, apiOpts...)

	slog.Info("Bootstrapping PatientPulse",
		"driver", *flags.dbDriver, "api_addr", *flags.apiAddr, "trend_cron", *flags.trendCron)
	return server.Start(ctx)
}
