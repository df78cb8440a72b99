package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/api"
	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/genai"
	"github.com/ModalMetrics/GiftFlow/internal/lockfile"
	"github.com/ModalMetrics/GiftFlow/internal/messaging"
	"github.com/ModalMetrics/GiftFlow/internal/planner"
	"github.com/ModalMetrics/GiftFlow/internal/store"
	"github.com/ModalMetrics/GiftFlow/internal/twiliosms"
	"github.com/ModalMetrics/GiftFlow/internal/util"
	"github.com/ModalMetrics/GiftFlow/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GiftFlow state data
	DefaultStateDir = "/var/lib/giftflow"
	// DefaultAppDBFileName is the default SQLite database filename for the study datastore
	DefaultAppDBFileName = "giftflow.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow session store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Offline planner run: emit the mode plan and exit
	if *flags.planModes != "" {
		if err := runModePlanner(flags); err != nil {
			slog.Error("Mode planning failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard the state directory against a second instance when any state
	// lives in local SQLite files
	if usesFileState(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	msgOpts, disconnect, err := buildMessagingOptions(flags)
	if err != nil {
		slog.Error("Failed to configure invitation delivery", "error", err)
		os.Exit(1)
	}
	defer disconnect()
	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		slog.Error("Invalid API configuration", "error", err)
		os.Exit(1)
	}

	// Start the service
	slog.Info("Bootstrapping GiftFlow with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "messaging", len(msgOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.appDBDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, msgOpts, apiOpts); err != nil {
		slog.Error("GiftFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GiftFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	ApplicationDBDSN   string
	WhatsAppDBDSN      string
	StateDir           string
	OpenAIKey          string
	APIAddr            string
	BaseURL            string
	ModePlan           string
	SessionTTL         string
	SweepSchedule      string
	TwilioSID          string
	TwilioToken        string
	TwilioFrom         string
	TwilioWhatsAppFrom string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput           *string
	numeric            *bool
	stateDir           *string
	appDBDSN           *string
	whatsappDBDSN      *string
	openaiKey          *string
	apiAddr            *string
	baseURL            *string
	modePlan           *string
	sessionTTL         *string
	sweepSchedule      *string
	twilioSID          *string
	twilioToken        *string
	twilioFrom         *string
	twilioWhatsAppFrom *string
	planModes          *string
	planOutput         *string
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
		ApplicationDBDSN:   os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:           os.Getenv("GIFTFLOW_STATE_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		APIAddr:            os.Getenv("GIFTFLOW_ADDR"),
		BaseURL:            os.Getenv("GIFTFLOW_BASE_URL"),
		ModePlan:           os.Getenv("GIFTFLOW_MODE_PLAN"),
		SessionTTL:         os.Getenv("GIFTFLOW_SESSION_TTL"),
		SweepSchedule:      os.Getenv("GIFTFLOW_SWEEP_SCHEDULE"),
		TwilioSID:          os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWhatsAppFrom: os.Getenv("TWILIO_WHATSAPP_FROM"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No GIFTFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("GIFTFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Fall back to the legacy DATABASE_URL name for the study datastore
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
		if config.ApplicationDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}

	// The whatsmeow DSN deliberately has no default: the linked-device
	// WhatsApp channel only starts when one is configured, since its login
	// flow blocks on pairing a device.

	slog.Debug("environment variables loaded",
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"GIFTFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GIFTFLOW_ADDR", config.APIAddr,
		"GIFTFLOW_BASE_URL", config.BaseURL,
		"GIFTFLOW_MODE_PLAN", config.ModePlan,
		"GIFTFLOW_SESSION_TTL", config.SessionTTL,
		"GIFTFLOW_SWEEP_SCHEDULE", config.SweepSchedule,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_FROM_NUMBER_SET", config.TwilioFrom != "",
		"TWILIO_WHATSAPP_FROM_SET", config.TwilioWhatsAppFrom != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:           flag.String("qr-output", os.Getenv("WHATSAPP_QR_OUTPUT"), "path to write the WhatsApp login QR code (overrides $WHATSAPP_QR_OUTPUT)"),
		numeric:            flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use a numeric WhatsApp login code instead of a QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:           flag.String("state-dir", config.StateDir, "state directory for GiftFlow data (overrides $GIFTFLOW_STATE_DIR)"),
		appDBDSN:           flag.String("db-dsn", config.ApplicationDBDSN, "database DSN for the study datastore (overrides $DATABASE_DSN or $DATABASE_URL)"),
		whatsappDBDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the whatsmeow session store; enables linked-device WhatsApp (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:          flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the mode planner (overrides $OPENAI_API_KEY)"),
		apiAddr:            flag.String("api-addr", config.APIAddr, "API server address (overrides $GIFTFLOW_ADDR)"),
		baseURL:            flag.String("base-url", config.BaseURL, "public study URL used in invitation links (overrides $GIFTFLOW_BASE_URL)"),
		modePlan:           flag.String("mode-plan", config.ModePlan, "path to a saved mode plan for the agent-selected arm (overrides $GIFTFLOW_MODE_PLAN)"),
		sessionTTL:         flag.String("session-ttl", config.SessionTTL, "idle session lifetime, e.g. 24h (overrides $GIFTFLOW_SESSION_TTL)"),
		sweepSchedule:      flag.String("sweep-schedule", config.SweepSchedule, "cron schedule for the idle session sweep (overrides $GIFTFLOW_SWEEP_SCHEDULE)"),
		twilioSID:          flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:        flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:         flag.String("twilio-from", config.TwilioFrom, "Twilio SMS sending number (overrides $TWILIO_FROM_NUMBER)"),
		twilioWhatsAppFrom: flag.String("twilio-whatsapp-from", config.TwilioWhatsAppFrom, "Twilio-hosted WhatsApp sending identity (overrides $TWILIO_WHATSAPP_FROM)"),
		planModes:          flag.String("plan-modes", "", "run the mode planner for a branch (Digital, Physical, or all) and exit"),
		planOutput:         flag.String("plan-output", "", "path to write the mode plan (defaults to stdout)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"appDBDSN_set", *flags.appDBDSN != "",
		"whatsappDBDSN_set", *flags.whatsappDBDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"baseURL", *flags.baseURL,
		"modePlan", *flags.modePlan,
		"sessionTTL", *flags.sessionTTL,
		"sweepSchedule", *flags.sweepSchedule,
		"planModes", *flags.planModes)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.appDBDSN == config.ApplicationDBDSN && config.ApplicationDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) && *flags.stateDir != config.StateDir {
		*flags.appDBDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated db-dsn based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// sqliteDir extracts the directory of a SQLite DSN, stripping the file:
// prefix and any connection parameters.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return filepath.Dir(path)
}

// usesFileState reports whether any configured DSN points at a local
// SQLite file, meaning the state directory must be held exclusively.
func usesFileState(flags Flags) bool {
	for _, dsn := range []string{*flags.appDBDSN, *flags.whatsappDBDSN} {
		if dsn != "" && store.DetectDSNType(dsn) == store.DriverSQLite {
			return true
		}
	}
	return false
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.appDBDSN, *flags.whatsappDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) != store.DriverSQLite {
			continue
		}
		dir := sqliteDir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.appDBDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.appDBDSN) == store.DriverPostgres {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.appDBDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.appDBDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.appDBDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildMessagingOptions constructs the invitation delivery options,
// connecting the configured channel clients. The returned func
// disconnects the linked WhatsApp device on shutdown.
func buildMessagingOptions(flags Flags) ([]messaging.Option, func(), error) {
	var msgOpts []messaging.Option
	disconnect := func() {}

	if *flags.baseURL != "" {
		msgOpts = append(msgOpts, messaging.WithBaseURL(*flags.baseURL))
	}

	// Twilio carries SMS, and hosted WhatsApp when a sending identity is set
	if *flags.twilioSID != "" && *flags.twilioToken != "" {
		twilioClient, err := twiliosms.NewClient(
			twiliosms.WithAccountSID(*flags.twilioSID),
			twiliosms.WithAuthToken(*flags.twilioToken),
			twiliosms.WithFromNumber(*flags.twilioFrom),
			twiliosms.WithFromWhatsApp(*flags.twilioWhatsAppFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		if *flags.twilioFrom != "" {
			slog.Info("SMS invitations enabled via Twilio")
			msgOpts = append(msgOpts, messaging.WithSMSSender(twilioClient))
		}
		if *flags.twilioWhatsAppFrom != "" {
			slog.Info("WhatsApp invitations enabled via Twilio")
			msgOpts = append(msgOpts, messaging.WithWhatsAppSender(twilioClient.WhatsApp()))
		}
	} else {
		slog.Debug("Twilio credentials not set, SMS invitations disabled")
	}

	// A linked device takes precedence over Twilio-hosted WhatsApp
	if *flags.whatsappDBDSN != "" {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDBDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		slog.Info("WhatsApp invitations enabled via linked device")
		msgOpts = append(msgOpts, messaging.WithWhatsAppSender(waClient))
		disconnect = waClient.Disconnect
	}

	return msgOpts, disconnect, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) ([]api.Option, error) {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.sessionTTL != "" {
		ttl, err := time.ParseDuration(*flags.sessionTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid session TTL %q: %w", *flags.sessionTTL, err)
		}
		apiOpts = append(apiOpts, api.WithSessionTTL(ttl))
	}
	if *flags.sweepSchedule != "" {
		apiOpts = append(apiOpts, api.WithSweepSchedule(*flags.sweepSchedule))
	}
	if *flags.modePlan != "" {
		apiOpts = append(apiOpts, api.WithModePlan(*flags.modePlan))
	}
	return apiOpts, nil
}

// runModePlanner runs the offline mode planner. A single branch emits the
// per-step plan as JSONL; "all" plans both branches and emits the merged
// mode tables ready to serve via -mode-plan.
func runModePlanner(flags Flags) error {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	p := planner.NewPlanner(client)
	ctx := context.Background()

	out := os.Stdout
	if *flags.planOutput != "" {
		f, err := os.Create(*flags.planOutput)
		if err != nil {
			return fmt.Errorf("failed to create plan output: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch strings.ToLower(*flags.planModes) {
	case "digital":
		lines, err := p.PlanBranch(ctx, flow.CardTypeDigital)
		if err != nil {
			return err
		}
		return planner.WriteJSONL(out, lines)
	case "physical":
		lines, err := p.PlanBranch(ctx, flow.CardTypePhysical)
		if err != nil {
			return err
		}
		return planner.WriteJSONL(out, lines)
	case "all":
		digital, err := p.PlanBranch(ctx, flow.CardTypeDigital)
		if err != nil {
			return err
		}
		physical, err := p.PlanBranch(ctx, flow.CardTypePhysical)
		if err != nil {
			return err
		}
		tables := planner.BuildModeTables(digital, physical)
		data, err := json.MarshalIndent(tables, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal mode tables: %w", err)
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	default:
		return fmt.Errorf("unknown branch %q (expected Digital, Physical, or all)", *flags.planModes)
	}
}
