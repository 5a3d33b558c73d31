package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/DengueCast/internal/api"
	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/config"
	"github.com/BTreeMap/DengueCast/internal/flow"
	"github.com/BTreeMap/DengueCast/internal/lockfile"
	"github.com/BTreeMap/DengueCast/internal/messaging"
	"github.com/BTreeMap/DengueCast/internal/metrics"
	"github.com/BTreeMap/DengueCast/internal/model"
	"github.com/BTreeMap/DengueCast/internal/prediction"
	"github.com/BTreeMap/DengueCast/internal/scheduler"
	"github.com/BTreeMap/DengueCast/internal/session"
	"github.com/BTreeMap/DengueCast/internal/store"
	"github.com/BTreeMap/DengueCast/internal/twiliowhatsapp"
	"github.com/BTreeMap/DengueCast/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Debug until the configured level is known
	initializeLogger(slog.LevelDebug)

	cfg, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(cfg.SlogLevel())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping DengueCast", "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr)
	if err := run(ctx, cfg, flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("DengueCast failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DengueCast exited successfully")
}

// Flags holds command line values that have no environment equivalent.
type Flags struct {
	qrOutput *string
	numeric  *bool
}

// initializeLogger installs a process-wide text handler at level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads .env and environment variables.
func loadEnvironmentConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.Debug("environment variables loaded",
		"DENGUECAST_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"API_ADDR", cfg.APIAddr,
		"MODEL_URL_SET", cfg.ModelURL != "",
		"MODEL_FILE", cfg.ModelFile,
		"TWILIO_ENABLED", cfg.TwilioEnabled(),
		"WHATSAPP_ENABLED", cfg.WhatsAppEnabled)
	return cfg, nil
}

// parseCommandLineFlags overrides cfg with any flags given in args.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg *config.Config) (Flags, error) {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for DengueCast data (overrides $DENGUECAST_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "audit store DSN; 'memory' for in-memory (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.ReferenceDataCSV, "reference-csv", cfg.ReferenceDataCSV, "reference dataset with a Year column (overrides $REFERENCE_DATA_CSV)")
	fs.StringVar(&cfg.ModelFile, "model-file", cfg.ModelFile, "linear model artifact (overrides $MODEL_FILE)")
	fs.StringVar(&cfg.ModelURL, "model-url", cfg.ModelURL, "remote model server base URL (overrides $MODEL_URL)")
	fs.BoolVar(&cfg.WhatsAppEnabled, "whatsapp", cfg.WhatsAppEnabled, "enable the WhatsApp transport (overrides $WHATSAPP_ENABLED)")
	flags := Flags{
		qrOutput: fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:  fs.Bool("numeric-code", false, "print the WhatsApp pairing code instead of a QR code"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseURL != "",
		"apiAddr", cfg.APIAddr,
		"modelFile", cfg.ModelFile,
		"modelURL_set", cfg.ModelURL != "",
		"whatsapp", cfg.WhatsAppEnabled,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric)
	return flags, nil
}

// ensureDirectoriesExist creates the parent directory of a file-based store.
func ensureDirectoriesExist(dsn string) error {
	if dsn == store.MemoryDSN || store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	dir := filepath.Dir(dsn)
	slog.Debug("Creating directory for file-based database", "dir", dir)
	return os.MkdirAll(dir, 0755)
}

// buildCatalogs derives the year range from the reference CSV when given, else from YEAR_MIN/YEAR_MAX.
func buildCatalogs(cfg *config.Config) (*catalog.Catalogs, error) {
	var (
		years catalog.YearCatalog
		err   error
	)
	if cfg.ReferenceDataCSV != "" {
		years, err = catalog.LoadYearCatalog(cfg.ReferenceDataCSV)
	} else {
		years, err = catalog.NewYearCatalog(cfg.YearMin, cfg.YearMax)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build year catalog: %w", err)
	}
	return catalog.New(years)
}

// buildModel prefers the remote model server over a local artifact.
func buildModel(cfg *config.Config) (prediction.Model, error) {
	if cfg.ModelURL != "" {
		slog.Info("Using remote model server", "url", cfg.ModelURL, "timeout", cfg.ModelTimeout)
		return model.NewRemoteModel(model.RemoteConfig{BaseURL: cfg.ModelURL, Timeout: cfg.ModelTimeout})
	}
	slog.Info("Using local linear model", "path", cfg.ModelFile)
	return model.LoadLinearModel(cfg.ModelFile)
}

// buildMetrics registers the DengueCast collectors plus Go runtime and process metrics.
func buildMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg)
}

// buildWhatsAppOptions constructs WhatsApp configuration options.
func buildWhatsAppOptions(cfg *config.Config, flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN())}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildTwilioService returns nil when Twilio credentials are incomplete.
func buildTwilioService(cfg *config.Config) (*messaging.TwilioService, error) {
	if !cfg.TwilioEnabled() {
		return nil, nil
	}
	client, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromNumber(cfg.TwilioFromNumber),
	)
	if err != nil {
		return nil, err
	}
	var opts []messaging.TwilioOption
	if cfg.TwilioWebhookURL != "" {
		opts = append(opts, messaging.WithSignatureValidator(
			twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken, cfg.TwilioWebhookURL)))
	} else {
		slog.Warn("TWILIO_WEBHOOK_URL not set; inbound webhook signatures are not verified")
	}
	return messaging.NewTwilioService(client, opts...), nil
}

func run(ctx context.Context, cfg *config.Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	catalogs, err := buildCatalogs(cfg)
	if err != nil {
		return err
	}
	mdl, err := buildModel(cfg)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	mt := buildMetrics()
	machine := flow.NewMachine(catalogs, prediction.NewInvoker(mdl, prediction.WithObserver(mt.ObservePrediction)))

	dsn := cfg.StoreDSN()
	if err := ensureDirectoriesExist(dsn); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.New(dsn)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sessions := session.NewManager(machine, session.WithStore(st), session.WithMetrics(mt))

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleSweep(cfg.SessionSweepSchedule, sessions, cfg.SessionIdleTTL); err != nil {
		return fmt.Errorf("invalid session sweep schedule: %w", err)
	}

	var handlerOpts []messaging.HandlerOption
	if dedup, ok := st.(store.DedupRepo); ok {
		handlerOpts = append(handlerOpts, messaging.WithDedup(dedup))
	}
	apiOpts := []api.Option{api.WithMetrics(mt)}

	twilioSvc, err := buildTwilioService(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure Twilio: %w", err)
	}
	if twilioSvc != nil {
		if err := twilioSvc.Start(ctx); err != nil {
			return err
		}
		messaging.NewResponseHandler(twilioSvc, sessions, handlerOpts...).Start(ctx)
		defer twilioSvc.Stop()
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilioSvc))
		slog.Info("Twilio transport enabled")
	}

	if cfg.WhatsAppEnabled {
		waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg, flags)...)
		if err != nil {
			return fmt.Errorf("failed to start WhatsApp client: %w", err)
		}
		defer waClient.Disconnect()
		waSvc := messaging.NewWhatsAppService(waClient)
		if err := waSvc.Start(ctx); err != nil {
			return err
		}
		defer waSvc.Stop()
		messaging.NewResponseHandler(waSvc, sessions, handlerOpts...).Start(ctx)
		slog.Info("WhatsApp transport enabled")
	}

	server := api.NewServer(sessions, catalogs, st, apiOpts...)
	return server.Run(ctx, cfg.APIAddr)
}
