package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/channel/sms"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/config"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/event"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/extract"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/httpapi"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake HTTP API and SMS webhook",
		RunE:  runServe,
	}
	cmd.Flags().StringP("config", "c", "", "Settings file (YAML or JSON)")
	cmd.Flags().StringSliceP("flow", "f", nil, "Flow definition file (repeatable)")
	cmd.Flags().String("flows-dir", "", "Load every .yaml, .yml and .json flow in this directory")
	cmd.Flags().String("env-file", ".env", "Environment file loaded before reading settings")
	cmd.Flags().Bool("telemetry", false, "Record OpenTelemetry metrics and spans")
	return cmd
}

func loadServeSettings(cmd *cobra.Command) (config.Settings, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Settings{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := config.New(nil)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return config.Settings{}, err
		}
	}
	settings := config.SettingsFrom(config.ApplyEnv(cfg, os.LookupEnv))
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

func flowPaths(cmd *cobra.Command) ([]string, error) {
	paths, _ := cmd.Flags().GetStringSlice("flow")
	dir, _ := cmd.Flags().GetString("flows-dir")
	if dir != "" {
		for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, err
			}
			paths = append(paths, matches...)
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no flows given; use --flow or --flows-dir")
	}
	return paths, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadServeSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, settings.LogLevel, settings.LogFormat)
	slog.SetDefault(logger)

	paths, err := flowPaths(cmd)
	if err != nil {
		return err
	}
	reach, err := intakeflow.ParseReachability(settings.Reachability)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if telemetry, _ := cmd.Flags().GetBool("telemetry"); telemetry {
		metrics = observability.NewMetricsRecorder()
		spans = observability.NewSpanManager()
	}

	sessions := store.New(settings.Store.DSN)
	if err := sessions.Open(ctx); err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	slots := scheduling.NewSlotStore(settings.Store.DSN)
	if err := slots.Open(ctx); err != nil {
		return fmt.Errorf("open slot store: %w", err)
	}
	defer slots.Close()

	loc, err := settings.Scheduling.Location()
	if err != nil {
		return err
	}
	scheduler := scheduling.NewScheduler(slots,
		scheduling.WithLocation(loc),
		scheduling.WithHoldTTL(settings.Scheduling.HoldTTL),
		scheduling.WithLogger(logger),
		scheduling.WithMetrics(metrics),
	)

	tokens := handoff.NewTokenIssuer(settings.Handoff.CallTokenTTL, nil)
	bus := event.NewBus(event.BusConfig{
		NonBlocking: true,
		OnDrop: func(evt event.Event, sub string) {
			logger.Warn("session event dropped", slog.String("type", evt.Type), slog.String("subscriber", sub))
		},
	})
	defer bus.Close()
	bus.SubscribeAll(event.LogHandler(logger))

	opts := []runtime.Option{
		runtime.WithEvents(bus),
		runtime.WithScheduler(scheduler),
		runtime.WithTicketSink(handoff.MultiSink{store.TicketSink{Store: sessions}, handoff.LogSink{Logger: logger}}),
		runtime.WithCallTokens(tokens, settings.Handoff.CallBaseURL),
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics),
		runtime.WithSpans(spans),
	}
	if settings.Extract.APIKey != "" {
		router := extract.NewRouter(
			extract.NewOpenAICompleter(settings.Extract.APIKey, settings.Extract.Model),
			extract.WithTimeout(extract.KindExtractFields, settings.Extract.FieldsTimeout),
			extract.WithTimeout(extract.KindClassifySentiment, settings.Extract.SentimentTimeout),
			extract.WithLogger(logger),
			extract.WithMetrics(metrics),
			extract.WithSpans(spans),
		)
		opts = append(opts, runtime.WithRouter(router, settings.Extract.Sentiment))
	} else {
		logger.Info("no completion API key; field extraction and sentiment are off")
	}
	engine := runtime.NewEngine(sessions, opts...)

	for _, path := range paths {
		g, err := loadGraph(path, reach, logger)
		if err != nil {
			return err
		}
		if err := engine.Register(g, intakeflow.WithMaxAttempts(settings.MaxAttempts)); err != nil {
			return err
		}
	}

	serverOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithSlotDefaults(settings.Scheduling.WindowDays, settings.Scheduling.MaxSlots),
	}
	if settings.Twilio.Enabled() {
		h, err := smsHandler(engine, settings.Twilio, logger)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, httpapi.WithSMS(h))
	}
	server := httpapi.NewServer(engine, serverOpts...)

	go pruneTokens(ctx, tokens, time.Minute, logger)

	logger.Info("intakeflow serving", slog.Any("flows", engine.Flows()), slog.String("store", settings.Store.DSN))
	return server.ListenAndServe(ctx, settings.HTTP.Addr, settings.HTTP.ShutdownTimeout)
}

func smsHandler(engine *runtime.Engine, tw config.TwilioSettings, logger *slog.Logger) (*sms.Handler, error) {
	flowVersion := tw.FlowVersion
	if flowVersion == "" {
		flows := engine.Flows()
		if len(flows) != 1 {
			return nil, errors.New("twilio.flow_version is required when serving more than one flow")
		}
		flowVersion = flows[0]
	}
	if _, ok := engine.Graph(flowVersion); !ok {
		return nil, fmt.Errorf("%w: twilio.flow_version %s", runtime.ErrUnknownFlow, flowVersion)
	}

	sender, err := sms.NewTwilioSender(tw.AccountSID, tw.AuthToken, tw.FromNumber, logger)
	if err != nil {
		return nil, err
	}
	opts := []sms.HandlerOption{sms.WithHandlerLogger(logger)}
	if tw.PublicURL != "" {
		opts = append(opts, sms.WithSignatureValidation(tw.AuthToken, tw.PublicURL))
	}
	return sms.NewHandler(engine, flowVersion, sender, opts...), nil
}

func pruneTokens(ctx context.Context, tokens *handoff.TokenIssuer, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tokens.Prune(); n > 0 {
				logger.Debug("pruned call tokens", slog.Int("count", n))
			}
		}
	}
}
