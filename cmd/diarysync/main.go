package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentworkforce/diarysync/internal/config"
	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/agentworkforce/diarysync/internal/diarysync"
	"github.com/agentworkforce/diarysync/internal/localcache"
	"github.com/agentworkforce/diarysync/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	v          *viper.Viper
	configFile string
	stdout     io.Writer
	stderr     io.Writer

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.New(), stdout: stdout, stderr: stderr, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:          "diarysync",
		Short:        "Edit a diary card offline and sync it with a diaryd backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("base-url", "", "backend base URL (DIARYSYNC_BASE_URL)")
	flags.String("token", "", "bearer token (DIARYSYNC_TOKEN)")
	flags.String("cache-dsn", "", "local cache DSN: memory://, file://DIR, sqlite://FILE or redis://HOST (DIARYSYNC_CACHE_DSN)")
	flags.String("namespace", "", "cache key namespace (DIARYSYNC_NAMESPACE)")
	flags.String("debounce", "", "quiet period before an edit is sent (DIARYSYNC_DEBOUNCE)")
	flags.String("log-level", "", "log level (DIARYSYNC_LOG_LEVEL)")
	for flag, key := range map[string]string{
		"base-url":  config.KeyBaseURL,
		"token":     config.KeyToken,
		"cache-dsn": config.KeyCacheDSN,
		"namespace": config.KeyNamespace,
		"debounce":  config.KeyDebounce,
		"log-level": config.KeyLogLevel,
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newLoadCommand(a),
		newGetCommand(a),
		newSetCommand(a),
		newWatchCommand(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		Writer:    a.stderr,
		Component: "diarysync",
	})
	if err != nil {
		return err
	}
	for _, warning := range cfg.Warnings {
		logger.Warn().Msg(warning)
	}
	a.cfg = cfg
	a.logger = logger
	a.logCloser = closer
	return nil
}

// openEngine builds an engine for the period starting at anchor. The returned
// func closes the engine and then its cache.
func (a *app) openEngine(anchor string) (*diarysync.Engine, func(), error) {
	cache, err := localcache.BuildFromDSN(a.cfg.Client.CacheDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	client := diarysync.NewHTTPClient(a.cfg.Client.BaseURL, a.cfg.Client.Token, &http.Client{Timeout: a.cfg.Client.HTTPTimeout})
	logger := a.logger
	engine, err := diarysync.NewEngine(client, diarysync.EngineOptions{
		Namespace:        a.cfg.Client.Namespace,
		Anchor:           anchor,
		Cache:            cache,
		Debounce:         a.cfg.Client.Debounce,
		FetchConcurrency: a.cfg.Client.FetchConcurrency,
		Logger:           &logger,
		OnError: func(err error) {
			logger.Error().Err(err).Msg("sync failed")
		},
	})
	if err != nil {
		_ = cache.Close()
		return nil, nil, err
	}
	return engine, func() {
		_ = engine.Close()
		_ = cache.Close()
	}, nil
}

func (a *app) loadPeriod(ctx context.Context, engine *diarysync.Engine, dates []string) {
	loadCtx, cancel := context.WithTimeout(ctx, a.cfg.Client.HTTPTimeout)
	defer cancel()
	if err := engine.LoadPeriod(loadCtx, dates); err != nil {
		a.logger.Warn().Err(err).Msg("backend unavailable, showing cached data")
	}
}

func newLoadCommand(a *app) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Fetch a period from the backend and print the record as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dates, err := diary.PeriodDates(from, days)
			if err != nil {
				return err
			}
			engine, closeEngine, err := a.openEngine(dates[0])
			if err != nil {
				return err
			}
			defer closeEngine()

			a.loadPeriod(cmd.Context(), engine, dates)
			out, err := json.MarshalIndent(engine.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", time.Now().Format(diary.DateLayout), "first date of the period (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 7, "number of days in the period")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get SECTION DATE [NAME [SUB]]",
		Short: "Print one field",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parseFieldPath(args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			engine, closeEngine, err := a.openEngine(path.Date)
			if err != nil {
				return err
			}
			defer closeEngine()

			a.loadPeriod(cmd.Context(), engine, []string{path.Date})
			value := engine.GetField(path)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value.Format(path.Section))
			return err
		},
	}
}

func newSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set SECTION DATE [NAME [SUB]] VALUE",
		Short: "Edit one field and wait for it to be saved",
		Args:  cobra.RangeArgs(3, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parseFieldPath(args[0], args[1], args[2:len(args)-1])
			if err != nil {
				return err
			}
			value, err := parseValue(path.Section, args[len(args)-1])
			if err != nil {
				return err
			}
			engine, closeEngine, err := a.openEngine(path.Date)
			if err != nil {
				return err
			}
			defer closeEngine()

			if !engine.SetField(path, value) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s unchanged\n", path)
				return err
			}
			saveCtx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Client.HTTPTimeout)
			defer cancel()
			if err := engine.SaveAllNow(saveCtx); err != nil {
				return fmt.Errorf("saved locally, backend write failed: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", path, engine.FieldState(path))
			return err
		},
	}
}

// parseFieldPath maps positional arguments onto a FieldPath:
//
//	sleep DATE FIELD
//	emotions DATE EMOTION
//	urges DATE URGE level|action
//	skills DATE CATEGORY SKILL
//	events DATE
//	medications DATE
func parseFieldPath(rawSection, date string, rest []string) (diary.FieldPath, error) {
	section, err := diary.ParseSection(rawSection)
	if err != nil {
		return diary.FieldPath{}, err
	}
	want := map[diary.Section]int{
		diary.SectionSleep:       1,
		diary.SectionEmotions:    1,
		diary.SectionUrges:       2,
		diary.SectionSkills:      2,
		diary.SectionEvents:      0,
		diary.SectionMedications: 0,
	}[section]
	if len(rest) != want {
		return diary.FieldPath{}, fmt.Errorf("%s takes %d name argument(s), got %d", section, want, len(rest))
	}
	var path diary.FieldPath
	switch section {
	case diary.SectionSleep:
		path = diary.SleepField(date, rest[0])
	case diary.SectionEmotions:
		path = diary.EmotionField(date, rest[0])
	case diary.SectionUrges:
		path = diary.UrgeField(date, rest[0], rest[1])
	case diary.SectionSkills:
		path = diary.SkillField(date, rest[0], rest[1])
	case diary.SectionEvents:
		path = diary.EventField(date)
	default:
		path = diary.MedicationField(date)
	}
	if err := path.Validate(); err != nil {
		return diary.FieldPath{}, err
	}
	return path, nil
}

func parseValue(section diary.Section, raw string) (diary.Value, error) {
	if !section.Boolean() {
		return diary.Text(raw), nil
	}
	used, err := strconv.ParseBool(raw)
	if err != nil {
		return diary.Value{}, fmt.Errorf("skill value must be true or false, got %q", raw)
	}
	return diary.Flag(used), nil
}
