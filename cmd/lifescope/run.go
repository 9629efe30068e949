package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chrynan/lifescope/chanx"
	"github.com/chrynan/lifescope/config"
	"github.com/chrynan/lifescope/dispatch"
	"github.com/chrynan/lifescope/lifecycle"
	"github.com/chrynan/lifescope/telemetry"
	"github.com/chrynan/lifescope/textinput"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Read lines from stdin as edits of a text field and print the debounced text. An empty line submits the field.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file path.",
			EnvVars: []string{"LIFESCOPE_CONFIG"},
		},
		&cli.DurationFlag{
			Name:    "window",
			Usage:   "Minimum interval between two printed texts.",
			EnvVars: []string{"LIFESCOPE_DEBOUNCE_WINDOW"},
		},
		&cli.BoolFlag{
			Name:    "corrected-wait",
			Usage:   "Hold an early text for the rest of the window instead of the elapsed time.",
			EnvVars: []string{"LIFESCOPE_CORRECTED_WAIT"},
		},
		&cli.StringFlag{
			Name:    "overflow",
			Usage:   "Event buffer policy: block, drop-oldest, drop-newest or conflate.",
			EnvVars: []string{"LIFESCOPE_OVERFLOW"},
		},
		&cli.IntFlag{
			Name:    "capacity",
			Usage:   "Event buffer capacity.",
			EnvVars: []string{"LIFESCOPE_CAPACITY"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Background dispatcher workers.",
			EnvVars: []string{"LIFESCOPE_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "trace, debug, info, warn or error.",
			EnvVars: []string{"LIFESCOPE_LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "pretty",
			Usage:   "Human-readable logs.",
			EnvVars: []string{"LIFESCOPE_LOG_PRETTY"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address.",
			EnvVars: []string{"LIFESCOPE_METRICS_ADDR"},
		},
		&cli.BoolFlag{
			Name:    "otel-stdout",
			Usage:   "Export traces and metrics to stdout.",
			EnvVars: []string{"LIFESCOPE_OTEL_STDOUT"},
		},
	},
	Action: func(cCtx *cli.Context) error {
		cfg, err := loadConfig(cCtx)
		if err != nil {
			return err
		}
		if err := setupLogger(cfg.Log); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdown, err := setupTelemetry(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown failed")
			}
		}()

		return run(ctx, cfg, os.Stdin, os.Stdout)
	},
}

func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cCtx.IsSet("window") {
		cfg.Debounce.Window = cCtx.Duration("window")
	}
	if cCtx.IsSet("corrected-wait") {
		cfg.Debounce.CorrectedWait = cCtx.Bool("corrected-wait")
	}
	if cCtx.IsSet("overflow") {
		cfg.Buffer.Overflow = cCtx.String("overflow")
	}
	if cCtx.IsSet("capacity") {
		cfg.Buffer.Capacity = cCtx.Int("capacity")
	}
	if cCtx.IsSet("workers") {
		cfg.Dispatch.Workers = cCtx.Int("workers")
	}
	if cCtx.IsSet("log-level") {
		cfg.Log.Level = cCtx.String("log-level")
	}
	if cCtx.IsSet("pretty") {
		cfg.Log.Pretty = cCtx.Bool("pretty")
	}
	if cCtx.IsSet("metrics-addr") {
		cfg.Telemetry.MetricsAddr = cCtx.String("metrics-addr")
	}
	if cCtx.IsSet("otel-stdout") {
		cfg.Telemetry.Stdout = cCtx.Bool("otel-stdout")
	}
	return cfg, cfg.Validate()
}

func setupTelemetry(ctx context.Context, cfg config.Telemetry) (func(context.Context) error, error) {
	var opts []telemetry.Option
	if cfg.Stdout {
		opts = append(opts, telemetry.WithStdout())
	}

	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, telemetry.WithPrometheus(reg))
	}

	shutdown, err := telemetry.SetupOTELSDK(ctx, opts...)
	if err != nil || reg == nil {
		return shutdown, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func(ctx context.Context) error {
		return errors.Join(srv.Shutdown(ctx), shutdown(ctx))
	}, nil
}

// lockedWriter serializes writes from the dispatchers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// run drives a lineEditor from in until EOF or ctx ends. Debounced text and
// submitted text are printed to out from the Main dispatcher.
func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	overflow, err := cfg.Overflow()
	if err != nil {
		return err
	}
	buffer := textinput.WithBuffer(cfg.Buffer.Capacity, overflow)
	w := &lockedWriter{w: out}

	ds := dispatch.New(ctx, cfg.Dispatch.Workers)
	defer func() {
		if err := ds.Close(); err != nil {
			log.Error().Err(err).Msg("background tasks failed")
		}
	}()

	registry := lifecycle.NewRegistry("editor")
	scope := lifecycle.Bind(ctx, registry, lifecycle.WithName("editor"))
	if err := registry.HandleEvent(lifecycle.Create); err != nil {
		return err
	}

	editor := &lineEditor{}

	// Subscribe before the first line is read.
	watcher := textinput.NewWatcher(buffer, textinput.WithName("editor"))
	texts := watcher.AfterTextChangedEvents()
	editor.AddTextChangedListener(watcher)
	listener := textinput.NewActionListener(buffer, textinput.WithName("editor"))
	actions := listener.Events()
	editor.SetOnEditorActionListener(listener)

	// closeInput ends both streams; the tasks drain what is buffered and
	// return.
	closeInput := func() {
		editor.RemoveTextChangedListener(watcher)
		watcher.Close()
		editor.SetOnEditorActionListener(nil)
		listener.Close()
	}
	defer closeInput()

	debounceOpts := []chanx.DebounceOption{chanx.WithDebounceName("editor")}
	if cfg.Debounce.CorrectedWait {
		debounceOpts = append(debounceOpts, chanx.WithCorrectedWait())
	}
	debouncer := chanx.NewDebouncer[textinput.AfterTextChanged](cfg.Debounce.Window, debounceOpts...)

	debounced := make(chan struct{})
	if err := scope.Go("debounce", func(ctx context.Context) error {
		defer close(debounced)
		return debouncer.Run(ctx, texts, func(ctx context.Context, ev textinput.AfterTextChanged) error {
			return dispatch.WithContext(ctx, ds.Main, func(context.Context) error {
				w.printf("text: %s\n", ev.Text)
				return nil
			})
		})
	}); err != nil {
		return err
	}

	submitted := make(chan struct{})
	if err := scope.Go("submit", func(ctx context.Context) error {
		defer close(submitted)
		for range textinput.EnterActions(ctx, actions.C()) {
			text := editor.Text()
			words, err := dispatch.Async(ctx, ds.Background, "count", func(context.Context) (int, error) {
				return len(strings.Fields(text)), nil
			}).Await(ctx)
			if err != nil {
				return err
			}
			err = dispatch.WithContext(ctx, ds.Main, func(context.Context) error {
				w.printf("submitted: %s (%d words)\n", text, words)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if chanx.Send(ctx, lines, scanner.Text()) != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Msg("read failed")
		}
	}()

	for {
		line, ok, err := chanx.Recv(ctx, lines)
		if err != nil || !ok {
			break
		}
		if line == "" {
			editor.Submit()
			continue
		}
		editor.SetText(line)
	}

	// Every edit read so far is printed before the editor is destroyed.
	closeInput()
	for _, done := range []<-chan struct{}{debounced, submitted} {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return registry.HandleEvent(lifecycle.Destroy)
}
