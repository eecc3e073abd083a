package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/mux"

	"github.com/linuxmatters/nmeq/internal/attenuation"
	"github.com/linuxmatters/nmeq/internal/band"
	"github.com/linuxmatters/nmeq/internal/cli"
	"github.com/linuxmatters/nmeq/internal/config"
	"github.com/linuxmatters/nmeq/internal/device"
	"github.com/linuxmatters/nmeq/internal/feed"
	"github.com/linuxmatters/nmeq/internal/logging"
	"github.com/linuxmatters/nmeq/internal/mains"
	"github.com/linuxmatters/nmeq/internal/metrics"
	"github.com/linuxmatters/nmeq/internal/monitor"
	"github.com/linuxmatters/nmeq/internal/publish"
	"github.com/linuxmatters/nmeq/internal/ui"
	"github.com/linuxmatters/nmeq/internal/window"
)

// shutdownGrace bounds the wait for the feed after the UI quits. A blocked
// stdin read does not observe cancellation.
const shutdownGrace = 5 * time.Second

// MonitorCmd aggregates a feed of raw lines. Flags override the settings
// file.
type MonitorCmd struct {
	Files []string `arg:"" name:"files" help:"Raw line files to replay (stdin when no feed is given)" type:"existingfile" optional:""`

	DataDir       string        `name:"data-dir" type:"path" help:"Hourly data store to backfill from and tail" env:"NMEQ_DATA_DIR"`
	Window        time.Duration `help:"Window length" env:"NMEQ_WINDOW"`
	Start         string        `help:"Start of a fixed window (RFC 3339)" env:"NMEQ_START"`
	AggregatePast bool          `name:"aggregate-past" help:"Backfill a rolling window from the data store" env:"NMEQ_AGGREGATE_PAST"`
	Algorithm     string        `help:"Attenuation algorithm (slope, noop)" env:"NMEQ_ALGORITHM"`

	DeviceURL string `name:"device-url" help:"Equaliser bridge base URL" env:"NMEQ_DEVICE_URL"`
	Input     string `help:"Equaliser input channel (InA..InD)" env:"NMEQ_INPUT"`

	KafkaBrokers []string `name:"kafka-brokers" help:"Kafka brokers for the live feed" env:"NMEQ_KAFKA_BROKERS"`
	KafkaTopic   string   `name:"kafka-topic" help:"Kafka topic carrying raw lines" env:"NMEQ_KAFKA_TOPIC"`
	KafkaGroup   string   `name:"kafka-group" help:"Kafka consumer group" env:"NMEQ_KAFKA_GROUP"`

	MQTTBroker string `name:"mqtt-broker" help:"MQTT broker for status and attenuation messages" env:"NMEQ_MQTT_BROKER"`
	MQTTPrefix string `name:"mqtt-prefix" help:"MQTT topic prefix" env:"NMEQ_MQTT_PREFIX"`

	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address" env:"NMEQ_METRICS_ADDR"`
	NoTUI       bool   `name:"no-tui" help:"Log to the console instead of showing the traffic lights" env:"NMEQ_NO_TUI"`
}

// Run implements the monitor command.
func (c *MonitorCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	if err := c.apply(&cfg); err != nil {
		return err
	}

	logger, err := g.openLog(c.NoTUI)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	grid := mains.Detect()
	log.Info("mains", "timezone", grid.Timezone, "country", grid.Country, "hz", grid.Frequency, "band", grid.Band)

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, met, log)
		defer stop()
	}

	ctl, err := c.controller(cfg, met, log)
	if err != nil {
		return err
	}

	observers := []monitor.Observer{met}
	if cfg.MQTT.Broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.Prefix,
		}, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		observers = append(observers, pub)
	}

	var store *feed.Store
	if cfg.Feed.DataDir != "" {
		store = feed.NewStore(cfg.Feed.DataDir, log)
	}
	src, name, closeSrc, err := c.source(cfg, store, os.Stdin, log)
	if err != nil {
		return err
	}
	defer closeSrc()

	model := ui.NewModel(name)
	tui := !c.NoTUI && src != nil
	if tui {
		observers = append(observers, ui.NewObserver(model))
	}

	mon := monitor.New(monitor.Config{
		Window: window.Config{
			Start:         cfg.Window.Start,
			Length:        cfg.WindowLength(),
			Thresholds:    cfg.Thresholds(),
			AggregatePast: cfg.Window.AggregatePast,
			FollowData:    c.replaying(cfg),
			Logger:        log,
		},
		Controller: ctl,
		Display:    displayBands(cfg.Controlled(), grid.Band),
		Hum:        grid.Band,
		Observers:  observers,
		Logger:     log,
	})

	startTime := time.Now()
	runErr := mon.Load(ctx, store)
	if runErr == nil && src != nil {
		if tui {
			runErr = runTUI(ctx, cancel, mon, src, model, name == "stdin", log)
		} else {
			runErr = mon.Run(ctx, src)
		}
	}
	mon.Wait()

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	printSummary(os.Stdout, name, mon.Stats(), mon.Snapshot())

	if g.Logs {
		path := reportPath(g.LogFile, startTime)
		err := logging.GenerateReport(logging.ReportData{
			Path:      path,
			Source:    name,
			StartTime: startTime,
			EndTime:   time.Now(),
			Stats:     mon.Stats(),
			Snapshot:  mon.Snapshot(),
			Intervals: mon.Intervals(),
		})
		if err != nil {
			log.Error("report_failed", "error", err)
		} else {
			cli.PrintField(os.Stdout, "Report", path)
		}
	}
	return runErr
}

// apply overrides settings with the flags that were given and validates
// the result.
func (c *MonitorCmd) apply(cfg *config.Config) error {
	if c.DataDir != "" {
		cfg.Feed.DataDir = c.DataDir
	}
	if c.Window > 0 {
		cfg.Window.Length = config.Duration{Duration: c.Window}
	}
	if c.Start != "" {
		t, err := time.Parse(time.RFC3339, c.Start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		cfg.Window.Start = t.UTC()
	}
	if c.AggregatePast {
		cfg.Window.AggregatePast = true
	}
	if c.Algorithm != "" {
		cfg.Algorithm = c.Algorithm
	}
	if c.DeviceURL != "" {
		cfg.Device.URL = c.DeviceURL
	}
	if c.Input != "" {
		cfg.Device.Input = c.Input
	}
	if len(c.KafkaBrokers) > 0 {
		cfg.Feed.Kafka.Brokers = c.KafkaBrokers
	}
	if c.KafkaTopic != "" {
		cfg.Feed.Kafka.Topic = c.KafkaTopic
	}
	if c.KafkaGroup != "" {
		cfg.Feed.Kafka.GroupID = c.KafkaGroup
	}
	if c.MQTTBroker != "" {
		cfg.MQTT.Broker = c.MQTTBroker
	}
	if c.MQTTPrefix != "" {
		cfg.MQTT.Prefix = c.MQTTPrefix
	}
	if c.MetricsAddr != "" {
		cfg.MetricsAddr = c.MetricsAddr
	}
	return cfg.Validate()
}

// controller builds the attenuation controller and, for the slope
// algorithm, the bridge client it drives.
func (c *MonitorCmd) controller(cfg config.Config, met *metrics.Metrics, log *slog.Logger) (*attenuation.Controller, error) {
	algo, ok := attenuation.ParseAlgorithm(cfg.Algorithm)
	if !ok {
		log.Warn("unknown_algorithm", "algorithm", cfg.Algorithm, "using", algo.String())
	}
	channel, err := device.ParseChannel(cfg.Device.Input)
	if err != nil {
		return nil, err
	}

	var dev attenuation.Device
	if algo == attenuation.SlopeBased {
		client, err := device.NewClient(device.ClientConfig{
			BaseURL:          cfg.Device.URL,
			Input:            device.ChannelName(channel),
			Timeout:          cfg.Device.Timeout.Duration,
			FailureThreshold: cfg.Device.FailureThreshold,
			OpenTimeout:      cfg.Device.OpenTimeout.Duration,
			Logger:           log,
		})
		if err != nil {
			return nil, err
		}
		met.WatchBreaker(cfg.Device.URL, client.BreakerState)
		dev = client
	}

	if missing := cfg.Unconfigured(); len(missing) > 0 {
		log.Warn("attenuation_bands_unconfigured", "bands", missing)
	}
	return attenuation.New(attenuation.Config{
		Algorithm: algo,
		Bands:     cfg.ControlBands(),
		Device:    dev,
		Channel:   channel,
		Logger:    log,
	}), nil
}

// source picks the live feed: Kafka, replay files, the data store or stdin,
// in that order. A fixed window read from the data store has no live feed
// and src is nil.
// replaying reports whether the feed is recorded files, whose rolling
// window follows the data rather than the clock.
func (c *MonitorCmd) replaying(cfg config.Config) bool {
	return len(c.Files) > 0 && len(cfg.Feed.Kafka.Brokers) == 0
}

func (c *MonitorCmd) source(cfg config.Config, store *feed.Store, stdin io.Reader, log *slog.Logger) (src feed.Source, name string, closeFn func(), err error) {
	closeFn = func() {}

	switch {
	case len(cfg.Feed.Kafka.Brokers) > 0:
		k, err := feed.NewKafka(feed.KafkaConfig{
			Brokers: cfg.Feed.Kafka.Brokers,
			Topic:   cfg.Feed.Kafka.Topic,
			GroupID: cfg.Feed.Kafka.GroupID,
		}, log)
		if err != nil {
			return nil, "", closeFn, err
		}
		return k, "kafka:" + cfg.Feed.Kafka.Topic, func() { _ = k.Close() }, nil

	case len(c.Files) > 0:
		files := make([]*os.File, 0, len(c.Files))
		closeAll := func() {
			for _, f := range files {
				_ = f.Close()
			}
		}
		readers := make([]io.Reader, 0, len(c.Files))
		for _, path := range c.Files {
			f, err := os.Open(path)
			if err != nil {
				closeAll()
				return nil, "", func() {}, fmt.Errorf("open feed: %w", err)
			}
			files = append(files, f)
			readers = append(readers, f)
		}
		return feed.NewReader(io.MultiReader(readers...), log), strings.Join(c.Files, ", "), closeAll, nil

	case store != nil:
		if !cfg.Window.Start.IsZero() {
			return nil, cfg.Feed.DataDir, closeFn, nil
		}
		return &feed.Follow{Store: store, Start: time.Now().UTC(), Poll: cfg.Feed.Poll.Duration}, cfg.Feed.DataDir, closeFn, nil
	}

	return feed.NewReader(stdin, log), "stdin", closeFn, nil
}

// runTUI runs the monitor behind the traffic light view. Quitting the view
// cancels the feed.
func runTUI(ctx context.Context, cancel context.CancelFunc, mon *monitor.Monitor, src feed.Source, model ui.Model, stdinFeed bool, log *slog.Logger) error {
	opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if stdinFeed {
		opts = append(opts, tea.WithInputTTY())
	}
	p := tea.NewProgram(model, opts...)

	done := make(chan error, 1)
	go func() {
		err := mon.Run(ctx, src)
		p.Send(ui.DoneMsg{Err: err})
		done <- err
	}()

	_, uiErr := p.Run()
	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(shutdownGrace):
		log.Warn("feed_shutdown_timeout", "after", shutdownGrace)
	}

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("UI error: %w", uiErr)
	}
	return runErr
}

// displayBands lists A, the controlled bands by frequency and the mains
// hum band.
func displayBands(controlled []band.ID, hum band.ID) []band.ID {
	ctl := append([]band.ID(nil), controlled...)
	sort.SliceStable(ctl, func(i, j int) bool {
		fi, _ := band.Frequency(ctl[i])
		fj, _ := band.Frequency(ctl[j])
		return fi < fj
	})

	out := []band.ID{"A"}
	seen := map[band.ID]bool{"A": true}
	for _, id := range append(ctl, hum) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown.
func serveMetrics(addr string, met *metrics.Metrics, log *slog.Logger) func() {
	r := mux.NewRouter()
	r.Handle("/metrics", met.WrapHandler("/metrics", met.Handler())).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics_server", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func reportPath(logFile string, t time.Time) string {
	return filepath.Join(filepath.Dir(logFile), "nmeq-report-"+t.Format("20060102-150405")+".txt")
}

// printSummary prints the session outcome once the terminal is free.
func printSummary(w io.Writer, source string, s monitor.Stats, snap monitor.Snapshot) {
	fmt.Fprintln(w, cli.TitleStyle.Render("NMEQ 🚦"))
	cli.PrintField(w, "Source", source)
	cli.PrintField(w, "Window", fmt.Sprintf("%s %s, %s", snap.State.Kind, snap.State.Length, snap.State.Status))
	cli.PrintField(w, "Samples", fmt.Sprintf("%d (%d malformed, %d resent)", s.Samples, s.Skipped, s.Stale))
	cli.PrintField(w, "Passes", fmt.Sprintf("%d (%d writes, %d errors)", s.Passes, s.Writes, s.ReadErrors+s.WriteErrors))
	for _, v := range snap.Bands {
		if !v.Controlled && !v.Hum && v.Band != "A" {
			continue
		}
		cli.PrintField(w, string(v.Band), fmt.Sprintf("%s, 1h %s dB", v.Color, dB(v.Avg1h)))
	}
}

func dB(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}
