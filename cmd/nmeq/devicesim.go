package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/linuxmatters/nmeq/internal/cli"
	"github.com/linuxmatters/nmeq/internal/device"
	"github.com/linuxmatters/nmeq/internal/metrics"
)

// DeviceSimCmd serves the equaliser bridge API from memory, for running
// the monitor without hardware.
type DeviceSimCmd struct {
	Listen string `default:":3000" help:"Listen address" env:"NMEQ_SIM_LISTEN"`
	Input  string `default:"InA" help:"Input channel returned by reads" env:"NMEQ_SIM_INPUT"`
}

// Run implements the device-sim command.
func (c *DeviceSimCmd) Run(g *Globals) error {
	logger, err := g.openLog(true)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	channel, err := device.ParseChannel(c.Input)
	if err != nil {
		return err
	}

	met := metrics.New()
	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           simRouter(device.NewMemory(channel), met, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	cli.PrintField(os.Stdout, "Bridge", "http://"+c.Listen+"/api/inchannel/"+device.ChannelName(channel)+"/geq/")
	log.Info("device_sim_listening", "addr", c.Listen, "input", device.ChannelName(channel))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdown, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	log.Info("device_sim_stopping")
	return srv.Shutdown(shutdown)
}

// simRouter serves /metrics next to the bridge API. Bridge requests are
// access logged to stdout.
func simRouter(mem *device.Memory, met *metrics.Metrics, log *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", met.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(met.WrapHandler("bridge", device.NewServer(mem, log, os.Stdout)))
	return r
}
