// Command anemobox is the always-on box daemon: it serves RPCs to the phone
// over the chunked channel, keeps a corrected clock from the phone's time
// samples and hosts the local mailbox endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"anemobox/clock"
	"anemobox/codec"
	"anemobox/config"
	"anemobox/dispatcher"
	"anemobox/endpoint"
	"anemobox/logger"
	"anemobox/middleware"
	"anemobox/peripheral"
	"anemobox/protocol"
	"anemobox/registry"
	"anemobox/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.StringP("config", "c", "/etc/anemobox/anemobox.yaml", "configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatal(err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		logrus.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("anemobox: exiting")
	}
}

// newClock builds the corrected clock and the sampler fed by clock_sample.
func newClock(cfg config.ClockConfig) (*clock.Clock, clock.Sampler) {
	sys := clock.NewSystemClock()
	if cfg.Mode == "bounded" {
		b := clock.NewBounded(cfg.MaxSamples)
		return clock.New(sys, b), b
	}
	series := clock.NewSeries(cfg.SeriesCapacity)
	return clock.New(sys, clock.NewWindowed(series, cfg.WindowSize, cfg.Freshness)), series
}

func newChannel(cfg config.TransportConfig) (*transport.Channel, error) {
	framing, err := protocol.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}
	compressor, err := codec.GetCompressor(cfg.Compression, cfg.MaxDecompressedSize)
	if err != nil {
		return nil, err
	}
	return transport.NewChannel(transport.Options{
		Framing:        framing,
		Compressor:     compressor,
		MaxMessageSize: cfg.MaxMessageSize,
	}), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	clk, sampler := newClock(cfg.Clock)
	logger.UseClock(clk.Now)

	ch, err := newChannel(cfg.Transport)
	if err != nil {
		return err
	}
	defer ch.Close()

	d := dispatcher.New(ch, dispatcher.Options{CallTimeout: cfg.RPC.CallTimeout})
	d.Use(middleware.LoggingMiddleware())
	if cfg.RPC.RateLimit > 0 {
		d.Use(middleware.RateLimitMiddleware(cfg.RPC.RateLimit, cfg.RPC.RateBurst))
	}
	if cfg.RPC.HandlerTimeout > 0 {
		d.Use(middleware.TimeOutMiddleware(cfg.RPC.HandlerTimeout))
	}

	if err := d.RegisterService("clock_", clock.NewService(clk, sampler)); err != nil {
		return err
	}

	local := endpoint.LocalName(cfg.BoxID)
	endpoints := endpoint.NewManager(func(name string) endpoint.Endpoint {
		return endpoint.NewSQLite(cfg.Endpoint.MailRoot, name, func(p endpoint.Packet) error {
			logrus.WithFields(logrus.Fields{"src": p.Src, "label": p.Label, "bytes": len(p.Data)}).
				Info("anemobox: packet received")
			return nil
		})
	}, cfg.Endpoint.CloseAfter)
	defer endpoints.CloseAll()
	if err := d.RegisterService("ep_", endpoint.NewService(local, endpoints)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ble", peripheral.NewServer(ch, cfg.Transport.MTU))
	httpSrv := &http.Server{Addr: cfg.Peripheral.Listen, Handler: mux}

	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		inst := registry.Instance{BoxID: cfg.BoxID, Addr: advertiseAddr(cfg), Version: version}
		if err := d.Announce(ctx, reg, inst, cfg.Registry.TTL); err != nil {
			// The box is fully functional without the registry.
			logrus.WithError(err).Warn("anemobox: announce failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"box":       cfg.BoxID,
		"endpoint":  local,
		"listen":    cfg.Peripheral.Listen,
		"framing":   cfg.Transport.Framing,
		"clock":     cfg.Clock.Mode,
		"functions": d.Functions(),
	}).Info("anemobox: started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := d.Shutdown(shutdownTimeout); err != nil {
			logrus.WithError(err).Warn("anemobox: rpc shutdown")
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

var version = "dev"

func advertiseAddr(cfg *config.Config) string {
	if cfg.Registry.Advertise != "" {
		return cfg.Registry.Advertise
	}
	return "ws://" + cfg.Peripheral.Listen + "/ble"
}
