// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/collector"
	"codeberg.org/mutker/docsismon/internal/config"
	"codeberg.org/mutker/docsismon/internal/drivers"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/exporter"
	"codeberg.org/mutker/docsismon/internal/logger"
	"codeberg.org/mutker/docsismon/internal/mqtt"
	"codeberg.org/mutker/docsismon/internal/pid"
	"codeberg.org/mutker/docsismon/internal/storage"
	"codeberg.org/mutker/docsismon/internal/thresholds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Debug, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.FatalWithCode(err).Msg("Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	code := 0
	if err := run(ctx, cfg); err != nil {
		logger.ErrorWithCode(err).Msg("Error in main loop")
		code = 1
	}
	cancel()

	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
	os.Exit(code)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	if !drivers.IsSupported(cfg.Modem.Vendor) {
		return errFactory.WithData(errors.ErrUnsupported,
			fmt.Sprintf("%q (supported: %s)", cfg.Modem.Vendor, strings.Join(drivers.Supported(), ", ")))
	}

	table := thresholds.LoadOrDefault(cfg.Thresholds.File, logger.Component("thresholds"))

	store, err := storage.New(storage.Config{
		DBPath:        cfg.Storage.DBPath,
		RetentionDays: cfg.Storage.RetentionDays,
		Enabled:       cfg.Storage.Enabled,
	}, logger.Component("storage"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to close storage")
		}
	}()

	sinks := collector.Sinks{
		Store: store,
		Detector: events.NewDetector(events.Config{
			PowerShiftDB: cfg.Events.PowerShiftDB,
			SNRDropDB:    cfg.Events.SNRDropDB,
			UncorrSpike:  cfg.Events.UncorrSpike,
		}),
	}

	if cfg.MQTT.Enabled {
		mqttCfg := mqtt.DefaultConfig()
		mqttCfg.Enabled = true
		mqttCfg.Broker = cfg.MQTT.Broker
		mqttCfg.Username = cfg.MQTT.Username
		mqttCfg.Password = cfg.MQTT.Password
		mqttCfg.ClientID = cfg.MQTT.ClientID
		mqttCfg.TopicPrefix = cfg.MQTT.TopicPrefix
		mqttCfg.DiscoveryPrefix = cfg.MQTT.DiscoveryPrefix
		if err := mqttCfg.Validate(); err != nil {
			return err
		}

		log := logger.Component("mqtt")
		client, err := mqtt.Dial(mqttCfg, log)
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		pub := mqtt.NewPublisher(client, mqttCfg, log)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.ErrorWithCode(err).Msg("Failed to close MQTT publisher")
			}
		}()
		sinks.Publisher = pub
	}

	var orcOpts []collector.OrchestratorOption
	var exp *exporter.Exporter
	srvCfg := exporter.DefaultConfig()
	if cfg.Exporter.Enabled {
		srvCfg.Enabled = true
		srvCfg.Listen = cfg.Exporter.Listen
		srvCfg.PollInterval = time.Duration(cfg.Exporter.PollRate) * time.Second
		if err := srvCfg.Validate(); err != nil {
			return err
		}

		exp = exporter.NewExporter(exporter.WithLogger(logger.Component("exporter")))
		sinks.Observer = exp
		orcOpts = append(orcOpts, collector.WithObserver(exp))
	}

	driver, err := drivers.New(cfg.Modem.Vendor, cfg.Modem.URL, cfg.Modem.Username, cfg.Modem.Password)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	mc := collector.NewModemCollector(
		cfg.Modem.Name, cfg.Modem.Interval(), driver, analyzer.New(table), sinks, logger.Component("collector"),
	)
	orc := collector.NewOrchestrator(logger.Component("orchestrator"), orcOpts...)
	if err := orc.Register(mc); err != nil {
		if cerr := driver.Close(); cerr != nil {
			logger.ErrorWithCode(cerr).Msg("Failed to close modem driver")
		}
		return err
	}
	defer func() {
		if err := orc.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to close collectors")
		}
	}()

	logger.Info().
		Str("source", cfg.Modem.Name).
		Str("vendor", cfg.Modem.Vendor).
		Dur("interval", cfg.Modem.Interval()).
		Bool("storage", cfg.Storage.Enabled).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("exporter", cfg.Exporter.Enabled).
		Msg("Starting docsismon")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orc.Run(gctx)
	})

	if exp != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(exp, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		srv := exporter.New(srvCfg, exporter.Dependencies{
			Logger:       logger.Component("http"),
			Orchestrator: orc,
			Events:       store,
			Gatherer:     reg,
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}
	return nil
}
