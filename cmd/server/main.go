package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/thereceipt/btprint/internal/api"
	"github.com/thereceipt/btprint/internal/config"
	"github.com/thereceipt/btprint/internal/jobs"
	"github.com/thereceipt/btprint/internal/logging"
	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/registry"
	"github.com/thereceipt/btprint/internal/renderer"
)

// Version is set during build via ldflags
var Version = "dev"

// requestMTU is offered to BLE printers during MTU exchange
const requestMTU = 185

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "btprint: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir string
		console   bool
		listen    string
	)
	flag.StringVar(&configDir, "config", defaultConfigDir(), "configuration directory")
	flag.BoolVar(&console, "console", true, "also log to stderr")
	flag.StringVar(&listen, "listen", "", "API listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var extra []io.Writer
	if console {
		extra = append(extra, logging.Console())
	}
	if err := logging.Setup(cfg.LogDir(), cfg.DebugLogging(), extra...); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	log.Info().Str("version", Version).Str("config", cfg.Path()).Msg("btprint starting")

	reg, err := registry.New(afero.NewOsFs(), cfg.RegistryPath())
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	store, err := jobs.Open(cfg.JobsPath())
	if err != nil {
		return fmt.Errorf("open job history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing job history")
		}
	}()

	bt := cfg.Bluetooth()

	classic := printer.NewClassicAdapter(
		printer.NewSystemClassicStack(bt.RFCOMMChannel, bt.BaudRate),
		printer.ClassicOptions{
			WriteDelay: cfg.WriteDelay(),
			TextMode:   bt.ClassicPayload == config.PayloadText,
		})

	var central printer.Central
	systemCentral, err := printer.NewSystemCentral()
	if err != nil {
		log.Warn().Err(err).Msg("BLE unavailable")
	} else {
		central = systemCentral
		defer func() {
			if err := systemCentral.Close(); err != nil {
				log.Debug().Err(err).Msg("closing BLE device")
			}
		}()
	}
	bleAdapter := printer.NewBLEAdapter(central, printer.BLEOptions{
		PrinterServices: bt.PrinterServices,
		DefaultMTU:      bt.DefaultMTU,
		RequestMTU:      requestMTU,
		ChunkDelay:      cfg.ChunkDelay(),
	})

	// classic is preferred when both can reach a printer
	transports := []printer.Transport{classic, bleAdapter}

	hub := api.NewHub()
	clock := clockwork.NewRealClock()

	manager := printer.NewManager(transports, reg, cfg.ConnectTimeout())
	manager.OnStateChange(func(state printer.State, dev *printer.Device) {
		ev := log.Info().Str("state", state.String())
		if dev != nil {
			ev = ev.Str("address", dev.Address).Str("name", dev.Name)
		}
		ev.Msg("printer state changed")
		hub.StateChanged(state, dev)
	})

	discovery := printer.NewDiscovery(transports, clock, cfg.ScanDuration())
	service := printer.NewService(manager, discovery, renderer.New(cfg.RendererOptions()), hub,
		printer.ServiceOptions{
			Store:        cfg.Store(),
			ScanDuration: cfg.ScanDuration(),
			WriteTimeout: cfg.WriteTimeout(),
		})
	if !service.Available() {
		log.Warn().Msg("no Bluetooth stack reachable, printing is disabled")
	}

	monitor := printer.NewMonitor(service, cfg.MonitorInterval(), clock)
	monitor.Start()
	defer monitor.Stop()

	runner := jobs.NewRunner(store, service)
	server := api.NewServer(service, runner, reg, hub)

	apiCfg := cfg.API()
	if listen == "" {
		listen = apiCfg.Listen
	}
	if apiCfg.Advertise {
		adv, err := api.Advertise(listen, Version)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertising failed")
		} else {
			defer adv.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("listen", listen).Msg("starting API server")
	err = server.Run(ctx, listen)

	service.Disconnect()
	log.Info().Msg("btprint stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// defaultConfigDir returns the per-user configuration directory, falling
// back to the working directory
func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "btprint")
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}
