package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/vacdash/internal/gauge"
	"github.com/shaunagostinho/vacdash/internal/instrument"
	"github.com/shaunagostinho/vacdash/internal/ionpump"
	"github.com/shaunagostinho/vacdash/internal/metrics"
	"github.com/shaunagostinho/vacdash/internal/server"
	"github.com/shaunagostinho/vacdash/internal/store"
	"github.com/shaunagostinho/vacdash/internal/transport"
	"github.com/shaunagostinho/vacdash/web"
)

func main() {
	configPath := flag.String("config", "/etc/vacdash/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated gauge and ion pump")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] vacdash starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.Gauge.Type = "demo"
		cfg.IonPump.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	m := metrics.New()
	onDiag := func(d instrument.Diagnostic) {
		log.Printf("[%s] %v", d.Device, d)
		m.Diagnostic(d)
	}

	dev := server.Devices{
		Gauge:   openGauge(cfg, onDiag),
		IonPump: openIonPump(cfg, onDiag),
	}
	defer closeDevices(dev)

	var pub server.Publisher
	if cfg.Redis.Enabled {
		dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
		p, err := store.Connect(dialCtx, cfg.Redis)
		dialCancel()
		if err != nil {
			log.Printf("[store] disabled: %v", err)
		} else {
			defer p.Close()
			pub = p
		}
	}

	srv := server.New(cfg, dev, m, pub, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// openGauge returns nil when the gauge is disabled or cannot be opened;
// the dashboard runs without it.
func openGauge(cfg *server.Config, onDiag instrument.DiagnosticFunc) *gauge.Hornet {
	gc := cfg.GaugeDriverConfig()
	gc.OnDiagnostic = onDiag

	switch cfg.Gauge.Type {
	case "disabled":
		return nil
	case "hornet":
		g, err := gauge.Open(gc)
		if err != nil {
			log.Printf("[gauge] %v (gauge disabled)", err)
			return nil
		}
		return g
	default:
		g := gauge.New(transport.NewLoopback(gauge.NewSimulator(gc.Address)), gc)
		if _, err := g.SelfTest(); err != nil {
			log.Printf("[gauge] demo self-test: %v", err)
		}
		log.Printf("[gauge] running simulated %s", g.Name())
		return g
	}
}

func openIonPump(cfg *server.Config, onDiag instrument.DiagnosticFunc) *ionpump.NEXTorr {
	pc := cfg.IonPumpDriverConfig()
	pc.OnDiagnostic = onDiag

	switch cfg.IonPump.Type {
	case "disabled":
		return nil
	case "nextorr":
		p, err := ionpump.Open(pc)
		if err != nil {
			log.Printf("[ionpump] %v (ion pump disabled)", err)
			return nil
		}
		return p
	default:
		p := ionpump.New(transport.NewLoopback(ionpump.NewSimulator()), pc)
		if _, err := p.SelfTest(); err != nil {
			log.Printf("[ionpump] demo self-test: %v", err)
		}
		log.Printf("[ionpump] running simulated %s", p.Name())
		return p
	}
}

func closeDevices(dev server.Devices) {
	if dev.Gauge != nil {
		if err := dev.Gauge.Close(); err != nil {
			log.Printf("[gauge] close: %v", err)
		}
	}
	if dev.IonPump != nil {
		if err := dev.IonPump.Close(); err != nil {
			log.Printf("[ionpump] close: %v", err)
		}
	}
}
