package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gripkit/wsg50d/internal/config"
	"github.com/gripkit/wsg50d/internal/gateway"
	"github.com/gripkit/wsg50d/internal/gripper"
	"github.com/gripkit/wsg50d/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/wsg50d/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated gripper")
	listenAddr := flag.String("listen", "", "Override gateway listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] wsg50d starting")

	cfg := config.LoadConfig(*configPath)
	if *demo {
		cfg.Transport.Kind = "sim"
	}
	if *listenAddr != "" {
		cfg.Gateway.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
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

	tr, err := openTransport(cfg)
	if err != nil {
		log.Fatalf("[main] opening %s transport: %v", cfg.Transport.Kind, err)
	}

	eng := gripper.New(tr, gripper.Options{
		Size:            cfg.Gripper.Size,
		Mode:            gripper.Mode(cfg.Gripper.Mode),
		TickRate:        cfg.Gripper.TickRateHz,
		CommandDeadline: time.Duration(cfg.Gripper.DeadlineSec * float64(time.Second)),
		SettleDelay:     time.Duration(cfg.Gripper.SettleMs) * time.Millisecond,
		GraspingForce:   cfg.Gripper.GraspingForce,
		HomingDirection: homingDirection(cfg.Gripper.HomingDirection),
	})
	defer eng.Close()

	// The reader only starts with Run, so the startup sequence runs its
	// exchanges inline regardless of mode.
	if err := eng.Initialize(); err != nil {
		log.Fatalf("[main] gripper initialization failed: %v", err)
	}

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[main] engine stopped: %v", err)
		}
	}()

	gw := gateway.New(cfg.Gateway.ListenAddr, eng)
	go func() {
		if err := gw.Run(ctx); err != nil {
			log.Printf("[main] gateway exited: %v", err)
			cancel()
		}
	}()

	select {
	case err := <-eng.Fatal():
		log.Printf("[main] engine failed: %v", err)
		cancel()
		os.Exit(1)
	case <-ctx.Done():
	}
}

func homingDirection(s string) gripper.HomingDirection {
	switch s {
	case "open":
		return gripper.HomeOpen
	case "close":
		return gripper.HomeClose
	}
	return gripper.HomeDefault
}

func openTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.Transport.Kind == "sim" {
		log.Println("[main] using simulated gripper")
		return gripper.NewSim(gripper.SimOptions{Size: cfg.Gripper.Size}), nil
	}
	tc := transport.Config{
		Kind:      cfg.Transport.Kind,
		Device:    cfg.Transport.Device,
		Baud:      cfg.Transport.Baud,
		Host:      cfg.Transport.Host,
		Port:      cfg.Transport.Port,
		LocalPort: cfg.Transport.LocalPort,
	}
	log.Printf("[main] connecting to gripper via %s (%s)", tc.Kind, tc.Endpoint())
	return transport.Open(tc)
}
