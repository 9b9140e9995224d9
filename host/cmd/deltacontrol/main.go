package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"deltastage/host/console"
	"deltastage/host/grbl"
	"deltastage/host/serial"
	"deltastage/stage"
	"deltastage/stage/config"
	"deltastage/stage/jog"
	"deltastage/stage/kinematics"
)

var (
	configPath = flag.String("config", "", "Machine config file (.json or .yaml)")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config)")
	retries    = flag.Int("retries", -1, "Connection attempts (overrides config)")
	listPorts  = flag.Bool("list-ports", false, "List serial ports and exit")
	verbose    = flag.Bool("verbose", false, "Log controller chatter")
)

func main() {
	flag.Parse()

	session := uuid.New().String()
	log.SetPrefix(fmt.Sprintf("[%s] ", session[:8]))

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *stage.MachineConfig) error {
	logf := func(string, ...interface{}) {}
	if *verbose {
		logf = log.Printf
	}

	fmt.Println("Delta Stage Control - GRBL jog console")
	fmt.Println("======================================")
	fmt.Println()

	kin, err := kinematics.New(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to GRBL on %s...\n", cfg.Serial.Device)
	link, err := grbl.Dial(cfg.Serial, logf)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { link.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	idlePause := time.Duration(cfg.Serial.IdlePauseMs) * time.Millisecond

	// GRBL resets on connect and prints its banner
	if err := printBanner(ctx, link, idlePause); err != nil {
		return err
	}
	fmt.Println("Connected successfully!")

	ctl, err := jog.NewController(kin, link, jog.Options{
		WaitForAck: cfg.Jog.WaitForAck,
		AckTimeout: time.Duration(cfg.Serial.AckTimeoutMs) * time.Millisecond,
		IdlePause:  idlePause,
		Step:       cfg.Jog.StepSize,
		Logf:       log.Printf,
	})
	if err != nil {
		return err
	}

	// The pose at power-up is the work origin
	if err := ctl.DeclareOrigin(ctx); err != nil {
		return err
	}

	zero := ctl.ZeroOffset()
	fmt.Printf("Tower zero offset: %.5f %.5f %.5f\n", zero[0], zero[1], zero[2])

	con := console.New(ctl, os.Stdout)
	con.ListPorts = serial.ListPorts
	con.Reconnect = func(ctx context.Context) error {
		if err := link.Close(); err != nil {
			logf("deltacontrol: close: %v", err)
		}
		next, err := grbl.Dial(cfg.Serial, logf)
		if err != nil {
			return err
		}
		link = next
		if err := printBanner(ctx, link, idlePause); err != nil {
			return err
		}
		return ctl.SetLink(link)
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	if err := con.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printBanner(ctx context.Context, link *grbl.Link, pause time.Duration) error {
	banner, err := link.WaitForIdle(ctx, pause)
	if err != nil {
		return err
	}
	for _, line := range banner {
		fmt.Printf("  %s\n", line)
	}
	return nil
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig() (*stage.MachineConfig, error) {
	cfg := config.DefaultDeltaConfig()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud > 0 {
		cfg.Serial.Baud = *baud
	}
	if *retries >= 0 {
		cfg.Serial.Retries = *retries
	}
	return cfg, nil
}
