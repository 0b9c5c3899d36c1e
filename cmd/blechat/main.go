package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blechat/internal/ble"
	"blechat/internal/chat"
	"blechat/internal/cli"
	"blechat/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blechat/config.yaml)")
	name := flag.String("name", "", "display name advertised to peers (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *name != "" {
		cfg.Name = *name
	} else if flag.NArg() > 0 {
		cfg.Name = flag.Arg(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	adapter := ble.NewTinyGoAdapter()
	scanner := chat.NewScanner(adapter, cfg.Link.ServiceUUID, time.Duration(cfg.Scan.TTLSeconds)*time.Second)
	opts := chat.DefaultOptions(cfg.Name)
	opts.ServiceUUID = cfg.Link.ServiceUUID
	opts.MTU = cfg.Link.MTU
	opts.MaxMessageBytes = cfg.Link.MaxMessageBytes
	opts.ConnectTimeout = time.Duration(cfg.Link.ConnectTimeoutSeconds) * time.Second
	session := chat.New(adapter, opts)
	if err := session.Start(); err != nil {
		// No usable radio at all is the one unrecoverable startup failure.
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}
	// Guarantees disconnect and advertising teardown on every exit path below.
	defer session.Close()

	dispatcher := cli.New(session, scanner, os.Stdout, time.Duration(cfg.Scan.WindowSeconds)*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	ctx := context.Background()
	fmt.Print("> ")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Println("\n[*] Exiting...")
				return
			}
			if !dispatcher.Execute(ctx, line) {
				fmt.Println("[*] Exiting...")
				return
			}
			fmt.Print("> ")

		case ev := <-session.Events():
			fmt.Print("\r")
			dispatcher.RenderEvent(ev)
			fmt.Print("> ")

		case sig := <-sigCh:
			fmt.Printf("\n[*] Received %s, exiting...\n", sig)
			return
		}
	}
}

// readLines feeds stdin to the main loop and closes the channel on EOF.
func readLines(lines chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	close(lines)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults.
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// printBanner displays the startup summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blechat ===")
	fmt.Printf("  Name:  %s (advertised as %s%s)\n", cfg.Name, chat.AdvertisePrefix, cfg.Name)
	fmt.Printf("  Scan:  %ds window, %ds peer TTL\n", cfg.Scan.WindowSeconds, cfg.Scan.TTLSeconds)
	fmt.Printf("  Link:  mtu %d, max message %d bytes\n", cfg.Link.MTU, cfg.Link.MaxMessageBytes)
	fmt.Printf("  Log:   %s\n", cfg.LogLevel)
	fmt.Println("===============")
	fmt.Println("Type help for commands.")
}
