// Command postal-send delivers a single RFC 5322 message through Postal and
// prints the delivery result as JSON.
//
// Usage:
//
//	postal-send [-config relay.yaml] [-mode http|sdk] [message.eml]
//
// The message is read from stdin when no file is given. Exit status is 2 for
// validation or configuration errors and 1 for delivery failures.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/shineum/postal-relay/internal/config"
	"github.com/shineum/postal-relay/internal/parser"
	"github.com/shineum/postal-relay/internal/provider"
	"github.com/shineum/postal-relay/internal/provider/postal"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("postal-send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	mode := fs.String("mode", "", "override the Postal transport mode (http or sdk)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_ = godotenv.Load(*envFile)

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 2
	}

	settings := cfg.PostalSettings()
	if *mode != "" {
		settings.Mode = postal.Mode(*mode)
	}

	raw, err := readMessage(fs.Arg(0), stdin)
	if err != nil {
		logger.Error("failed to read message", "error", err)
		return 2
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		logger.Error("failed to parse message", "error", err)
		return 2
	}

	p := postal.New(settings, nil, postal.WithLogger(logger))
	res, err := p.Send(context.Background(), msg)
	if err != nil {
		logger.Error("delivery failed", "kind", provider.Kind(err), "error", err)
		return exitCode(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("failed to write result", "error", err)
		return 1
	}
	return 0
}

func readMessage(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func exitCode(err error) int {
	var (
		cfgErr *provider.ConfigurationError
		valErr *provider.ValidationError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) {
		return 2
	}
	return 1
}
