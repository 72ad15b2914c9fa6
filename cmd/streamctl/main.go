package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgestream/internal/client"
	"github.com/danmuck/edgestream/internal/config"
	"github.com/danmuck/edgestream/internal/logging"
	"github.com/danmuck/edgestream/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "streamctl.toml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logging.ConfigureRuntime()

	opts := NewOptions()
	fs := pflag.NewFlagSet("streamctl", pflag.ContinueOnError)
	opts.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.InitConfig != "" {
		path := opts.ConfigPath
		if path == "" {
			path = defaultConfigPath
		}
		if err := config.WriteTemplate(path, opts.InitConfig, opts.Force); err != nil {
			return err
		}
		log.Info().Str("path", path).Str("kind", opts.InitConfig).Msg("wrote config template")
		return nil
	}

	cfg, err := opts.Resolve()
	if err != nil {
		return err
	}
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return client.RunApp(ctx, cfg)
}
