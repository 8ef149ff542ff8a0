// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/querydesk/pkg/auth"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/runtime"
	"github.com/kadirpekel/querydesk/pkg/server"
)

// ServeCmd starts the server.
type ServeCmd struct {
	Model    string `help:"Reasoning model (zero-config mode)."`
	Database string `help:"SQLite database file (zero-config mode)." type:"path"`
	Port     int    `help:"Port to listen on (overrides the config)."`
	Watch    bool   `help:"Reload credentials and schema when the config changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rt *runtime.Runtime
	cfg, loader, err := loadConfig(ctx, cli,
		config.ZeroConfigOptions{Model: c.Model, Database: c.Database, Port: c.Port},
		config.WithOnChange(func(next *config.Config) {
			if rt != nil {
				rt.Reload(next)
			}
		}),
	)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if cleanup, err := applyConfigLogger(cli, &cfg.Logger); err != nil {
		return err
	} else if cleanup != nil {
		defer cleanup()
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err = runtime.New(ctx, cfg, runtime.Options{Version: version()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	opts := []server.Option{
		server.WithVersion(version()),
		server.WithRateLimiter(rt.RequestLimiter()),
		server.WithObservability(rt.Tracer(), rt.Metrics()),
	}
	validator, err := auth.NewValidatorFromConfig(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}
	if validator != nil {
		defer validator.Close()
		opts = append(opts, server.WithAuthValidator(validator))
	}
	srv := server.New(cfg, rt.Orchestrator(), opts...)

	printStartup(cfg, rt)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if c.Watch {
		if loader == nil {
			slog.Warn("--watch ignored in zero-config mode")
		} else {
			g.Go(func() error { return loader.Watch(gctx) })
		}
	}
	err = g.Wait()
	slog.Info("Shut down")
	return err
}

func printStartup(cfg *config.Config, rt *runtime.Runtime) {
	base := cfg.Server.PublicURL()
	fmt.Printf("\nquerydesk server ready\n")
	fmt.Printf("   API:          %s/api/agents/query\n", base)
	fmt.Printf("   Health:       %s/health\n", base)
	if cfg.Server.A2AEnabled() {
		fmt.Printf("   Agent Card:   %s/.well-known/agent-card.json\n", base)
	}
	if rt.Metrics() != nil {
		fmt.Printf("   Metrics:      %s%s\n", base, cfg.Observability.Metrics.Endpoint)
	}
	fmt.Printf("   Capabilities: %v\n", rt.Registry().Names())
	fmt.Printf("   Credentials:  %d\n", rt.Pool().Len())
	fmt.Printf("   Conversations: %s\n", cfg.Conversations.Backend)
	fmt.Println("\nPress Ctrl+C to stop")
}
