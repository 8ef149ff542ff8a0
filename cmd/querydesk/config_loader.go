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

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/config/provider"
)

// loadConfig loads the configured source, or builds a zero config when no
// --config is given. The loader is nil in zero-config mode.
func loadConfig(ctx context.Context, cli *CLI, zero config.ZeroConfigOptions, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg, err := config.Default(zero)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using zero-config mode", "model", cfg.LLM.Model, "credentials", len(cfg.CredentialKeys()))
		return cfg, nil, nil
	}

	typ, err := provider.ParseType(cli.ConfigSource)
	if err != nil {
		return nil, nil, err
	}
	p, err := provider.New(provider.Options{Type: typ, Path: cli.Config, Endpoints: cli.ConfigEndpoints})
	if err != nil {
		return nil, nil, err
	}
	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", typ, "path", cli.Config)
	return cfg, loader, nil
}
