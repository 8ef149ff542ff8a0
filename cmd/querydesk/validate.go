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
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/querydesk/pkg/config"
)

// ValidateCmd loads a configuration file and reports whether it is valid.
type ValidateCmd struct {
	Path        string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH" type:"existingfile"`
	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the configuration with defaults applied and env vars resolved."`
}

type validationResult struct {
	Valid  bool   `json:"valid"`
	File   string `json:"file"`
	Error  string `json:"error,omitempty"`
	Config any    `json:"config,omitempty"`
}

func (c *ValidateCmd) Run() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}
	cfg, err := config.Parse(data)
	if err != nil {
		c.report(validationResult{File: c.Path, Error: err.Error()})
		return fmt.Errorf("invalid configuration")
	}

	res := validationResult{Valid: true, File: c.Path}
	if c.PrintConfig {
		res.Config = redact(cfg)
	}
	c.report(res)
	return nil
}

func (c *ValidateCmd) report(res validationResult) {
	if c.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if !res.Valid {
		fmt.Fprintf(os.Stderr, "%s: %s\n", res.File, res.Error)
		return
	}
	fmt.Printf("%s: valid\n", res.File)
	if res.Config != nil {
		out, err := yaml.Marshal(res.Config)
		if err == nil {
			fmt.Println(string(out))
		}
	}
}

// redact masks credential values before printing.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	out.Credentials.Keys = make([]config.CredentialEntry, len(cfg.Credentials.Keys))
	for i, k := range cfg.Credentials.Keys {
		k.Key = mask(k.Key)
		out.Credentials.Keys[i] = k
	}
	if out.VectorStore.APIKey != "" {
		out.VectorStore.APIKey = mask(out.VectorStore.APIKey)
	}
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
