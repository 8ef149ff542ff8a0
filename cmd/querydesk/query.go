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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
	"github.com/kadirpekel/querydesk/pkg/runtime"
)

// QueryCmd answers one question without starting the server.
type QueryCmd struct {
	Text         string `arg:"" help:"The question."`
	Conversation string `help:"Continue this conversation."`
	User         string `help:"User id." default:"cli"`
	JSON         bool   `name:"json" help:"Print the full result as JSON."`
	ChartOut     string `name:"chart-out" help:"Write the chart, if any, to this PNG file." type:"path"`
	Database     string `help:"SQLite database file (zero-config mode)." type:"path"`
}

func (c *QueryCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, cli, config.ZeroConfigOptions{Database: c.Database})
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg, runtime.Options{Version: version()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	res, err := rt.Orchestrator().Query(ctx, orchestrator.QueryRequest{
		ConversationID: c.Conversation,
		UserText:       c.Text,
		UserID:         c.User,
	})
	if res == nil {
		return err
	}

	if c.ChartOut != "" && res.Chart != nil {
		img, derr := base64.StdEncoding.DecodeString(res.Chart.ImageBase64)
		if derr != nil {
			return fmt.Errorf("decode chart: %w", derr)
		}
		if werr := os.WriteFile(c.ChartOut, img, 0o644); werr != nil {
			return werr
		}
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if eerr := enc.Encode(res); eerr != nil {
			return eerr
		}
		return err
	}

	fmt.Println(res.FinalAnswer)
	fmt.Println()
	for _, a := range res.ActionsTaken {
		status := "ok"
		if !a.Success {
			status = "failed"
		}
		fmt.Printf("  [%d] %s %s\n", a.Iteration, a.ToolName, status)
	}
	if len(res.Data) > 0 {
		fmt.Printf("  rows: %d\n", len(res.Data))
	}
	if res.Chart != nil {
		fmt.Printf("  chart: %s", res.Chart.PlotType)
		if c.ChartOut != "" {
			fmt.Printf(" (%s)", c.ChartOut)
		}
		fmt.Println()
	}
	if res.Truncated {
		fmt.Println("  (stopped at the iteration limit)")
	}
	fmt.Printf("  conversation: %s\n", res.ConversationID)
	return err
}
