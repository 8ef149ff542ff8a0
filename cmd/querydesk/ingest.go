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
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/ingest"
	"github.com/kadirpekel/querydesk/pkg/runtime"
	"github.com/kadirpekel/querydesk/pkg/utils"
)

// IngestCmd groups the loaders.
type IngestCmd struct {
	Docs  IngestDocsCmd  `cmd:"" help:"Index PDF, DOCX, XLSX and text files for document search."`
	Table IngestTableCmd `cmd:"" help:"Import a CSV file or an XLSX sheet as a SQL table."`
}

// IngestDocsCmd chunks, embeds and indexes documents.
type IngestDocsCmd struct {
	Path        string `arg:"" help:"File or directory to index." type:"existingpath"`
	Collection  string `help:"Vector collection (defaults to the retrieval collection)."`
	ChunkTokens int    `name:"chunk-tokens" help:"Tokens per chunk." default:"600"`
	Overlap     int    `help:"Tokens shared by consecutive chunks." default:"200"`
	Concurrency int    `help:"Parallel embedding requests." default:"4"`
}

func (c *IngestDocsCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, cli, config.ZeroConfigOptions{})
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

	emb, store, err := rt.Retrieval()
	if err != nil {
		return err
	}
	chunker, err := ingest.NewChunker(c.ChunkTokens, c.Overlap, utils.NewTokenCounter())
	if err != nil {
		return err
	}
	collection := c.Collection
	if collection == "" {
		collection = cfg.Capabilities.Retrieval.Collection
	}
	in, err := ingest.New(ingest.Config{
		Embedder:    emb,
		Store:       store,
		Collection:  collection,
		Chunker:     chunker,
		BatchSize:   cfg.Embedder.BatchSize,
		Concurrency: c.Concurrency,
	})
	if err != nil {
		return err
	}

	stats, err := in.IngestPath(ctx, c.Path)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d chunks from %d files into %q\n", stats.Chunks, stats.Files, collection)
	for _, p := range stats.Skipped {
		fmt.Printf("  skipped %s\n", p)
	}
	return nil
}

// IngestTableCmd imports tabular data into a configured database.
type IngestTableCmd struct {
	File     string `arg:"" help:"CSV or XLSX file." type:"existingfile"`
	Table    string `help:"Table name (defaults to the file name)."`
	Sheet    string `help:"XLSX sheet (defaults to the first)."`
	Database string `help:"Configured database name." default:"default"`
	Replace  bool   `help:"Drop an existing table first."`
	JSON     bool   `name:"json" help:"Print the import summary as JSON."`
}

func (c *IngestTableCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, loader, err := loadConfig(ctx, cli, config.ZeroConfigOptions{})
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	dbCfg, err := cfg.Database(c.Database)
	if err != nil {
		return err
	}
	if dbCfg.ReadOnly {
		return fmt.Errorf("database %q is read-only", c.Database)
	}
	dbs := config.NewDBPool()
	defer dbs.Close()
	db, err := dbs.Get(ctx, dbCfg)
	if err != nil {
		return err
	}

	stats, err := ingest.ImportTable(ctx, db, dbCfg.Dialect(), c.File, ingest.TableOptions{
		Table:   c.Table,
		Sheet:   c.Sheet,
		Replace: c.Replace,
	})
	if err != nil {
		return err
	}
	if c.JSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	fmt.Printf("Imported %d rows into %s (%d columns)\n", stats.Rows, stats.Table, len(stats.Columns))
	return nil
}
