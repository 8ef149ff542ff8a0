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
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/config"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("querydesk"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, ctx
}

func TestCLI_Query(t *testing.T) {
	cli, ctx := parse(t, "query", "How many flights?", "--conversation", "c-1", "--json")
	assert.Equal(t, "query <text>", ctx.Command())
	assert.Equal(t, "How many flights?", cli.Query.Text)
	assert.Equal(t, "c-1", cli.Query.Conversation)
	assert.Equal(t, "cli", cli.Query.User)
	assert.True(t, cli.Query.JSON)
	assert.Equal(t, "file", cli.ConfigSource)
}

func TestCLI_IngestAndServe(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fares.csv")
	require.NoError(t, os.WriteFile(file, []byte("a,b\n1,2\n"), 0o644))

	cli, ctx := parse(t, "ingest", "table", file, "--table", "fares", "--replace")
	assert.Equal(t, "ingest table <file>", ctx.Command())
	assert.Equal(t, "fares", cli.Ingest.Table.Table)
	assert.Equal(t, "default", cli.Ingest.Table.Database)
	assert.True(t, cli.Ingest.Table.Replace)

	cli, _ = parse(t, "ingest", "docs", dir)
	assert.Equal(t, 600, cli.Ingest.Docs.ChunkTokens)
	assert.Equal(t, 200, cli.Ingest.Docs.Overlap)

	cli, _ = parse(t, "--log-level", "debug", "serve", "--port", "9090", "--watch")
	assert.Equal(t, 9090, cli.Serve.Port)
	assert.True(t, cli.Serve.Watch)
	assert.Equal(t, "debug", cli.LogLevel)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestRedact(t *testing.T) {
	cfg := &config.Config{}
	cfg.Credentials.Keys = []config.CredentialEntry{{ID: "a", Key: "AIzaSyExampleKey1234"}, {ID: "b", Key: "short"}}

	out := redact(cfg)
	assert.Equal(t, "AIza****1234", out.Credentials.Keys[0].Key)
	assert.Equal(t, "****", out.Credentials.Keys[1].Key)
	assert.Equal(t, "AIzaSyExampleKey1234", cfg.Credentials.Keys[0].Key)
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("engine:\n  max_iterations: 3\n"), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine:\n  max_iterations: -1\n"), 0o644))

	assert.NoError(t, (&ValidateCmd{Path: good, Format: "json"}).Run())
	assert.Error(t, (&ValidateCmd{Path: bad, Format: "json"}).Run())
}
