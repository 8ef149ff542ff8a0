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

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/orchestrator"
	"github.com/kadirpekel/querydesk/pkg/testutils"
)

func newRuntime(t *testing.T, cfg *config.Config, steps ...testutils.Step) (*Runtime, *testutils.MockReasoner) {
	t.Helper()
	reasoner := testutils.NewMockReasoner(steps...)
	rt, err := New(context.Background(), cfg, Options{
		Reasoner: reasoner,
		Embedder: testutils.NewMockEmbedder(8),
		Version:  "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })
	return rt, reasoner
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestNew_RegistersEnabledCapabilities(t *testing.T) {
	rt, _ := newRuntime(t, testutils.TestConfig(t))

	assert.Equal(t, []string{"analyze_data", "create_chart", "document_search", "sql_query", "sql_schema"},
		rt.Registry().Names())
	assert.Equal(t, 2, rt.Pool().Len())
	assert.NotNil(t, rt.SQL())
	assert.Nil(t, rt.RequestLimiter())
}

func TestNew_ChartOnly(t *testing.T) {
	cfg := testutils.TestConfig(t)
	cfg.Capabilities.SQL.Enabled = config.BoolPtr(false)
	cfg.Capabilities.Retrieval.Enabled = config.BoolPtr(false)

	rt, _ := newRuntime(t, cfg)
	assert.Equal(t, []string{"analyze_data", "create_chart"}, rt.Registry().Names())
	assert.Nil(t, rt.SQL())
}

func TestNew_NoCapabilities(t *testing.T) {
	cfg := testutils.TestConfig(t)
	cfg.Capabilities.SQL.Enabled = config.BoolPtr(false)
	cfg.Capabilities.Retrieval.Enabled = config.BoolPtr(false)
	cfg.Capabilities.Chart.Enabled = config.BoolPtr(false)

	_, err := New(context.Background(), cfg, Options{Reasoner: testutils.NewMockReasoner()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capabilities enabled")
}

func TestNew_RequestLimiter(t *testing.T) {
	cfg := testutils.TestConfig(t)
	cfg.RateLimit.Enabled = config.BoolPtr(true)

	rt, _ := newRuntime(t, cfg)
	require.NotNil(t, rt.RequestLimiter())

	res, err := rt.RequestLimiter().Allow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestQuery_EndToEnd(t *testing.T) {
	cfg := testutils.TestConfig(t)
	testutils.TravelDB(t, cfg)

	rt, reasoner := newRuntime(t, cfg,
		testutils.Call("sql_query", map[string]any{"query": "SELECT airline, price FROM flights ORDER BY price"}),
		testutils.Text("Vietjet has the cheapest flight."),
	)

	ctx := testutils.TestContext(t, 10*time.Second)
	res, err := rt.Orchestrator().Query(ctx, orchestrator.QueryRequest{UserText: "Which airline is cheapest?"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Vietjet has the cheapest flight.", res.FinalAnswer)
	require.Len(t, res.ActionsTaken, 1)
	assert.Equal(t, "sql_query", res.ActionsTaken[0].ToolName)
	assert.Len(t, res.Data, 4)
	assert.Equal(t, 2, reasoner.Calls())

	history, err := rt.Orchestrator().History(ctx, orchestrator.DefaultUserID, res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReload_ResetsCredentials(t *testing.T) {
	cfg := testutils.TestConfig(t)
	rt, _ := newRuntime(t, cfg)

	ctx := context.Background()
	for range 2 {
		c, err := rt.Pool().Acquire(ctx)
		require.NoError(t, err)
		rt.Pool().ReportOutcome(c, credential.OutcomeAuthFailure)
	}
	require.Equal(t, 0, rt.Pool().Healthy())

	rt.Reload(cfg)
	assert.Equal(t, 2, rt.Pool().Healthy())
}

func TestRetrieval_OpensOnDemand(t *testing.T) {
	cfg := testutils.TestConfig(t)
	cfg.Capabilities.Retrieval.Enabled = config.BoolPtr(false)
	rt, _ := newRuntime(t, cfg)

	emb, vs, err := rt.Retrieval()
	require.NoError(t, err)
	assert.NotNil(t, emb)
	assert.Equal(t, "chromem", vs.Name())
}
