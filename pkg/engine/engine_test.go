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

package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/engine"
	"github.com/kadirpekel/querydesk/pkg/model"
	"github.com/kadirpekel/querydesk/pkg/testutils"
	"github.com/kadirpekel/querydesk/pkg/tool"
	"github.com/kadirpekel/querydesk/pkg/tool/charttool"
	"github.com/kadirpekel/querydesk/pkg/tool/functiontool"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/tool/sqltool"
	"github.com/kadirpekel/querydesk/pkg/utils"
)

// travelRegistry registers the sql and chart capabilities over the seeded
// flights table.
func travelRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	cfg := testutils.TestConfig(t)
	db := testutils.TravelDB(t, cfg)

	sqlTools, err := sqltool.New(sqltool.Config{DB: db, Dialect: config.DialectSQLite})
	require.NoError(t, err)
	sqlCaps, err := sqlTools.Capabilities()
	require.NoError(t, err)
	chartCaps, err := charttool.New(charttool.Config{}).Capabilities()
	require.NoError(t, err)

	reg, err := tool.NewRegistry(append(sqlCaps, chartCaps...))
	require.NoError(t, err)
	return reg
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required"`
}

// docRegistry registers a document_search stand-in with fixed passages.
func docRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	search, err := functiontool.New(functiontool.Config{Name: retrievaltool.ToolName, Description: "search"},
		func(_ context.Context, args searchArgs) (map[string]any, error) {
			return map[string]any{
				"query": args.Query,
				"passages": []retrievaltool.Passage{
					{Content: "Checked baggage allowance is 23kg.", Page: "4", Section: "Baggage", Score: 0.9},
					{Content: "Cabin bags must fit the sizer.", Page: "5", Section: "Baggage", Score: 0.7},
				},
			}, nil
		})
	require.NoError(t, err)
	reg, err := tool.NewRegistry([]tool.Capability{search})
	require.NoError(t, err)
	return reg
}

func newEngine(t *testing.T, cfg engine.Config, reasoner model.Reasoner, keys int, reg engine.Dispatcher, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e, err := engine.New(cfg, reasoner, testutils.NewTestPool(t, keys), reg, opts...)
	require.NoError(t, err)
	return e
}

func TestRun_DirectAnswer(t *testing.T) {
	reasoner := testutils.NewMockReasoner(testutils.Text("Hello! Ask me about flights."))
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "hi"})
	require.NoError(t, err)

	assert.Equal(t, agent.TurnFinished, turn.Status)
	assert.Equal(t, "Hello! Ask me about flights.", turn.Answer)
	assert.Empty(t, turn.Actions)
	assert.Nil(t, turn.Payload)
	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, 1, reasoner.Calls())

	req := reasoner.Requests()[0]
	assert.Equal(t, engine.DefaultInstruction, req.SystemInstruction)
	assert.Len(t, req.Tools, 4)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].Text)
}

func TestRun_QueryThenChart(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Call(sqltool.QueryToolName, map[string]any{"query": "SELECT airline, price FROM flights ORDER BY flight_id"}),
		testutils.Call(charttool.ChartToolName, map[string]any{"plot_type": "bar"}),
		testutils.Text("VN Air has the most expensive flight."),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "Chart flight prices by airline"})
	require.NoError(t, err)

	assert.Equal(t, agent.TurnFinished, turn.Status)
	require.Len(t, turn.Actions, 2)
	assert.Equal(t, 1, turn.Actions[0].Iteration)
	assert.Equal(t, 2, turn.Actions[1].Iteration)
	assert.True(t, turn.Actions[0].Success, "%+v", turn.Actions[0].Error)
	assert.True(t, turn.Actions[1].Success, "%+v", turn.Actions[1].Error)

	// The chart received the query rows without the model repeating them.
	assert.Contains(t, turn.Actions[1].Arguments, "data")

	require.NotNil(t, turn.Payload)
	assert.Len(t, turn.Payload.Data, 4)
	require.NotNil(t, turn.Payload.Chart)
	assert.Equal(t, charttool.PlotBar, turn.Payload.Chart.PlotType)
	assert.NotEmpty(t, turn.Payload.Chart.ImageBase64)

	// Observations are folded back as function results.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 3)
	last := reqs[2].Messages
	require.Len(t, last, 5)
	require.NotNil(t, last[1].Call)
	require.NotNil(t, last[2].Result)
	assert.Equal(t, sqltool.QueryToolName, last[2].Result.Name)
	assert.Equal(t, true, last[2].Result.Response["success"])
	chartObs := last[4].Result.Response["result"].(map[string]any)
	assert.NotEqual(t, turn.Payload.Chart.ImageBase64, chartObs["image_base64"])
}

func TestRun_CapabilityFailureRecovers(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Call(sqltool.QueryToolName, map[string]any{"query": "SELECT COUNT(*) FROM flightz"}),
		testutils.Call(sqltool.QueryToolName, map[string]any{"query": "SELECT COUNT(*) AS total FROM flights"}),
		testutils.Text("There are 4 flights."),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "How many flights are there?"})
	require.NoError(t, err)

	assert.Equal(t, agent.TurnFinished, turn.Status)
	assert.Equal(t, "There are 4 flights.", turn.Answer)
	require.Len(t, turn.Actions, 2)

	failed, retried := turn.Actions[0], turn.Actions[1]
	assert.Equal(t, 1, failed.Iteration)
	assert.False(t, failed.Success)
	require.NotNil(t, failed.Error)
	assert.Equal(t, agent.KindCapabilityFailure, failed.Error.Kind)
	assert.Equal(t, 2, retried.Iteration)
	assert.True(t, retried.Success, "%+v", retried.Error)

	// The failure reached the model before it corrected the query.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 3)
	obs := reqs[1].Messages[2].Result.Response
	assert.Equal(t, false, obs["success"])
	assert.Equal(t, string(agent.KindCapabilityFailure), obs["error_kind"])
	assert.Contains(t, obs["error"], "flightz")
}

func TestRun_TranslatedCountQuery(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Call(sqltool.QueryToolName, map[string]any{"query": "count flights"}),
		testutils.Text("```sql\nSELECT COUNT(*) AS total FROM flights;\n```"),
		testutils.Text("There are 4 flights in total."),
	)
	pool := testutils.NewTestPool(t, 1)
	cfg := testutils.TestConfig(t)
	sqlTools, err := sqltool.New(sqltool.Config{
		DB:         testutils.TravelDB(t, cfg),
		Dialect:    config.DialectSQLite,
		Translator: &sqltool.ReasonerTranslator{Reasoner: reasoner, Pool: pool, MaxAttempts: 2},
	})
	require.NoError(t, err)
	caps, err := sqlTools.Capabilities()
	require.NoError(t, err)
	reg, err := tool.NewRegistry(caps)
	require.NoError(t, err)
	e, err := engine.New(engine.Config{}, reasoner, pool, reg)
	require.NoError(t, err)

	turn, err := e.Run(context.Background(), engine.Input{Query: "count flights"})
	require.NoError(t, err)

	assert.Equal(t, agent.TurnFinished, turn.Status)
	require.Len(t, turn.Actions, 1)
	action := turn.Actions[0]
	require.True(t, action.Success, "%+v", action.Error)

	result := action.Result.(map[string]any)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM flights", result["sql"])
	rows := result["data"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4, rows[0]["total"])
	assert.Contains(t, turn.Answer, "4")

	// engine call, translation, engine call
	assert.Equal(t, 3, reasoner.Calls())
	assert.Contains(t, reasoner.Requests()[1].Messages[0].Text, "User Question: count flights")
}

func TestRun_IterationCapTruncates(t *testing.T) {
	reasoner := &testutils.MockReasoner{
		ReasonFunc: func(context.Context, string, *model.Request) (*model.Response, error) {
			return testutils.Call(sqltool.SchemaToolName, nil).Response, nil
		},
	}
	e := newEngine(t, engine.Config{MaxIterations: 3}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "loop forever"})
	require.NoError(t, err)

	assert.Equal(t, agent.TurnTruncated, turn.Status)
	require.Len(t, turn.Actions, 3)
	for i, a := range turn.Actions {
		assert.Equal(t, i+1, a.Iteration)
	}
	assert.LessOrEqual(t, reasoner.Calls(), 4)
	assert.Contains(t, turn.Answer, "within 3 steps")
	assert.Contains(t, turn.Answer, "sql_schema")
}

func TestRun_UnparseableTwiceAborts(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Text(`{"action": `),
		testutils.Text(`{"nothing": true}`),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, agent.KindReasoningUnparseable, agent.KindOf(err))
	assert.Equal(t, agent.TurnAborted, turn.Status)
	assert.Equal(t, agent.KindReasoningUnparseable, turn.ErrorKind)
	assert.Equal(t, 2, reasoner.Calls())
}

func TestRun_CorrectiveRetryRecovers(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Text(`{"action": `),
		testutils.Text(`{"final_answer": "four flights"}`),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "how many flights?"})
	require.NoError(t, err)
	assert.Equal(t, "four flights", turn.Answer)

	retry := reasoner.Requests()[1].Messages
	require.Len(t, retry, 3)
	assert.Contains(t, retry[2].Text, "could not be understood")
}

func TestRun_FailsOverOnRateLimit(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Fail(model.NewProviderError(429, "RESOURCE_EXHAUSTED", "quota exceeded")),
		testutils.Text("ok"),
	)
	pool := testutils.NewTestPool(t, 2)
	e, err := engine.New(engine.Config{}, reasoner, pool, travelRegistry(t))
	require.NoError(t, err)

	turn, err := e.Run(context.Background(), engine.Input{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Answer)

	keys := reasoner.Keys()
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, 1, pool.Healthy())
}

func TestRun_PoolExhausted(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Fail(model.NewProviderError(401, "UNAUTHENTICATED", "API key not valid")),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, agent.KindProviderUnavailable, turn.ErrorKind)
	assert.Equal(t, 1, reasoner.Calls())
}

func TestRun_ProviderAttemptsExhausted(t *testing.T) {
	reasoner := &testutils.MockReasoner{
		ReasonFunc: func(context.Context, string, *model.Request) (*model.Response, error) {
			return nil, errors.New("connection reset by peer")
		},
	}
	e := newEngine(t, engine.Config{MaxProviderAttempts: 3}, reasoner, 2, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, agent.KindProviderUnavailable, turn.ErrorKind)
	assert.Equal(t, 3, reasoner.Calls())
}

func TestRun_TurnDeadlineKeepsTrace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	reasoner := &testutils.MockReasoner{
		ReasonFunc: func(ctx context.Context, _ string, _ *model.Request) (*model.Response, error) {
			if calls.Add(1) == 1 {
				return testutils.Call("slow_lookup", map[string]any{}).Response, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	lookup, err := functiontool.New(functiontool.Config{Name: "slow_lookup", Description: "lookup"},
		func(context.Context, struct{}) (map[string]any, error) { return map[string]any{"ok": true}, nil })
	require.NoError(t, err)
	reg, err := tool.NewRegistry([]tool.Capability{lookup})
	require.NoError(t, err)

	e := newEngine(t, engine.Config{TurnTimeout: 100 * time.Millisecond}, reasoner, 1, reg)

	start := time.Now()
	turn, err := e.Run(context.Background(), engine.Input{Query: "q"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, agent.TurnAborted, turn.Status)
	assert.Equal(t, agent.KindTimeout, turn.ErrorKind)
	require.Len(t, turn.Actions, 1)
	assert.True(t, turn.Actions[0].Success)
}

func TestRun_UnknownToolIsObserved(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Call("weather", map[string]any{"city": "Hanoi"}),
		testutils.Text("I cannot check the weather."),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "weather in Hanoi?"})
	require.NoError(t, err)
	require.Len(t, turn.Actions, 1)
	assert.False(t, turn.Actions[0].Success)
	assert.Equal(t, agent.KindUnknownCapability, turn.Actions[0].Error.Kind)

	obs := reasoner.Requests()[1].Messages[2].Result.Response
	assert.Equal(t, string(agent.KindUnknownCapability), obs["error_kind"])
}

func TestRun_EmptyAnswerUsesDocuments(t *testing.T) {
	reasoner := testutils.NewMockReasoner(
		testutils.Text(`{"action": "document_search", "action_input": {"query": "baggage allowance"}}`),
		testutils.Text(`{"final_answer": ""}`),
	)
	e := newEngine(t, engine.Config{}, reasoner, 1, docRegistry(t))

	turn, err := e.Run(context.Background(), engine.Input{Query: "What is the baggage allowance?"})
	require.NoError(t, err)
	assert.Equal(t, agent.TurnFinished, turn.Status)
	assert.True(t, strings.HasPrefix(turn.Answer, "Based on the documents:"))
	assert.Contains(t, turn.Answer, "[Page 4 - Baggage] Checked baggage allowance is 23kg.")

	// A text decision is folded back as an observation message.
	msgs := reasoner.Requests()[1].Messages
	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[2].Text, "Observation: "))
}

func history() []agent.Turn {
	return []agent.Turn{
		{UserText: "question number 1", Answer: "answer 1", Status: agent.TurnFinished},
		{UserText: "question number 2", Answer: "answer 2", Status: agent.TurnAborted, ErrorKind: agent.KindTimeout},
		{UserText: "question number 3", Answer: "answer 3", Status: agent.TurnFinished},
	}
}

func TestRun_SeedsHistory(t *testing.T) {
	reasoner := testutils.NewMockReasoner(testutils.Text("ok"))
	e := newEngine(t, engine.Config{}, reasoner, 1, travelRegistry(t))

	_, err := e.Run(context.Background(), engine.Input{Query: "next", History: history()})
	require.NoError(t, err)

	msgs := reasoner.Requests()[0].Messages
	require.Len(t, msgs, 7)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleModel, msgs[1].Role)
	assert.Equal(t, "[aborted: Timeout] answer 2", msgs[3].Text)
	assert.Equal(t, "next", msgs[6].Text)
}

func TestRun_TokenBudgetDropsOldestTurns(t *testing.T) {
	reasoner := testutils.NewMockReasoner(testutils.Text("ok"))
	e := newEngine(t, engine.Config{Instruction: "sys", MaxContextTokens: 10}, reasoner, 1, travelRegistry(t),
		engine.WithTokenCounter(utils.NewEstimator()))

	_, err := e.Run(context.Background(), engine.Input{Query: "q", History: history()})
	require.NoError(t, err)

	msgs := reasoner.Requests()[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "question number 3", msgs[0].Text)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	pool := testutils.NewTestPool(t, 1)
	reg := docRegistry(t)
	_, err := engine.New(engine.Config{}, nil, pool, reg)
	assert.Error(t, err)
	_, err = engine.New(engine.Config{}, testutils.NewMockReasoner(), nil, reg)
	assert.Error(t, err)
	_, err = engine.New(engine.Config{}, testutils.NewMockReasoner(), pool, nil)
	assert.Error(t, err)
}
