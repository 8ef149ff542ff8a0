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

package observability

// Span names.
const (
	SpanHTTPRequest = "http.request"
	SpanQuery       = "querydesk.query"
	SpanTurn        = "querydesk.turn"
	SpanReasoning   = "querydesk.reasoning"
	SpanDispatch    = "querydesk.dispatch"
)

// Attribute keys.
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrConversationID = "querydesk.conversation_id"
	AttrUserID         = "querydesk.user_id"
	AttrTurnID         = "querydesk.turn_id"
	AttrIteration      = "querydesk.iteration"
	AttrTool           = "querydesk.tool"
	AttrCredential     = "querydesk.credential"
	AttrOutcome        = "querydesk.outcome"
	AttrStatus         = "querydesk.status"
	AttrErrorKind      = "querydesk.error_kind"
	AttrModel          = "gen_ai.request.model"
	AttrInputTokens    = "gen_ai.usage.input_tokens"
	AttrOutputTokens   = "gen_ai.usage.output_tokens"
)

// Defaults.
const (
	DefaultServiceName  = "querydesk"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"

	DefaultRecordedSpans = 1000
)
