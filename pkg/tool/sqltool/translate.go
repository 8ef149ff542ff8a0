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

package sqltool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/querydesk/pkg/credential"
	"github.com/kadirpekel/querydesk/pkg/model"
)

// Translator turns a natural-language question into a SQL statement.
type Translator interface {
	Translate(ctx context.Context, question string, schema *DatabaseSchema) (string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, question string, schema *DatabaseSchema) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, question string, schema *DatabaseSchema) (string, error) {
	return f(ctx, question, schema)
}

const generationInstruction = `Given a database schema and a user question, generate one valid SQL query.

Rules:
1. Output only the SQL query, no explanations.
2. Only SELECT statements.
3. Use the %s dialect.
4. Only use tables and columns that exist in the schema.
5. Use JOINs when combining tables.
6. Add LIMIT when results may be large (more than 100 rows).`

// ReasonerTranslator generates SQL through the reasoning service, taking
// credentials from the shared pool.
type ReasonerTranslator struct {
	Reasoner    model.Reasoner
	Pool        *credential.Pool
	Model       string
	MaxAttempts int
}

func (t *ReasonerTranslator) Translate(ctx context.Context, question string, schema *DatabaseSchema) (string, error) {
	zero := 0.0
	req := &model.Request{
		Model:             t.Model,
		SystemInstruction: fmt.Sprintf(generationInstruction, schema.Dialect),
		Messages: []model.Message{
			model.UserText(schema.Prompt() + "\nUser Question: " + question + "\n\nSQL Query:"),
		},
		Temperature: &zero,
	}

	var out string
	err := t.Pool.Do(ctx, t.MaxAttempts, model.Classify, func(ctx context.Context, cred *credential.Credential) error {
		resp, err := t.Reasoner.Reason(ctx, cred.Secret(), req)
		if err != nil {
			return err
		}
		text := CleanSQL(resp.TrimmedText())
		if text == "" {
			return model.ErrEmptyResponse
		}
		out = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	return out, nil
}
