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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
)

const createTurnsTableSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    conversation_key VARCHAR(255) NOT NULL,
    seq BIGINT NOT NULL,
    turn_id VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL,
    turn_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (conversation_key, seq)
)`

// SQLStore persists turns in a conversation_turns table. The seq column
// orders turns within a conversation.
type SQLStore struct {
	db      *sql.DB
	dialect string
	opts    options
	locks   keyLocks
}

// NewSQLStore creates the table if needed. db is not closed by Close.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string, opts ...Option) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case config.DialectSQLite, config.DialectPostgres, config.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, opts: applyOptions(opts)}
	if _, err := db.ExecContext(ctx, createTurnsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	return s, nil
}

// bind rewrites ? placeholders for the dialect.
func (s *SQLStore) bind(query string) string {
	if s.dialect != config.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(config.Placeholder(s.dialect, n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, key string, turn agent.Turn) (err error) {
	turn, err = prepare(key, turn)
	if err != nil {
		return err
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	unlock := s.locks.lock(key)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last int64
	err = tx.QueryRowContext(ctx,
		s.bind(`SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE conversation_key = ?`),
		key).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	seq := last + 1
	_, err = tx.ExecContext(ctx,
		s.bind(`INSERT INTO conversation_turns (conversation_key, seq, turn_id, status, turn_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		key, seq, turn.ID, string(turn.Status), string(data), turn.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if s.opts.evicts() {
		_, err = tx.ExecContext(ctx,
			s.bind(`DELETE FROM conversation_turns WHERE conversation_key = ? AND seq <= ?`),
			key, seq-int64(s.opts.retention))
		if err != nil {
			return fmt.Errorf("failed to evict old turns: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) ContextFor(ctx context.Context, key string, n int) ([]agent.Turn, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if n <= 0 {
		return []agent.Turn{}, nil
	}

	query := `SELECT turn_json FROM conversation_turns WHERE conversation_key = ?`
	args := []any{key}
	if !s.opts.includeAborted {
		query += ` AND status <> ?`
		args = append(args, string(agent.TurnAborted))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, n)

	turns, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLStore) History(ctx context.Context, key string) ([]agent.Turn, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return s.query(ctx, `SELECT turn_json FROM conversation_turns WHERE conversation_key = ? ORDER BY seq ASC`, key)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]agent.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []agent.Turn{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var t agent.Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	return turns, nil
}

func (s *SQLStore) Conversations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT conversation_key) FROM conversation_turns`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// Close is a no-op; the handle belongs to the caller.
func (s *SQLStore) Close() error { return nil }
