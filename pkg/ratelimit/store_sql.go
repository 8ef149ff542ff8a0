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

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kadirpekel/querydesk/pkg/config"
)

const rateLimitTable = "querydesk_rate_limits"

// SQLStore keeps counters in a SQL table. The handle is shared; Close does
// not close it.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLStore creates the counter table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}

	keyType := "TEXT"
	if dialect == config.DialectMySQL {
		keyType = "VARCHAR(255)"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	counter_key %s NOT NULL PRIMARY KEY,
	amount BIGINT NOT NULL,
	window_end BIGINT NOT NULL
)`, rateLimitTable, keyType)

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create %s: %w", rateLimitTable, err)
	}
	return s, nil
}

func (s *SQLStore) ph(n int) string {
	return config.Placeholder(s.dialect, n)
}

func (s *SQLStore) Increment(ctx context.Context, key string, amount int64, windowEnd time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET amount = amount + %s WHERE counter_key = %s", rateLimitTable, s.ph(1), s.ph(2)),
		amount, key)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (counter_key, amount, window_end) VALUES (%s, %s, %s)", rateLimitTable, s.ph(1), s.ph(2), s.ph(3)),
			key, amount, windowEnd.Unix()); err != nil {
			return 0, err
		}
	}

	var total int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT amount FROM %s WHERE counter_key = %s", rateLimitTable, s.ph(1)),
		key).Scan(&total); err != nil {
		return 0, err
	}
	return total, tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, key string) (int64, error) {
	var amount, end int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT amount, window_end FROM %s WHERE counter_key = %s", rateLimitTable, s.ph(1)),
		key).Scan(&amount, &end)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if end <= s.now().Unix() {
		return 0, nil
	}
	return amount, nil
}

func (s *SQLStore) Delete(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE SUBSTR(counter_key, 1, %d) = %s", rateLimitTable, len(prefix), s.ph(1)),
		prefix)
	return err
}

func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE window_end <= %s", rateLimitTable, s.ph(1)),
		before.Unix())
	return err
}

func (s *SQLStore) Close() error { return nil }
