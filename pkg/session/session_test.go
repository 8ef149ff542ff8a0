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

package session_test

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/agent"
	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/session"
	"github.com/kadirpekel/querydesk/pkg/testutils"
)

type factory func(t *testing.T, opts ...session.Option) session.Store

func backends() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T, opts ...session.Option) session.Store {
			return session.NewMemoryStore(opts...)
		},
		"sql": func(t *testing.T, opts ...session.Option) session.Store {
			cfg := testutils.TestConfig(t)
			dbs := config.NewDBPool()
			t.Cleanup(func() { _ = dbs.Close() })
			dbCfg, err := cfg.Database(config.DefaultDatabase)
			require.NoError(t, err)
			db, err := dbs.Get(context.Background(), dbCfg)
			require.NoError(t, err)
			s, err := session.NewSQLStore(context.Background(), db, dbCfg.Dialect(), opts...)
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T, opts ...session.Option) session.Store {
			mr := miniredis.RunT(t)
			s, err := session.DialRedis(context.Background(), "redis://"+mr.Addr(), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func turn(id string, status agent.TurnStatus) agent.Turn {
	return agent.Turn{ID: id, Role: agent.RoleUser, UserText: "q-" + id, Answer: "a-" + id, Status: status}
}

func ids(turns []agent.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.ID
	}
	return out
}

func TestStores(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("append and window", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				key := agent.ConversationKey("alice", "c1")

				turns, err := s.ContextFor(ctx, key, 5)
				require.NoError(t, err)
				assert.Empty(t, turns)

				for i := 1; i <= 7; i++ {
					require.NoError(t, s.Append(ctx, key, turn(fmt.Sprintf("t%d", i), agent.TurnFinished)))
				}

				turns, err = s.ContextFor(ctx, key, 5)
				require.NoError(t, err)
				assert.Equal(t, []string{"t3", "t4", "t5", "t6", "t7"}, ids(turns))
				assert.False(t, turns[0].CreatedAt.IsZero())
				assert.Equal(t, "a-t3", turns[0].Answer)

				turns, err = s.ContextFor(ctx, key, 0)
				require.NoError(t, err)
				assert.Empty(t, turns)

				history, err := s.History(ctx, key)
				require.NoError(t, err)
				assert.Len(t, history, 7)
			})

			t.Run("keys are isolated", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.Append(ctx, agent.ConversationKey("alice", "c"), turn("a1", agent.TurnFinished)))
				require.NoError(t, s.Append(ctx, agent.ConversationKey("bob", "c"), turn("b1", agent.TurnFinished)))

				turns, err := s.ContextFor(ctx, agent.ConversationKey("bob", "c"), 5)
				require.NoError(t, err)
				assert.Equal(t, []string{"b1"}, ids(turns))

				n, err := s.Conversations(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})

			t.Run("default keeps every turn", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				want := make([]string, 25)
				for i := range want {
					want[i] = fmt.Sprintf("t%d", i+1)
					require.NoError(t, s.Append(ctx, "k", turn(want[i], agent.TurnFinished)))
				}

				turns, err := s.ContextFor(ctx, "k", len(want))
				require.NoError(t, err)
				assert.Equal(t, want, ids(turns))

				history, err := s.History(ctx, "k")
				require.NoError(t, err)
				assert.Len(t, history, len(want))
			})

			t.Run("zero retention keeps every turn", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t, session.WithRetention(0))
				for i := 1; i <= 30; i++ {
					require.NoError(t, s.Append(ctx, "k", turn(fmt.Sprintf("t%d", i), agent.TurnFinished)))
				}
				history, err := s.History(ctx, "k")
				require.NoError(t, err)
				assert.Len(t, history, 30)
				assert.Equal(t, "t1", history[0].ID)
			})

			t.Run("retention evicts oldest", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t, session.WithRetention(3))
				for i := 1; i <= 5; i++ {
					require.NoError(t, s.Append(ctx, "k", turn(fmt.Sprintf("t%d", i), agent.TurnFinished)))
				}
				history, err := s.History(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []string{"t3", "t4", "t5"}, ids(history))
			})

			t.Run("aborted turns", func(t *testing.T) {
				ctx := context.Background()
				included := newStore(t)
				excluded := newStore(t, session.WithIncludeAborted(false))
				for _, s := range []session.Store{included, excluded} {
					require.NoError(t, s.Append(ctx, "k", turn("t1", agent.TurnFinished)))
					require.NoError(t, s.Append(ctx, "k", turn("t2", agent.TurnAborted)))
					require.NoError(t, s.Append(ctx, "k", turn("t3", agent.TurnTruncated)))
				}

				turns, err := included.ContextFor(ctx, "k", 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"t2", "t3"}, ids(turns))
				assert.True(t, turns[0].Aborted())

				turns, err = excluded.ContextFor(ctx, "k", 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"t1", "t3"}, ids(turns))

				history, err := excluded.History(ctx, "k")
				require.NoError(t, err)
				assert.Len(t, history, 3)
			})

			t.Run("concurrent appends", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t, session.WithRetention(100))

				var wg sync.WaitGroup
				for w := 0; w < 4; w++ {
					wg.Add(1)
					go func(w int) {
						defer wg.Done()
						for i := 0; i < 5; i++ {
							assert.NoError(t, s.Append(ctx, "shared", turn(fmt.Sprintf("w%d-%d", w, i), agent.TurnFinished)))
						}
					}(w)
				}
				wg.Wait()

				history, err := s.History(ctx, "shared")
				require.NoError(t, err)
				assert.Len(t, history, 20)
			})

			t.Run("empty key", func(t *testing.T) {
				s := newStore(t)
				assert.ErrorIs(t, s.Append(context.Background(), "", turn("x", agent.TurnFinished)), session.ErrEmptyKey)
				_, err := s.ContextFor(context.Background(), "", 3)
				assert.ErrorIs(t, err, session.ErrEmptyKey)
			})
		})
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := session.NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Append(context.Background(), "k", turn("t1", agent.TurnFinished)), session.ErrClosed)
}

func TestRedisStore_TTLAndTrim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := session.NewRedisStore(client,
		session.WithRetention(2),
		session.WithTTL(time.Hour),
		session.WithKeyPrefix("test:"),
	)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(ctx, "u:c", turn(fmt.Sprintf("t%d", i), agent.TurnFinished)))
	}

	items, err := mr.List("test:u:c")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, time.Hour, mr.TTL("test:u:c"))

	mr.FastForward(2 * time.Hour)
	turns, err := s.ContextFor(ctx, "u:c", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSQLStore_PostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversation_turns").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := session.NewSQLStore(context.Background(), db, config.DialectPostgres, session.WithRetention(20))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE conversation_key = $1`)).
		WithArgs("u:c").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO conversation_turns (conversation_key, seq, turn_id, status, turn_json, created_at) VALUES ($1, $2, $3, $4, $5, $6)`)).
		WithArgs("u:c", int64(4), "t4", "finished", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM conversation_turns WHERE conversation_key = $1 AND seq <= $2`)).
		WithArgs("u:c", int64(-16)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.Append(context.Background(), "u:c", turn("t4", agent.TurnFinished)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DefaultDoesNotEvict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := session.NewSQLStore(context.Background(), db, config.DialectPostgres)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(40))
	mock.ExpectExec("INSERT INTO conversation_turns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Append(context.Background(), "u:c", turn("t41", agent.TurnFinished)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := session.NewSQLStore(context.Background(), db, config.DialectMySQL)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec("INSERT INTO conversation_turns").WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err = s.Append(context.Background(), "k", turn("t1", agent.TurnFinished))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStore_UnsupportedDialect(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = session.NewSQLStore(context.Background(), db, "oracle")
	assert.Error(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	dbs := config.NewDBPool()
	defer dbs.Close()

	cfg := testutils.TestConfig(t)
	s, err := session.New(ctx, cfg, dbs)
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, s)

	cfg.Conversations.Backend = config.BackendSQL
	s, err = session.New(ctx, cfg, dbs)
	require.NoError(t, err)
	assert.IsType(t, &session.SQLStore{}, s)

	mr := miniredis.RunT(t)
	cfg.Conversations.Backend = config.BackendRedis
	cfg.Conversations.RedisURL = "redis://" + mr.Addr()
	s, err = session.New(ctx, cfg, dbs)
	require.NoError(t, err)
	assert.IsType(t, &session.RedisStore{}, s)
	assert.NoError(t, s.Close())

	cfg.Conversations.Backend = "etcd"
	_, err = session.New(ctx, cfg, dbs)
	assert.Error(t, err)
}
