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

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/querydesk/pkg/config"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "querydesk"
)

type fixture struct {
	validator *JWTValidator
	key       jwk.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signing, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, signing.Set(jwk.KeyIDKey, "k1"))

	public, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, public.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, public.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	v, err := NewJWTValidator(JWTValidatorConfig{JWKSURL: srv.URL, Issuer: testIssuer, Audience: testAudience})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return &fixture{validator: v, key: signing}
}

func (f *fixture) token(t *testing.T, audience, subject string, exp time.Time, extra map[string]any) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, testIssuer))
	require.NoError(t, tok.Set(jwt.AudienceKey, audience))
	require.NoError(t, tok.Set(jwt.IssuedAtKey, time.Now().Add(-time.Minute)))
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	if subject != "" {
		require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	}
	for k, v := range extra {
		require.NoError(t, tok.Set(k, v))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.key))
	require.NoError(t, err)
	return string(signed)
}

func TestValidateToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hour := time.Now().Add(time.Hour)

	claims, err := f.validator.ValidateToken(ctx, f.token(t, testAudience, "user-42", hour,
		map[string]any{"email": "u@example.com", "role": "analyst", "team": "ops"}))
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "u@example.com", claims.Email)
	assert.True(t, claims.HasAnyRole("admin", "analyst"))
	assert.Equal(t, "ops", claims.Custom["team"])

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"wrong audience", f.token(t, "other", "user-42", hour, nil), ErrInvalidToken},
		{"expired", f.token(t, testAudience, "user-42", time.Now().Add(-time.Hour), nil), ErrInvalidToken},
		{"no subject", f.token(t, testAudience, "", hour, nil), ErrMissingSubject},
		{"garbage", "not.a.token", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.validator.ValidateToken(ctx, tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewJWTValidator_BadURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewJWTValidator(JWTValidatorConfig{JWKSURL: srv.URL, Issuer: testIssuer, Audience: testAudience})
	assert.Error(t, err)
}

func TestNewValidatorFromConfig_Disabled(t *testing.T) {
	v, err := NewValidatorFromConfig(&config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)
	valid := f.token(t, testAudience, "user-7", time.Now().Add(time.Hour), nil)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context(), "anonymous")))
	})

	tests := []struct {
		name     string
		optional bool
		path     string
		header   string
		code     int
		body     string
	}{
		{"valid token", false, "/api/agents/query", "Bearer " + valid, http.StatusOK, "user-7"},
		{"missing header", false, "/api/agents/query", "", http.StatusUnauthorized, ""},
		{"wrong scheme", false, "/api/agents/query", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token", false, "/api/agents/query", "Bearer nope", http.StatusUnauthorized, ""},
		{"excluded path", false, "/health/", "", http.StatusOK, "anonymous"},
		{"optional anonymous", true, "/api/agents/query", "", http.StatusOK, "anonymous"},
		{"optional invalid", true, "/api/agents/query", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(MiddlewareConfig{
				Validator:     f.validator,
				ExcludedPaths: []string{"/health"},
				Optional:      tt.optional,
			})(echo)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
