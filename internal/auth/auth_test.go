package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc", "abc", false},
		{"trimmed", "Bearer   abc  ", "abc", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"empty token", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{{Token: "reader", Scopes: []string{"stats:ro"}}, {Token: "writer", Scopes: []string{" stats:rw ", ""}}}

	p, ok := Authenticate("admin", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeDedupRW))

	p, ok = Authenticate("reader", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeStatsRO))
	assert.False(t, HasAnyScope(p, ScopeStatsRW))

	p, ok = Authenticate("writer", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeStatsRO), "rw implies ro")

	_, ok = Authenticate("nope", "admin", tokens)
	assert.False(t, ok)

	_, ok = Authenticate("", "", nil)
	assert.False(t, ok, "empty tokens never match")
}

func TestGuardRequire(t *testing.T) {
	g := Guard{AdminToken: "admin", Tokens: []TokenConfig{{Token: "reader", Scopes: []string{ScopeStatsRO}}}}
	assert.True(t, g.Enabled())
	assert.False(t, Guard{}.Enabled())

	var seen Principal
	h := g.Require(ScopeStatsRW)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer reader", http.StatusForbidden},
		{"Bearer admin", http.StatusNoContent},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodPost, "/admin/stats/reset", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, c.status, rec.Code, c.header)
	}
	assert.Equal(t, "admin", seen.Token)
}
