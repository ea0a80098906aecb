// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/accesstest"
	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/api"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/observability"
)

const permissionsPath = "/guilds/" + accesstest.GuildID + "/members/%s/permissions"

func path(memberID string) string {
	return strings.Replace(permissionsPath, "%s", memberID, 1)
}

func members(s accesstest.Scenario) api.MemberSource {
	byID := map[string]*guild.Member{
		accesstest.OwnerID:     s.Owner(),
		accesstest.UserID:      s.Mod(),
		accesstest.OtherUserID: s.Member(accesstest.OtherUserID, s.Everyone),
	}
	return api.MemberSourceFunc(func(_ context.Context, guildID, userID string) (*guild.Member, error) {
		if m, ok := byID[userID]; ok && guildID == accesstest.GuildID {
			return m, nil
		}
		return nil, guild.ErrMemberNotFound(guildID, userID)
	})
}

func newEngine() *access.Engine {
	reg := capability.NewRegistry()
	reg.MustRegister(
		capability.NewSystemAdmin(nil),
		capability.New("mod.warn", func(a guild.Actor) bool {
			m, ok := a.AsMember()
			return ok && m.HasRole(accesstest.ModRoleID)
		}),
	)
	return access.NewEngine(reg)
}

func do(t *testing.T, h http.Handler, method, target, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(api.CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetPermissions(t *testing.T) {
	s := accesstest.NewScenario()
	router := api.NewRouter(newEngine(), members(s))

	rec := do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got api.PermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, accesstest.GuildID, got.GuildID)
	assert.Equal(t, accesstest.UserID, got.MemberID)
	assert.Equal(t, []string{"BanMembers", "KickMembers", "SendMessages"}, got.Native)
	assert.Equal(t, []string{"mod.warn"}, got.Capabilities)
	assert.Equal(t, "2054", got.NativeBits)
	assert.Nil(t, got.Level)
}

func TestInspectionGate(t *testing.T) {
	s := accesstest.NewScenario()
	router := api.NewRouter(newEngine(), members(s))

	tests := []struct {
		name   string
		caller string
		target string
		want   int
	}{
		{"self", accesstest.OtherUserID, accesstest.OtherUserID, http.StatusOK},
		{"owner inspects others", accesstest.OwnerID, accesstest.UserID, http.StatusOK},
		{"moderator lacks ManageGuild", accesstest.UserID, accesstest.OtherUserID, http.StatusForbidden},
		{"no caller", "", accesstest.UserID, http.StatusUnauthorized},
		{"caller outside guild", "999", accesstest.UserID, http.StatusForbidden},
		{"unknown target", accesstest.OwnerID, "404", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, path(tt.target), tt.caller, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCheck(t *testing.T) {
	s := accesstest.NewScenario()
	router := api.NewRouter(newEngine(), members(s))

	tests := []struct {
		name    string
		body    string
		want    int
		allowed bool
	}{
		{"native and capability", `{"permissions":["BanMembers","mod.warn"]}`, http.StatusOK, true},
		{"missing native", `{"permissions":["ManageGuild"]}`, http.StatusOK, false},
		{"unknown capability denies", `{"permissions":["no.such.thing"]}`, http.StatusOK, false},
		{"empty list", `{"permissions":[]}`, http.StatusBadRequest, false},
		{"unknown field", `{"perms":["BanMembers"]}`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, path(accesstest.UserID)+"/check", accesstest.UserID, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusOK {
				return
			}
			var got api.CheckResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.allowed, got.Allowed)
		})
	}
}

func TestMisconfiguredStrategyIsUnavailable(t *testing.T) {
	s := accesstest.NewScenario()
	engine := access.NewEngine(capability.NewRegistry(),
		access.WithSettings(access.StaticSettings{accesstest.GuildID: {Mode: types.ModeLevel}}))
	router := api.NewRouter(engine, members(s))

	rec := do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), types.CodeStrategyMisconfigured)
}

func TestMemberSourceFailureIsInternal(t *testing.T) {
	broken := api.MemberSourceFunc(func(context.Context, string, string) (*guild.Member, error) {
		return nil, errors.New("gateway down")
	})
	router := api.NewRouter(newEngine(), broken)

	rec := do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gateway down")
}

func TestRateLimit(t *testing.T) {
	s := accesstest.NewScenario()
	router := api.NewRouter(newEngine(), members(s), api.WithRateLimit(2, time.Minute))

	for range 2 {
		rec := do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, router, http.MethodGet, path(accesstest.OwnerID), accesstest.OwnerID, "")
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per caller")
}

func TestRequestMetrics(t *testing.T) {
	s := accesstest.NewScenario()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := api.NewRouter(newEngine(), members(s), api.WithMetrics(metrics))

	do(t, router, http.MethodGet, path(accesstest.UserID), accesstest.UserID, "")
	do(t, router, http.MethodGet, path(accesstest.OtherUserID), accesstest.UserID, "")

	route := "/guilds/{guildID}/members/{memberID}/permissions"
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.APIRequests.WithLabelValues(route, "2xx")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.APIRequests.WithLabelValues(route, "4xx")), 0)
}

func TestRequirePermissionsMiddleware(t *testing.T) {
	s := accesstest.NewScenario()
	gate := api.NewGate(newEngine(), members(s))

	var seen string
	r := chi.NewRouter()
	r.With(gate.RequirePermissions("BanMembers", "mod.warn")).
		Post("/guilds/{guildID}/ban", func(w http.ResponseWriter, r *http.Request) {
			if m, ok := api.Caller(r.Context()); ok {
				seen = m.UserID()
			}
			w.WriteHeader(http.StatusNoContent)
		})

	target := "/guilds/" + accesstest.GuildID + "/ban"
	rec := do(t, r, http.MethodPost, target, accesstest.UserID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, accesstest.UserID, seen)

	rec = do(t, r, http.MethodPost, target, accesstest.OtherUserID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodPost, target, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
