// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package api serves read-only permission inspection over HTTP and provides
// middleware that gates downstream handlers on resolved permissions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/observability"
	"github.com/bastionbot/bastion/pkg/errutil"
)


// CallerHeader carries the id of the user on whose behalf a request is made.
const CallerHeader = "X-Bastion-User-ID"

// Defaults.
const (
	DefaultRequestLimit  = 60
	DefaultRequestWindow = time.Minute
)

// MemberSource looks up guild members. Unknown members are reported with
// guild.ErrMemberNotFound, which the API serves as 404.
type MemberSource interface {
	Member(ctx context.Context, guildID, userID string) (*guild.Member, error)
}

// MemberSourceFunc adapts a function to MemberSource.
type MemberSourceFunc func(ctx context.Context, guildID, userID string) (*guild.Member, error)

// Member implements MemberSource.
func (f MemberSourceFunc) Member(ctx context.Context, guildID, userID string) (*guild.Member, error) {
	return f(ctx, guildID, userID)
}

// Authorizer resolves permissions. *access.Engine implements it.
type Authorizer interface {
	GetPermissions(ctx context.Context, actor guild.Actor, requested ...string) (types.ResolvedSet, error)
	HasPermissionNames(ctx context.Context, actor guild.Actor, names ...string) (bool, error)
}

// PermissionsResponse is the JSON form of a resolved set.
type PermissionsResponse struct {
	GuildID      string   `json:"guild_id"`
	MemberID     string   `json:"member_id"`
	NativeBits   string   `json:"native_bits"`
	Native       []string `json:"native"`
	Capabilities []string `json:"capabilities"`
	Profiles     []string `json:"profiles,omitempty"`
	Level        *int     `json:"level,omitempty"`
}

// CheckRequest asks whether a member holds every named permission.
type CheckRequest struct {
	Permissions []string `json:"permissions"`
}

// CheckResponse answers a CheckRequest.
type CheckResponse struct {
	Allowed bool `json:"allowed"`
}

type options struct {
	inspect []string
	limit   int
	window  time.Duration
	metrics *observability.Metrics
}

// Option configures the router.
type Option func(*options)

// WithInspectPermissions sets what a caller needs to inspect other members.
// Members may always inspect themselves.
func WithInspectPermissions(names ...string) Option {
	return func(o *options) { o.inspect = names }
}

// WithRateLimit limits each caller to limit requests per window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(o *options) { o.limit, o.window = limit, window }
}

// WithMetrics records a request counter per route.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewRouter builds the API router:
//
//	GET  /guilds/{guildID}/members/{memberID}/permissions
//	POST /guilds/{guildID}/members/{memberID}/permissions/check
//
// The caller is taken from CallerHeader unverified, so the API must only be
// reachable through a proxy that authenticates the caller and sets it.
func NewRouter(auth Authorizer, members MemberSource, opts ...Option) chi.Router {
	o := options{
		inspect: []string{"ManageGuild"},
		limit:   DefaultRequestLimit,
		window:  DefaultRequestWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &handler{auth: auth, members: members}
	gate := NewGate(auth, members)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if o.metrics != nil {
		r.Use(recordRequests(o.metrics))
	}
	r.Use(httprate.Limit(o.limit, o.window, httprate.WithKeyFuncs(callerKey)))

	r.Route("/guilds/{guildID}/members/{memberID}/permissions", func(r chi.Router) {
		r.Use(gate.RequireSelfOr(o.inspect...))
		r.Get("/", h.getPermissions)
		r.Post("/check", h.check)
	})
	return r
}

// callerKey rate limits by caller id, falling back to the client address.
func callerKey(r *http.Request) (string, error) {
	if id := r.Header.Get(CallerHeader); id != "" {
		return "user:" + id, nil
	}
	return httprate.KeyByIP(r)
}

func recordRequests(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			route = strings.TrimSuffix(strings.TrimSuffix(route, "/*"), "/")
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordAPIRequest(route, status)
		})
	}
}

type handler struct {
	auth    Authorizer
	members MemberSource
}

func (h *handler) target(w http.ResponseWriter, r *http.Request) (*guild.Member, bool) {
	guildID, memberID := chi.URLParam(r, "guildID"), chi.URLParam(r, "memberID")
	m, err := h.members.Member(r.Context(), guildID, memberID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return m, true
}

func (h *handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	m, ok := h.target(w, r)
	if !ok {
		return
	}
	set, err := h.auth.GetPermissions(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PermissionsResponse{
		GuildID:      m.GuildID(),
		MemberID:     m.UserID(),
		NativeBits:   strconv.FormatUint(uint64(set.Native), 10),
		Native:       nonNil(set.Native.Names()),
		Capabilities: nonNil(set.Capabilities.Names()),
		Profiles:     set.Profiles,
		Level:        set.Level,
	})
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request payload"})
		return
	}
	if len(req.Permissions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "permissions is required"})
		return
	}

	m, ok := h.target(w, r)
	if !ok {
		return
	}
	allowed, err := h.auth.HasPermissionNames(r.Context(), m, req.Permissions...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckResponse{Allowed: allowed})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error codes to statuses. Unclassified errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	switch code {
	case guild.CodeMemberNotFound, types.CodeNotGuildMember:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "member not found", Code: code})
	case types.CodeStrategyMisconfigured:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "permission strategy unavailable", Code: code})
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.ErrorContext(r.Context(), "permission api request failed",
			"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: code})
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
