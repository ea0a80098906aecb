// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/pkg/errutil"
)

type callerKeyType struct{}

// Caller returns the member resolved by a Gate for this request.
func Caller(ctx context.Context) (*guild.Member, bool) {
	m, ok := ctx.Value(callerKeyType{}).(*guild.Member)
	return m, ok
}

// Gate authorizes requests on behalf of the user named by CallerHeader in
// the guild named by the {guildID} route parameter.
type Gate struct {
	auth    Authorizer
	members MemberSource
}

// NewGate creates a gate.
func NewGate(auth Authorizer, members MemberSource) *Gate {
	return &Gate{auth: auth, members: members}
}

// RequirePermissions admits callers holding every named native permission
// or capability. A missing caller is 401, a denial 403.
func (g *Gate) RequirePermissions(names ...string) func(http.Handler) http.Handler {
	return g.require(false, names)
}

// RequireSelfOr is RequirePermissions, except that a caller whose id equals
// the {memberID} route parameter is always admitted.
func (g *Gate) RequireSelfOr(names ...string) func(http.Handler) http.Handler {
	return g.require(true, names)
}

func (g *Gate) require(allowSelf bool, names []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := r.Header.Get(CallerHeader)
			if callerID == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "caller required"})
				return
			}

			caller, err := g.members.Member(r.Context(), chi.URLParam(r, "guildID"), callerID)
			if err != nil {
				if errutil.HasCode(err, guild.CodeMemberNotFound) {
					writeJSON(w, http.StatusForbidden, errorBody{Error: "caller is not a guild member"})
					return
				}
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), callerKeyType{}, caller)

			if allowSelf && callerID == chi.URLParam(r, "memberID") {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ok, err := g.auth.HasPermissionNames(ctx, caller, names...)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !ok {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
