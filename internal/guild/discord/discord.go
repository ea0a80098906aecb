// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package discord converts discordgo objects into guild values and looks up
// members through the gateway state cache with a REST fallback.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/oops"

	"github.com/bastionbot/bastion/internal/guild"
)

// CodeLookupFailed is returned when neither the state cache nor the REST API
// could produce a member.
const CodeLookupFailed = "DISCORD_LOOKUP_FAILED"

// Guild converts a discordgo guild.
func Guild(g *discordgo.Guild) guild.Guild {
	return guild.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
}

// Role converts a discordgo role.
func Role(r *discordgo.Role) guild.Role {
	return guild.Role{
		ID:          r.ID,
		Name:        r.Name,
		Position:    r.Position,
		Permissions: guild.Permissions(r.Permissions),
	}
}

// Member converts a discordgo member of g. Role ids the guild does not know
// are skipped. The @everyone role, whose id equals the guild id, is always
// included when the guild carries it.
func Member(g *discordgo.Guild, m *discordgo.Member) *guild.Member {
	gg := Guild(g)
	ids := make(map[string]bool, len(m.Roles)+1)
	for _, id := range m.Roles {
		ids[id] = true
	}
	ids[g.ID] = true

	roles := make([]guild.Role, 0, len(ids))
	for _, r := range g.Roles {
		if ids[r.ID] {
			roles = append(roles, Role(r))
		}
	}
	slices.SortStableFunc(roles, func(a, b guild.Role) int { return b.Position - a.Position })

	var user guild.User
	if m.User != nil {
		user = guild.User{ID: m.User.ID, Username: m.User.Username, Bot: m.User.Bot}
	}
	return &guild.Member{
		Guild:       gg,
		User:        user,
		Nick:        m.Nick,
		Roles:       roles,
		Permissions: guild.ComputePermissions(gg, user.ID, roles),
	}
}

// REST is the subset of *discordgo.Session used when the state cache misses.
type REST interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Source looks up guild members in a discordgo state cache.
type Source struct {
	state *discordgo.State
	rest  REST
}

// NewSource creates a source reading from the session's state and falling
// back to its REST client.
func NewSource(s *discordgo.Session) *Source {
	return &Source{state: s.State, rest: s}
}

// NewStateSource creates a source that only reads state. rest may be nil.
func NewStateSource(state *discordgo.State, rest REST) *Source {
	return &Source{state: state, rest: rest}
}

// Member returns the member userID of guildID.
func (s *Source) Member(ctx context.Context, guildID, userID string) (*guild.Member, error) {
	g, err := s.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	m, err := s.state.Member(guildID, userID)
	if err == nil {
		return Member(g, m), nil
	}
	if !errors.Is(err, discordgo.ErrStateNotFound) || s.rest == nil {
		return nil, s.lookupError(err, guildID, userID)
	}

	m, err = s.rest.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, s.lookupError(err, guildID, userID)
	}
	m.GuildID = guildID
	if addErr := s.state.MemberAdd(m); addErr != nil {
		slog.DebugContext(ctx, "cache member", "guild_id", guildID, "user_id", userID, "error", addErr)
	}
	return Member(g, m), nil
}

func (s *Source) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	g, err := s.state.Guild(guildID)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, discordgo.ErrStateNotFound) || s.rest == nil {
		return nil, s.lookupError(err, guildID, "")
	}

	g, err = s.rest.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, s.lookupError(err, guildID, "")
	}
	if len(g.Roles) == 0 {
		roles, rerr := s.rest.GuildRoles(guildID, discordgo.WithContext(ctx))
		if rerr != nil {
			return nil, s.lookupError(rerr, guildID, "")
		}
		g.Roles = roles
	}
	return g, nil
}

// lookupError maps state misses and unknown-member REST replies to
// guild.ErrMemberNotFound.
func (s *Source) lookupError(err error, guildID, userID string) error {
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return guild.ErrMemberNotFound(guildID, userID)
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownUser:
			return guild.ErrMemberNotFound(guildID, userID)
		}
	}
	return oops.Code(CodeLookupFailed).
		With("guild_id", guildID).
		With("user_id", userID).
		Wrapf(err, "look up member")
}
