// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bastionbot/bastion/internal/api"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/logging"
	"github.com/bastionbot/bastion/pkg/errutil"
)

const commandTimeout = 10 * time.Second

// bot runs prefixed chat messages through the command dispatcher.
type bot struct {
	dispatcher *command.Dispatcher
	members    api.MemberSource
	prefix     string
}

// onMessageCreate is the discordgo MessageCreate handler.
func (b *bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := b.handle(ctx, m.GuildID, m.ChannelID, m.Author, m.Content)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx)); err != nil {
		slog.WarnContext(ctx, "send command reply", "channel_id", m.ChannelID, "error", err)
	}
}

// handle dispatches content and returns the reply text, "" when the message
// is not a command.
func (b *bot) handle(ctx context.Context, guildID, channelID string, author *discordgo.User, content string) string {
	if !strings.HasPrefix(content, b.prefix) {
		return ""
	}

	var actor guild.Actor = guild.User{ID: author.ID, Username: author.Username, Bot: author.Bot}
	if guildID != "" {
		ctx = logging.WithGuild(ctx, guildID, author.ID)
		member, err := b.members.Member(ctx, guildID, author.ID)
		if err != nil {
			errutil.LogError(ctx, nil, "resolve command author", err)
			return command.UserMessage(err)
		}
		actor = member
	}

	var out bytes.Buffer
	exec := &command.Execution{Actor: actor, ChannelID: channelID, Output: &out}
	if err := b.dispatcher.Dispatch(ctx, content, exec); err != nil {
		return command.UserMessage(err)
	}
	return out.String()
}
