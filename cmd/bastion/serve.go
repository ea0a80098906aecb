// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/api"
	"github.com/bastionbot/bastion/internal/command"
	"github.com/bastionbot/bastion/internal/command/handlers"
	"github.com/bastionbot/bastion/internal/config"
	"github.com/bastionbot/bastion/internal/guild/discord"
	"github.com/bastionbot/bastion/internal/observability"
	"github.com/bastionbot/bastion/internal/store"
)

// Level sync retry at boot.
const (
	syncRetryBase = 500 * time.Millisecond
	syncRetries   = 5
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the permission API and the metrics server",
		Long: `Connect to the database and Discord, keep the level table and the
profile cache in sync with record changes, and serve the permission
inspection API and the metrics/health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("api-addr", config.DefaultAPIAddr, "permission API HTTP address (empty = disabled)")
	cmd.Flags().String("redis-addr", "", "redis address for the shared profile cache")
	cmd.Flags().String("prefix", config.DefaultPrefix, "command prefix")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	if err := requireDatabase(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("starting bastion",
		"version", version,
		"default_mode", cfg.DefaultMode,
		"guilds", len(cfg.Guilds),
	)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	records := store.NewPostgresStore(pool)
	slog.Info("connected to database")

	profiles, closeCache := newProfileCache(cfg)
	defer func() {
		if err := closeCache(); err != nil {
			slog.Debug("close profile cache", "error", err)
		}
	}()
	c := newComponents(cfg, records, profiles)

	obs := observability.NewServer(cfg.MetricsAddr)
	access.RegisterMetrics(obs.Registry())
	command.RegisterMetrics(obs.Registry())

	if cfg.UsesMode(types.ModeLevel) {
		if err := c.levels.SyncWithRetry(ctx, syncRetryBase, syncRetries); err != nil {
			slog.Warn("initial level sync failed, resolving lazily", "error", err)
		}
		if err := c.levels.Start(ctx, store.NewListener(pool)); err != nil {
			return err
		}
		defer func() {
			cancel()
			c.levels.Wait()
		}()
		obs.AddReadinessCheck("levels", func() error {
			if !c.levels.Synced() {
				return errors.New("level table not synced")
			}
			return nil
		})
	}

	profileChanges, err := store.NewListener(pool).Listen(ctx)
	if err != nil {
		return err
	}
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watchProfiles(ctx, profileChanges, c.engine, profiles)
	}()
	defer func() {
		cancel()
		<-watchDone
	}()

	members, closeDiscord, err := openDiscord(cfg, c.engine, obs.Registry())
	if err != nil {
		return err
	}
	defer closeDiscord()

	if cfg.MetricsAddr != "" {
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	var apiSrv *http.Server
	if cfg.APIAddr != "" {
		apiSrv, err = startAPI(ctx, cancel, cfg.APIAddr, api.NewRouter(c.engine, members,
			api.WithMetrics(obs.Metrics()),
		))
		if err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Bastion started")
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if apiSrv != nil {
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error stopping permission API", "error", err)
		}
	}
	if err := obs.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

var _ api.MemberSource = (*discord.Source)(nil)

// openDiscord opens a gateway session when a token is configured and
// registers the command handler on it. Without a token the member source
// only knows an empty state and every lookup is MEMBER_NOT_FOUND. The
// returned func closes the session.
func openDiscord(cfg *config.Config, engine *access.Engine, reg prometheus.Registerer) (api.MemberSource, func(), error) {
	if cfg.DiscordToken == "" {
		slog.Warn("discord_token is not set, running without a gateway session")
		return discord.NewStateSource(discordgo.NewState(), nil), func() {}, nil
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, nil, oops.Code("DISCORD_SESSION_FAILED").Wrap(err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	members := discord.NewSource(session)

	commands := command.NewRegistry()
	if err := handlers.Register(commands, engine); err != nil {
		return nil, nil, err
	}
	limiter := command.NewRateLimiter(command.RateLimiterConfig{}, reg)
	dispatcher, err := command.NewDispatcher(commands, engine,
		command.WithPrefix(cfg.Prefix),
		command.WithRateLimiter(limiter),
	)
	if err != nil {
		limiter.Close()
		return nil, nil, err
	}
	b := &bot{dispatcher: dispatcher, members: members, prefix: cfg.Prefix}
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		if e.Member == nil || e.User == nil {
			return
		}
		if err := engine.InvalidateMember(context.Background(), e.GuildID, e.User.ID); err != nil {
			slog.Warn("invalidate member", "guild_id", e.GuildID, "user_id", e.User.ID, "error", err)
		}
	})

	if err := session.Open(); err != nil {
		limiter.Close()
		return nil, nil, oops.Code("DISCORD_SESSION_FAILED").With("operation", "open gateway").Wrap(err)
	}
	slog.Info("discord session open")
	return members, func() {
		if err := session.Close(); err != nil {
			slog.Warn("close discord session", "error", err)
		}
		limiter.Close()
	}, nil
}

func startAPI(ctx context.Context, cancel context.CancelFunc, addr string, handler http.Handler) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, errCh, "permission-api")
	slog.Info("permission API listening", "addr", listener.Addr().String())
	return srv, nil
}

// monitorServerErrors cancels ctx when a server reports a failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
