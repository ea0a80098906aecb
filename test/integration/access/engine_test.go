// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

//go:build integration

package access_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/bastionbot/bastion/internal/access"
	"github.com/bastionbot/bastion/internal/access/cache"
	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/access/layered"
	"github.com/bastionbot/bastion/internal/access/level"
	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/store"
)

const (
	levelGuild   = "5001"
	layeredGuild = "5002"
	modRole      = "600"
)

func member(guildID, userID string, perms guild.Permissions, roles ...guild.Role) *guild.Member {
	return &guild.Member{
		Guild:       guild.Guild{ID: guildID},
		User:        guild.User{ID: userID},
		Roles:       roles,
		Permissions: perms,
	}
}

type harness struct {
	engine *access.Engine
	levels *level.Resolver
	cancel context.CancelFunc
	done   chan struct{}
}

// newHarness wires the engine the way serve does: a level resolver resynced
// by notifications and a layered resolver invalidated by them.
func newHarness() *harness {
	ctx, cancel := context.WithCancel(context.Background())

	reg := capability.NewRegistry()
	reg.MustRegister(capability.NewSystemAdmin(nil))

	levels := level.New(records, reg)
	profiles := layered.New(records, reg, layered.WithCache(cache.NewMemory(1000, time.Minute)))
	engine := access.NewEngine(reg,
		access.WithSettings(access.StaticSettings{
			levelGuild:   {Mode: types.ModeLevel},
			layeredGuild: {Mode: types.ModeLayered},
		}),
		access.WithResolver(levels),
		access.WithResolver(profiles),
	)

	Expect(levels.Start(ctx, store.NewListener(pool))).To(Succeed())

	changes, err := store.NewListener(pool).Listen(ctx)
	Expect(err).NotTo(HaveOccurred())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range changes {
			if c.Kind == types.ChangeProfiles {
				_ = engine.InvalidateGuild(ctx, c.GuildID)
			}
		}
	}()

	return &harness{engine: engine, levels: levels, cancel: cancel, done: done}
}

func (h *harness) stop() {
	h.cancel()
	h.levels.Wait()
	<-h.done
}

var _ = Describe("Engine over PostgreSQL", func() {
	ctx := context.Background()
	var h *harness

	BeforeEach(func() {
		cleanup(ctx)
		h = newHarness()
	})

	AfterEach(func() { h.stop() })

	Describe("level mode", func() {
		It("resolves stored levels and follows record updates", func() {
			l := &types.PermissionLevel{
				GuildID: levelGuild,
				Level:   10,
				Roles:   []string{modRole},
				Granted: guild.PermissionKickMembers,
			}
			Expect(records.CreateLevel(ctx, l)).To(Succeed())
			Expect(h.levels.Sync(ctx)).To(Succeed())

			mod := member(levelGuild, "u1", guild.PermissionSendMessages, guild.Role{ID: modRole, Position: 3})
			set, err := h.engine.GetPermissions(ctx, mod)
			Expect(err).NotTo(HaveOccurred())
			Expect(set.Level).NotTo(BeNil())
			Expect(*set.Level).To(Equal(10))
			Expect(set.Native.Has(guild.PermissionKickMembers|guild.PermissionSendMessages, false)).To(BeTrue())

			l.Granted |= guild.PermissionBanMembers
			Expect(records.UpdateLevel(ctx, l)).To(Succeed())

			Eventually(func() bool {
				ok, err := h.engine.HasPermissions(ctx, mod, guild.PermissionBanMembers)
				return err == nil && ok
			}, 5*time.Second, 50*time.Millisecond).Should(BeTrue())
		})

		It("applies global levels in every guild", func() {
			Expect(records.CreateLevel(ctx, &types.PermissionLevel{
				GuildID: guild.GlobalID,
				Level:   50,
				Users:   []string{"staff"},
				Granted: guild.PermissionManageMessages,
			})).To(Succeed())
			Expect(h.levels.Sync(ctx)).To(Succeed())

			ok, err := h.engine.HasPermissions(ctx, member(levelGuild, "staff", 0), guild.PermissionManageMessages)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("layered mode", func() {
		It("drops cached resolutions when a profile changes", func() {
			p := &types.PermissionProfile{
				GuildID:      layeredGuild,
				Name:         "muted",
				Priority:     1,
				Users:        []string{"u2"},
				DeniedNative: guild.PermissionSendMessages,
			}
			Expect(records.CreateProfile(ctx, p)).To(Succeed())

			u2 := member(layeredGuild, "u2", guild.PermissionSendMessages)
			ok, err := h.engine.HasPermissions(ctx, u2, guild.PermissionSendMessages)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			Expect(records.DeleteProfile(ctx, p.ID)).To(Succeed())

			Eventually(func() bool {
				ok, err := h.engine.HasPermissions(ctx, u2, guild.PermissionSendMessages)
				return err == nil && ok
			}, 5*time.Second, 50*time.Millisecond).Should(BeTrue())
		})

		It("resolves concurrently while records change", func() {
			Expect(records.CreateProfile(ctx, &types.PermissionProfile{
				GuildID:       layeredGuild,
				Name:          "helpers",
				Priority:      1,
				Roles:         []string{modRole},
				GrantedNative: guild.PermissionManageMessages,
			})).To(Succeed())
			churn := &types.PermissionProfile{GuildID: layeredGuild, Name: "churn", Priority: 9, Users: []string{"nobody"}}
			Expect(records.CreateProfile(ctx, churn)).To(Succeed())

			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for i := range 32 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					m := member(layeredGuild, fmt.Sprintf("c%d", i), 0, guild.Role{ID: modRole})
					for range 20 {
						ok, err := h.engine.HasPermissions(ctx, m, guild.PermissionManageMessages)
						if err != nil {
							errs <- err
							return
						}
						if !ok {
							errs <- fmt.Errorf("member %s lost ManageMessages", m.UserID())
							return
						}
					}
				}()
			}
			for i := range 10 {
				churn.Priority = 10 + i
				Expect(records.UpdateProfile(ctx, churn)).To(Succeed())
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Fail(err.Error())
			}
		})
	})
})
