// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/bastionbot/bastion/internal/access/types"
	"github.com/bastionbot/bastion/internal/guild"
	"github.com/bastionbot/bastion/internal/store"
	"github.com/bastionbot/bastion/pkg/errutil"
)

var _ = Describe("PostgresStore", func() {
	ctx := context.Background()

	BeforeEach(func() { cleanup(ctx) })

	Describe("levels", func() {
		It("finds guild and global records but not disabled ones", func() {
			for _, l := range []types.PermissionLevel{
				{GuildID: "g1", Level: 50, Roles: []string{"mod"}, Granted: guild.PermissionKickMembers},
				{GuildID: guild.GlobalID, Level: 10, Users: []string{"u1"}},
				{GuildID: "g1", Level: 20, Disabled: true},
				{GuildID: "g2", Level: 30},
			} {
				Expect(ps.CreateLevel(ctx, &l)).To(Succeed())
			}

			g1 := "g1"
			levels, err := ps.FindPermissionLevels(ctx, &g1)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(2))
			Expect(levels[0].GuildID).To(Equal(guild.GlobalID))
			Expect(levels[1].Granted).To(Equal(guild.PermissionKickMembers))

			all, err := ps.FindPermissionLevels(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})

		It("rejects a duplicate level in the same guild", func() {
			Expect(ps.CreateLevel(ctx, &types.PermissionLevel{GuildID: "g1", Level: 50})).To(Succeed())
			err := ps.CreateLevel(ctx, &types.PermissionLevel{GuildID: "g1", Level: 50})
			Expect(errutil.HasCode(err, store.CodeLevelDuplicate)).To(BeTrue())
		})

		It("updates and deletes", func() {
			l := &types.PermissionLevel{GuildID: "g1", Level: 50}
			Expect(ps.CreateLevel(ctx, l)).To(Succeed())

			l.Level = 60
			l.GrantedCapabilities = []string{"mod.warn"}
			Expect(ps.UpdateLevel(ctx, l)).To(Succeed())

			got, err := ps.GetLevel(ctx, l.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Level).To(Equal(60))
			Expect(got.GrantedCapabilities).To(Equal([]string{"mod.warn"}))

			Expect(ps.DeleteLevel(ctx, l.ID)).To(Succeed())
			_, err = ps.GetLevel(ctx, l.ID)
			Expect(errutil.HasCode(err, store.CodeLevelNotFound)).To(BeTrue())
		})
	})

	Describe("profiles", func() {
		It("matches by user or role in priority order", func() {
			for _, p := range []types.PermissionProfile{
				{GuildID: "g1", Name: "late", Priority: 5, Roles: []string{"r1"}},
				{GuildID: "g1", Name: "early", Priority: 1, Users: []string{"u1"}},
				{GuildID: guild.GlobalID, Name: "everywhere", Priority: 3, Roles: []string{"r2"}},
				{GuildID: "g1", Name: "other", Priority: 2, Roles: []string{"r9"}},
				{GuildID: "g1", Name: "off", Priority: 0, Users: []string{"u1"}, Disabled: true},
			} {
				Expect(ps.CreateProfile(ctx, &p)).To(Succeed())
			}

			got, err := ps.FindPermissionProfiles(ctx, "g1", "u1", []string{"r1", "r2"})
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, len(got))
			for i, p := range got {
				names[i] = p.Name
			}
			Expect(names).To(Equal([]string{"early", "everywhere", "late"}))
		})

		It("round-trips both permission masks", func() {
			p := &types.PermissionProfile{
				GuildID:       "g1",
				Name:          "masks",
				Users:         []string{"u1"},
				GrantedNative: guild.PermissionModerateMembers | guild.PermissionBanMembers,
				DeniedNative:  guild.PermissionAdministrator,
			}
			Expect(ps.CreateProfile(ctx, p)).To(Succeed())

			got, err := ps.GetProfile(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.GrantedNative).To(Equal(p.GrantedNative))
			Expect(got.DeniedNative).To(Equal(p.DeniedNative))
		})
	})

	Describe("change notifications", func() {
		It("delivers committed mutations to a listener", func() {
			listenCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			changes, err := store.NewListener(pool).Listen(listenCtx)
			Expect(err).NotTo(HaveOccurred())

			Expect(ps.CreateProfile(ctx, &types.PermissionProfile{GuildID: "g5", Name: "n"})).To(Succeed())
			Eventually(changes, 5*time.Second).Should(Receive(Equal(
				types.Change{Kind: types.ChangeProfiles, GuildID: "g5"})))

			Expect(ps.CreateLevel(ctx, &types.PermissionLevel{GuildID: "g5", Level: 1})).To(Succeed())
			Eventually(changes, 5*time.Second).Should(Receive(Equal(
				types.Change{Kind: types.ChangeLevels, GuildID: "g5"})))
		})
	})

	Describe("migrations", func() {
		It("reports every embedded migration as applied", func() {
			m, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = m.Close() }()

			pending, err := m.PendingMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())

			applied, err := m.AppliedMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(Equal([]uint{1, 2}))
		})
	})
})
