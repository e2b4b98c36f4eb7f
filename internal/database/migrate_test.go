package database_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/database"
	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

type testMigration struct {
	version     int
	description string
	apply       func(ctx context.Context, db *database.Database) error
	revert      func(ctx context.Context, db *database.Database) error
}

func (m testMigration) Version() int        { return m.version }
func (m testMigration) Description() string { return m.description }

func (m testMigration) Apply(ctx context.Context, db *database.Database) error {
	if m.apply == nil {
		return nil
	}
	return m.apply(ctx, db)
}

func (m testMigration) Revert(ctx context.Context, db *database.Database) error {
	if m.revert == nil {
		return nil
	}
	return m.revert(ctx, db)
}

func tableExists(ctx context.Context, db *database.Database, name string) bool {
	GinkgoHelper()
	_, found, err := database.QueryFirst(ctx, db,
		"SELECT name FROM sqlite_master WHERE type = ? AND name = ?",
		func(row *database.Row) (string, error) { return row.String("name") },
		"table", name)
	Expect(err).NotTo(HaveOccurred())
	return found
}

var _ = Describe("MigrationManager", func() {
	var (
		ctx context.Context
		db  *database.Database
		mgr *database.MigrationManager
	)

	createGuilds := testMigration{
		version:     1,
		description: "create guilds table",
		apply: func(ctx context.Context, db *database.Database) error {
			_, err := db.Exec(ctx, `CREATE TABLE guilds (id TEXT PRIMARY KEY, name TEXT NOT NULL)`)
			return err
		},
		revert: func(ctx context.Context, db *database.Database) error {
			_, err := db.Exec(ctx, `DROP TABLE IF EXISTS guilds`)
			return err
		},
	}

	createRanks := testMigration{
		version:     2,
		description: "create guild ranks table",
		apply: func(ctx context.Context, db *database.Database) error {
			_, err := db.Exec(ctx, `CREATE TABLE guild_ranks (guild_id TEXT, rank TEXT)`)
			return err
		},
		revert: func(ctx context.Context, db *database.Database) error {
			_, err := db.Exec(ctx, `DROP TABLE IF EXISTS guild_ranks`)
			return err
		},
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB(nil)
		mgr = database.NewMigrationManager(database.MigrationOptions{}, zap.NewNop())
	})

	Describe("Register", func() {
		It("should reject duplicate versions", func() {
			err := mgr.Register(db.Name(), createGuilds, testMigration{version: 1, description: "also v1"})
			Expect(err).To(MatchError(ContainSubstring("duplicate migration version")))
		})

		It("should accept out-of-order registration", func() {
			Expect(mgr.Register(db.Name(), createRanks, createGuilds)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			version, err := mgr.CurrentVersion(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(2))
		})
	})

	Describe("Run", func() {
		It("should apply pending migrations in ascending order", func() {
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			Expect(tableExists(ctx, db, "guilds")).To(BeTrue())
			Expect(tableExists(ctx, db, "guild_ranks")).To(BeTrue())

			applied, err := mgr.Applied(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(HaveLen(2))
			Expect(applied[0].Version).To(Equal(1))
			Expect(applied[1].Version).To(Equal(2))
			Expect(applied[1].Description).To(Equal("create guild ranks table"))
		})

		It("should be idempotent across reruns", func() {
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			applied, err := mgr.Applied(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(HaveLen(2))
		})

		It("should stop at the first failing migration and keep earlier ones", func() {
			failing := testMigration{
				version:     2,
				description: "broken",
				apply: func(ctx context.Context, db *database.Database) error {
					return errors.New("schema change failed")
				},
			}
			Expect(mgr.Register(db.Name(), createGuilds, failing)).To(Succeed())

			err := mgr.Run(ctx, db)
			Expect(srvErrors.IsMigrationError(err)).To(BeTrue())

			Expect(tableExists(ctx, db, "guilds")).To(BeTrue())
			version, verr := mgr.CurrentVersion(ctx, db)
			Expect(verr).NotTo(HaveOccurred())
			Expect(version).To(Equal(1))
		})

		It("should record a migration and its statements atomically", func() {
			partial := testMigration{
				version:     1,
				description: "partial work",
				apply: func(ctx context.Context, db *database.Database) error {
					if _, err := db.Exec(ctx, `CREATE TABLE half_done (id TEXT)`); err != nil {
						return err
					}
					return errors.New("abort after DDL")
				},
			}
			Expect(mgr.Register(db.Name(), partial)).To(Succeed())
			Expect(mgr.Run(ctx, db)).NotTo(Succeed())

			applied, err := mgr.Applied(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeEmpty())
		})

		It("should undo the whole run on failure in single-transaction mode", func() {
			mgr = database.NewMigrationManager(database.MigrationOptions{SingleTransaction: true}, zap.NewNop())
			failing := testMigration{
				version:     2,
				description: "broken",
				apply: func(ctx context.Context, db *database.Database) error {
					return errors.New("schema change failed")
				},
			}
			Expect(mgr.Register(db.Name(), createGuilds, failing)).To(Succeed())

			err := mgr.Run(ctx, db)
			Expect(srvErrors.IsMigrationError(err)).To(BeTrue())

			Expect(tableExists(ctx, db, "guilds")).To(BeFalse())
			applied, aerr := mgr.Applied(ctx, db)
			Expect(aerr).NotTo(HaveOccurred())
			Expect(applied).To(BeEmpty())
		})

		It("should apply the whole run in single-transaction mode", func() {
			mgr = database.NewMigrationManager(database.MigrationOptions{SingleTransaction: true}, zap.NewNop())
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			Expect(tableExists(ctx, db, "guilds")).To(BeTrue())
			Expect(tableExists(ctx, db, "guild_ranks")).To(BeTrue())

			version, err := mgr.CurrentVersion(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(2))
		})

		It("should succeed with no registered migrations", func() {
			Expect(mgr.Run(ctx, db)).To(Succeed())

			version, err := mgr.CurrentVersion(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
		})
	})

	Describe("RollbackTo", func() {
		It("should revert above the target in descending order", func() {
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			Expect(mgr.RollbackTo(ctx, db, 1)).To(Succeed())

			Expect(tableExists(ctx, db, "guilds")).To(BeTrue())
			Expect(tableExists(ctx, db, "guild_ranks")).To(BeFalse())

			version, err := mgr.CurrentVersion(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(1))
		})

		It("should revert everything for target zero", func() {
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			Expect(mgr.RollbackTo(ctx, db, 0)).To(Succeed())

			Expect(tableExists(ctx, db, "guilds")).To(BeFalse())
			applied, err := mgr.Applied(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeEmpty())
		})

		It("should fail when an applied version has no registered migration", func() {
			Expect(mgr.Register(db.Name(), createGuilds)).To(Succeed())
			Expect(mgr.Run(ctx, db)).To(Succeed())

			fresh := database.NewMigrationManager(database.MigrationOptions{}, zap.NewNop())
			err := fresh.RollbackTo(ctx, db, 0)
			Expect(srvErrors.IsMigrationError(err)).To(BeTrue())
		})
	})

	Describe("Pending", func() {
		It("should list only unapplied migrations", func() {
			Expect(mgr.Register(db.Name(), createGuilds, createRanks)).To(Succeed())

			pending, err := mgr.Pending(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(2))

			Expect(mgr.Run(ctx, db)).To(Succeed())

			pending, err = mgr.Pending(ctx, db)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
