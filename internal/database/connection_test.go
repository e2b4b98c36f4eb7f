package database_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/voxelforge/hostdb/internal/database"
	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

var _ = Describe("ConnectionManager", func() {
	var (
		ctx   context.Context
		stats *database.Statistics
		mgr   *database.ConnectionManager
	)

	newManager := func(mutate func(*database.Options)) *database.ConnectionManager {
		GinkgoHelper()
		opts := database.Options{
			Driver:          "sqlite",
			DSN:             database.SQLiteDSN(filepath.Join(GinkgoT().TempDir(), "conn.db")),
			MaxOpenConns:    3,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			AcquireTimeout:  2 * time.Second,
		}
		if mutate != nil {
			mutate(&opts)
		}
		m, err := database.NewConnectionManager("conntest", opts, stats, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = m.Close() })
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		stats = database.NewStatistics(database.StatisticsConfig{Enabled: true, SlowQueryCapacity: 10})
		mgr = newManager(nil)
	})

	Describe("Acquire and Release", func() {
		It("should hand out live connections with unique borrow IDs", func() {
			c1, err := mgr.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer c1.Release()

			c2, err := mgr.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer c2.Release()

			Expect(c1.ID()).NotTo(Equal(c2.ID()))
			Expect(c1.AutoCommit()).To(BeTrue())
		})

		It("should track gauges across acquire and release", func() {
			c1, err := mgr.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			c2, err := mgr.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(stats.ActiveConnections()).To(Equal(int64(2)))

			c1.Release()
			c2.Release()
			Expect(stats.ActiveConnections()).To(BeZero())
			Expect(stats.Snapshot().MaxConcurrent).To(Equal(int64(2)))
		})

		It("should make a second release a no-op", func() {
			c, err := mgr.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			c.Release()
			c.Release()
			Expect(stats.ActiveConnections()).To(BeZero())
		})

		It("should wrap acquisition failures", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := mgr.Acquire(cancelled)
			Expect(srvErrors.IsConnectionAcquisitionError(err)).To(BeTrue())
		})
	})

	Describe("Valid", func() {
		It("should report liveness", func() {
			Expect(mgr.Valid(ctx)).To(BeTrue())
		})
	})
})

var _ = Describe("TransactionManager", func() {
	var (
		ctx  context.Context
		mgr  *database.ConnectionManager
		txm  *database.TransactionManager
		conn *database.PooledConnection
	)

	BeforeEach(func() {
		ctx = context.Background()
		stats := database.NewStatistics(database.StatisticsConfig{})
		var err error
		mgr, err = database.NewConnectionManager("txtest", database.Options{
			Driver:          "sqlite",
			DSN:             database.SQLiteDSN(filepath.Join(GinkgoT().TempDir(), "tx.db")),
			MaxOpenConns:    2,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			AcquireTimeout:  2 * time.Second,
		}, stats, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = mgr.Close() })

		txm = database.NewTransactionManager(zap.NewNop())

		conn, err = mgr.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Release)

		_, err = conn.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
		Expect(err).NotTo(HaveOccurred())
	})

	countRows := func() int {
		GinkgoHelper()
		rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM t")
		Expect(err).NotTo(HaveOccurred())
		defer rows.Close()
		Expect(rows.Next()).To(BeTrue())
		var n int
		Expect(rows.Scan(&n)).To(Succeed())
		return n
	}

	Describe("Execute", func() {
		It("should clear auto-commit for the duration and restore it", func() {
			err := txm.Execute(ctx, conn, func(tx *sql.Tx) error {
				Expect(conn.AutoCommit()).To(BeFalse())
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.AutoCommit()).To(BeTrue())
		})

		It("should restore auto-commit after a failed unit of work", func() {
			boom := errors.New("boom")
			err := txm.Execute(ctx, conn, func(tx *sql.Tx) error {
				return boom
			})
			Expect(err).To(MatchError(boom))
			Expect(conn.AutoCommit()).To(BeTrue())
		})

		It("should commit the unit of work", func() {
			err := txm.Execute(ctx, conn, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
				return err
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(countRows()).To(Equal(1))
		})

		It("should close the transaction when the unit of work panics", func() {
			Expect(func() {
				_ = txm.Execute(ctx, conn, func(tx *sql.Tx) error {
					panic("kaboom")
				})
			}).To(PanicWith("kaboom"))
			Expect(conn.AutoCommit()).To(BeTrue())

			// the connection must be usable for a fresh transaction
			err := txm.Execute(ctx, conn, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
				return err
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(countRows()).To(Equal(1))
		})

		It("should roll back the unit of work on failure", func() {
			err := txm.Execute(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
					return err
				}
				return errors.New("abandon")
			})
			Expect(err).To(HaveOccurred())
			Expect(countRows()).To(BeZero())
		})
	})
})
