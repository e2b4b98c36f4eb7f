package database_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voxelforge/hostdb/internal/database"
)

var _ = Describe("Statistics", func() {
	newStats := func(capacity int) *database.Statistics {
		return database.NewStatistics(database.StatisticsConfig{
			Enabled:            true,
			SlowQueryThreshold: 100 * time.Millisecond,
			SlowQueryCapacity:  capacity,
		})
	}

	Describe("RecordQuery", func() {
		It("should aggregate per statement shape", func() {
			s := newStats(10)

			s.RecordQuery("SELECT name FROM players WHERE uuid = ?", 10*time.Millisecond, nil)
			s.RecordQuery("SELECT name FROM players WHERE uuid = ?", 30*time.Millisecond, nil)
			s.RecordQuery("INSERT INTO players (uuid) VALUES (?)", 5*time.Millisecond, nil)

			snap := s.Snapshot()
			Expect(snap.TotalQueries).To(Equal(int64(3)))
			Expect(snap.TotalFailures).To(BeZero())
			Expect(snap.Shapes).To(HaveLen(2))

			for _, shape := range snap.Shapes {
				if shape.Kind == "SELECT" {
					Expect(shape.Count).To(Equal(int64(2)))
					Expect(shape.TotalTime).To(Equal(40 * time.Millisecond))
					Expect(shape.MaxTime).To(Equal(30 * time.Millisecond))
				}
			}
		})

		It("should collapse whitespace into one shape key", func() {
			s := newStats(10)

			s.RecordQuery("SELECT name\n  FROM players", time.Millisecond, nil)
			s.RecordQuery("SELECT name FROM players", time.Millisecond, nil)

			Expect(s.Snapshot().Shapes).To(HaveLen(1))
		})

		It("should count failures", func() {
			s := newStats(10)

			s.RecordQuery("SELECT broken", time.Millisecond, errors.New("no such table"))

			snap := s.Snapshot()
			Expect(snap.TotalQueries).To(Equal(int64(1)))
			Expect(snap.TotalFailures).To(Equal(int64(1)))
		})

		It("should record nothing when disabled", func() {
			s := database.NewStatistics(database.StatisticsConfig{Enabled: false})
			s.RecordQuery("SELECT 1", time.Second, nil)
			Expect(s.Snapshot().TotalQueries).To(BeZero())
		})
	})

	Describe("slow queries", func() {
		It("should capture queries at or above the threshold", func() {
			s := newStats(10)

			s.RecordQuery("SELECT fast FROM t", 10*time.Millisecond, nil)
			s.RecordQuery("SELECT slow FROM t", 150*time.Millisecond, nil)

			slow := s.Snapshot().SlowQueries
			Expect(slow).To(HaveLen(1))
			Expect(slow[0].Query).To(ContainSubstring("slow"))
			Expect(slow[0].Duration).To(Equal(150 * time.Millisecond))
		})

		It("should evict oldest entries beyond capacity", func() {
			s := newStats(3)

			for i := 0; i < 5; i++ {
				s.RecordQuery(fmt.Sprintf("SELECT %d FROM t", i), 200*time.Millisecond, nil)
			}

			slow := s.Snapshot().SlowQueries
			Expect(slow).To(HaveLen(3))
			Expect(slow[0].Query).To(ContainSubstring("SELECT 2"))
			Expect(slow[2].Query).To(ContainSubstring("SELECT 4"))
		})
	})

	Describe("connection gauges", func() {
		It("should track active and max concurrent borrows", func() {
			s := newStats(10)

			s.RecordAcquire()
			s.RecordAcquire()
			s.RecordRelease()
			s.RecordAcquire()

			snap := s.Snapshot()
			Expect(snap.ActiveConns).To(Equal(int64(2)))
			Expect(snap.TotalAcquired).To(Equal(int64(3)))
			Expect(snap.MaxConcurrent).To(Equal(int64(2)))
		})
	})

	Describe("Reset", func() {
		It("should clear aggregates but keep the active gauge", func() {
			s := newStats(10)

			s.RecordAcquire()
			s.RecordQuery("SELECT 1 FROM t", 200*time.Millisecond, nil)
			s.Reset()

			snap := s.Snapshot()
			Expect(snap.TotalQueries).To(BeZero())
			Expect(snap.Shapes).To(BeEmpty())
			Expect(snap.SlowQueries).To(BeEmpty())
			Expect(snap.ActiveConns).To(Equal(int64(1)))
			Expect(snap.MaxConcurrent).To(Equal(int64(1)))
		})
	})
})
