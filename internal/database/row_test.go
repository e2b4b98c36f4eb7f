package database_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voxelforge/hostdb/internal/database"
)

var _ = Describe("Row", func() {
	var (
		ctx context.Context
		db  *database.Database
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB(nil)

		_, err := db.Exec(ctx, `
			CREATE TABLE samples (
				id INTEGER PRIMARY KEY,
				label TEXT,
				score REAL,
				active INTEGER,
				seen_at TEXT,
				blob_data BLOB
			)`)
		Expect(err).NotTo(HaveOccurred())

		_, err = db.Exec(ctx, `
			INSERT INTO samples (id, label, score, active, seen_at, blob_data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			7, "alpha", 2.5, 1, "2026-08-30T12:00:00Z", []byte{0x01, 0x02})
		Expect(err).NotTo(HaveOccurred())

		_, err = db.Exec(ctx, `
			INSERT INTO samples (id, label, score, active, seen_at, blob_data)
			VALUES (?, NULL, NULL, 0, NULL, NULL)`, 8)
		Expect(err).NotTo(HaveOccurred())
	})

	query := func(mapper database.RowMapper[any], id int) any {
		GinkgoHelper()
		v, found, err := database.QueryFirst(context.Background(), db,
			"SELECT id, label, score, active, seen_at, blob_data FROM samples WHERE id = ?",
			mapper, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		return v
	}

	It("should expose typed accessors with driver coercion", func() {
		query(func(row *database.Row) (any, error) {
			id, err := row.Int64("id")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(int64(7)))

			label, err := row.String("label")
			Expect(err).NotTo(HaveOccurred())
			Expect(label).To(Equal("alpha"))

			score, err := row.Float64("score")
			Expect(err).NotTo(HaveOccurred())
			Expect(score).To(Equal(2.5))

			active, err := row.Bool("active")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeTrue())

			seen, err := row.Time("seen_at")
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)))

			data, err := row.Bytes("blob_data")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0x01, 0x02}))

			return nil, nil
		}, 7)
	})

	It("should report and zero NULL columns", func() {
		query(func(row *database.Row) (any, error) {
			null, err := row.IsNull("label")
			Expect(err).NotTo(HaveOccurred())
			Expect(null).To(BeTrue())

			label, err := row.String("label")
			Expect(err).NotTo(HaveOccurred())
			Expect(label).To(Equal(""))

			ns, err := row.NullString("label")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Valid).To(BeFalse())

			ni, err := row.NullInt64("score")
			Expect(err).NotTo(HaveOccurred())
			Expect(ni.Valid).To(BeFalse())

			return nil, nil
		}, 8)
	})

	It("should detach byte slices from the scan buffer", func() {
		_, err := db.Exec(ctx, `
			INSERT INTO samples (id, label, score, active, seen_at, blob_data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			9, "beta", 0.0, 0, "2026-08-30T13:00:00Z", []byte{0x03, 0x04})
		Expect(err).NotTo(HaveOccurred())

		// blobs collected across rows must survive later scans intact
		blobs, err := database.Query(ctx, db,
			"SELECT blob_data FROM samples WHERE blob_data IS NOT NULL ORDER BY id",
			func(row *database.Row) ([]byte, error) {
				return row.Bytes("blob_data")
			})
		Expect(err).NotTo(HaveOccurred())
		Expect(blobs).To(Equal([][]byte{{0x01, 0x02}, {0x03, 0x04}}))
	})

	It("should error on unknown columns", func() {
		query(func(row *database.Row) (any, error) {
			_, err := row.String("missing")
			Expect(err).To(MatchError(ContainSubstring("no column")))
			return nil, nil
		}, 7)
	})

	It("should reject access after the mapper returns", func() {
		var leaked *database.Row
		query(func(row *database.Row) (any, error) {
			leaked = row
			return nil, nil
		}, 7)

		_, err := leaked.Value("id")
		Expect(err).To(MatchError(ContainSubstring("outside its mapper")))
	})

	It("should list columns in cursor order", func() {
		query(func(row *database.Row) (any, error) {
			Expect(row.Columns()).To(Equal([]string{
				"id", "label", "score", "active", "seen_at", "blob_data",
			}))
			return nil, nil
		}, 7)
	})
})
