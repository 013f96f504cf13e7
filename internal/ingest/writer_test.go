package ingest_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/telemetry-import/internal/ingest"
	"procodus.dev/telemetry-import/internal/store"
)

var _ = Describe("BatchWriter", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		readings *store.ReadingStore
		sensorID uint
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()

		var err error
		readings, err = store.NewReadingStore(db)
		Expect(err).NotTo(HaveOccurred())

		sensorType := store.SensorType{Name: "Generic Logger"}
		Expect(db.Create(&sensorType).Error).To(Succeed())
		sensor := store.Sensor{SerialNumber: "EF7216103539", SensorTypeID: sensorType.ID}
		Expect(db.Create(&sensor).Error).To(Succeed())
		sensorID = sensor.ID
	})

	newWriter := func(cfg ingest.WriterConfig) *ingest.BatchWriter {
		if cfg.Logger == nil {
			cfg.Logger = testLogger()
		}
		if cfg.Readings == nil {
			cfg.Readings = readings
		}
		if cfg.SensorID == 0 {
			cfg.SensorID = sensorID
		}
		w, err := ingest.NewBatchWriter(cfg)
		Expect(err).NotTo(HaveOccurred())
		return w
	}

	reading := func(row int, minute int) ingest.Reading {
		return ingest.Reading{
			Timestamp:   time.Date(2024, time.March, 15, 10, minute, 0, 0, time.UTC),
			Temperature: 22.5,
			RowNumber:   row,
		}
	}

	Describe("NewBatchWriter", func() {
		It("should return error when logger is nil", func() {
			_, err := ingest.NewBatchWriter(ingest.WriterConfig{Readings: readings, SensorID: sensorID})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger cannot be nil"))
		})

		It("should return error when the reading store is nil", func() {
			_, err := ingest.NewBatchWriter(ingest.WriterConfig{Logger: testLogger(), SensorID: sensorID})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("reading store cannot be nil"))
		})

		It("should return error when the sensor id is zero", func() {
			_, err := ingest.NewBatchWriter(ingest.WriterConfig{Logger: testLogger(), Readings: readings})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sensor id cannot be zero"))
		})
	})

	Describe("chunked flushing", func() {
		It("flushes automatically when the chunk fills", func() {
			w := newWriter(ingest.WriterConfig{ChunkSize: 2})

			Expect(w.Add(ctx, reading(2, 0))).To(Succeed())
			Expect(w.Add(ctx, reading(3, 5))).To(Succeed())

			var count int64
			Expect(db.Model(&store.SensorReading{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(2)))
		})

		It("flushes the buffered tail on demand", func() {
			w := newWriter(ingest.WriterConfig{ChunkSize: 10})

			for i := 0; i < 5; i++ {
				Expect(w.Add(ctx, reading(2+i, i*5))).To(Succeed())
			}
			Expect(w.Flush(ctx)).To(Succeed())

			stats := w.Stats()
			Expect(stats.Inserted).To(Equal(5))
			Expect(stats.Skipped).To(BeZero())
			Expect(stats.Failed).To(BeZero())
		})

		It("is a no-op to flush an empty buffer", func() {
			w := newWriter(ingest.WriterConfig{})
			Expect(w.Flush(ctx)).To(Succeed())
			Expect(w.Stats().Inserted).To(BeZero())
		})

		It("records provenance on every reading", func() {
			w := newWriter(ingest.WriterConfig{FileName: "EF7216103539.csv"})
			Expect(w.Add(ctx, reading(2, 0))).To(Succeed())
			Expect(w.Flush(ctx)).To(Succeed())

			var stored store.SensorReading
			Expect(db.First(&stored).Error).To(Succeed())
			Expect(stored.FileName).To(Equal("EF7216103539.csv"))
			Expect(stored.RowNumber).To(Equal(2))
			Expect(stored.SensorID).To(Equal(sensorID))
		})
	})

	Describe("duplicate skipping", func() {
		It("counts re-imported rows as skipped, not inserted", func() {
			w := newWriter(ingest.WriterConfig{})
			for i := 0; i < 3; i++ {
				Expect(w.Add(ctx, reading(2+i, i*5))).To(Succeed())
			}
			Expect(w.Flush(ctx)).To(Succeed())

			again := newWriter(ingest.WriterConfig{})
			for i := 0; i < 3; i++ {
				Expect(again.Add(ctx, reading(2+i, i*5))).To(Succeed())
			}
			Expect(again.Flush(ctx)).To(Succeed())

			stats := again.Stats()
			Expect(stats.Inserted).To(BeZero())
			Expect(stats.Skipped).To(Equal(3))

			var count int64
			Expect(db.Model(&store.SensorReading{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(3)))
		})

		It("separates fresh rows from duplicates inside one chunk", func() {
			w := newWriter(ingest.WriterConfig{})
			Expect(w.Add(ctx, reading(2, 0))).To(Succeed())
			Expect(w.Flush(ctx)).To(Succeed())

			mixed := newWriter(ingest.WriterConfig{})
			Expect(mixed.Add(ctx, reading(2, 0))).To(Succeed())  // duplicate
			Expect(mixed.Add(ctx, reading(3, 5))).To(Succeed())  // fresh
			Expect(mixed.Add(ctx, reading(4, 10))).To(Succeed()) // fresh
			Expect(mixed.Flush(ctx)).To(Succeed())

			stats := mixed.Stats()
			Expect(stats.Inserted).To(Equal(2))
			Expect(stats.Skipped).To(Equal(1))
		})
	})

	Describe("failed chunks", func() {
		It("counts the chunk failed and keeps going", func() {
			w := newWriter(ingest.WriterConfig{ChunkSize: 10})
			for i := 0; i < 3; i++ {
				Expect(w.Add(ctx, reading(2+i, i*5))).To(Succeed())
			}

			// Losing the table makes the next bulk insert fail.
			Expect(db.Migrator().DropTable(&store.SensorReading{})).To(Succeed())
			Expect(w.Flush(ctx)).To(Succeed())

			stats := w.Stats()
			Expect(stats.Failed).To(Equal(3))
			Expect(stats.Inserted).To(BeZero())
			Expect(stats.FlushErrors).To(HaveLen(1))
			Expect(stats.FlushErrors[0].Row).To(Equal(2))
			Expect(stats.FlushErrors[0].Field).To(Equal("write"))

			// Later chunks are unaffected once the insert works again.
			Expect(store.Migrate(db)).To(Succeed())
			Expect(w.Add(ctx, reading(10, 40))).To(Succeed())
			Expect(w.Flush(ctx)).To(Succeed())

			stats = w.Stats()
			Expect(stats.Inserted).To(Equal(1))
			Expect(stats.Failed).To(Equal(3))
		})
	})
})
