package ingest_test

import (
	"context"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/telemetry-import/internal/ingest"
	"procodus.dev/telemetry-import/internal/store"
)

var _ = Describe("SensorResolver", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		sensors  *store.SensorStore
		suitcase *store.Suitcase
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()

		var err error
		sensors, err = store.NewSensorStore(db)
		Expect(err).NotTo(HaveOccurred())

		suitcases, err := store.NewSuitcaseStore(db)
		Expect(err).NotTo(HaveOccurred())
		suitcase, err = suitcases.Ensure(ctx, "validation-2024-03")
		Expect(err).NotTo(HaveOccurred())
	})

	newResolver := func(cfg ingest.ResolverConfig) *ingest.SensorResolver {
		if cfg.Logger == nil {
			cfg.Logger = testLogger()
		}
		if cfg.Sensors == nil {
			cfg.Sensors = sensors
		}
		r, err := ingest.NewSensorResolver(cfg)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	Describe("NewSensorResolver", func() {
		It("should return error when logger is nil", func() {
			_, err := ingest.NewSensorResolver(ingest.ResolverConfig{Sensors: sensors})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger cannot be nil"))
		})

		It("should return error when the sensor store is nil", func() {
			_, err := ingest.NewSensorResolver(ingest.ResolverConfig{Logger: testLogger()})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sensor store cannot be nil"))
		})
	})

	Describe("serial priority", func() {
		It("prefers the explicit serial over everything", func() {
			r := newResolver(ingest.ResolverConfig{
				SuitcaseID:     suitcase.ID,
				ExplicitSerial: "EXPL0001112222",
			})

			sensor, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{SerialNumber: "META0001112222"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(Equal("EXPL0001112222"))
		})

		It("prefers the workbook serial over the file name", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{SerialNumber: "META0001112222"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(Equal("META0001112222"))
		})

		It("extracts a serial pattern from the file name", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "/uploads/logger EF7216103539 export.xlsx", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(Equal("EF7216103539"))
		})

		It("normalizes lowercase file-name serials to upper case", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "ef7216103539.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(Equal("EF7216103539"))
		})

		It("falls back to a bare digit run in the file name", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "registro 123456789012.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(Equal("123456789012"))
		})

		It("records the logger model on a created sensor", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{Model: "TH-485"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.Model).To(Equal("TH-485"))
		})
	})

	Describe("synthetic serials", func() {
		It("mints a serial from an unidentifiable file name", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			sensor, err := r.Resolve(ctx, "sala fria 2.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.SerialNumber).To(HavePrefix("SALA-FRIA-2-"))
		})

		It("reuses the sensor on a re-import of the same file", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			first, err := r.Resolve(ctx, "camara.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())

			second, err := r.Resolve(ctx, "camara.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.SerialNumber).To(Equal(first.SerialNumber))

			var count int64
			Expect(db.Model(&store.Sensor{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("keeps file names sharing a stem prefix apart", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			plain, err := r.Resolve(ctx, "data.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			dashed, err := r.Resolve(ctx, "data-1.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(dashed.ID).NotTo(Equal(plain.ID))

			// Each file keeps finding its own sensor on re-import.
			again, err := r.Resolve(ctx, "data.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(again.ID).To(Equal(plain.ID))

			again, err = r.Resolve(ctx, "data-1.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(again.ID).To(Equal(dashed.ID))

			var count int64
			Expect(db.Model(&store.Sensor{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(2)))
		})

		It("keeps synthetic sensors apart across suitcases", func() {
			suitcases, err := store.NewSuitcaseStore(db)
			Expect(err).NotTo(HaveOccurred())
			other, err := suitcases.Ensure(ctx, "validation-2024-04")
			Expect(err).NotTo(HaveOccurred())

			a, err := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID}).
				Resolve(ctx, "camara.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())

			b, err := newResolver(ingest.ResolverConfig{SuitcaseID: other.ID}).
				Resolve(ctx, "camara.csv", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.ID).NotTo(Equal(a.ID))
		})
	})

	Describe("without a suitcase", func() {
		It("resolves an already known sensor", func() {
			created, err := sensors.ResolveOrCreate(ctx, suitcase.ID, "EF7216103539", "")
			Expect(err).NotTo(HaveOccurred())

			r := newResolver(ingest.ResolverConfig{})
			sensor, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(sensor.ID).To(Equal(created.ID))
		})

		It("refuses to create a sensor for an unknown serial", func() {
			r := newResolver(ingest.ResolverConfig{})

			_, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("does not exist"))
		})

		It("refuses synthetic serials outright", func() {
			r := newResolver(ingest.ResolverConfig{})

			_, err := r.Resolve(ctx, "camara.csv", ingest.SourceMeta{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no sensor serial discoverable"))
		})
	})

	Describe("idempotence", func() {
		It("returns the same sensor for repeated resolutions", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			first, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			second, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("creates a single sensor under concurrent resolution", func() {
			r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

			var wg sync.WaitGroup
			ids := make([]uint, 8)
			errs := make([]error, 8)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					sensor, err := r.Resolve(ctx, "EF7216103539.xlsx", ingest.SourceMeta{})
					if err == nil {
						ids[i] = sensor.ID
					}
					errs[i] = err
				}(i)
			}
			wg.Wait()

			for i := range ids {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(ids[i]).To(Equal(ids[0]))
			}

			var count int64
			Expect(db.Model(&store.Sensor{}).
				Where("serial_number = ?", "EF7216103539").
				Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})
	})

	It("sanitizes file names into serial-safe prefixes", func() {
		r := newResolver(ingest.ResolverConfig{SuitcaseID: suitcase.ID})

		sensor, err := r.Resolve(ctx, "relatório (final)!.csv", ingest.SourceMeta{})
		Expect(err).NotTo(HaveOccurred())
		prefix := sensor.SerialNumber[:strings.LastIndex(sensor.SerialNumber, "-")]
		Expect(prefix).NotTo(ContainSubstring(" "))
		Expect(prefix).NotTo(ContainSubstring("("))
		Expect(prefix).To(Equal(strings.ToUpper(prefix)))
	})
})
