package ingest_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/telemetry-import/internal/ingest"
)

var _ = Describe("RowValidator", func() {
	var (
		cols ingest.ColumnMap
		now  time.Time
	)

	BeforeEach(func() {
		cols = ingest.ColumnMap{Timestamp: 0, Temperature: 1, Humidity: 2, SensorID: -1}
		now = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	})

	newValidator := func(cfg ingest.ValidatorConfig) *ingest.RowValidator {
		if cfg.Now == nil {
			cfg.Now = func() time.Time { return now }
		}
		return ingest.NewRowValidator(cfg)
	}

	row := func(number int, cells ...any) ingest.Row {
		return ingest.Row{Number: number, Cells: cells}
	}

	Describe("accepted rows", func() {
		It("returns the reading with all fields populated", func() {
			v := newValidator(ingest.ValidatorConfig{})

			reading, warning, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", "22.5", "55.0"), cols)
			Expect(rowErr).To(BeNil())
			Expect(warning).To(BeNil())
			Expect(reading.Timestamp).To(Equal(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)))
			Expect(reading.Temperature).To(Equal(22.5))
			Expect(reading.Humidity).NotTo(BeNil())
			Expect(*reading.Humidity).To(Equal(55.0))
			Expect(reading.RowNumber).To(Equal(2))
		})

		It("accepts decimal commas", func() {
			v := newValidator(ingest.ValidatorConfig{})

			reading, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", "23,7", "54,2"), cols)
			Expect(rowErr).To(BeNil())
			Expect(reading.Temperature).To(Equal(23.7))
			Expect(*reading.Humidity).To(Equal(54.2))
		})

		It("leaves humidity absent when the cell is blank", func() {
			v := newValidator(ingest.ValidatorConfig{})

			reading, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", "22.5", "  "), cols)
			Expect(rowErr).To(BeNil())
			Expect(reading.Humidity).To(BeNil())
		})

		It("leaves humidity absent when no column is mapped", func() {
			v := newValidator(ingest.ValidatorConfig{})
			noHumidity := ingest.ColumnMap{Timestamp: 0, Temperature: 1, Humidity: -1, SensorID: -1}

			reading, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", "22.5"), noHumidity)
			Expect(rowErr).To(BeNil())
			Expect(reading.Humidity).To(BeNil())
		})

		It("captures the sensor column when mapped", func() {
			v := newValidator(ingest.ValidatorConfig{})
			withSensor := ingest.ColumnMap{Timestamp: 1, Temperature: 2, Humidity: -1, SensorID: 0}

			reading, _, rowErr := v.Validate(row(2, " EF7216103539 ", "2024-03-15 10:00:00", "22.5"), withSensor)
			Expect(rowErr).To(BeNil())
			Expect(reading.SensorID).To(Equal("EF7216103539"))
		})
	})

	Describe("rejected rows", func() {
		It("rejects an unparseable timestamp", func() {
			v := newValidator(ingest.ValidatorConfig{})

			_, _, rowErr := v.Validate(row(4, "bogus", "22.5", "55.0"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Row).To(Equal(4))
			Expect(rowErr.Field).To(Equal("timestamp"))
			Expect(rowErr.RawValue).To(Equal("bogus"))
		})

		It("rejects timestamps before the minimum year", func() {
			v := newValidator(ingest.ValidatorConfig{MinYear: 2000})

			_, _, rowErr := v.Validate(row(2, "31/12/1999 23:59:59", "22.5", "55.0"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Field).To(Equal("timestamp"))
			Expect(rowErr.Message).To(ContainSubstring("minimum year 2000"))
		})

		It("rejects timestamps beyond the future tolerance", func() {
			v := newValidator(ingest.ValidatorConfig{FutureTolerance: 5 * time.Minute})

			_, _, rowErr := v.Validate(row(2, "2024-03-15 12:10:00", "22.5", "55.0"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Message).To(Equal("timestamp is in the future"))
		})

		It("accepts timestamps inside the future tolerance", func() {
			v := newValidator(ingest.ValidatorConfig{FutureTolerance: 5 * time.Minute})

			_, _, rowErr := v.Validate(row(2, "2024-03-15 12:04:00", "22.5", "55.0"), cols)
			Expect(rowErr).To(BeNil())
		})

		It("rejects a non-numeric temperature", func() {
			v := newValidator(ingest.ValidatorConfig{})

			_, _, rowErr := v.Validate(row(3, "2024-03-15 10:00:00", "hot", "55.0"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Field).To(Equal("temperature"))
			Expect(rowErr.RawValue).To(Equal("hot"))
		})

		DescribeTable("temperature bounds",
			func(value string, ok bool) {
				v := newValidator(ingest.ValidatorConfig{})
				_, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", value, ""), cols)
				if ok {
					Expect(rowErr).To(BeNil())
				} else {
					Expect(rowErr).NotTo(BeNil())
					Expect(rowErr.Field).To(Equal("temperature"))
				}
			},
			Entry("absolute zero is allowed", "-273.15", true),
			Entry("below absolute zero is not", "-273.16", false),
			Entry("upper bound is allowed", "200", true),
			Entry("above the upper bound is not", "200.1", false),
			Entry("ordinary reading", "21.4", true),
		)

		It("rejects invalid humidity instead of dropping it", func() {
			v := newValidator(ingest.ValidatorConfig{})

			_, _, rowErr := v.Validate(row(5, "2024-03-15 10:00:00", "22.5", "wet"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Field).To(Equal("humidity"))
		})

		DescribeTable("humidity bounds",
			func(value string, ok bool) {
				v := newValidator(ingest.ValidatorConfig{})
				_, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00", "22.5", value), cols)
				if ok {
					Expect(rowErr).To(BeNil())
				} else {
					Expect(rowErr).NotTo(BeNil())
					Expect(rowErr.Field).To(Equal("humidity"))
				}
			},
			Entry("zero is allowed", "0", true),
			Entry("hundred is allowed", "100", true),
			Entry("negative is not", "-0.1", false),
			Entry("above hundred is not", "100.5", false),
		)

		It("rejects a row too short to carry the mapped columns", func() {
			v := newValidator(ingest.ValidatorConfig{})

			_, _, rowErr := v.Validate(row(2, "2024-03-15 10:00:00"), cols)
			Expect(rowErr).NotTo(BeNil())
			Expect(rowErr.Field).To(Equal("temperature"))
			Expect(rowErr.Message).To(ContainSubstring("missing value"))
		})
	})

	Describe("gap warnings", func() {
		It("warns when consecutive readings are further apart than the threshold", func() {
			v := newValidator(ingest.ValidatorConfig{GapWarning: time.Hour})

			_, warning, rowErr := v.Validate(row(2, "2024-03-15 08:00:00", "22.5", ""), cols)
			Expect(rowErr).To(BeNil())
			Expect(warning).To(BeNil())

			_, warning, rowErr = v.Validate(row(3, "2024-03-15 10:30:00", "22.5", ""), cols)
			Expect(rowErr).To(BeNil())
			Expect(warning).NotTo(BeNil())
			Expect(warning.Row).To(Equal(3))
			Expect(warning.Message).To(ContainSubstring("gap of 2h30m0s"))
		})

		It("stays quiet for gaps inside the threshold", func() {
			v := newValidator(ingest.ValidatorConfig{GapWarning: time.Hour})

			_, warning, _ := v.Validate(row(2, "2024-03-15 08:00:00", "22.5", ""), cols)
			Expect(warning).To(BeNil())
			_, warning, _ = v.Validate(row(3, "2024-03-15 08:30:00", "22.5", ""), cols)
			Expect(warning).To(BeNil())
		})

		It("is disabled by default", func() {
			v := newValidator(ingest.ValidatorConfig{})

			_, warning, _ := v.Validate(row(2, "2024-03-15 08:00:00", "22.5", ""), cols)
			Expect(warning).To(BeNil())
			_, warning, _ = v.Validate(row(3, "2024-03-15 11:00:00", "22.5", ""), cols)
			Expect(warning).To(BeNil())
		})
	})
})
