package ingest_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/telemetry-import/internal/ingest"
)

var _ = Describe("NormalizeTimestamp", func() {
	wallClock := time.Date(2024, time.March, 15, 14, 30, 0, 0, time.UTC)

	DescribeTable("accepted forms",
		func(raw any, expected time.Time) {
			ts, err := ingest.NormalizeTimestamp(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(Equal(expected))
			Expect(ts.Location()).To(Equal(time.UTC))
		},
		Entry("ISO with space separator", "2024-03-15 14:30:00", wallClock),
		Entry("ISO with T separator", "2024-03-15T14:30:00", wallClock),
		Entry("ISO with Z suffix keeps the wall clock", "2024-03-15T14:30:00Z", wallClock),
		Entry("ISO with positive offset keeps the wall clock", "2024-03-15T14:30:00+03:00", wallClock),
		Entry("ISO with negative offset keeps the wall clock", "2024-03-15 14:30:00-0500", wallClock),
		Entry("slash date with seconds", "15/03/2024 14:30:00", wallClock),
		Entry("slash date without seconds", "15/03/2024 14:30", wallClock),
		Entry("single-digit day and month", "5/3/2024 14:30:00",
			time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)),
		Entry("two-digit year gets 2000 added", "15/03/24 14:30:00", wallClock),
		Entry("two-digit year 95 means 2095, not 1995", "01/02/95",
			time.Date(2095, time.February, 1, 0, 0, 0, 0, time.UTC)),
		Entry("slash date without time part", "15/03/2024",
			time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)),
		Entry("ISO date only", "2024-03-15",
			time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)),
		Entry("dashed day-first date", "15-03-2024 14:30:00", wallClock),
		Entry("epoch seconds as int64", wallClock.Unix(), wallClock),
		Entry("epoch seconds as float64", float64(wallClock.Unix()), wallClock),
		Entry("epoch seconds as string", "1710513000", time.Unix(1710513000, 0).UTC()),
		Entry("surrounding whitespace", "  2024-03-15 14:30:00  ", wallClock),
	)

	DescribeTable("rejected forms",
		func(raw any) {
			_, err := ingest.NormalizeTimestamp(raw)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty string", ""),
		Entry("nil cell", nil),
		Entry("free text", "not a date"),
		Entry("day out of range", "32/01/2024 10:00:00"),
		Entry("month out of range", "15/13/2024 10:00:00"),
		Entry("rolled-over calendar date", "31/02/2024 10:00:00"),
		Entry("hour out of range", "2024-03-15 25:30:00"),
		Entry("unsupported type", []byte("2024-03-15")),
	)

	It("drops the location of native time values without converting", func() {
		loc := time.FixedZone("BRT", -3*60*60)
		in := time.Date(2024, time.March, 15, 14, 30, 0, 0, loc)

		ts, err := ingest.NormalizeTimestamp(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(ts).To(Equal(wallClock))
	})

	Describe("with a preferred layout", func() {
		It("reads a month-first format the built-in forms cannot", func() {
			ts, err := ingest.NormalizeTimestampLayout("03-15-2024 14:30", "01-02-2006 15:04")
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(Equal(wallClock))
			Expect(ts.Location()).To(Equal(time.UTC))
		})

		It("falls back to the built-in forms when the layout does not match", func() {
			ts, err := ingest.NormalizeTimestampLayout("15/03/2024 14:30:00", "01-02-2006 15:04")
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(Equal(wallClock))
		})

		It("rejects month-first input when no layout is given", func() {
			_, err := ingest.NormalizeTimestamp("03-15-2024 14:30")
			Expect(err).To(HaveOccurred())
		})
	})

	It("treats equivalent renderings of one instant identically", func() {
		a, err := ingest.NormalizeTimestamp("2024-03-15 14:30:00")
		Expect(err).NotTo(HaveOccurred())
		b, err := ingest.NormalizeTimestamp("2024-03-15T14:30:00Z")
		Expect(err).NotTo(HaveOccurred())
		c, err := ingest.NormalizeTimestamp("15/03/2024 14:30:00")
		Expect(err).NotTo(HaveOccurred())

		Expect(a).To(Equal(b))
		Expect(b).To(Equal(c))
	})
})
