// Package store provides the gorm-backed persistence layer for
// sensors, suitcases and ingested telemetry readings.
package store

import (
	"time"

	"gorm.io/gorm"
)

// SensorType describes a logger model shared by many sensors. The
// DataConfig payload carries default column letters, date format and
// separator hints, serialized as JSON text.
type SensorType struct {
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	DataConfig  string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          uint `gorm:"primaryKey"`
}

// TableName specifies the table name for SensorType model.
func (SensorType) TableName() string {
	return "sensor_types"
}

// Sensor is a physical logger device. Created lazily by sensor
// resolution; never deleted by the pipeline.
type Sensor struct {
	SerialNumber string `gorm:"uniqueIndex;not null"`
	Model        string
	SensorTypeID uint `gorm:"not null"`
	SensorType   SensorType
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ID           uint `gorm:"primaryKey"`
}

// TableName specifies the table name for Sensor model.
func (Sensor) TableName() string {
	return "sensors"
}

// Suitcase is a named collection of sensors deployed together for a
// validation run.
type Suitcase struct {
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        uint `gorm:"primaryKey"`
}

// TableName specifies the table name for Suitcase model.
func (Suitcase) TableName() string {
	return "suitcases"
}

// SuitcaseSensor associates a sensor with a suitcase at a position.
// The (suitcase, sensor) pair is unique so re-imports cannot attach a
// sensor twice.
type SuitcaseSensor struct {
	SuitcaseID uint `gorm:"uniqueIndex:idx_suitcase_sensor;not null"`
	SensorID   uint `gorm:"uniqueIndex:idx_suitcase_sensor;not null"`
	Position   int
	CreatedAt  time.Time
	ID         uint `gorm:"primaryKey"`
}

// TableName specifies the table name for SuitcaseSensor model.
func (SuitcaseSensor) TableName() string {
	return "suitcase_sensors"
}

// Validation is a bounded measurement campaign readings may be scoped
// to.
type Validation struct {
	Name      string
	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
	ID        uint           `gorm:"primaryKey"`
}

// TableName specifies the table name for Validation model.
func (Validation) TableName() string {
	return "validations"
}

// SensorReading is one ingested telemetry fact. Rows are append-only
// and immutable; (sensor_id, timestamp) is the natural key used for
// duplicate skipping.
type SensorReading struct {
	SensorID     uint      `gorm:"uniqueIndex:idx_sensor_timestamp;not null"`
	Timestamp    time.Time `gorm:"uniqueIndex:idx_sensor_timestamp;not null"`
	Temperature  float64   `gorm:"not null"`
	Humidity     *float64
	FileName     string
	RowNumber    int
	ValidationID *uint `gorm:"index"`
	CreatedAt    time.Time
	ID           uint `gorm:"primaryKey"`
}

// TableName specifies the table name for SensorReading model.
func (SensorReading) TableName() string {
	return "sensor_readings"
}
