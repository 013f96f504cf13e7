package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReadingStore persists sensor readings in bulk with duplicate-skip
// semantics on the (sensor_id, timestamp) natural key.
type ReadingStore struct {
	db *gorm.DB
}

// NewReadingStore creates a ReadingStore.
func NewReadingStore(db *gorm.DB) (*ReadingStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &ReadingStore{db: db}, nil
}

// InsertBatch inserts rows, silently skipping any whose natural key
// already exists. It returns the number of rows actually inserted so
// the caller can tell fresh rows from duplicates.
func (s *ReadingStore) InsertBatch(ctx context.Context, rows []SensorReading) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor_id"}, {Name: "timestamp"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("bulk insert failed: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// CountBySensor returns the number of stored readings for a sensor.
func (s *ReadingStore) CountBySensor(ctx context.Context, sensorID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&SensorReading{}).
		Where("sensor_id = ?", sensorID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// ListByValidation returns the readings scoped to a validation run,
// ordered by sensor then timestamp. The report service downstream
// consumes this shape; keep it stable.
func (s *ReadingStore) ListByValidation(ctx context.Context, validationID uint) ([]SensorReading, error) {
	var readings []SensorReading
	err := s.db.WithContext(ctx).
		Where("validation_id = ?", validationID).
		Order("sensor_id, timestamp").
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	return readings, nil
}
