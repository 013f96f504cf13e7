package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// GenericTypeName is the SensorType created when a file carries no
// recognizable logger model.
const GenericTypeName = "Generic Logger"

// SensorStore resolves and creates sensors, sensor types and suitcase
// associations. Creation is serialized per suitcase so concurrent
// imports cannot race a brand-new serial into two sensor rows.
type SensorStore struct {
	db    *gorm.DB
	locks sync.Map // suitcase ID -> *sync.Mutex
}

// NewSensorStore creates a SensorStore.
func NewSensorStore(db *gorm.DB) (*SensorStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &SensorStore{db: db}, nil
}

// suitcaseLock returns the mutex guarding sensor creation for a
// suitcase.
func (s *SensorStore) suitcaseLock(suitcaseID uint) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(suitcaseID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// FindBySerial returns the sensor with the given serial number, or
// nil when none exists.
func (s *SensorStore) FindBySerial(ctx context.Context, serial string) (*Sensor, error) {
	var sensor Sensor
	err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&sensor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sensor: %w", err)
	}
	return &sensor, nil
}

// FindBySerialPrefixInSuitcase returns a sensor already attached to
// the suitcase whose serial is exactly prefix plus an opaque suffix,
// or nil. Synthetic serials carry such a suffix, so re-imports of the
// same file find their sensor through this lookup. The suffix never
// contains a dash; excluding dashed remainders keeps a longer
// file-name stem sharing the prefix ("DATA-1-…" under "DATA-") from
// matching.
func (s *SensorStore) FindBySerialPrefixInSuitcase(ctx context.Context, suitcaseID uint, prefix string) (*Sensor, error) {
	var sensor Sensor
	err := s.db.WithContext(ctx).
		Joins("JOIN suitcase_sensors ON suitcase_sensors.sensor_id = sensors.id").
		Where("suitcase_sensors.suitcase_id = ?", suitcaseID).
		Where("sensors.serial_number LIKE ?", prefix+"%").
		Where("sensors.serial_number NOT LIKE ?", prefix+"%-%").
		Order("sensors.id").
		First(&sensor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sensor by prefix: %w", err)
	}
	return &sensor, nil
}

// DataConfigForSerial returns the stored column configuration JSON of
// the sensor's type, or "" when the sensor or its type is unknown.
func (s *SensorStore) DataConfigForSerial(ctx context.Context, serial string) (string, error) {
	sensor, err := s.FindBySerial(ctx, serial)
	if err != nil || sensor == nil {
		return "", err
	}

	var sensorType SensorType
	err = s.db.WithContext(ctx).First(&sensorType, sensor.SensorTypeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load sensor type: %w", err)
	}
	return sensorType.DataConfig, nil
}

// ResolveOrCreate binds a serial number to a sensor attached to the
// given suitcase, creating the SensorType, Sensor and association as
// needed. Resolving the same (serial, suitcase) pair any number of
// times yields the same sensor; the per-suitcase lock plus the unique
// serial constraint keep concurrent resolutions from duplicating it.
func (s *SensorStore) ResolveOrCreate(ctx context.Context, suitcaseID uint, serial, model string) (*Sensor, error) {
	if serial == "" {
		return nil, errors.New("serial number cannot be empty")
	}

	lock := s.suitcaseLock(suitcaseID)
	lock.Lock()
	defer lock.Unlock()

	sensor, err := s.FindBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	if sensor == nil {
		typeName := model
		if typeName == "" {
			typeName = GenericTypeName
		}

		var sensorType SensorType
		err = s.db.WithContext(ctx).
			Where(SensorType{Name: typeName}).
			Attrs(SensorType{Description: "created by telemetry import"}).
			FirstOrCreate(&sensorType).Error
		if err != nil {
			return nil, fmt.Errorf("failed to ensure sensor type: %w", err)
		}

		sensor = &Sensor{
			SerialNumber: serial,
			Model:        model,
			SensorTypeID: sensorType.ID,
		}
		// FirstOrCreate keyed on the serial: if a concurrent job on
		// another suitcase won the insert, adopt its row.
		err = s.db.WithContext(ctx).
			Where(Sensor{SerialNumber: serial}).
			Attrs(*sensor).
			FirstOrCreate(sensor).Error
		if err != nil {
			return nil, fmt.Errorf("failed to create sensor: %w", err)
		}
	}

	if err := s.attach(ctx, suitcaseID, sensor.ID); err != nil {
		return nil, err
	}

	return sensor, nil
}

// attach ensures the suitcase-sensor association exists.
func (s *SensorStore) attach(ctx context.Context, suitcaseID, sensorID uint) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&SuitcaseSensor{}).
		Where("suitcase_id = ?", suitcaseID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to count suitcase sensors: %w", err)
	}

	assoc := SuitcaseSensor{SuitcaseID: suitcaseID, SensorID: sensorID}
	err = s.db.WithContext(ctx).
		Where(SuitcaseSensor{SuitcaseID: suitcaseID, SensorID: sensorID}).
		Attrs(SuitcaseSensor{Position: int(count) + 1}).
		FirstOrCreate(&assoc).Error
	if err != nil {
		return fmt.Errorf("failed to attach sensor to suitcase: %w", err)
	}
	return nil
}

// SuitcaseStore manages suitcase rows.
type SuitcaseStore struct {
	db *gorm.DB
}

// NewSuitcaseStore creates a SuitcaseStore.
func NewSuitcaseStore(db *gorm.DB) (*SuitcaseStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &SuitcaseStore{db: db}, nil
}

// Ensure returns the suitcase with the given name, creating it when
// absent.
func (s *SuitcaseStore) Ensure(ctx context.Context, name string) (*Suitcase, error) {
	if name == "" {
		return nil, errors.New("suitcase name cannot be empty")
	}

	var suitcase Suitcase
	err := s.db.WithContext(ctx).
		Where(Suitcase{Name: name}).
		FirstOrCreate(&suitcase).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure suitcase: %w", err)
	}
	return &suitcase, nil
}

// Sensors lists the sensors attached to a suitcase in position order.
func (s *SuitcaseStore) Sensors(ctx context.Context, suitcaseID uint) ([]Sensor, error) {
	var sensors []Sensor
	err := s.db.WithContext(ctx).
		Joins("JOIN suitcase_sensors ON suitcase_sensors.sensor_id = sensors.id").
		Where("suitcase_sensors.suitcase_id = ?", suitcaseID).
		Order("suitcase_sensors.position").
		Find(&sensors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list suitcase sensors: %w", err)
	}
	return sensors, nil
}
