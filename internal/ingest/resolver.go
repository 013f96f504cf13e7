package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"procodus.dev/telemetry-import/internal/store"
)

// Serial numbers embedded in export file names look like
// "EF7216103539": a short letter prefix followed by a long digit run.
// A bare long digit run is accepted as a fallback.
var (
	serialPattern  = regexp.MustCompile(`(?i)([A-Z]{2,4}[0-9]{8,12})`)
	numericPattern = regexp.MustCompile(`([0-9]{8,14})`)
)

// ResolverConfig holds the configuration for the SensorResolver.
type ResolverConfig struct {
	Logger *slog.Logger
	// Sensors performs the find-or-create persistence work.
	Sensors *store.SensorStore
	// SuitcaseID is the target suitcase; zero means no suitcase, in
	// which case only an already existing sensor can be resolved.
	SuitcaseID uint
	// ExplicitSerial is a caller-supplied sensor identifier and wins
	// over everything extracted from the file.
	ExplicitSerial string
}

// SensorResolver binds an import job to exactly one sensor before any
// row is written.
type SensorResolver struct {
	cfg ResolverConfig
}

// NewSensorResolver creates a SensorResolver.
func NewSensorResolver(cfg ResolverConfig) (*SensorResolver, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Sensors == nil {
		return nil, errors.New("sensor store cannot be nil")
	}
	return &SensorResolver{cfg: cfg}, nil
}

// Resolve determines the sensor for a file. Serial priority: explicit
// caller value, then the workbook summary cell, then a serial pattern
// in the file name, then a synthetic serial (suitcase imports only).
// Resolution is idempotent: the same (file, suitcase) pair always
// yields the same sensor.
func (r *SensorResolver) Resolve(ctx context.Context, fileName string, meta SourceMeta) (*store.Sensor, error) {
	serial, synthetic := r.extractSerial(fileName, meta)

	if r.cfg.SuitcaseID == 0 {
		if serial == "" || synthetic {
			return nil, errors.New("no suitcase specified and no sensor serial discoverable")
		}
		sensor, err := r.cfg.Sensors.FindBySerial(ctx, serial)
		if err != nil {
			return nil, err
		}
		if sensor == nil {
			return nil, fmt.Errorf("no suitcase specified and sensor %q does not exist", serial)
		}
		return sensor, nil
	}

	if serial == "" {
		return nil, errors.New("no sensor serial discoverable")
	}

	// A synthetic serial is minted per import, so before creating one
	// we look for a sensor from a previous run of the same file:
	// same suitcase, same file-name prefix.
	if synthetic {
		prefix := serial[:strings.LastIndex(serial, "-")+1]
		existing, err := r.cfg.Sensors.FindBySerialPrefixInSuitcase(ctx, r.cfg.SuitcaseID, prefix)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			r.cfg.Logger.Info("reusing synthetic sensor",
				"serial", existing.SerialNumber,
				"sensor_id", existing.ID,
			)
			return existing, nil
		}
	}

	r.cfg.Logger.Debug("resolving sensor",
		"serial", serial,
		"suitcase_id", r.cfg.SuitcaseID,
		"synthetic", synthetic,
	)

	sensor, err := r.cfg.Sensors.ResolveOrCreate(ctx, r.cfg.SuitcaseID, serial, meta.Model)
	if err != nil {
		return nil, err
	}

	r.cfg.Logger.Info("sensor resolved",
		"serial", sensor.SerialNumber,
		"sensor_id", sensor.ID,
	)
	return sensor, nil
}

// extractSerial walks the serial priority chain. synthetic reports
// whether the serial was generated rather than discovered.
func (r *SensorResolver) extractSerial(fileName string, meta SourceMeta) (serial string, synthetic bool) {
	if s := strings.TrimSpace(r.cfg.ExplicitSerial); s != "" {
		return s, false
	}
	if s := strings.TrimSpace(meta.SerialNumber); s != "" {
		return s, false
	}

	base := filepath.Base(fileName)
	if m := serialPattern.FindString(base); m != "" {
		return strings.ToUpper(m), false
	}
	if m := numericPattern.FindString(base); m != "" {
		return m, false
	}

	return syntheticSerial(base), true
}

// syntheticSerial derives an opaque serial from the file name. The
// uuid suffix keeps distinct unidentifiable files from colliding; the
// same suffix is not reproducible, so synthetic sensors are created
// once and matched by suitcase membership afterwards.
func syntheticSerial(base string) string {
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
	name = strings.Trim(name, "-")
	if name == "" {
		name = "import"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return strings.ToUpper(name) + "-" + strings.ToUpper(uuid.NewString()[:8])
}
