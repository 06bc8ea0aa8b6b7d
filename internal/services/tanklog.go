package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydroforecast/apiserver/internal/observability"
	"github.com/hydroforecast/apiserver/internal/store"
	"github.com/hydroforecast/apiserver/types"
)

// TankLogRepository defines persistence operations for tank logs. Append
// variants insert the log and refresh the owning tank's cached level as one
// atomic unit.
type TankLogRepository interface {
	Append(ctx context.Context, tankID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error)
	AppendForOwner(ctx context.Context, tankID, ownerID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error)
	ListByTank(ctx context.Context, tankID int, filter store.LogFilter) ([]types.TankLog, int, error)
	DeleteByTank(ctx context.Context, tankID int) ([]types.TankLog, error)
	Delete(ctx context.Context, logID, ownerID int) error
}

// TankReader is the slice of the tank registry the ingestion pipeline needs
// for owner-scoped lookups.
type TankReader interface {
	GetByOwner(ctx context.Context, ownerID, id int) (types.Tank, error)
}

// Alerter publishes low-level alerts. Implementations are best-effort.
type Alerter interface {
	Notify(ctx context.Context, alert types.LowLevelAlert) error
}

// LogArchiver stores cleared logs in an external archive.
type LogArchiver interface {
	ArchiveLogs(ctx context.Context, tankID int, logs []types.TankLog) (string, error)
}

// LogInput carries a direct-mode submission: the caller supplies the level.
type LogInput struct {
	TankID       int
	CurrentLevel float64
	Rainfall     float64
	Usage        float64
	Notes        string
	LogType      string
}

// ReadingInput carries a derived-mode submission: the caller supplies a raw
// sensor distance reading, converted to a volume using the tank's geometry.
type ReadingInput struct {
	TankID     int
	RawReading float64
	Rainfall   float64
	Usage      float64
	Notes      string
}

// Derivation records the intermediate values of a sensor-reading conversion
// so clients can audit the computed volume.
type Derivation struct {
	DistanceFromTop float64 `json:"distanceFromTop"`
	WaterHeight     float64 `json:"waterHeight"`
	TankCapacity    float64 `json:"tankCapacity"`
	WaterVolume     float64 `json:"waterVolume"`
}

// TankLogService implements the log ingestion pipeline: validation, volume
// derivation, the atomic append, threshold alerting, and clear/archive.
type TankLogService struct {
	logs     TankLogRepository
	tanks    TankReader
	alerter  Alerter
	archiver LogArchiver
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewTankLogService(
	logs TankLogRepository,
	tanks TankReader,
	alerter Alerter,
	archiver LogArchiver,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *TankLogService {
	return &TankLogService{
		logs:     logs,
		tanks:    tanks,
		alerter:  alerter,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
	}
}

// Ingest appends a direct-mode log submitted by userID and refreshes the
// tank's cached level. After ingestion tank.CurrentLevel equals the new
// log's CurrentLevel.
func (s *TankLogService) Ingest(ctx context.Context, userID int, in LogInput) (types.TankLog, error) {
	if err := validateLogInput(in.CurrentLevel, in.Rainfall, in.Usage); err != nil {
		return types.TankLog{}, err
	}
	logType := types.LogType(in.LogType)
	if logType == "" {
		logType = types.LogManual
	}
	if !logType.Valid() {
		return types.TankLog{}, fmt.Errorf("%w: unsupported log type %q", ErrInvalidInput, in.LogType)
	}

	start := time.Now()
	log, tank, err := s.logs.AppendForOwner(ctx, in.TankID, userID, func(types.Tank) (types.TankLog, error) {
		return types.TankLog{
			UserID:       userID,
			CurrentLevel: in.CurrentLevel,
			Rainfall:     in.Rainfall,
			Usage:        in.Usage,
			Notes:        in.Notes,
			LogType:      logType,
		}, nil
	})
	if err != nil {
		s.metrics.IngestErrors.Inc()
		return types.TankLog{}, err
	}
	s.observeIngest("direct", start)
	s.checkThreshold(ctx, tank, log)
	return log, nil
}

// IngestReading converts a raw sensor distance reading into a volume and
// appends the resulting automated log. The sensor reports distance from the
// top of the tank in centimeters; a reading deeper than the tank's height
// clamps the water height at zero rather than going negative.
func (s *TankLogService) IngestReading(ctx context.Context, userID int, in ReadingInput) (types.TankLog, Derivation, error) {
	if err := validateLogInput(in.RawReading, in.Rainfall, in.Usage); err != nil {
		return types.TankLog{}, Derivation{}, err
	}

	var derivation Derivation
	start := time.Now()
	log, tank, err := s.logs.AppendForOwner(ctx, in.TankID, userID, func(tank types.Tank) (types.TankLog, error) {
		derivation = deriveVolume(tank, in.RawReading)
		return types.TankLog{
			UserID:       userID,
			CurrentLevel: derivation.WaterVolume,
			Rainfall:     in.Rainfall,
			Usage:        in.Usage,
			Notes:        in.Notes,
			LogType:      types.LogAutomated,
		}, nil
	})
	if err != nil {
		s.metrics.IngestErrors.Inc()
		return types.TankLog{}, Derivation{}, err
	}
	s.observeIngest("derived", start)
	s.checkThreshold(ctx, tank, log)
	return log, derivation, nil
}

// ApplyPrecipitation appends a forecast-driven log for one tank: the rainfall
// contribution is proportional to capacity and the new level is clamped at
// capacity. The log is backdated to the upstream observation time. Called by
// the forecast poller, so it is not owner-scoped.
func (s *TankLogService) ApplyPrecipitation(ctx context.Context, tankID int, precipitation float64, observedAt time.Time) (types.TankLog, error) {
	if precipitation <= 0 {
		return types.TankLog{}, fmt.Errorf("%w: precipitation must be positive", ErrInvalidInput)
	}

	start := time.Now()
	log, tank, err := s.logs.Append(ctx, tankID, func(tank types.Tank) (types.TankLog, error) {
		contribution := (precipitation / 10) * (tank.Capacity * 0.1)
		newLevel := tank.CurrentLevel + contribution
		if newLevel > tank.Capacity {
			newLevel = tank.Capacity
		}
		return types.TankLog{
			CurrentLevel: newLevel,
			Rainfall:     precipitation,
			Usage:        0,
			Notes:        "rainfall forecast",
			LogType:      types.LogAutomated,
			CreatedAt:    observedAt,
		}, nil
	})
	if err != nil {
		s.metrics.IngestErrors.Inc()
		return types.TankLog{}, err
	}
	s.observeIngest("forecast", start)
	s.checkThreshold(ctx, tank, log)
	return log, nil
}

// List returns a page of a tank's logs, newest first, plus the total count.
// The tank must belong to ownerID.
func (s *TankLogService) List(ctx context.Context, ownerID, tankID int, filter store.LogFilter) ([]types.TankLog, int, error) {
	if _, err := s.tanks.GetByOwner(ctx, ownerID, tankID); err != nil {
		return nil, 0, err
	}
	return s.logs.ListByTank(ctx, tankID, filter)
}

// Clear removes all logs for an owner's tank and returns the removed count.
// The tank's cached current_level is deliberately left untouched: the cache
// keeps the last physical reading even when its history is gone. When an
// archiver is configured the removed logs are written to it best-effort.
func (s *TankLogService) Clear(ctx context.Context, ownerID, tankID int) (int, error) {
	if _, err := s.tanks.GetByOwner(ctx, ownerID, tankID); err != nil {
		return 0, err
	}

	removed, err := s.logs.DeleteByTank(ctx, tankID)
	if err != nil {
		return 0, err
	}

	if s.archiver != nil && len(removed) > 0 {
		key, err := s.archiver.ArchiveLogs(ctx, tankID, removed)
		if err != nil {
			s.metrics.ArchiveErrors.Inc()
			s.logger.Warn("failed to archive cleared logs", "tank_id", tankID, "count", len(removed), "error", err)
		} else {
			s.metrics.LogsArchived.Add(float64(len(removed)))
			s.logger.Info("archived cleared logs", "tank_id", tankID, "count", len(removed), "key", key)
		}
	}

	return len(removed), nil
}

// DeleteLog removes a single log, scoped through the owning tank's owner.
func (s *TankLogService) DeleteLog(ctx context.Context, ownerID, logID int) error {
	return s.logs.Delete(ctx, logID, ownerID)
}

func (s *TankLogService) observeIngest(mode string, start time.Time) {
	s.metrics.LogsIngested.WithLabelValues(mode).Inc()
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
}

// checkThreshold publishes a low-level alert when the reading leaves the tank
// at or below its alert threshold. Publishing is best-effort.
func (s *TankLogService) checkThreshold(ctx context.Context, tank types.Tank, log types.TankLog) {
	if s.alerter == nil || tank.AlertThreshold <= 0 {
		return
	}
	if tank.CurrentLevel > tank.Capacity*tank.AlertThreshold/100 {
		return
	}

	alert := types.LowLevelAlert{
		TankID:       tank.ID,
		TankName:     tank.Name,
		OwnerID:      tank.OwnerID,
		CurrentLevel: tank.CurrentLevel,
		Capacity:     tank.Capacity,
		Threshold:    tank.AlertThreshold,
		Unit:         tank.Unit,
		ObservedAt:   log.CreatedAt,
	}
	if err := s.alerter.Notify(ctx, alert); err != nil {
		s.metrics.AlertErrors.Inc()
		s.logger.Warn("failed to publish low-level alert", "tank_id", tank.ID, "error", err)
		return
	}
	s.metrics.AlertsPublished.Inc()
}

func deriveVolume(tank types.Tank, rawReading float64) Derivation {
	distanceFromTop := rawReading / 100
	waterHeight := tank.HeightMeters - distanceFromTop
	if waterHeight < 0 {
		waterHeight = 0
	}
	return Derivation{
		DistanceFromTop: distanceFromTop,
		WaterHeight:     waterHeight,
		TankCapacity:    tank.Capacity,
		WaterVolume:     (waterHeight / tank.HeightMeters) * tank.Capacity,
	}
}

func validateLogInput(level, rainfall, usage float64) error {
	if level < 0 {
		return fmt.Errorf("%w: current level cannot be negative", ErrInvalidInput)
	}
	if rainfall < 0 {
		return fmt.Errorf("%w: rainfall cannot be negative", ErrInvalidInput)
	}
	if usage < 0 {
		return fmt.Errorf("%w: usage cannot be negative", ErrInvalidInput)
	}
	return nil
}
