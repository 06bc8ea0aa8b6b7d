package services_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hydroforecast/apiserver/internal/observability"
	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/internal/store"
	"github.com/hydroforecast/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// fakeLogStore mirrors the repository contract: appends lock per store, run
// the build callback against current tank state, and update the tank's cached
// level together with the insert.
type fakeLogStore struct {
	mu     sync.Mutex
	tanks  map[int]types.Tank
	logs   map[int][]types.TankLog
	nextID int
}

func newFakeLogStore(tanks ...types.Tank) *fakeLogStore {
	s := &fakeLogStore{
		tanks: make(map[int]types.Tank),
		logs:  make(map[int][]types.TankLog),
	}
	for _, tank := range tanks {
		s.tanks[tank.ID] = tank
	}
	return s
}

func (s *fakeLogStore) Append(_ context.Context, tankID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
	return s.append(tankID, 0, build)
}

func (s *fakeLogStore) AppendForOwner(_ context.Context, tankID, ownerID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
	return s.append(tankID, ownerID, build)
}

func (s *fakeLogStore) append(tankID, ownerID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tank, ok := s.tanks[tankID]
	if !ok || (ownerID > 0 && tank.OwnerID != ownerID) {
		return types.TankLog{}, types.Tank{}, store.ErrNotFound
	}

	log, err := build(tank)
	if err != nil {
		return types.TankLog{}, types.Tank{}, err
	}
	s.nextID++
	log.ID = s.nextID
	log.TankID = tankID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	s.logs[tankID] = append(s.logs[tankID], log)

	tank.CurrentLevel = log.CurrentLevel
	s.tanks[tankID] = tank
	return log, tank, nil
}

func (s *fakeLogStore) ListByTank(_ context.Context, tankID int, filter store.LogFilter) ([]types.TankLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]types.TankLog, 0)
	for _, log := range s.logs[tankID] {
		if filter.Start != nil && log.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && log.CreatedAt.After(*filter.End) {
			continue
		}
		matched = append(matched, log)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	if filter.Skip >= len(matched) {
		return []types.TankLog{}, total, nil
	}
	matched = matched[filter.Skip:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *fakeLogStore) DeleteByTank(_ context.Context, tankID int) ([]types.TankLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.logs[tankID]
	delete(s.logs, tankID)
	return removed, nil
}

func (s *fakeLogStore) Delete(_ context.Context, logID, ownerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tankID, logs := range s.logs {
		tank := s.tanks[tankID]
		for i, log := range logs {
			if log.ID == logID {
				if tank.OwnerID != ownerID {
					return store.ErrNotFound
				}
				s.logs[tankID] = append(logs[:i], logs[i+1:]...)
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (s *fakeLogStore) GetByOwner(_ context.Context, ownerID, id int) (types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tank, ok := s.tanks[id]
	if !ok || tank.OwnerID != ownerID {
		return types.Tank{}, store.ErrNotFound
	}
	return tank, nil
}

func (s *fakeLogStore) tank(id int) types.Tank {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tanks[id]
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []types.LowLevelAlert
	err    error
}

func (a *fakeAlerter) Notify(_ context.Context, alert types.LowLevelAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.alerts = append(a.alerts, alert)
	return nil
}

type fakeArchiver struct {
	archived []types.TankLog
	err      error
}

func (a *fakeArchiver) ArchiveLogs(_ context.Context, _ int, logs []types.TankLog) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.archived = append(a.archived, logs...)
	return "tanklogs/test.json", nil
}

func newLogService(s *fakeLogStore, alerter services.Alerter, archiver services.LogArchiver) *services.TankLogService {
	return services.NewTankLogService(s, s, alerter, archiver, observability.NewMetricsForTesting(), slog.Default())
}

func testTank() types.Tank {
	return types.Tank{
		ID:           1,
		OwnerID:      7,
		Name:         "rooftop",
		Capacity:     1000,
		CurrentLevel: 500,
		Unit:         types.UnitLiters,
		Type:         types.TankRainwater,
		Status:       types.StatusActive,
		HeightMeters: 3,
	}
}

// --- tests ---

func TestIngest_UpdatesTankLevel(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	log, err := svc.Ingest(context.Background(), 7, services.LogInput{
		TankID:       1,
		CurrentLevel: 640,
		Rainfall:     2.5,
		Usage:        10,
		Notes:        "after refill",
	})
	require.NoError(t, err)

	assert.Equal(t, 640.0, log.CurrentLevel)
	assert.Equal(t, types.LogManual, log.LogType)
	assert.Equal(t, 7, log.UserID)
	assert.Equal(t, 640.0, s.tank(1).CurrentLevel, "tank cache must follow the newest log")
}

func TestIngest_RejectsNegativeValues(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	cases := []services.LogInput{
		{TankID: 1, CurrentLevel: -1},
		{TankID: 1, CurrentLevel: 10, Rainfall: -0.5},
		{TankID: 1, CurrentLevel: 10, Usage: -3},
	}
	for _, in := range cases {
		_, err := svc.Ingest(context.Background(), 7, in)
		assert.ErrorIs(t, err, services.ErrInvalidInput)
	}
	assert.Empty(t, s.logs[1])
}

func TestIngest_RejectsUnknownLogType(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 10, LogType: "psychic"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestIngest_NotOwnedTank(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	_, err := svc.Ingest(context.Background(), 99, services.LogInput{TankID: 1, CurrentLevel: 10})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestReading_DerivesVolume(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	// 100 cm from the top of a 3 m tank leaves 2 m of water:
	// (2/3) * 1000 liters.
	log, derivation, err := svc.IngestReading(context.Background(), 7, services.ReadingInput{
		TankID:     1,
		RawReading: 100,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, derivation.DistanceFromTop, 0.0001)
	assert.InDelta(t, 2.0, derivation.WaterHeight, 0.0001)
	assert.InDelta(t, 1000.0, derivation.TankCapacity, 0.0001)
	assert.InDelta(t, 666.67, derivation.WaterVolume, 0.01)
	assert.InDelta(t, 666.67, log.CurrentLevel, 0.01)
	assert.Equal(t, types.LogAutomated, log.LogType)
	assert.InDelta(t, 666.67, s.tank(1).CurrentLevel, 0.01)
}

func TestIngestReading_ClampsBelowTankBottom(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	// 400 cm exceeds the 3 m height; the tank reads as empty, not negative.
	log, derivation, err := svc.IngestReading(context.Background(), 7, services.ReadingInput{
		TankID:     1,
		RawReading: 400,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, derivation.WaterHeight)
	assert.Equal(t, 0.0, derivation.WaterVolume)
	assert.Equal(t, 0.0, log.CurrentLevel)
}

func TestApplyPrecipitation(t *testing.T) {
	tank := testTank()
	tank.CurrentLevel = 900
	s := newFakeLogStore(tank)
	svc := newLogService(s, nil, nil)

	observedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	log, err := svc.ApplyPrecipitation(context.Background(), 1, 5, observedAt)
	require.NoError(t, err)

	// 5 mm of rain adds (5/10) * (1000 * 0.1) = 50 liters.
	assert.Equal(t, 950.0, log.CurrentLevel)
	assert.Equal(t, 5.0, log.Rainfall)
	assert.Equal(t, types.LogAutomated, log.LogType)
	assert.Equal(t, 0, log.UserID)
	assert.True(t, log.CreatedAt.Equal(observedAt), "log must be backdated to the observation time")
	assert.Equal(t, 950.0, s.tank(1).CurrentLevel)
}

func TestApplyPrecipitation_ClampsAtCapacity(t *testing.T) {
	tank := testTank()
	tank.CurrentLevel = 980
	s := newFakeLogStore(tank)
	svc := newLogService(s, nil, nil)

	log, err := svc.ApplyPrecipitation(context.Background(), 1, 5, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, log.CurrentLevel)
}

func TestApplyPrecipitation_RejectsNonPositive(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	for _, precip := range []float64{0, -1} {
		_, err := svc.ApplyPrecipitation(context.Background(), 1, precip, time.Now())
		assert.ErrorIs(t, err, services.ErrInvalidInput)
	}
}

func TestIngest_ConcurrentAppendsDoNotLoseLogs(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(level float64) {
			defer wg.Done()
			_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: level})
			assert.NoError(t, err)
		}(float64(i + 1))
	}
	wg.Wait()

	logs, total, err := svc.List(context.Background(), 7, 1, store.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, writers, total)

	// The cached level must match whichever append committed last.
	assert.Equal(t, logs[0].CurrentLevel, s.tank(1).CurrentLevel)
}

func TestList_OtherOwnersTankIsNotFound(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	_, _, err := svc.List(context.Background(), 99, 1, store.LogFilter{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_Pagination(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	for i := 1; i <= 5; i++ {
		_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: float64(i * 10)})
		require.NoError(t, err)
	}

	logs, total, err := svc.List(context.Background(), 7, 1, store.LogFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, logs, 2)
	assert.Equal(t, 50.0, logs[0].CurrentLevel, "newest first")
	assert.Equal(t, 40.0, logs[1].CurrentLevel)

	logs, total, err = svc.List(context.Background(), 7, 1, store.LogFilter{Limit: 2, Skip: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, logs, 1)
	assert.Equal(t, 10.0, logs[0].CurrentLevel)
}

func TestClear_LeavesCachedLevelUntouched(t *testing.T) {
	s := newFakeLogStore(testTank())
	archiver := &fakeArchiver{}
	svc := newLogService(s, nil, archiver)

	for i := 0; i < 3; i++ {
		_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 700})
		require.NoError(t, err)
	}

	deleted, err := svc.Clear(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Len(t, archiver.archived, 3)
	assert.Equal(t, 700.0, s.tank(1).CurrentLevel, "clearing history must not reset the cached level")

	logs, total, err := svc.List(context.Background(), 7, 1, store.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, logs)
}

func TestClear_ArchiveFailureStillClears(t *testing.T) {
	s := newFakeLogStore(testTank())
	archiver := &fakeArchiver{err: errors.New("bucket unreachable")}
	svc := newLogService(s, nil, archiver)

	_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 700})
	require.NoError(t, err)

	deleted, err := svc.Clear(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestClear_OtherOwnersTankIsNotFound(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	_, err := svc.Clear(context.Background(), 99, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteLog_OwnerScoped(t *testing.T) {
	s := newFakeLogStore(testTank())
	svc := newLogService(s, nil, nil)

	log, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 700})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteLog(context.Background(), 99, log.ID), store.ErrNotFound)
	assert.NoError(t, svc.DeleteLog(context.Background(), 7, log.ID))
}

func TestThresholdAlert_FiresAtOrBelowThreshold(t *testing.T) {
	tank := testTank()
	tank.AlertThreshold = 20
	s := newFakeLogStore(tank)
	alerter := &fakeAlerter{}
	svc := newLogService(s, alerter, nil)

	_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 150})
	require.NoError(t, err)

	require.Len(t, alerter.alerts, 1)
	alert := alerter.alerts[0]
	assert.Equal(t, 1, alert.TankID)
	assert.Equal(t, 150.0, alert.CurrentLevel)
	assert.Equal(t, 20.0, alert.Threshold)
}

func TestThresholdAlert_QuietAboveThreshold(t *testing.T) {
	tank := testTank()
	tank.AlertThreshold = 20
	s := newFakeLogStore(tank)
	alerter := &fakeAlerter{}
	svc := newLogService(s, alerter, nil)

	_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 600})
	require.NoError(t, err)
	assert.Empty(t, alerter.alerts)
}

func TestThresholdAlert_PublishFailureDoesNotFailIngest(t *testing.T) {
	tank := testTank()
	tank.AlertThreshold = 20
	s := newFakeLogStore(tank)
	alerter := &fakeAlerter{err: errors.New("broker down")}
	svc := newLogService(s, alerter, nil)

	_, err := svc.Ingest(context.Background(), 7, services.LogInput{TankID: 1, CurrentLevel: 150})
	assert.NoError(t, err)
}
