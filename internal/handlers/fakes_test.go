package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hydroforecast/apiserver/internal/handlers"
	"github.com/hydroforecast/apiserver/internal/observability"
	"github.com/hydroforecast/apiserver/internal/services"
	"github.com/hydroforecast/apiserver/internal/session"
	"github.com/hydroforecast/apiserver/internal/store"
	"github.com/hydroforecast/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory stand-in for the postgres repositories, shared by
// the user, tank, and tank-log services so handler tests exercise the full
// stack below the router.
type memStore struct {
	mu         sync.Mutex
	users      map[int]types.User
	tanks      map[int]types.Tank
	logs       map[int][]types.TankLog
	nextUserID int
	nextTankID int
	nextLogID  int
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int]types.User),
		tanks: make(map[int]types.Tank),
		logs:  make(map[int][]types.TankLog),
	}
}

// --- user repository ---

func (s *memStore) GetByID(_ context.Context, id int) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *memStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *memStore) Create(_ context.Context, user types.User) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = user
	return user, nil
}

// --- tank repository ---

type memTankRepo struct{ *memStore }

func (s memTankRepo) Create(_ context.Context, tank types.Tank) (types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTankID++
	tank.ID = s.nextTankID
	tank.CreatedAt = time.Now()
	tank.UpdatedAt = tank.CreatedAt
	s.tanks[tank.ID] = tank
	return tank, nil
}

func (s memTankRepo) ListByOwner(_ context.Context, ownerID int) ([]types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Tank, 0)
	for _, tank := range s.tanks {
		if tank.OwnerID == ownerID {
			out = append(out, tank)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s memTankRepo) ListAll(_ context.Context) ([]types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Tank, 0, len(s.tanks))
	for _, tank := range s.tanks {
		out = append(out, tank)
	}
	return out, nil
}

func (s memTankRepo) GetByOwner(_ context.Context, ownerID, id int) (types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tank, ok := s.tanks[id]
	if !ok || tank.OwnerID != ownerID {
		return types.Tank{}, store.ErrNotFound
	}
	return tank, nil
}

func (s memTankRepo) Update(_ context.Context, tank types.Tank) (types.Tank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tanks[tank.ID]
	if !ok || existing.OwnerID != tank.OwnerID {
		return types.Tank{}, store.ErrNotFound
	}
	tank.UpdatedAt = time.Now()
	s.tanks[tank.ID] = tank
	return tank, nil
}

func (s memTankRepo) Delete(_ context.Context, ownerID, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tank, ok := s.tanks[id]
	if !ok || tank.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.tanks, id)
	delete(s.logs, id)
	return nil
}

// --- tank log repository ---

type memLogRepo struct{ *memStore }

func (s memLogRepo) Append(_ context.Context, tankID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
	return s.append(tankID, 0, build)
}

func (s memLogRepo) AppendForOwner(_ context.Context, tankID, ownerID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
	return s.append(tankID, ownerID, build)
}

func (s memLogRepo) append(tankID, ownerID int, build store.BuildLogFunc) (types.TankLog, types.Tank, error) {
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
	s.nextLogID++
	log.ID = s.nextLogID
	log.TankID = tankID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	s.logs[tankID] = append(s.logs[tankID], log)

	tank.CurrentLevel = log.CurrentLevel
	s.tanks[tankID] = tank
	return log, tank, nil
}

func (s memLogRepo) ListByTank(_ context.Context, tankID int, filter store.LogFilter) ([]types.TankLog, int, error) {
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
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

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

func (s memLogRepo) DeleteByTank(_ context.Context, tankID int) ([]types.TankLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.logs[tankID]
	delete(s.logs, tankID)
	return removed, nil
}

func (s memLogRepo) Delete(_ context.Context, logID, ownerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tankID, logs := range s.logs {
		for i, log := range logs {
			if log.ID == logID {
				if s.tanks[tankID].OwnerID != ownerID {
					return store.ErrNotFound
				}
				s.logs[tankID] = append(logs[:i], logs[i+1:]...)
				return nil
			}
		}
	}
	return store.ErrNotFound
}

// --- test app ---

type testApp struct {
	router http.Handler
	store  *memStore
	issuer *session.Issuer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mem := newMemStore()
	issuer := session.NewIssuer("test-secret", time.Hour)

	userService := services.NewUserService(mem)
	tankService := services.NewTankService(memTankRepo{mem}, 3)
	logService := services.NewTankLogService(
		memLogRepo{mem},
		memTankRepo{mem},
		nil,
		nil,
		observability.NewMetricsForTesting(),
		slog.Default(),
	)

	authMiddleware := handlers.RequireAuth(issuer)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, issuer)
	})
	router.Route("/tanks", func(r chi.Router) {
		handlers.TankRouter(r, tankService, authMiddleware)
	})
	router.Route("/tanklogs", func(r chi.Router) {
		handlers.TankLogRouter(r, logService, authMiddleware)
	})

	return &testApp{router: router, store: mem, issuer: issuer}
}

// seedUser creates a user directly in the store and returns it with a valid
// session token.
func (a *testApp) seedUser(t *testing.T, email string) (types.User, string) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("swordfish123"), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := a.store.Create(context.Background(), types.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hashed),
	})
	require.NoError(t, err)

	token, err := a.issuer.Issue(user.ID)
	require.NoError(t, err)
	return user, token
}

func (a *testApp) seedTank(t *testing.T, ownerID int, name string) types.Tank {
	t.Helper()

	tank, err := memTankRepo{a.store}.Create(context.Background(), types.Tank{
		OwnerID:        ownerID,
		Name:           name,
		Capacity:       1000,
		CurrentLevel:   500,
		Unit:           types.UnitLiters,
		Type:           types.TankRainwater,
		Status:         types.StatusActive,
		AlertThreshold: 20,
		HeightMeters:   3,
	})
	require.NoError(t, err)
	return tank
}

// do performs a request against the test router. A non-empty token is sent as
// a bearer header.
func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}
