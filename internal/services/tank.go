package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/hydroforecast/apiserver/types"
)

// TankRepository defines persistence operations for tanks.
type TankRepository interface {
	Create(ctx context.Context, tank types.Tank) (types.Tank, error)
	ListByOwner(ctx context.Context, ownerID int) ([]types.Tank, error)
	ListAll(ctx context.Context) ([]types.Tank, error)
	GetByOwner(ctx context.Context, ownerID, id int) (types.Tank, error)
	Update(ctx context.Context, tank types.Tank) (types.Tank, error)
	Delete(ctx context.Context, ownerID, id int) error
}

// TankInput carries the fields accepted when registering a tank. Optional
// fields default when left empty or nil.
type TankInput struct {
	Name           string
	Capacity       float64
	CurrentLevel   float64
	Unit           string
	Type           string
	Status         string
	AlertThreshold *float64
	HeightMeters   *float64
}

// TankUpdate carries a partial update; nil fields are left unchanged.
type TankUpdate struct {
	Name           *string
	Capacity       *float64
	CurrentLevel   *float64
	Unit           *string
	Type           *string
	Status         *string
	AlertThreshold *float64
	HeightMeters   *float64
}

const defaultAlertThreshold = 20

// TankService encapsulates tank registry use-cases.
type TankService struct {
	repo          TankRepository
	defaultHeight float64
}

func NewTankService(repo TankRepository, defaultHeightMeters float64) *TankService {
	if defaultHeightMeters <= 0 {
		defaultHeightMeters = 3
	}
	return &TankService{repo: repo, defaultHeight: defaultHeightMeters}
}

// Create validates the input, applies defaults, and registers a tank owned
// by ownerID.
func (s *TankService) Create(ctx context.Context, ownerID int, in TankInput) (types.Tank, error) {
	tank := types.Tank{
		OwnerID:        ownerID,
		Name:           strings.TrimSpace(in.Name),
		Capacity:       in.Capacity,
		CurrentLevel:   in.CurrentLevel,
		Unit:           types.TankUnit(in.Unit),
		Type:           types.TankType(in.Type),
		Status:         types.TankStatus(in.Status),
		AlertThreshold: defaultAlertThreshold,
		HeightMeters:   s.defaultHeight,
	}
	if tank.Unit == "" {
		tank.Unit = types.UnitLiters
	}
	if tank.Type == "" {
		tank.Type = types.TankOther
	}
	if tank.Status == "" {
		tank.Status = types.StatusActive
	}
	if in.AlertThreshold != nil {
		tank.AlertThreshold = *in.AlertThreshold
	}
	if in.HeightMeters != nil {
		tank.HeightMeters = *in.HeightMeters
	}

	if err := validateTank(tank); err != nil {
		return types.Tank{}, err
	}
	return s.repo.Create(ctx, tank)
}

// List returns the owner's tanks, newest first.
func (s *TankService) List(ctx context.Context, ownerID int) ([]types.Tank, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListAll returns every registered tank. Used by the forecast poller.
func (s *TankService) ListAll(ctx context.Context) ([]types.Tank, error) {
	return s.repo.ListAll(ctx)
}

func (s *TankService) Get(ctx context.Context, ownerID, id int) (types.Tank, error) {
	return s.repo.GetByOwner(ctx, ownerID, id)
}

// Update applies a partial update to an owner's tank. Missing or not-owned
// tanks surface as store.ErrNotFound.
func (s *TankService) Update(ctx context.Context, ownerID, id int, in TankUpdate) (types.Tank, error) {
	tank, err := s.repo.GetByOwner(ctx, ownerID, id)
	if err != nil {
		return types.Tank{}, err
	}

	if in.Name != nil {
		tank.Name = strings.TrimSpace(*in.Name)
	}
	if in.Capacity != nil {
		tank.Capacity = *in.Capacity
	}
	if in.CurrentLevel != nil {
		tank.CurrentLevel = *in.CurrentLevel
	}
	if in.Unit != nil {
		tank.Unit = types.TankUnit(*in.Unit)
	}
	if in.Type != nil {
		tank.Type = types.TankType(*in.Type)
	}
	if in.Status != nil {
		tank.Status = types.TankStatus(*in.Status)
	}
	if in.AlertThreshold != nil {
		tank.AlertThreshold = *in.AlertThreshold
	}
	if in.HeightMeters != nil {
		tank.HeightMeters = *in.HeightMeters
	}

	if err := validateTank(tank); err != nil {
		return types.Tank{}, err
	}
	return s.repo.Update(ctx, tank)
}

func (s *TankService) Delete(ctx context.Context, ownerID, id int) error {
	return s.repo.Delete(ctx, ownerID, id)
}

func validateTank(tank types.Tank) error {
	if tank.Name == "" {
		return fmt.Errorf("%w: tank name is required", ErrInvalidInput)
	}
	if tank.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}
	if tank.CurrentLevel < 0 {
		return fmt.Errorf("%w: current level cannot be negative", ErrInvalidInput)
	}
	if !tank.Unit.Valid() {
		return fmt.Errorf("%w: unsupported unit %q", ErrInvalidInput, tank.Unit)
	}
	if !tank.Type.Valid() {
		return fmt.Errorf("%w: unsupported tank type %q", ErrInvalidInput, tank.Type)
	}
	if !tank.Status.Valid() {
		return fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, tank.Status)
	}
	if tank.AlertThreshold < 0 || tank.AlertThreshold > 100 {
		return fmt.Errorf("%w: alert threshold must be between 0 and 100", ErrInvalidInput)
	}
	if tank.HeightMeters <= 0 {
		return fmt.Errorf("%w: tank height must be positive", ErrInvalidInput)
	}
	return nil
}
