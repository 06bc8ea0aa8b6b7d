package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hydroforecast/apiserver/types"
)

// TankRepository handles persistence for tanks.
type TankRepository struct {
	db *sql.DB
}

func NewTankRepository(db *sql.DB) *TankRepository {
	return &TankRepository{db: db}
}

const tankColumns = `id, owner_id, name, capacity, current_level, unit, tank_type, status, alert_threshold, height_meters, created_at, updated_at`

func scanTank(row interface{ Scan(...any) error }) (types.Tank, error) {
	var tank types.Tank
	err := row.Scan(
		&tank.ID,
		&tank.OwnerID,
		&tank.Name,
		&tank.Capacity,
		&tank.CurrentLevel,
		&tank.Unit,
		&tank.Type,
		&tank.Status,
		&tank.AlertThreshold,
		&tank.HeightMeters,
		&tank.CreatedAt,
		&tank.UpdatedAt,
	)
	return tank, err
}

func (r *TankRepository) Create(ctx context.Context, tank types.Tank) (types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now()
	tank.CreatedAt = now
	tank.UpdatedAt = now

	const query = `
		INSERT INTO tanks (owner_id, name, capacity, current_level, unit, tank_type, status, alert_threshold, height_meters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		tank.OwnerID,
		tank.Name,
		tank.Capacity,
		tank.CurrentLevel,
		tank.Unit,
		tank.Type,
		tank.Status,
		tank.AlertThreshold,
		tank.HeightMeters,
		tank.CreatedAt,
		tank.UpdatedAt,
	).Scan(&tank.ID); err != nil {
		return types.Tank{}, err
	}
	return tank, nil
}

// ListByOwner returns the owner's tanks, newest first.
func (r *TankRepository) ListByOwner(ctx context.Context, ownerID int) ([]types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT ` + tankColumns + `
		FROM tanks
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tanks := make([]types.Tank, 0)
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, tank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tanks, nil
}

// ListAll returns every tank in the registry. Used by the forecast poller.
func (r *TankRepository) ListAll(ctx context.Context) ([]types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT ` + tankColumns + `
		FROM tanks
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tanks := make([]types.Tank, 0)
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, tank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tanks, nil
}

// GetByOwner fetches a tank only if it belongs to the owner. A tank owned by
// someone else yields ErrNotFound, same as a tank that does not exist.
func (r *TankRepository) GetByOwner(ctx context.Context, ownerID, id int) (types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT ` + tankColumns + `
		FROM tanks
		WHERE id = $1 AND owner_id = $2`
	tank, err := scanTank(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Tank{}, ErrNotFound
		}
		return types.Tank{}, err
	}
	return tank, nil
}

func (r *TankRepository) Update(ctx context.Context, tank types.Tank) (types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tank.UpdatedAt = time.Now()

	const query = `
		UPDATE tanks
		SET name = $1,
			capacity = $2,
			current_level = $3,
			unit = $4,
			tank_type = $5,
			status = $6,
			alert_threshold = $7,
			height_meters = $8,
			updated_at = $9
		WHERE id = $10 AND owner_id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		tank.Name,
		tank.Capacity,
		tank.CurrentLevel,
		tank.Unit,
		tank.Type,
		tank.Status,
		tank.AlertThreshold,
		tank.HeightMeters,
		tank.UpdatedAt,
		tank.ID,
		tank.OwnerID,
	)
	if err != nil {
		return types.Tank{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Tank{}, err
	}
	if affected == 0 {
		return types.Tank{}, ErrNotFound
	}
	return tank, nil
}

func (r *TankRepository) Delete(ctx context.Context, ownerID, id int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `DELETE FROM tanks WHERE id = $1 AND owner_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
