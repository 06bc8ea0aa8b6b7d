package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hydroforecast/apiserver/types"
)

// BuildLogFunc produces the log entry to append for a tank. It runs inside
// the append transaction with the tank row locked, so the Tank it receives is
// the current committed state and cannot change until the transaction ends.
type BuildLogFunc func(tank types.Tank) (types.TankLog, error)

// LogFilter narrows and pages a tank's log listing.
type LogFilter struct {
	Start *time.Time
	End   *time.Time
	Limit int
	Skip  int
}

// TankLogRepository handles persistence for tank logs and keeps the owning
// tank's cached current_level consistent with the newest log.
type TankLogRepository struct {
	db *sql.DB
}

func NewTankLogRepository(db *sql.DB) *TankLogRepository {
	return &TankLogRepository{db: db}
}

// Append inserts the log built by build and updates the tank's cached level
// in one transaction. The tank row is locked FOR UPDATE for the duration, so
// concurrent appends for the same tank serialize instead of losing updates.
func (r *TankLogRepository) Append(ctx context.Context, tankID int, build BuildLogFunc) (types.TankLog, types.Tank, error) {
	return r.append(ctx, tankID, 0, build)
}

// AppendForOwner is Append scoped to an owner: a tank that does not exist and
// a tank owned by someone else both yield ErrNotFound.
func (r *TankLogRepository) AppendForOwner(ctx context.Context, tankID, ownerID int, build BuildLogFunc) (types.TankLog, types.Tank, error) {
	return r.append(ctx, tankID, ownerID, build)
}

func (r *TankLogRepository) append(ctx context.Context, tankID, ownerID int, build BuildLogFunc) (types.TankLog, types.Tank, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.TankLog{}, types.Tank{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	lockQuery := `
		SELECT ` + tankColumns + `
		FROM tanks
		WHERE id = $1
		FOR UPDATE`
	args := []any{tankID}
	if ownerID > 0 {
		lockQuery = `
		SELECT ` + tankColumns + `
		FROM tanks
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE`
		args = append(args, ownerID)
	}

	tank, err := scanTank(tx.QueryRowContext(ctx, lockQuery, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TankLog{}, types.Tank{}, ErrNotFound
		}
		return types.TankLog{}, types.Tank{}, err
	}

	log, err := build(tank)
	if err != nil {
		return types.TankLog{}, types.Tank{}, err
	}
	log.TankID = tank.ID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	userID := sql.NullInt64{Int64: int64(log.UserID), Valid: log.UserID > 0}

	const insertQuery = `
		INSERT INTO tank_logs (tank_id, user_id, current_level, rainfall, usage, notes, log_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		log.TankID,
		userID,
		log.CurrentLevel,
		log.Rainfall,
		log.Usage,
		log.Notes,
		log.LogType,
		log.CreatedAt,
	).Scan(&log.ID); err != nil {
		return types.TankLog{}, types.Tank{}, err
	}

	now := time.Now()
	const updateQuery = `
		UPDATE tanks
		SET current_level = $1, updated_at = $2
		WHERE id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, log.CurrentLevel, now, tank.ID); err != nil {
		return types.TankLog{}, types.Tank{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.TankLog{}, types.Tank{}, err
	}

	tank.CurrentLevel = log.CurrentLevel
	tank.UpdatedAt = now
	return log, tank, nil
}

// ListByTank returns a page of a tank's logs, newest first, plus the total
// count of logs matching the filter irrespective of pagination.
func (r *TankLogRepository) ListByTank(ctx context.Context, tankID int, filter LogFilter) ([]types.TankLog, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}

	where := `tank_id = $1`
	args := []any{tankID}
	if filter.Start != nil {
		args = append(args, *filter.Start)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if filter.End != nil {
		args = append(args, *filter.End)
		where += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}

	var total int
	countQuery := `SELECT COUNT(1) FROM tank_logs WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`
		SELECT id, tank_id, user_id, current_level, rainfall, usage, notes, log_type, created_at
		FROM tank_logs
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Skip)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]types.TankLog, 0, filter.Limit)
	for rows.Next() {
		log, err := scanTankLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// DeleteByTank removes every log for the tank and returns the removed rows so
// the caller can archive them. The tank's cached current_level is left as-is.
func (r *TankLogRepository) DeleteByTank(ctx context.Context, tankID int) ([]types.TankLog, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		DELETE FROM tank_logs
		WHERE tank_id = $1
		RETURNING id, tank_id, user_id, current_level, rainfall, usage, notes, log_type, created_at`
	rows, err := r.db.QueryContext(ctx, query, tankID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]types.TankLog, 0)
	for rows.Next() {
		log, err := scanTankLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// Delete removes one log, scoped through the owning tank's owner.
func (r *TankLogRepository) Delete(ctx context.Context, logID, ownerID int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
		DELETE FROM tank_logs
		USING tanks
		WHERE tank_logs.id = $1
		  AND tanks.id = tank_logs.tank_id
		  AND tanks.owner_id = $2`
	result, err := r.db.ExecContext(ctx, query, logID, ownerID)
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

func scanTankLog(row interface{ Scan(...any) error }) (types.TankLog, error) {
	var log types.TankLog
	var userID sql.NullInt64
	err := row.Scan(
		&log.ID,
		&log.TankID,
		&userID,
		&log.CurrentLevel,
		&log.Rainfall,
		&log.Usage,
		&log.Notes,
		&log.LogType,
		&log.CreatedAt,
	)
	if userID.Valid {
		log.UserID = int(userID.Int64)
	}
	return log, err
}
