package types

import "time"

// TankLog is an immutable, timestamped reading of a tank's fill level plus
// rainfall and usage deltas. Logs are append-only; they are never updated,
// only deleted individually or in bulk per tank.
type TankLog struct {
	// ID is the unique identifier of the log entry.
	ID int `json:"id" db:"id"`

	// TankID identifies the tank this log belongs to.
	TankID int `json:"tank_id" db:"tank_id"`

	// UserID identifies the user who submitted the reading. Zero for
	// automated entries written by the forecast poller.
	UserID int `json:"user_id,omitempty" db:"user_id"`

	// CurrentLevel is the tank's fill level at the time of the reading,
	// expressed in the tank's unit. Never negative.
	CurrentLevel float64 `json:"current_level" db:"current_level"`

	// Rainfall is the rainfall contribution recorded with this reading.
	Rainfall float64 `json:"rainfall" db:"rainfall"`

	// Usage is the consumption recorded with this reading.
	Usage float64 `json:"usage" db:"usage"`

	// Notes is a free-text annotation for the reading.
	Notes string `json:"notes" db:"notes"`

	// LogType distinguishes manual submissions from automated entries.
	LogType LogType `json:"log_type" db:"log_type"`

	// CreatedAt is the reading's timestamp. It defaults to ingestion time;
	// the forecast poller backdates it to the upstream observation time.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LogType distinguishes how a tank log entry was produced.
type LogType string

// Supported log types.
const (
	LogManual    LogType = "manual"
	LogAutomated LogType = "automated"
)

// Valid reports whether the log type is one of the supported values.
func (t LogType) Valid() bool {
	return t == LogManual || t == LogAutomated
}
