package types

import "time"

// Tank represents a monitored water storage unit owned by a single user.
// CurrentLevel is a derived cache of the most recent TankLog for the tank,
// not an independent source of truth; every writer that appends a log must
// update it in the same transaction.
type Tank struct {
	// ID is the unique identifier of the tank.
	ID int `json:"id" db:"id"`

	// OwnerID identifies the user who owns this tank. A tank is owned by
	// exactly one user, and all read/write operations are scoped to the owner.
	OwnerID int `json:"owner_id" db:"owner_id"`

	// Name is the human-readable name of the tank.
	Name string `json:"name" db:"name"`

	// Capacity is the total volume the tank can hold, expressed in Unit.
	// Always positive.
	Capacity float64 `json:"capacity" db:"capacity"`

	// CurrentLevel is the cached fill level of the tank, expressed in Unit.
	// It mirrors the CurrentLevel of the newest TankLog referencing this tank.
	CurrentLevel float64 `json:"current_level" db:"current_level"`

	// Unit is the volume unit of Capacity and CurrentLevel.
	Unit TankUnit `json:"unit" db:"unit"`

	// Type categorizes the water source feeding the tank.
	Type TankType `json:"type" db:"tank_type"`

	// Status indicates whether the tank is actively monitored.
	Status TankStatus `json:"status" db:"status"`

	// AlertThreshold is the fill percentage (0-100) at or below which a
	// low-level alert is raised for the tank.
	AlertThreshold float64 `json:"alert_threshold" db:"alert_threshold"`

	// HeightMeters is the physical height of the tank in meters, used to
	// convert raw sensor distance readings into a volume.
	HeightMeters float64 `json:"height_meters" db:"height_meters"`

	// CreatedAt is the timestamp at which the tank was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent mutation of the tank,
	// including cache refreshes performed by log ingestion.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TankUnit is the unit of volume for a tank's capacity and level.
type TankUnit string

// Supported volume units.
const (
	UnitLiters      TankUnit = "liters"
	UnitGallons     TankUnit = "gallons"
	UnitCubicMeters TankUnit = "cubic_meters"
)

// Valid reports whether the unit is one of the supported values.
func (u TankUnit) Valid() bool {
	switch u {
	case UnitLiters, UnitGallons, UnitCubicMeters:
		return true
	}
	return false
}

// TankType categorizes the water source feeding a tank.
type TankType string

// Supported tank types.
const (
	TankRainwater   TankType = "rainwater"
	TankGroundwater TankType = "groundwater"
	TankReservoir   TankType = "reservoir"
	TankOther       TankType = "other"
)

// Valid reports whether the type is one of the supported values.
func (t TankType) Valid() bool {
	switch t {
	case TankRainwater, TankGroundwater, TankReservoir, TankOther:
		return true
	}
	return false
}

// TankStatus indicates whether a tank is actively monitored.
type TankStatus string

// Supported tank statuses.
const (
	StatusActive      TankStatus = "active"
	StatusInactive    TankStatus = "inactive"
	StatusMaintenance TankStatus = "maintenance"
)

// Valid reports whether the status is one of the supported values.
func (s TankStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusMaintenance:
		return true
	}
	return false
}
