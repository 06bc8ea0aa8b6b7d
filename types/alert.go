package types

import "time"

// LowLevelAlert is the event published when an ingested reading leaves a
// tank's level at or below its alert threshold.
type LowLevelAlert struct {
	TankID       int       `json:"tank_id"`
	TankName     string    `json:"tank_name"`
	OwnerID      int       `json:"owner_id"`
	CurrentLevel float64   `json:"current_level"`
	Capacity     float64   `json:"capacity"`
	Threshold    float64   `json:"threshold"`
	Unit         TankUnit  `json:"unit"`
	ObservedAt   time.Time `json:"observed_at"`
}
