// README: Driver account state as seen by dispatch.
package driver

import (
	"time"

	"relay/internal/types"
)

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusBanned   Status = "Banned"
)

type Driver struct {
	ID              int64
	UID             types.ID
	Name            string
	Email           string
	Phone           string
	Status          Status
	IsWorking       bool
	Latitude        *float64
	Longitude       *float64
	TotalDeliveries int
	TotalEarnings   float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Nearby is a driver candidate produced by a radius search, with the
// distance in meters from the search center.
type Nearby struct {
	UID      types.ID
	Position types.Point
	Distance float64
}

// StatsFilter narrows aggregate stats to a month and/or year of
// delivered_at. Zero values mean "all time".
type StatsFilter struct {
	Month int
	Year  int
}

type Stats struct {
	Driver          Driver
	TotalDeliveries int
	TotalEarnings   float64
	AvgOrderValue   float64
	DeliveriesToday int
	EarningsToday   float64
	Period          string
}
