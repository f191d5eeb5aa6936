// README: Offer and reclaim DTOs returned to polling drivers.
package dispatch

import (
	"time"

	"relay/internal/types"
)

// Offer is a time-boxed claim on an order presented to a single driver.
type Offer struct {
	OrderID           types.ID    `json:"order_id"`
	StoreID           types.ID    `json:"store_id"`
	StoreName         string      `json:"store_name"`
	TotalPrice        float64     `json:"total_price"`
	DistanceToStore   float64     `json:"distance_to_store"`
	EstimatedEarnings float64     `json:"estimated_earnings"`
	ExpiresAt         time.Time   `json:"expires_at"`
	RemainingSeconds  int         `json:"remaining_seconds"`
	StoreLocation     types.Point `json:"store_location"`
	CustomerLocation  types.Point `json:"customer_location"`
	CustomerAddress   string      `json:"customer_address"`
	// PickupETA is best-effort travel-time enrichment; empty when no
	// route service is configured or the lookup fails.
	PickupETA string `json:"pickup_eta,omitempty"`
}

// Reclaimable is a previously skipped order the driver may claim
// directly, bypassing proximity ranking.
type Reclaimable struct {
	OrderID           types.ID    `json:"order_id"`
	StoreID           types.ID    `json:"store_id"`
	StoreName         string      `json:"store_name"`
	TotalPrice        float64     `json:"total_price"`
	DistanceToStore   float64     `json:"distance_to_store"`
	EstimatedEarnings float64     `json:"estimated_earnings"`
	StoreLocation     types.Point `json:"store_location"`
}
