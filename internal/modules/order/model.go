// README: Order aggregate, status definitions, and offer/skip-list helpers.
package order

import (
	"encoding/json"
	"time"

	"relay/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// DeliveryStandard is the only tier the dispatch flow serves; express
// tiers are routed elsewhere.
const DeliveryStandard = "Standard"

type Order struct {
	ID              types.ID
	UserID          types.ID
	StoreID         types.ID
	TotalPrice      float64
	Status          Status
	DeliveryOption  string
	ShippingAddress string

	// DriverID is set exactly once by a successful assignment.
	DriverID types.ID

	// The single live offer: both fields null or both set.
	CurrentOfferDriverID types.ID
	OfferExpiresAt       *time.Time

	// SkippedDriverIDs grows until every nearby driver has skipped, at
	// which point the matcher resets it.
	SkippedDriverIDs []string

	PickedUpAt  *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Joined read-only fields from the store/customer records.
	StoreName        string
	StorePhone       string
	StoreLocation    types.Point
	CustomerLocation types.Point
	CustomerAddress  string
	CustomerName     string
	CustomerPhone    string
}

// OfferLive reports whether the order carries an unexpired offer.
func (o *Order) OfferLive(now time.Time) bool {
	return o.CurrentOfferDriverID != "" && o.OfferExpiresAt != nil && o.OfferExpiresAt.After(now)
}

// OfferLiveFor reports whether the order carries an unexpired offer held
// by the given driver.
func (o *Order) OfferLiveFor(uid types.ID, now time.Time) bool {
	return o.OfferLive(now) && o.CurrentOfferDriverID == uid
}

// HasSkipped reports whether the driver is in the order's skip list.
func (o *Order) HasSkipped(uid types.ID) bool {
	for _, s := range o.SkippedDriverIDs {
		if s == string(uid) {
			return true
		}
	}
	return false
}

// DecodeSkipList parses the persisted skip list. Malformed data decodes
// as an empty list so a bad row can never fail a poll; ok is false in
// that case so the caller can log it.
func DecodeSkipList(raw []byte) (ids []string, ok bool) {
	if len(raw) == 0 {
		return nil, true
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// HistoryFilter narrows completed-delivery listings.
type HistoryFilter struct {
	Month int
	Year  int
	Page  int
	Limit int
}

type History struct {
	Orders     []Completed
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// Completed is one row of a driver's delivery history.
type Completed struct {
	ID              types.ID
	StoreID         types.ID
	StoreName       string
	CustomerName    string
	TotalPrice      float64
	ShippingAddress string
	DeliveredAt     time.Time
	CreatedAt       time.Time
}

// NearbyOrder is an unassigned order within radius of a point.
type NearbyOrder struct {
	ID               types.ID
	StoreID          types.ID
	StoreName        string
	TotalPrice       float64
	ShippingAddress  string
	StoreLocation    types.Point
	CustomerLocation types.Point
	Distance         float64
}
