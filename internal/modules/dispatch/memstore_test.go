// README: In-memory store fakes mirroring the conditional-update semantics
// of the SQL stores, so the matching and lifecycle logic can be tested
// without a database.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay/internal/modules/driver"
	"relay/internal/modules/geo"
	"relay/internal/modules/order"
	"relay/internal/types"
)

// ---------------------------------------------------------------------------
// Order store fake
// ---------------------------------------------------------------------------

type memOrders struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
	resets int
}

func newMemOrders(orders ...*order.Order) *memOrders {
	m := &memOrders{orders: make(map[types.ID]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	if o.OfferExpiresAt != nil {
		t := *o.OfferExpiresAt
		cp.OfferExpiresAt = &t
	}
	cp.SkippedDriverIDs = append([]string(nil), o.SkippedDriverIDs...)
	return &cp
}

// snapshot returns a copy of the stored row for assertions.
func (m *memOrders) snapshot(id types.ID) order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *copyOrder(m.orders[id])
}

func (m *memOrders) PendingForAssignment(ctx context.Context) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.Status != order.StatusConfirmed || o.DriverID != "" {
			continue
		}
		if o.DeliveryOption != "" && o.DeliveryOption != order.DeliveryStandard {
			continue
		}
		out = append(out, *copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memOrders) FindByID(ctx context.Context, id types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *memOrders) ActiveByDriver(ctx context.Context, uid types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active *order.Order
	for _, o := range m.orders {
		if o.DriverID != uid {
			continue
		}
		if o.Status != order.StatusConfirmed && o.Status != order.StatusShipped {
			continue
		}
		if active == nil || o.UpdatedAt.After(active.UpdatedAt) {
			active = o
		}
	}
	if active == nil {
		return nil, nil
	}
	return copyOrder(active), nil
}

func (m *memOrders) SetOffer(ctx context.Context, id, uid types.ID, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.CurrentOfferDriverID = uid
		t := expiresAt
		o.OfferExpiresAt = &t
	}
	return nil
}

func (m *memOrders) ClearOffer(ctx context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.CurrentOfferDriverID = ""
		o.OfferExpiresAt = nil
	}
	return nil
}

func (m *memOrders) AddSkippedDriver(ctx context.Context, id, uid types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	if !o.HasSkipped(uid) {
		o.SkippedDriverIDs = append(o.SkippedDriverIDs, string(uid))
	}
	o.CurrentOfferDriverID = ""
	o.OfferExpiresAt = nil
	return nil
}

func (m *memOrders) ResetSkippedDrivers(ctx context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.SkippedDriverIDs = nil
		m.resets++
	}
	return nil
}

func (m *memOrders) AssignDriver(ctx context.Context, id, uid types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DriverID != "" || o.Status != order.StatusConfirmed {
		return false, nil
	}
	o.DriverID = uid
	o.CurrentOfferDriverID = ""
	o.OfferExpiresAt = nil
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *memOrders) MarkPickedUp(ctx context.Context, id, uid types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DriverID != uid || o.Status != order.StatusConfirmed {
		return false, nil
	}
	now := time.Now()
	o.Status = order.StatusShipped
	o.PickedUpAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *memOrders) MarkDelivered(ctx context.Context, id, uid types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DriverID != uid || o.Status != order.StatusShipped {
		return false, nil
	}
	now := time.Now()
	o.Status = order.StatusDelivered
	o.DeliveredAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (m *memOrders) CompletedByDriver(ctx context.Context, uid types.ID, f order.HistoryFilter) (*order.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []order.Completed
	for _, o := range m.orders {
		if o.DriverID != uid || o.Status != order.StatusDelivered || o.DeliveredAt == nil {
			continue
		}
		rows = append(rows, order.Completed{
			ID:              o.ID,
			StoreID:         o.StoreID,
			StoreName:       o.StoreName,
			TotalPrice:      o.TotalPrice,
			ShippingAddress: o.ShippingAddress,
			DeliveredAt:     *o.DeliveredAt,
			CreatedAt:       o.CreatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DeliveredAt.After(rows[j].DeliveredAt) })
	return &order.History{Orders: rows, Page: f.Page, Limit: f.Limit, Total: len(rows), TotalPages: 1}, nil
}

func (m *memOrders) NearbyPending(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]order.NearbyOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.NearbyOrder
	for _, o := range m.orders {
		if o.Status != order.StatusConfirmed || o.DriverID != "" || o.StoreLocation.IsZero() {
			continue
		}
		d := geo.DistanceMeters(p, o.StoreLocation)
		if d > radiusMeters {
			continue
		}
		out = append(out, order.NearbyOrder{
			ID:            o.ID,
			StoreID:       o.StoreID,
			StoreName:     o.StoreName,
			TotalPrice:    o.TotalPrice,
			StoreLocation: o.StoreLocation,
			Distance:      d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Driver store fake
// ---------------------------------------------------------------------------

type memDrivers struct {
	mu         sync.Mutex
	pos        map[types.ID]types.Point
	working    map[types.ID]bool
	approved   map[types.ID]bool
	deliveries map[types.ID]int
	earnings   map[types.ID]float64
}

func newMemDrivers() *memDrivers {
	return &memDrivers{
		pos:        make(map[types.ID]types.Point),
		working:    make(map[types.ID]bool),
		approved:   make(map[types.ID]bool),
		deliveries: make(map[types.ID]int),
		earnings:   make(map[types.ID]float64),
	}
}

// add registers an approved, working driver at the given position.
func (m *memDrivers) add(uid types.ID, p types.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[uid] = p
	m.working[uid] = true
	m.approved[uid] = true
}

func (m *memDrivers) UpdateLocation(ctx context.Context, uid types.ID, p types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[uid] = p
	return nil
}

func (m *memDrivers) SetWorking(ctx context.Context, uid types.ID, working bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.working[uid] = working
	return nil
}

func (m *memDrivers) Nearby(ctx context.Context, p types.Point, radiusMeters float64) ([]driver.Nearby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []driver.Nearby
	for uid, pos := range m.pos {
		if !m.approved[uid] || !m.working[uid] || pos.IsZero() {
			continue
		}
		d := geo.DistanceMeters(p, pos)
		if d > radiusMeters {
			continue
		}
		out = append(out, driver.Nearby{UID: uid, Position: pos, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

func (m *memDrivers) RecordCompletedDelivery(ctx context.Context, uid types.ID, earnings float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[uid]++
	m.earnings[uid] += earnings
	return nil
}

func (m *memDrivers) Stats(ctx context.Context, uid types.ID, rate float64, f driver.StatsFilter) (*driver.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &driver.Stats{
		Driver:          driver.Driver{UID: uid},
		TotalDeliveries: m.deliveries[uid],
		TotalEarnings:   m.earnings[uid],
	}, nil
}
