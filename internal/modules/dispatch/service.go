// README: Dispatch service: per-poll matching, race-safe assignment, and
// order lifecycle for drivers.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"relay/internal/config"
	"relay/internal/modules/driver"
	"relay/internal/modules/geo"
	"relay/internal/modules/order"
	"relay/internal/types"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("order not found")
	ErrForbidden    = errors.New("not your order")
	ErrConflict     = errors.New("order state conflict")
	ErrOfferTaken   = errors.New("offer held by another driver")
	ErrOfferExpired = errors.New("offer has expired")
)

// OrderStore is the slice of the order persistence layer dispatch needs.
type OrderStore interface {
	PendingForAssignment(ctx context.Context) ([]order.Order, error)
	FindByID(ctx context.Context, id types.ID) (*order.Order, error)
	ActiveByDriver(ctx context.Context, uid types.ID) (*order.Order, error)
	SetOffer(ctx context.Context, id, uid types.ID, expiresAt time.Time) error
	ClearOffer(ctx context.Context, id types.ID) error
	AddSkippedDriver(ctx context.Context, id, uid types.ID) error
	ResetSkippedDrivers(ctx context.Context, id types.ID) error
	AssignDriver(ctx context.Context, id, uid types.ID) (bool, error)
	MarkPickedUp(ctx context.Context, id, uid types.ID) (bool, error)
	MarkDelivered(ctx context.Context, id, uid types.ID) (bool, error)
	CompletedByDriver(ctx context.Context, uid types.ID, f order.HistoryFilter) (*order.History, error)
	NearbyPending(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]order.NearbyOrder, error)
}

// DriverStore is the slice of the driver persistence layer dispatch needs.
type DriverStore interface {
	UpdateLocation(ctx context.Context, uid types.ID, p types.Point) error
	SetWorking(ctx context.Context, uid types.ID, working bool) error
	Nearby(ctx context.Context, p types.Point, radiusMeters float64) ([]driver.Nearby, error)
	RecordCompletedDelivery(ctx context.Context, uid types.ID, earnings float64) error
	Stats(ctx context.Context, uid types.ID, rate float64, f driver.StatsFilter) (*driver.Stats, error)
}

// RouteEstimator adds travel-time context to offers. Optional.
type RouteEstimator interface {
	TravelEstimate(ctx context.Context, from, to types.Point) (time.Duration, error)
}

type Service struct {
	orders  OrderStore
	drivers DriverStore
	routes  RouteEstimator
	cfg     config.DispatchConfig
	log     zerolog.Logger
}

func NewService(orders OrderStore, drivers DriverStore, routes RouteEstimator, cfg config.DispatchConfig, log zerolog.Logger) *Service {
	return &Service{orders: orders, drivers: drivers, routes: routes, cfg: cfg, log: log}
}

// Poll runs the matching algorithm for one driver poll and returns at
// most one offer. The driver's location is updated regardless of the
// outcome.
//
// The candidate selection here is optimistic: two drivers evaluated as
// closest in the same instant can both see an offer. Accept's
// conditional update is the correctness boundary.
func (s *Service) Poll(ctx context.Context, uid types.ID, pos types.Point) (*Offer, error) {
	if uid == "" {
		return nil, ErrBadRequest
	}
	if err := s.drivers.UpdateLocation(ctx, uid, pos); err != nil {
		return nil, err
	}

	active, err := s.orders.ActiveByDriver(ctx, uid)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, nil
	}

	pending, err := s.orders.PendingForAssignment(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range pending {
		o := &pending[i]

		if o.CurrentOfferDriverID != "" && o.OfferExpiresAt != nil {
			// Re-polling the holder of a live offer is idempotent.
			if o.OfferLiveFor(uid, now) {
				return s.existingOffer(ctx, o, pos, now), nil
			}
			if o.OfferLive(now) {
				continue
			}
			// Expired: lazily collect it and keep evaluating this order.
			if err := s.orders.ClearOffer(ctx, o.ID); err != nil {
				return nil, err
			}
			o.CurrentOfferDriverID = ""
			o.OfferExpiresAt = nil
		}

		if o.StoreLocation.IsZero() {
			continue
		}
		distance := geo.DistanceMeters(pos, o.StoreLocation)
		if distance > s.cfg.MaxSearchRadiusMeters {
			continue
		}

		nearby, err := s.drivers.Nearby(ctx, o.StoreLocation, s.cfg.MaxSearchRadiusMeters)
		if err != nil {
			return nil, err
		}

		eligible := make([]driver.Nearby, 0, len(nearby))
		for _, n := range nearby {
			if !o.HasSkipped(n.UID) {
				eligible = append(eligible, n)
			}
		}

		// Every nearby driver has skipped: reset the list so the order
		// cannot starve, and hand it to whoever polled first.
		if len(eligible) == 0 && len(nearby) > 0 {
			s.log.Info().Str("order", string(o.ID)).Msg("all nearby drivers skipped, resetting skip list")
			if err := s.orders.ResetSkippedDrivers(ctx, o.ID); err != nil {
				return nil, err
			}
			return s.createOffer(ctx, o, uid, pos, now)
		}

		if len(eligible) > 0 && eligible[0].UID == uid {
			return s.createOffer(ctx, o, uid, pos, now)
		}
	}

	return nil, nil
}

func (s *Service) findOrder(ctx context.Context, id types.ID) (*order.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if errors.Is(err, order.ErrNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// Accept performs the race-safe hand-off from offered to assigned.
// Exactly one of any concurrent accepts for the same order succeeds.
func (s *Service) Accept(ctx context.Context, uid, orderID types.ID) error {
	o, err := s.findOrder(ctx, orderID)
	if err != nil {
		return err
	}

	// Any foreign offer blocks the accept, expired or not; an expired
	// offer stays on the row until the next poll collects it, and the
	// holder must re-poll rather than accept late.
	now := time.Now()
	if o.CurrentOfferDriverID != "" && o.CurrentOfferDriverID != uid {
		return ErrOfferTaken
	}
	if o.CurrentOfferDriverID != "" && !o.OfferLive(now) {
		return ErrOfferExpired
	}
	if o.DriverID != "" && o.DriverID != uid {
		return ErrConflict
	}

	ok, err := s.orders.AssignDriver(ctx, orderID, uid)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.log.Info().Str("order", string(orderID)).Str("driver", string(uid)).Msg("order accepted")
	return nil
}

// Skip records the driver's refusal and releases the offer. Idempotent;
// it never fails on repeats.
func (s *Service) Skip(ctx context.Context, uid, orderID types.ID) error {
	if err := s.orders.AddSkippedDriver(ctx, orderID, uid); err != nil {
		return err
	}
	s.log.Info().Str("order", string(orderID)).Str("driver", string(uid)).Msg("order skipped")
	return nil
}

// ListSkipped returns the orders this driver skipped that are still
// unassigned and not under a live foreign offer.
func (s *Service) ListSkipped(ctx context.Context, uid types.ID, pos types.Point) ([]Reclaimable, error) {
	pending, err := s.orders.PendingForAssignment(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	reclaimable := make([]Reclaimable, 0)
	for i := range pending {
		o := &pending[i]
		if !o.HasSkipped(uid) {
			continue
		}
		if o.OfferLive(now) && o.CurrentOfferDriverID != uid {
			continue
		}
		reclaimable = append(reclaimable, Reclaimable{
			OrderID:           o.ID,
			StoreID:           o.StoreID,
			StoreName:         storeName(o),
			TotalPrice:        o.TotalPrice,
			DistanceToStore:   geo.DistanceMeters(pos, o.StoreLocation),
			EstimatedEarnings: o.TotalPrice * s.cfg.CommissionRate,
			StoreLocation:     o.StoreLocation,
		})
	}
	return reclaimable, nil
}

// Reclaim assigns a previously skipped order directly to the driver,
// bypassing proximity ranking. The same conditional update guards the
// race.
func (s *Service) Reclaim(ctx context.Context, uid, orderID types.ID) error {
	o, err := s.findOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.DriverID != "" {
		return ErrConflict
	}
	if o.OfferLive(time.Now()) && o.CurrentOfferDriverID != uid {
		return ErrOfferTaken
	}

	ok, err := s.orders.AssignDriver(ctx, orderID, uid)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.log.Info().Str("order", string(orderID)).Str("driver", string(uid)).Msg("order reclaimed")
	return nil
}

// Pickup moves the caller's assigned order from confirmed to shipped.
func (s *Service) Pickup(ctx context.Context, uid, orderID types.ID) (*order.Order, error) {
	o, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.DriverID != uid {
		return nil, ErrForbidden
	}

	ok, err := s.orders.MarkPickedUp(ctx, orderID, uid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.log.Info().Str("order", string(orderID)).Str("driver", string(uid)).Msg("order picked up")
	return s.orders.FindByID(ctx, orderID)
}

// MarkDelivered completes the order and returns the driver's earnings
// for it. The stats update is best-effort and never fails the call.
func (s *Service) MarkDelivered(ctx context.Context, uid, orderID types.ID) (float64, error) {
	o, err := s.findOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if o.DriverID != uid {
		return 0, ErrForbidden
	}

	ok, err := s.orders.MarkDelivered(ctx, orderID, uid)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrConflict
	}

	earnings := o.TotalPrice * s.cfg.CommissionRate
	if err := s.drivers.RecordCompletedDelivery(ctx, uid, earnings); err != nil {
		s.log.Warn().Err(err).Str("driver", string(uid)).Msg("stats update failed")
	}
	s.log.Info().
		Str("order", string(orderID)).
		Str("driver", string(uid)).
		Float64("earnings", earnings).
		Msg("order delivered")
	return earnings, nil
}

// ActiveOrder returns the driver's current in-flight order, or nil.
func (s *Service) ActiveOrder(ctx context.Context, uid types.ID) (*order.Order, error) {
	return s.orders.ActiveByDriver(ctx, uid)
}

// UpdateLocation stores the driver's last reported position.
func (s *Service) UpdateLocation(ctx context.Context, uid types.ID, pos types.Point) error {
	return s.drivers.UpdateLocation(ctx, uid, pos)
}

// SetWorking flips the driver's availability. An offer held by a driver
// going offline is left to expire naturally.
func (s *Service) SetWorking(ctx context.Context, uid types.ID, working bool) error {
	return s.drivers.SetWorking(ctx, uid, working)
}

// History pages through the driver's completed deliveries.
func (s *Service) History(ctx context.Context, uid types.ID, f order.HistoryFilter) (*order.History, error) {
	return s.orders.CompletedByDriver(ctx, uid, f)
}

// Stats aggregates the driver's delivery statistics.
func (s *Service) Stats(ctx context.Context, uid types.ID, f driver.StatsFilter) (*driver.Stats, error) {
	return s.drivers.Stats(ctx, uid, s.cfg.CommissionRate, f)
}

// NearbyOrders lists unassigned orders around the driver and refreshes
// their location as a side effect, mirroring Poll.
func (s *Service) NearbyOrders(ctx context.Context, uid types.ID, pos types.Point, radiusMeters float64, limit int) ([]order.NearbyOrder, error) {
	if radiusMeters <= 0 {
		radiusMeters = s.cfg.DefaultSearchRadiusMeters
	}
	if radiusMeters > s.cfg.MaxSearchRadiusMeters {
		radiusMeters = s.cfg.MaxSearchRadiusMeters
	}
	if err := s.drivers.UpdateLocation(ctx, uid, pos); err != nil {
		s.log.Warn().Err(err).Str("driver", string(uid)).Msg("location refresh failed")
	}
	return s.orders.NearbyPending(ctx, pos, radiusMeters, limit)
}

func (s *Service) createOffer(ctx context.Context, o *order.Order, uid types.ID, pos types.Point, now time.Time) (*Offer, error) {
	expiresAt := now.Add(s.cfg.OfferTTL)
	if err := s.orders.SetOffer(ctx, o.ID, uid, expiresAt); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("order", string(o.ID)).
		Str("driver", string(uid)).
		Time("expires_at", expiresAt).
		Msg("offer created")

	offer := s.buildOffer(o, pos, expiresAt, int(s.cfg.OfferTTL.Seconds()))
	s.attachETA(ctx, offer, pos, o.StoreLocation)
	return offer, nil
}

func (s *Service) existingOffer(ctx context.Context, o *order.Order, pos types.Point, now time.Time) *Offer {
	remaining := int(o.OfferExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	offer := s.buildOffer(o, pos, *o.OfferExpiresAt, remaining)
	s.attachETA(ctx, offer, pos, o.StoreLocation)
	return offer
}

func (s *Service) buildOffer(o *order.Order, pos types.Point, expiresAt time.Time, remaining int) *Offer {
	return &Offer{
		OrderID:           o.ID,
		StoreID:           o.StoreID,
		StoreName:         storeName(o),
		TotalPrice:        o.TotalPrice,
		DistanceToStore:   geo.DistanceMeters(pos, o.StoreLocation),
		EstimatedEarnings: o.TotalPrice * s.cfg.CommissionRate,
		ExpiresAt:         expiresAt,
		RemainingSeconds:  remaining,
		StoreLocation:     o.StoreLocation,
		CustomerLocation:  o.CustomerLocation,
		CustomerAddress:   customerAddress(o),
	}
}

func (s *Service) attachETA(ctx context.Context, offer *Offer, from, to types.Point) {
	if s.routes == nil || to.IsZero() {
		return
	}
	eta, err := s.routes.TravelEstimate(ctx, from, to)
	if err != nil {
		s.log.Debug().Err(err).Str("order", string(offer.OrderID)).Msg("travel estimate unavailable")
		return
	}
	offer.PickupETA = eta.Round(time.Second).String()
}

func storeName(o *order.Order) string {
	if o.StoreName == "" {
		return "Store"
	}
	return o.StoreName
}

func customerAddress(o *order.Order) string {
	if o.ShippingAddress != "" {
		return o.ShippingAddress
	}
	return o.CustomerAddress
}
