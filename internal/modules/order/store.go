// README: Order store backed by PostgreSQL. Owns the offer fields and the
// skip list; assignment and lifecycle transitions are conditional updates
// so concurrent writers race safely on the row itself.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"relay/internal/types"
)

var ErrNotFound = errors.New("order not found")

type Store struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewStore(db *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// orderColumns is the shared select list for order rows joined with the
// store and customer records (read-only reference data).
const orderColumns = `
	o.id, o.user_id, o.store_id, o.total_price, o.status,
	COALESCE(o.delivery_option, ''), COALESCE(o.shipping_address, ''),
	COALESCE(o.driver_id, ''), COALESCE(o.current_offer_driver_id, ''),
	o.offer_expires_at, o.skipped_driver_ids,
	o.picked_up_at, o.delivered_at, o.created_at, o.updated_at,
	COALESCE(s.name, ''), COALESCE(s.phone, ''), s.latitude, s.longitude,
	u.latitude, u.longitude, COALESCE(u.address, ''),
	COALESCE(u.name, ''), COALESCE(u.phone, '')`

const orderJoins = `
	FROM orders o
	LEFT JOIN stores s ON s.id = o.store_id
	LEFT JOIN users u ON u.uid = o.user_id`

func (s *Store) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var rawSkipped []byte
	var storeLat, storeLng, custLat, custLng *float64

	err := row.Scan(
		&o.ID, &o.UserID, &o.StoreID, &o.TotalPrice, &o.Status,
		&o.DeliveryOption, &o.ShippingAddress,
		&o.DriverID, &o.CurrentOfferDriverID,
		&o.OfferExpiresAt, &rawSkipped,
		&o.PickedUpAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
		&o.StoreName, &o.StorePhone, &storeLat, &storeLng,
		&custLat, &custLng, &o.CustomerAddress,
		&o.CustomerName, &o.CustomerPhone,
	)
	if err != nil {
		return nil, err
	}

	skipped, ok := DecodeSkipList(rawSkipped)
	if !ok {
		s.log.Warn().Str("order", string(o.ID)).Msg("malformed skip list, treating as empty")
	}
	o.SkippedDriverIDs = skipped

	if storeLat != nil && storeLng != nil {
		o.StoreLocation = types.Point{Lat: *storeLat, Lng: *storeLng}
	}
	if custLat != nil && custLng != nil {
		o.CustomerLocation = types.Point{Lat: *custLat, Lng: *custLng}
	}
	return &o, nil
}

// PendingForAssignment returns confirmed, unassigned, standard-tier
// orders, oldest first.
func (s *Store) PendingForAssignment(ctx context.Context) ([]Order, error) {
	rows, err := s.db.Query(ctx, `SELECT`+orderColumns+orderJoins+`
		WHERE o.status = $1
		  AND (o.delivery_option = $2 OR o.delivery_option IS NULL OR o.delivery_option = '')
		  AND (o.driver_id IS NULL OR o.driver_id = '')
		ORDER BY o.created_at ASC`,
		string(StatusConfirmed), DeliveryStandard,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *Store) FindByID(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT`+orderColumns+orderJoins+`
		WHERE o.id = $1`, string(id),
	)
	o, err := s.scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ActiveByDriver returns the driver's current in-flight order, if any.
func (s *Store) ActiveByDriver(ctx context.Context, uid types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT`+orderColumns+orderJoins+`
		WHERE o.driver_id = $1
		  AND o.status IN ($2, $3)
		ORDER BY o.updated_at DESC
		LIMIT 1`,
		string(uid), string(StatusConfirmed), string(StatusShipped),
	)
	o, err := s.scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) SetOffer(ctx context.Context, id, uid types.ID, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET current_offer_driver_id = $2, offer_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		string(id), string(uid), expiresAt,
	)
	return err
}

func (s *Store) ClearOffer(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET current_offer_driver_id = NULL, offer_expires_at = NULL, updated_at = now()
		WHERE id = $1`,
		string(id),
	)
	return err
}

// AddSkippedDriver idempotently appends the driver to the skip list and
// clears any offer in the same update.
func (s *Store) AddSkippedDriver(ctx context.Context, id, uid types.ID) error {
	var rawSkipped []byte
	err := s.db.QueryRow(ctx,
		`SELECT skipped_driver_ids FROM orders WHERE id = $1`, string(id),
	).Scan(&rawSkipped)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	skipped, ok := DecodeSkipList(rawSkipped)
	if !ok {
		s.log.Warn().Str("order", string(id)).Msg("malformed skip list, treating as empty")
	}
	present := false
	for _, d := range skipped {
		if d == string(uid) {
			present = true
			break
		}
	}
	if !present {
		skipped = append(skipped, string(uid))
	}

	_, err = s.db.Exec(ctx, `
		UPDATE orders
		SET skipped_driver_ids = $2,
		    current_offer_driver_id = NULL,
		    offer_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1`,
		string(id), skipped,
	)
	return err
}

func (s *Store) ResetSkippedDrivers(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET skipped_driver_ids = NULL, updated_at = now()
		WHERE id = $1`,
		string(id),
	)
	return err
}

// AssignDriver is the single race-safety mechanism for assignment: the
// conditional update lets exactly one concurrent accept win. It clears
// the offer fields in the same statement.
func (s *Store) AssignDriver(ctx context.Context, id, uid types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET driver_id = $2,
		    current_offer_driver_id = NULL,
		    offer_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND (driver_id IS NULL OR driver_id = '')
		  AND status = $3`,
		string(id), string(uid), string(StatusConfirmed),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPickedUp moves the order from confirmed to shipped for its
// assigned driver, stamping picked_up_at.
func (s *Store) MarkPickedUp(ctx context.Context, id, uid types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $3, picked_up_at = now(), updated_at = now()
		WHERE id = $1 AND driver_id = $2 AND status = $4`,
		string(id), string(uid), string(StatusShipped), string(StatusConfirmed),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDelivered moves the order from shipped to delivered, stamping
// delivered_at.
func (s *Store) MarkDelivered(ctx context.Context, id, uid types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $3, delivered_at = now(), updated_at = now()
		WHERE id = $1 AND driver_id = $2 AND status = $4`,
		string(id), string(uid), string(StatusDelivered), string(StatusShipped),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompletedByDriver pages through a driver's delivered orders, newest
// first, optionally filtered to a month/year.
func (s *Store) CompletedByDriver(ctx context.Context, uid types.ID, f HistoryFilter) (*History, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	where := ` WHERE o.driver_id = $1 AND o.status = 'delivered'`
	args := []any{string(uid)}
	if f.Month != 0 && f.Year != 0 {
		where += ` AND EXTRACT(MONTH FROM o.delivered_at) = $2 AND EXTRACT(YEAR FROM o.delivered_at) = $3`
		args = append(args, f.Month, f.Year)
	} else if f.Year != 0 {
		where += ` AND EXTRACT(YEAR FROM o.delivered_at) = $2`
		args = append(args, f.Year)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders o`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	limitArgs := append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT o.id, o.store_id, COALESCE(s.name, ''), COALESCE(u.name, ''),
		       o.total_price, COALESCE(o.shipping_address, ''),
		       o.delivered_at, o.created_at
		FROM orders o
		LEFT JOIN stores s ON s.id = o.store_id
		LEFT JOIN users u ON u.uid = o.user_id%s
		ORDER BY o.delivered_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2),
		limitArgs...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := History{Page: f.Page, Limit: f.Limit, Total: total}
	for rows.Next() {
		var c Completed
		if err := rows.Scan(
			&c.ID, &c.StoreID, &c.StoreName, &c.CustomerName,
			&c.TotalPrice, &c.ShippingAddress,
			&c.DeliveredAt, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		h.Orders = append(h.Orders, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	h.TotalPages = (total + f.Limit - 1) / f.Limit
	return &h, nil
}

// NearbyPending lists unassigned confirmed orders whose store is within
// radiusMeters of p, closest first.
func (s *Store) NearbyPending(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]NearbyOrder, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, store_id, store_name, total_price, shipping_address,
		       store_lat, store_lng, cust_lat, cust_lng, distance
		FROM (
			SELECT o.id, o.store_id, COALESCE(s.name, '') AS store_name,
			       o.total_price, COALESCE(o.shipping_address, '') AS shipping_address,
			       s.latitude AS store_lat, s.longitude AS store_lng,
			       COALESCE(u.latitude, 0) AS cust_lat, COALESCE(u.longitude, 0) AS cust_lng,
			       (6371000 * acos(least(1.0,
			           cos(radians($1)) * cos(radians(s.latitude)) * cos(radians(s.longitude) - radians($2))
			           + sin(radians($1)) * sin(radians(s.latitude))
			       ))) AS distance
			FROM orders o
			LEFT JOIN stores s ON s.id = o.store_id
			LEFT JOIN users u ON u.uid = o.user_id
			WHERE o.status = $3
			  AND (o.delivery_option = $4 OR o.delivery_option IS NULL OR o.delivery_option = '')
			  AND (o.driver_id IS NULL OR o.driver_id = '')
			  AND s.latitude IS NOT NULL
			  AND s.longitude IS NOT NULL
		) n
		WHERE distance <= $5
		ORDER BY distance ASC
		LIMIT $6`,
		p.Lat, p.Lng, string(StatusConfirmed), DeliveryStandard, radiusMeters, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []NearbyOrder
	for rows.Next() {
		var n NearbyOrder
		var storeLat, storeLng *float64
		if err := rows.Scan(
			&n.ID, &n.StoreID, &n.StoreName, &n.TotalPrice, &n.ShippingAddress,
			&storeLat, &storeLng, &n.CustomerLocation.Lat, &n.CustomerLocation.Lng,
			&n.Distance,
		); err != nil {
			return nil, err
		}
		if storeLat != nil && storeLng != nil {
			n.StoreLocation = types.Point{Lat: *storeLat, Lng: *storeLng}
		}
		found = append(found, n)
	}
	return found, rows.Err()
}
