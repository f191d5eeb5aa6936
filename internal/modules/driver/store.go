// README: Driver store backed by PostgreSQL, with a Redis GEO index for
// radius searches. Postgres is authoritative; Redis only accelerates the
// nearby lookup and the store falls back to SQL when no client is set.
package driver

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relay/internal/types"
)

const driverGeoKey = "dispatch:drivers:geo"

// undefinedColumn is the Postgres error code returned when the stats
// columns have not been migrated in yet; the update is best-effort.
const undefinedColumn = "42703"

var ErrNotFound = errors.New("driver not found")

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
	log   zerolog.Logger
}

func NewStore(db *pgxpool.Pool, redis *redis.Client, log zerolog.Logger) *Store {
	return &Store{db: db, redis: redis, log: log}
}

func (s *Store) FindByUID(ctx context.Context, uid types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, uid, COALESCE(name,''), COALESCE(email,''), COALESCE(phone,''),
		       status, is_working, latitude, longitude,
		       COALESCE(total_deliveries, 0), COALESCE(total_earnings, 0),
		       created_at, updated_at
		FROM drivers
		WHERE uid = $1`, string(uid),
	)
	var d Driver
	err := row.Scan(
		&d.ID, &d.UID, &d.Name, &d.Email, &d.Phone,
		&d.Status, &d.IsWorking, &d.Latitude, &d.Longitude,
		&d.TotalDeliveries, &d.TotalEarnings,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateLocation is an unconditional upsert of the driver's last known
// position; it runs on every poll.
func (s *Store) UpdateLocation(ctx context.Context, uid types.ID, p types.Point) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET latitude = $2, longitude = $3, updated_at = now()
		WHERE uid = $1`,
		string(uid), p.Lat, p.Lng,
	)
	if err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
			Name:      string(uid),
			Latitude:  p.Lat,
			Longitude: p.Lng,
		}).Err(); err != nil {
			// The SQL fallback still works without the index.
			s.log.Warn().Err(err).Str("driver", string(uid)).Msg("geo index update failed")
		}
	}
	return nil
}

func (s *Store) SetWorking(ctx context.Context, uid types.ID, working bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET is_working = $2, updated_at = now()
		WHERE uid = $1`,
		string(uid), working,
	)
	if err != nil {
		return err
	}
	if s.redis != nil && !working {
		if err := s.redis.ZRem(ctx, driverGeoKey, string(uid)).Err(); err != nil {
			s.log.Warn().Err(err).Str("driver", string(uid)).Msg("geo index removal failed")
		}
	}
	return nil
}

// Nearby returns approved, working drivers with known coordinates within
// radiusMeters of p, closest first. Ties are broken by uid so repeated
// searches rank candidates deterministically.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusMeters float64) ([]Nearby, error) {
	if s.redis != nil {
		found, err := s.nearbyGeo(ctx, p, radiusMeters)
		if err == nil {
			return found, nil
		}
		s.log.Warn().Err(err).Msg("geo index search failed, falling back to SQL")
	}
	return s.nearbySQL(ctx, p, radiusMeters)
}

func (s *Store) nearbyGeo(ctx context.Context, p types.Point, radiusMeters float64) ([]Nearby, error) {
	locations, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   p.Lat,
			Longitude:  p.Lng,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, nil
	}

	uids := make([]string, len(locations))
	for i, loc := range locations {
		uids[i] = loc.Name
	}
	// The geo index may lag behind approval or working-state changes, so
	// membership is always re-checked against Postgres.
	rows, err := s.db.Query(ctx, `
		SELECT uid FROM drivers
		WHERE uid = ANY($1) AND status = $2 AND is_working`,
		uids, string(StatusApproved),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	available := make(map[string]bool, len(uids))
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		available[uid] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	found := make([]Nearby, 0, len(available))
	for _, loc := range locations {
		if !available[loc.Name] {
			continue
		}
		found = append(found, Nearby{
			UID:      types.ID(loc.Name),
			Position: types.Point{Lat: loc.Latitude, Lng: loc.Longitude},
			Distance: loc.Dist,
		})
	}
	sortNearby(found)
	return found, nil
}

func (s *Store) nearbySQL(ctx context.Context, p types.Point, radiusMeters float64) ([]Nearby, error) {
	rows, err := s.db.Query(ctx, `
		SELECT uid, latitude, longitude, distance
		FROM (
			SELECT uid, latitude, longitude,
			       (6371000 * acos(least(1.0,
			           cos(radians($1)) * cos(radians(latitude)) * cos(radians(longitude) - radians($2))
			           + sin(radians($1)) * sin(radians(latitude))
			       ))) AS distance
			FROM drivers
			WHERE status = $3
			  AND is_working
			  AND latitude IS NOT NULL
			  AND longitude IS NOT NULL
		) d
		WHERE distance <= $4
		ORDER BY distance ASC, uid ASC`,
		p.Lat, p.Lng, string(StatusApproved), radiusMeters,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []Nearby
	for rows.Next() {
		var n Nearby
		if err := rows.Scan(&n.UID, &n.Position.Lat, &n.Position.Lng, &n.Distance); err != nil {
			return nil, err
		}
		found = append(found, n)
	}
	return found, rows.Err()
}

// RecordCompletedDelivery bumps the driver's cumulative counters. The
// stats columns are optional; a missing-column error is logged and
// swallowed so delivery completion never fails on bookkeeping.
func (s *Store) RecordCompletedDelivery(ctx context.Context, uid types.ID, earnings float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET total_deliveries = COALESCE(total_deliveries, 0) + 1,
		    total_earnings = COALESCE(total_earnings, 0) + $2,
		    updated_at = now()
		WHERE uid = $1`,
		string(uid), earnings,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedColumn {
		s.log.Warn().Str("driver", string(uid)).Msg("stats columns missing, skipping stats update")
		return nil
	}
	return err
}

// Stats aggregates a driver's delivered orders; earnings are derived
// from order totals at the given commission rate.
func (s *Store) Stats(ctx context.Context, uid types.ID, rate float64, f StatsFilter) (*Stats, error) {
	d, err := s.FindByUID(ctx, uid)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(total_price), 0), COALESCE(AVG(total_price), 0)
		FROM orders
		WHERE driver_id = $1 AND status = 'delivered'`
	args := []any{string(uid)}
	if f.Month != 0 && f.Year != 0 {
		query += ` AND EXTRACT(MONTH FROM delivered_at) = $2 AND EXTRACT(YEAR FROM delivered_at) = $3`
		args = append(args, f.Month, f.Year)
	} else if f.Year != 0 {
		query += ` AND EXTRACT(YEAR FROM delivered_at) = $2`
		args = append(args, f.Year)
	}

	st := Stats{Driver: *d, Period: f.period()}
	var totalValue float64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&st.TotalDeliveries, &totalValue, &st.AvgOrderValue); err != nil {
		return nil, err
	}
	st.TotalEarnings = totalValue * rate

	var todayValue float64
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_price), 0)
		FROM orders
		WHERE driver_id = $1 AND status = 'delivered' AND delivered_at::date = CURRENT_DATE`,
		string(uid),
	).Scan(&st.DeliveriesToday, &todayValue)
	if err != nil {
		return nil, err
	}
	st.EarningsToday = todayValue * rate
	return &st, nil
}

// AllWithLocations lists approved drivers with known coordinates for the
// admin map, working drivers first.
func (s *Store) AllWithLocations(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, uid, COALESCE(name,''), COALESCE(email,''), COALESCE(phone,''),
		       status, is_working, latitude, longitude,
		       COALESCE(total_deliveries, 0), COALESCE(total_earnings, 0),
		       created_at, updated_at
		FROM drivers
		WHERE status = $1
		  AND latitude IS NOT NULL
		  AND longitude IS NOT NULL
		ORDER BY is_working DESC, updated_at DESC`,
		string(StatusApproved),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []Driver
	for rows.Next() {
		var d Driver
		if err := rows.Scan(
			&d.ID, &d.UID, &d.Name, &d.Email, &d.Phone,
			&d.Status, &d.IsWorking, &d.Latitude, &d.Longitude,
			&d.TotalDeliveries, &d.TotalEarnings,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

func (f StatsFilter) period() string {
	switch {
	case f.Month != 0 && f.Year != 0:
		return time.Month(f.Month).String() + " " + strconv.Itoa(f.Year)
	case f.Year != 0:
		return strconv.Itoa(f.Year)
	default:
		return "all time"
	}
}

func sortNearby(found []Nearby) {
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Distance != found[j].Distance {
			return found[i].Distance < found[j].Distance
		}
		return found[i].UID < found[j].UID
	})
}
