package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carpoolhq/backend/pkg/cache"
	"github.com/carpoolhq/backend/pkg/geo"
	"github.com/carpoolhq/backend/pkg/logger"
	"github.com/carpoolhq/backend/pkg/models"
)

// matchConfigTTL is the KV cache lifetime for a tenant's MatchConfig (spec §4.2).
const matchConfigTTL = 60 * time.Second

// candidateCap is Phase A's defensive cap on the SQL pre-filter's result size
// (spec §4.3 Phase A).
const candidateCap = 200

// Store is MatchStore: typed persistence for driver offers, rider requests,
// match results, pool assignments and per-tenant config (spec §2.2, §4.2).
// Driver-trip writes populate the bounding box from origin/destination padded
// by the tenant's searchRadiusKm, and tag the row with an H3 cell for the
// secondary spatial bucketing index used alongside the bbox predicate.
// Rider-request writes store neither a bounding box nor an H3 cell.
type Store struct {
	db    *pgxpool.Pool
	cache *cache.Cache
}

// NewStore builds a Store. cache may be nil, in which case MatchConfig reads
// always fall through to Postgres.
func NewStore(db *pgxpool.Pool, c *cache.Cache) *Store {
	return &Store{db: db, cache: c}
}

// CreateDriverTrip inserts a driver's posted offer, computing its bounding
// box and H3 cell from origin/destination (spec §4.2).
func (s *Store) CreateDriverTrip(ctx context.Context, trip *models.Trip, cfg models.MatchConfig) error {
	bbox := geo.BoundingBox([]models.Location{trip.Origin, trip.Destination}, cfg.SearchRadiusKm)
	trip.BBox = bbox
	trip.H3Cell = geo.TripCell(trip.Origin.Latitude, trip.Origin.Longitude)
	trip.ID = uuid.New()
	trip.Status = models.TripScheduled
	trip.AvailableSeats = trip.TotalSeats
	if trip.Currency == "" {
		trip.Currency = "ZAR"
	}

	vehicleJSON, err := json.Marshal(trip.Vehicle)
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO driver_trips (
			id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng,
			bbox_min_lat, bbox_max_lat, bbox_min_lng, bbox_max_lng,
			polyline, departure_time, arrival_time, total_seats, available_seats,
			price_per_seat, currency, vehicle_json, h3_cell, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at
	`,
		trip.ID, trip.DriverID, trip.Origin.Latitude, trip.Origin.Longitude,
		trip.Destination.Latitude, trip.Destination.Longitude,
		bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng,
		trip.Polyline, trip.DepartureTime, trip.ArrivalTime, trip.TotalSeats, trip.AvailableSeats,
		trip.PricePerSeat, trip.Currency, vehicleJSON, trip.H3Cell, trip.Status,
	).Scan(&trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert driver trip: %w", err)
	}
	return nil
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	var vehicleJSON []byte
	err := row.Scan(
		&t.ID, &t.DriverID, &t.Origin.Latitude, &t.Origin.Longitude,
		&t.Destination.Latitude, &t.Destination.Longitude,
		&t.BBox.MinLat, &t.BBox.MaxLat, &t.BBox.MinLng, &t.BBox.MaxLng,
		&t.Polyline, &t.DepartureTime, &t.ArrivalTime, &t.TotalSeats, &t.AvailableSeats,
		&t.PricePerSeat, &t.Currency, &vehicleJSON, &t.H3Cell, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(vehicleJSON, &t.Vehicle)
	return &t, nil
}

const tripColumns = `
	id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng,
	bbox_min_lat, bbox_max_lat, bbox_min_lng, bbox_max_lng,
	polyline, departure_time, arrival_time, total_seats, available_seats,
	price_per_seat, currency, vehicle_json, h3_cell, status, created_at, updated_at
`

// GetDriverTrip loads a single driver trip by id.
func (s *Store) GetDriverTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM driver_trips WHERE id = $1`, id)
	trip, err := scanTrip(row)
	if err != nil {
		return nil, fmt.Errorf("get driver trip: %w", err)
	}
	return trip, nil
}

// UpdateTripStatus transitions a trip's status unconditionally (BookingFSM
// uses the guarded seat-inventory updates directly; this is for terminal
// transitions like cancel that don't race on a numeric predicate).
func (s *Store) UpdateTripStatus(ctx context.Context, id uuid.UUID, status models.TripStatus) error {
	_, err := s.db.Exec(ctx, `UPDATE driver_trips SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// CreateRiderRequest inserts a rider's posted need. No bounding box or H3
// cell is computed or stored for it, and cfg is not read.
func (s *Store) CreateRiderRequest(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) error {
	req.ID = uuid.New()
	req.Status = models.RequestPending

	prefsJSON, err := json.Marshal(req.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO rider_requests (
			id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			earliest_departure, latest_departure, seats_needed, preferences_json, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at
	`,
		req.ID, req.RiderID, req.Pickup.Latitude, req.Pickup.Longitude,
		req.Dropoff.Latitude, req.Dropoff.Longitude,
		req.EarliestDeparture, req.LatestDeparture, req.SeatsNeeded, prefsJSON, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rider request: %w", err)
	}
	return nil
}

func scanRiderRequest(row pgx.Row) (*models.RiderRequest, error) {
	var r models.RiderRequest
	var prefsJSON []byte
	err := row.Scan(
		&r.ID, &r.RiderID, &r.Pickup.Latitude, &r.Pickup.Longitude,
		&r.Dropoff.Latitude, &r.Dropoff.Longitude,
		&r.EarliestDeparture, &r.LatestDeparture, &r.SeatsNeeded, &prefsJSON, &r.Status,
		&r.MatchedTripID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(prefsJSON, &r.Preferences)
	return &r, nil
}

const riderRequestColumns = `
	id, rider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	earliest_departure, latest_departure, seats_needed, preferences_json, status,
	matched_trip_id, created_at, updated_at
`

// GetRiderRequest loads a single rider request by id.
func (s *Store) GetRiderRequest(ctx context.Context, id uuid.UUID) (*models.RiderRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+riderRequestColumns+` FROM rider_requests WHERE id = $1`, id)
	req, err := scanRiderRequest(row)
	if err != nil {
		return nil, fmt.Errorf("get rider request: %w", err)
	}
	return req, nil
}

// UpdateRiderRequestStatus transitions a rider request's status, optionally
// recording the trip it matched against.
func (s *Store) UpdateRiderRequestStatus(ctx context.Context, id uuid.UUID, status models.RiderRequestStatus, matchedTripID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE rider_requests SET status = $2, matched_trip_id = $3, updated_at = now() WHERE id = $1
	`, id, status, matchedTripID)
	return err
}

// FindCandidateDrivers runs Phase A's SQL pre-filter (spec §4.2, §4.3): a
// single predicate over status, seats, time window and bounding box,
// further narrowed to trips whose H3 cell lies in the k-ring around the
// pickup (no narrowing when the k-ring is empty), capped at
// candidateCap and sorted by proximity of departure time to the midpoint of
// the rider's window.
func (s *Store) FindCandidateDrivers(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) ([]*models.Trip, error) {
	midWindow := req.EarliestDeparture.Add(req.LatestDeparture.Sub(req.EarliestDeparture) / 2)
	delta := time.Duration(cfg.TimeSlackMin) * time.Minute

	cells := geo.KRingCells(req.Pickup.Latitude, req.Pickup.Longitude, geo.H3KRingTrip)

	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM driver_trips
		WHERE status = $1
		  AND available_seats >= $2
		  AND departure_time BETWEEN $3 AND $4
		  AND bbox_min_lat <= $5 AND bbox_max_lat >= $5
		  AND bbox_min_lng <= $6 AND bbox_max_lng >= $6
		  AND (h3_cell = ANY($7) OR $7 = '{}')
		ORDER BY abs(extract(epoch FROM (departure_time - $8::timestamptz)))
		LIMIT $9
	`,
		models.TripScheduled, req.SeatsNeeded,
		req.EarliestDeparture.Add(-delta), req.LatestDeparture,
		req.Pickup.Latitude, req.Pickup.Longitude,
		cells, midWindow, candidateCap,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidate drivers: %w", err)
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, trip)
	}
	return out, rows.Err()
}

// SaveMatchResult idempotently upserts a MatchResult, keyed by the unique
// (driverTripId, riderRequestId) pair (spec §3).
func (s *Store) SaveMatchResult(ctx context.Context, m *models.MatchResult) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	breakdownJSON, err := json.Marshal(m.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO match_results (
			id, driver_trip_id, rider_request_id, driver_id, rider_id, score,
			breakdown_json, estimated_pickup_time, detour_minutes, carbon_saved_kg, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (driver_trip_id, rider_request_id) DO UPDATE SET
			score = EXCLUDED.score,
			breakdown_json = EXCLUDED.breakdown_json,
			estimated_pickup_time = EXCLUDED.estimated_pickup_time,
			detour_minutes = EXCLUDED.detour_minutes,
			carbon_saved_kg = EXCLUDED.carbon_saved_kg
		RETURNING id, created_at
	`,
		m.ID, m.DriverTripID, m.RiderRequestID, m.DriverID, m.RiderID, m.Score,
		breakdownJSON, m.EstimatedPickupTime, m.DetourMinutes, m.CarbonSavedKg, m.Status,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert match result: %w", err)
	}
	return nil
}

const matchResultColumns = `
	id, driver_trip_id, rider_request_id, driver_id, rider_id, score,
	breakdown_json, estimated_pickup_time, detour_minutes, carbon_saved_kg, status, created_at
`

func scanMatchResult(row pgx.Row) (*models.MatchResult, error) {
	var m models.MatchResult
	var breakdownJSON []byte
	err := row.Scan(
		&m.ID, &m.DriverTripID, &m.RiderRequestID, &m.DriverID, &m.RiderID, &m.Score,
		&breakdownJSON, &m.EstimatedPickupTime, &m.DetourMinutes, &m.CarbonSavedKg, &m.Status, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(breakdownJSON, &m.Breakdown)
	return &m, nil
}

// GetMatchResult loads a single match by id.
func (s *Store) GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error) {
	row := s.db.QueryRow(ctx, `SELECT `+matchResultColumns+` FROM match_results WHERE id = $1`, id)
	m, err := scanMatchResult(row)
	if err != nil {
		return nil, fmt.Errorf("get match result: %w", err)
	}
	return m, nil
}

// UpdateMatchStatus transitions a match's status unconditionally.
func (s *Store) UpdateMatchStatus(ctx context.Context, id uuid.UUID, status models.MatchStatus) error {
	_, err := s.db.Exec(ctx, `UPDATE match_results SET status = $2 WHERE id = $1`, id, status)
	return err
}

// TransitionMatchStatus guards the confirm/reject transition against the
// match's current state, the same guarded-conditional-UPDATE idiom
// InventoryStore and PaymentCoordinator use: 0 rows affected means the match
// was already confirmed, rejected, or expired by a concurrent request.
func (s *Store) TransitionMatchStatus(ctx context.Context, id, driverTripID, riderRequestID uuid.UUID, from []models.MatchStatus, to models.MatchStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE match_results SET status = $4
		WHERE id = $1 AND driver_trip_id = $2 AND rider_request_id = $3 AND status = ANY($5)
	`, id, driverTripID, riderRequestID, to, from)
	if err != nil {
		return false, fmt.Errorf("transition match status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MatchResultsForTrip loads every pending match result recorded against a
// driver trip, lowest score first, used by Phase D's pool optimisation to
// gather candidates.
func (s *Store) MatchResultsForTrip(ctx context.Context, driverTripID uuid.UUID) ([]*models.MatchResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+matchResultColumns+` FROM match_results
		WHERE driver_trip_id = $1 AND status = $2
		ORDER BY score ASC
	`, driverTripID, models.MatchPending)
	if err != nil {
		return nil, fmt.Errorf("match results for trip: %w", err)
	}
	defer rows.Close()

	var out []*models.MatchResult
	for rows.Next() {
		m, err := scanMatchResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SavePoolAssignment inserts a PoolAssignment and its pool_members rows in
// one transaction. Every call inserts a new pool_assignments row: a repeated
// save is not deduplicated, and the member MatchResults themselves are not
// written here. Nothing here retries partial writes.
func (s *Store) SavePoolAssignment(ctx context.Context, p *models.PoolAssignment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stopsJSON, err := json.Marshal(p.OrderedStops)
	if err != nil {
		return fmt.Errorf("marshal ordered stops: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pool assignment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO pool_assignments (
			id, driver_trip_id, total_score, avg_score, seats_used, seats_remaining,
			total_detour_minutes, ordered_stops_json, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at
	`,
		p.ID, p.DriverTripID, p.TotalScore, p.AvgScore, p.SeatsUsed, p.SeatsRemaining,
		p.TotalDetourMinutes, stopsJSON, p.Status,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pool assignment: %w", err)
	}

	for _, m := range p.Members {
		_, err = tx.Exec(ctx, `
			INSERT INTO pool_members (pool_assignment_id, match_id, rider_id, pickup_order, dropoff_order)
			VALUES ($1,$2,$3,$4,$5)
		`, p.ID, m.MatchID, m.RiderID, m.PickupOrder, m.DropoffOrder)
		if err != nil {
			return fmt.Errorf("insert pool member: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetMatchConfig loads the effective MatchConfig for organizationID (nil for
// the platform default), checking the cache first and falling back to
// Postgres, then caching the result for matchConfigTTL (spec §4.2).
func (s *Store) GetMatchConfig(ctx context.Context, organizationID *uuid.UUID) models.MatchConfig {
	key := matchConfigCacheKey(organizationID)

	if s.cache != nil {
		var cfg models.MatchConfig
		if err := s.cache.Get(ctx, key, &cfg); err == nil {
			return cfg
		}
	}

	cfg, err := s.loadMatchConfigDB(ctx, organizationID)
	if err != nil {
		if err != pgx.ErrNoRows {
			logger.Get().Sugar().Warnf("matching: config db lookup failed: %v", err)
		}
		cfg = models.DefaultMatchConfig()
		cfg.OrganizationID = organizationID
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cfg, matchConfigTTL); err != nil {
			logger.Get().Sugar().Warnf("matching: config cache write failed: %v", err)
		}
	}

	return cfg
}

// SetMatchConfig persists a tenant override and invalidates the cache entry.
func (s *Store) SetMatchConfig(ctx context.Context, cfg models.MatchConfig) error {
	weightsJSON, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO matching_config (
			organization_id, search_radius_km, time_slack_min, max_pickup_distance_km,
			max_dropoff_distance_km, min_driver_rating, max_detour_min, max_results,
			weights_json, enable_multi_rider, max_pool_detour_min, max_passengers_per_pool, avg_speed_kmh
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (organization_id) DO UPDATE SET
			search_radius_km = EXCLUDED.search_radius_km,
			time_slack_min = EXCLUDED.time_slack_min,
			max_pickup_distance_km = EXCLUDED.max_pickup_distance_km,
			max_dropoff_distance_km = EXCLUDED.max_dropoff_distance_km,
			min_driver_rating = EXCLUDED.min_driver_rating,
			max_detour_min = EXCLUDED.max_detour_min,
			max_results = EXCLUDED.max_results,
			weights_json = EXCLUDED.weights_json,
			enable_multi_rider = EXCLUDED.enable_multi_rider,
			max_pool_detour_min = EXCLUDED.max_pool_detour_min,
			max_passengers_per_pool = EXCLUDED.max_passengers_per_pool,
			avg_speed_kmh = EXCLUDED.avg_speed_kmh
	`,
		cfg.OrganizationID, cfg.SearchRadiusKm, cfg.TimeSlackMin, cfg.MaxPickupDistanceKm,
		cfg.MaxDropoffDistanceKm, cfg.MinDriverRating, cfg.MaxDetourMin, cfg.MaxResults,
		weightsJSON, cfg.EnableMultiRider, cfg.MaxPoolDetourMin, cfg.MaxPassengersPerPool, cfg.AvgSpeedKmH,
	)
	if err != nil {
		return fmt.Errorf("upsert match config: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, matchConfigCacheKey(cfg.OrganizationID)); err != nil {
			logger.Get().Sugar().Warnf("matching: config cache invalidation failed: %v", err)
		}
	}
	return nil
}

func (s *Store) loadMatchConfigDB(ctx context.Context, organizationID *uuid.UUID) (models.MatchConfig, error) {
	var cfg models.MatchConfig
	var weightsJSON []byte

	err := s.db.QueryRow(ctx, `
		SELECT search_radius_km, time_slack_min, max_pickup_distance_km, max_dropoff_distance_km,
		       min_driver_rating, max_detour_min, max_results, weights_json, enable_multi_rider,
		       max_pool_detour_min, max_passengers_per_pool, avg_speed_kmh
		FROM matching_config
		WHERE organization_id IS NOT DISTINCT FROM $1
	`, organizationID).Scan(
		&cfg.SearchRadiusKm, &cfg.TimeSlackMin, &cfg.MaxPickupDistanceKm, &cfg.MaxDropoffDistanceKm,
		&cfg.MinDriverRating, &cfg.MaxDetourMin, &cfg.MaxResults, &weightsJSON, &cfg.EnableMultiRider,
		&cfg.MaxPoolDetourMin, &cfg.MaxPassengersPerPool, &cfg.AvgSpeedKmH,
	)
	if err != nil {
		return models.MatchConfig{}, err
	}
	_ = json.Unmarshal(weightsJSON, &cfg.Weights)
	cfg.OrganizationID = organizationID
	return cfg, nil
}

func matchConfigCacheKey(organizationID *uuid.UUID) string {
	if organizationID == nil {
		return "matching:config:default"
	}
	return fmt.Sprintf("matching:config:%s", organizationID.String())
}
