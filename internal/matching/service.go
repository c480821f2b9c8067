package matching

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/eventbus"
	"github.com/carpoolhq/backend/pkg/logger"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/carpoolhq/backend/pkg/sse"
)

// Service wires MatchStore and MatchEngine together into the matching
// subsystem's operations (spec §4.2/§4.3): posting offers and requests,
// running the three-phase matcher, and confirming or rejecting the results
// it produces.
type Service struct {
	store  StoreInterface
	engine *Engine
	bus    *eventbus.Bus
	sseBus *sse.Bus

	totalFindCalls    int64
	totalCandidates   int64
	totalMatchesFound int64
	rejectedMu        atomic.Value // map[string]int64
}

// NewService builds a Service. bus and sseBus may be nil.
func NewService(store StoreInterface, engine *Engine, bus *eventbus.Bus, sseBus *sse.Bus) *Service {
	s := &Service{store: store, engine: engine, bus: bus, sseBus: sseBus}
	s.rejectedMu.Store(map[string]int64{})
	return s
}

// PostDriverTrip handles a driver posting a new offer (spec §4.2 MatchStore CRUD).
func (s *Service) PostDriverTrip(ctx context.Context, driverID uuid.UUID, req PostDriverTripRequest) (*models.Trip, error) {
	cfg := s.store.GetMatchConfig(ctx, nil)
	trip := &models.Trip{
		DriverID:      driverID,
		Origin:        req.Origin,
		Destination:   req.Destination,
		Polyline:      req.Polyline,
		DepartureTime: req.DepartureTime,
		ArrivalTime:   req.ArrivalTime,
		TotalSeats:    req.TotalSeats,
		PricePerSeat:  req.PricePerSeat,
		Currency:      req.Currency,
		Vehicle:       req.Vehicle,
	}
	if err := s.store.CreateDriverTrip(ctx, trip, cfg); err != nil {
		return nil, common.NewInternalError("failed to create driver trip", err)
	}

	s.publishEvent(eventbus.SubjectTripCreated, sse.TopicTripCreated, eventbus.TripCreatedData{
		TripID: trip.ID, DriverID: trip.DriverID, TotalSeats: trip.TotalSeats,
		DepartureTime: trip.DepartureTime, CreatedAt: trip.CreatedAt,
	}, driverID)

	return trip, nil
}

// PostRiderRequest handles a rider posting a new need.
func (s *Service) PostRiderRequest(ctx context.Context, riderID uuid.UUID, req PostRiderRequestRequest) (*models.RiderRequest, error) {
	if !req.EarliestDeparture.Before(req.LatestDeparture) {
		return nil, common.NewValidationError("earliestDeparture must be before latestDeparture")
	}
	cfg := s.store.GetMatchConfig(ctx, nil)
	rr := &models.RiderRequest{
		RiderID:           riderID,
		Pickup:            req.Pickup,
		Dropoff:           req.Dropoff,
		EarliestDeparture: req.EarliestDeparture,
		LatestDeparture:   req.LatestDeparture,
		SeatsNeeded:       req.SeatsNeeded,
		Preferences:       req.Preferences,
	}
	if err := s.store.CreateRiderRequest(ctx, rr, cfg); err != nil {
		return nil, common.NewInternalError("failed to create rider request", err)
	}
	return rr, nil
}

// FindMatchesResult is FindMatches' return value: the pending MatchResults scored
// and persisted, plus the Phase A/B funnel telemetry (spec §4.3).
type FindMatchesResult struct {
	Matches []*models.MatchResult
	Meta    FindMatchesMeta
}

// FindMatches runs the three-phase matcher (Phase A store prefilter, Phase B/C
// engine filter+score) for a rider request — either one already posted
// (RiderRequestID) or an inline one that is posted as part of this call — and
// persists every resulting MatchResult (spec §4.3).
func (s *Service) FindMatches(ctx context.Context, riderID uuid.UUID, req FindMatchesRequest) (*FindMatchesResult, error) {
	rr, err := s.resolveRiderRequest(ctx, riderID, req)
	if err != nil {
		return nil, err
	}

	cfg := s.store.GetMatchConfig(ctx, nil)

	candidates, err := s.store.FindCandidateDrivers(ctx, rr, cfg)
	if err != nil {
		return nil, common.NewInternalError("failed to find candidate drivers", err)
	}

	found := s.engine.Find(rr, candidates, cfg)

	for _, m := range found.Matches {
		if err := s.store.SaveMatchResult(ctx, m); err != nil {
			return nil, common.NewInternalError("failed to persist match result", err)
		}
		m.Explanation = explainFor(m)
	}

	s.recordTelemetry(len(candidates), found)

	if len(found.Matches) > 0 {
		rr.Status = models.RequestMatched
		if err := s.store.UpdateRiderRequestStatus(ctx, rr.ID, models.RequestMatched, &found.Matches[0].DriverTripID); err != nil {
			logger.Get().Sugar().Warnf("matching: failed to mark rider request %s matched: %v", rr.ID, err)
		}
	}

	return &FindMatchesResult{
		Matches: found.Matches,
		Meta:    FindMatchesMeta{CandidatesConsidered: len(candidates), RejectedByReason: found.Rejected},
	}, nil
}

// explainFor recomputes the human-readable explanation already embedded by
// Engine.score; SaveMatchResult only persists the numeric breakdown, so the
// string is kept on the in-memory value for the response body only.
func explainFor(m *models.MatchResult) string {
	if m.Explanation != "" {
		return m.Explanation
	}
	return explain(m.Breakdown, m.DetourMinutes, 0, m.Breakdown.OrgTerm > 0, 5-4*m.Breakdown.RatingTerm)
}

func (s *Service) resolveRiderRequest(ctx context.Context, riderID uuid.UUID, req FindMatchesRequest) (*models.RiderRequest, error) {
	if req.RiderRequestID != nil {
		rr, err := s.store.GetRiderRequest(ctx, *req.RiderRequestID)
		if err != nil {
			return nil, common.NewNotFoundError("rider request not found", err)
		}
		if rr.RiderID != riderID {
			return nil, common.NewForbiddenError("rider request belongs to a different rider")
		}
		return rr, nil
	}
	if req.Inline == nil {
		return nil, common.NewValidationError("either riderRequestId or inline must be supplied")
	}
	return s.PostRiderRequest(ctx, riderID, *req.Inline)
}

// FindPool runs FindMatches for the best-scoring driver trip, then Phase D
// pool optimisation across every other pending match against that same trip
// (spec §4.3 Phase D), when the tenant's MatchConfig enables it.
func (s *Service) FindPool(ctx context.Context, riderID uuid.UUID, req FindMatchesRequest) (*models.PoolAssignment, error) {
	cfg := s.store.GetMatchConfig(ctx, nil)
	if !cfg.EnableMultiRider {
		return nil, common.NewValidationError("pooling is not enabled for this tenant")
	}

	found, err := s.FindMatches(ctx, riderID, req)
	if err != nil {
		return nil, err
	}
	if len(found.Matches) == 0 {
		return nil, common.NewNotFoundError("no matching driver trips found", nil)
	}

	best := found.Matches[0]
	trip, err := s.store.GetDriverTrip(ctx, best.DriverTripID)
	if err != nil {
		return nil, common.NewNotFoundError("driver trip not found", err)
	}

	pending, err := s.store.MatchResultsForTrip(ctx, trip.ID)
	if err != nil {
		return nil, common.NewInternalError("failed to load pending matches for trip", err)
	}

	candidates := make([]PoolCandidate, 0, len(pending))
	for _, m := range pending {
		rr, err := s.store.GetRiderRequest(ctx, m.RiderRequestID)
		if err != nil {
			logger.Get().Sugar().Warnf("matching: skipping pool candidate, rider request %s unreadable: %v", m.RiderRequestID, err)
			continue
		}
		candidates = append(candidates, PoolCandidate{Match: m, Pickup: rr.Pickup, Dropoff: rr.Dropoff, SeatsNeeded: rr.SeatsNeeded})
	}

	result := s.engine.OptimizePool(trip, candidates, cfg)
	if err := s.store.SavePoolAssignment(ctx, result.Assignment); err != nil {
		return nil, common.NewInternalError("failed to persist pool assignment", err)
	}

	return result.Assignment, nil
}

// ConfirmMatch handles a rider or driver confirming a proposed pairing
// (spec §4.3's find→confirm handoff). This only moves the MatchResult and
// RiderRequest into a confirmed state; reserving the seat and creating the
// trip_participants row is InventoryStore/BookingFSM's job (spec §4.4/§4.5),
// triggered by the caller's subsequent book-trip call.
func (s *Service) ConfirmMatch(ctx context.Context, actorID uuid.UUID, req ConfirmMatchRequest) (*models.MatchResult, error) {
	match, err := s.store.GetMatchResult(ctx, req.MatchID)
	if err != nil {
		return nil, common.NewNotFoundError("match not found", err)
	}
	if match.DriverTripID != req.DriverTripID || match.RiderRequestID != req.RiderRequestID {
		return nil, common.NewValidationError("match does not reference the given trip/request pair")
	}
	if actorID != match.RiderID && actorID != match.DriverID {
		return nil, common.NewForbiddenError("only the matched rider or driver may confirm this match")
	}

	ok, err := s.store.TransitionMatchStatus(ctx, match.ID, match.DriverTripID, match.RiderRequestID,
		[]models.MatchStatus{models.MatchPending}, models.MatchConfirmed)
	if err != nil {
		return nil, common.NewInternalError("failed to confirm match", err)
	}
	if !ok {
		return nil, common.NewConflictError("match is no longer pending")
	}
	match.Status = models.MatchConfirmed

	if err := s.store.UpdateRiderRequestStatus(ctx, match.RiderRequestID, models.RequestConfirmed, &match.DriverTripID); err != nil {
		logger.Get().Sugar().Warnf("matching: failed to mark rider request %s confirmed: %v", match.RiderRequestID, err)
	}

	s.publishEvent(eventbus.SubjectTripMatched, sse.TopicMatchFound, eventbus.MatchConfirmedData{
		MatchID: match.ID, DriverTripID: match.DriverTripID, RiderRequestID: match.RiderRequestID,
		DriverID: match.DriverID, RiderID: match.RiderID, ConfirmedAt: time.Now().UTC(),
	}, match.RiderID, match.DriverID)

	return match, nil
}

// RejectMatch handles a rider or driver declining a proposed pairing.
func (s *Service) RejectMatch(ctx context.Context, actorID uuid.UUID, req RejectMatchRequest) error {
	match, err := s.store.GetMatchResult(ctx, req.MatchID)
	if err != nil {
		return common.NewNotFoundError("match not found", err)
	}
	if actorID != match.RiderID && actorID != match.DriverID {
		return common.NewForbiddenError("only the matched rider or driver may reject this match")
	}

	ok, err := s.store.TransitionMatchStatus(ctx, match.ID, match.DriverTripID, match.RiderRequestID,
		[]models.MatchStatus{models.MatchPending}, models.MatchRejected)
	if err != nil {
		return common.NewInternalError("failed to reject match", err)
	}
	if !ok {
		return common.NewConflictError("match is no longer pending")
	}

	if err := s.store.UpdateRiderRequestStatus(ctx, match.RiderRequestID, models.RequestPending, nil); err != nil {
		logger.Get().Sugar().Warnf("matching: failed to reopen rider request %s after rejection: %v", match.RiderRequestID, err)
	}
	return nil
}

// RunBatch re-runs FindMatches for every still-pending rider request, for a
// scheduled job to sweep requests posted since the last pass (SPEC_FULL §14
// supplemental: the teacher's periodic matching sweep, generalised to the
// three-phase matcher).
func (s *Service) RunBatch(ctx context.Context, pending []*models.RiderRequest) BatchResult {
	result := BatchResult{RequestsConsidered: len(pending)}
	cfg := s.store.GetMatchConfig(ctx, nil)

	for _, rr := range pending {
		candidates, err := s.store.FindCandidateDrivers(ctx, rr, cfg)
		if err != nil {
			logger.Get().Sugar().Warnf("matching: batch candidate lookup failed for request %s: %v", rr.ID, err)
			continue
		}
		found := s.engine.Find(rr, candidates, cfg)
		for _, m := range found.Matches {
			if err := s.store.SaveMatchResult(ctx, m); err != nil {
				logger.Get().Sugar().Warnf("matching: batch failed to persist match for request %s: %v", rr.ID, err)
				continue
			}
		}
		s.recordTelemetry(len(candidates), found)
		if len(found.Matches) > 0 {
			result.TotalMatched++
			if err := s.store.UpdateRiderRequestStatus(ctx, rr.ID, models.RequestMatched, &found.Matches[0].DriverTripID); err != nil {
				logger.Get().Sugar().Warnf("matching: batch failed to mark request %s matched: %v", rr.ID, err)
			}
		}
		if cfg.EnableMultiRider && len(found.Matches) > 0 {
			result.TotalPooled++
		}
	}
	return result
}

// Stats returns the running matcher telemetry (spec §4.3's admin /matching/stats view).
func (s *Service) Stats() Stats {
	rejected := s.rejectedMu.Load().(map[string]int64)
	copied := make(map[string]int64, len(rejected))
	for k, v := range rejected {
		copied[k] = v
	}
	return Stats{
		TotalFindCalls:    atomic.LoadInt64(&s.totalFindCalls),
		TotalCandidates:   atomic.LoadInt64(&s.totalCandidates),
		TotalMatchesFound: atomic.LoadInt64(&s.totalMatchesFound),
		RejectedByReason:  copied,
	}
}

func (s *Service) recordTelemetry(candidateCount int, found FindResult) {
	atomic.AddInt64(&s.totalFindCalls, 1)
	atomic.AddInt64(&s.totalCandidates, int64(candidateCount))
	atomic.AddInt64(&s.totalMatchesFound, int64(len(found.Matches)))

	if len(found.Rejected) == 0 {
		return
	}
	for {
		old := s.rejectedMu.Load().(map[string]int64)
		next := make(map[string]int64, len(old))
		for k, v := range old {
			next[k] = v
		}
		for reason, n := range found.Rejected {
			next[reason] += int64(n)
		}
		if s.rejectedMu.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *Service) publishEvent(subject, topic string, data interface{}, targetUserIDs ...uuid.UUID) {
	if s.sseBus != nil {
		s.sseBus.Emit(topic, data, targetUserIDs...)
	}
	if s.bus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "matching-service", data)
		if err != nil {
			logger.Get().Sugar().Warnf("matching: failed to create event %s: %v", subject, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.bus.Publish(ctx, subject, evt); err != nil {
			logger.Get().Sugar().Warnf("matching: failed to publish event %s: %v", subject, err)
		}
	}()
}
