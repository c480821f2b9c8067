package matching

import (
	"context"

	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/models"
)

// StoreInterface is MatchStore (spec §4.2): typed persistence for driver
// offers, rider requests, match results, pool assignments, and per-tenant
// matching config.
type StoreInterface interface {
	CreateDriverTrip(ctx context.Context, trip *models.Trip, cfg models.MatchConfig) error
	GetDriverTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	UpdateTripStatus(ctx context.Context, id uuid.UUID, status models.TripStatus) error

	CreateRiderRequest(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) error
	GetRiderRequest(ctx context.Context, id uuid.UUID) (*models.RiderRequest, error)
	UpdateRiderRequestStatus(ctx context.Context, id uuid.UUID, status models.RiderRequestStatus, matchedTripID *uuid.UUID) error

	FindCandidateDrivers(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) ([]*models.Trip, error)

	SaveMatchResult(ctx context.Context, m *models.MatchResult) error
	GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error)
	UpdateMatchStatus(ctx context.Context, id uuid.UUID, status models.MatchStatus) error
	TransitionMatchStatus(ctx context.Context, id, driverTripID, riderRequestID uuid.UUID, from []models.MatchStatus, to models.MatchStatus) (bool, error)
	MatchResultsForTrip(ctx context.Context, driverTripID uuid.UUID) ([]*models.MatchResult, error)

	SavePoolAssignment(ctx context.Context, p *models.PoolAssignment) error

	GetMatchConfig(ctx context.Context, organizationID *uuid.UUID) models.MatchConfig
	SetMatchConfig(ctx context.Context, cfg models.MatchConfig) error
}
