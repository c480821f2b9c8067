package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/models"
)

// RepositoryInterface is InventoryStore (spec §4.4): atomic seat
// reservation against driver_trips plus the participant and waitlist
// tables layered on top of it.
type RepositoryInterface interface {
	GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error)
	ReserveSeat(ctx context.Context, tripID uuid.UUID, seats int) (bool, error)
	ReleaseSeat(ctx context.Context, tripID uuid.UUID, seats int) error
	SetTripStatus(ctx context.Context, tripID uuid.UUID, status models.TripStatus) error

	InsertParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	GetParticipantForTripAndUser(ctx context.Context, tripID, userID uuid.UUID) (*models.Participant, error)
	ParticipantsForTrip(ctx context.Context, tripID uuid.UUID) ([]*models.Participant, error)
	TransitionParticipant(ctx context.Context, id uuid.UUID, from, to models.ParticipantStatus) (bool, error)
	SetParticipantRating(ctx context.Context, id uuid.UUID, rating int, encryptedReview []byte) (bool, error)

	JoinWaitlist(ctx context.Context, entry *models.WaitlistEntry) error
	NextWaitlistEntry(ctx context.Context, tripID uuid.UUID, availableSeats int) (*models.WaitlistEntry, error)
	PromoteWaitlistEntry(ctx context.Context, id uuid.UUID) (bool, error)

	ListAvailableTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error)
}
