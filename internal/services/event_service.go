package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
	"github.com/tbourn/doxyme-slack-calling/internal/events"
	"github.com/tbourn/doxyme-slack-calling/internal/observability"
)

// ReceiptLedger remembers which Events API deliveries were accepted.
type ReceiptLedger interface {
	Record(ctx context.Context, eventID, teamID, kind string) (first bool, err error)
}

// RoomLookup reads a user's linked room.
type RoomLookup interface {
	Get(ctx context.Context, userID string) (*domain.RoomMapping, error)
}

// EventService handles verified event_callback deliveries.
type EventService struct {
	Receipts ReceiptLedger
	Rooms    RoomLookup
}

// NewEventService wires an EventService. Either dependency may be nil.
func NewEventService(receipts ReceiptLedger, rooms RoomLookup) *EventService {
	return &EventService{Receipts: receipts, Rooms: rooms}
}

// Handle classifies the inner event of env and records the transition.
// A delivery whose event id was already accepted returns ErrDuplicateEvent
// together with its classification. Ledger failures are logged and the event
// is processed anyway.
func (s *EventService) Handle(ctx context.Context, env events.Envelope) (events.CallEvent, error) {
	ctx, span := observability.Tracer().Start(ctx, "slack.event")
	defer span.End()

	ev := events.Classify(env.Event)
	span.SetAttributes(
		attribute.String("slack.event_id", env.EventID),
		attribute.String("call.kind", ev.Kind.String()),
	)
	logger := log.Ctx(ctx).With().
		Str("event_id", env.EventID).
		Str("team_id", env.TeamID).
		Str("kind", ev.Kind.String()).
		Str("rule", ev.Rule).
		Logger()

	if s.Receipts != nil && env.EventID != "" {
		first, err := s.Receipts.Record(ctx, env.EventID, env.TeamID, ev.Kind.String())
		if err != nil {
			logger.Warn().Err(err).Msg("event receipt not recorded")
		} else if !first {
			logger.Debug().Msg("duplicate event delivery ignored")
			return ev, ErrDuplicateEvent
		}
	}

	observability.CallEvents.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind == events.KindOther {
		logger.Debug().Msg("event ignored")
		return ev, nil
	}

	s.logTransition(ctx, &logger, ev)
	return ev, nil
}

func (s *EventService) logTransition(ctx context.Context, logger *zerolog.Logger, ev events.CallEvent) {
	e := logger.Info().Str("call_id", ev.CallID).Str("user_id", ev.UserID)
	if s.Rooms != nil && ev.UserID != "" {
		rec, err := s.Rooms.Get(ctx, ev.UserID)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("room lookup failed")
		} else {
			e = e.Bool("room_linked", rec != nil)
		}
	}
	e.Msg("call lifecycle event")
}
