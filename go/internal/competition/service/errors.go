package service

import (
	"errors"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// toConnectError maps the competition error taxonomy onto connect codes.
func toConnectError(procedure string, err error) error {
	var ce models.CompetitionError
	if errors.As(err, &ce) {
		switch ce {
		case models.ErrParticipantNotFound, models.ErrCompetitionNotFound,
			models.ErrProblemNotFound, models.ErrNoActiveCompetition, models.ErrAttemptNotFound:
			return connect.NewError(connect.CodeNotFound, err)
		case models.ErrInvalidCompetitionState:
			return connect.NewError(connect.CodeFailedPrecondition, err)
		case models.ErrInvalidTimeTaken, models.ErrLateSubmission, models.ErrInvalidCompetitionConfig:
			return connect.NewError(connect.CodeInvalidArgument, err)
		case models.ErrNotInstructor:
			return connect.NewError(connect.CodePermissionDenied, err)
		}
	}

	log.Error().Err(err).Str("procedure", procedure).Msg("request failed")
	return connect.NewError(connect.CodeInternal, err)
}
