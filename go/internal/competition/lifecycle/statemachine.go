package lifecycle

import (
	"fmt"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// transitions is the competition state machine. DONE is terminal.
var transitions = map[models.CompetitionStatus][]models.CompetitionStatus{
	models.CompetitionStatusNew:     {models.CompetitionStatusOngoing},
	models.CompetitionStatusOngoing: {models.CompetitionStatusPaused, models.CompetitionStatusDone},
	models.CompetitionStatusPaused:  {models.CompetitionStatusOngoing, models.CompetitionStatusDone},
	models.CompetitionStatusDone:    {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.CompetitionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns models.ErrInvalidCompetitionState for an illegal step.
func ValidateTransition(from, to models.CompetitionStatus) error {
	if _, known := transitions[from]; !known {
		return fmt.Errorf("unknown competition status %q: %w", from, models.ErrInvalidCompetitionState)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("transition from %s to %s is not allowed: %w", from, to, models.ErrInvalidCompetitionState)
	}
	return nil
}
