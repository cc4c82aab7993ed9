package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

func TestCanTransition(t *testing.T) {
	var (
		newS    = models.CompetitionStatusNew
		ongoing = models.CompetitionStatusOngoing
		paused  = models.CompetitionStatusPaused
		done    = models.CompetitionStatusDone
	)
	all := []models.CompetitionStatus{newS, ongoing, paused, done}
	legal := map[[2]models.CompetitionStatus]bool{
		{newS, ongoing}:   true,
		{ongoing, paused}: true,
		{paused, ongoing}: true,
		{ongoing, done}:   true,
		{paused, done}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]models.CompetitionStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)

			err := ValidateTransition(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidCompetitionState, "%s -> %s", from, to)
			}
		}
	}
}

func TestValidateTransition_UnknownStatus(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition("ARCHIVED", models.CompetitionStatusDone), models.ErrInvalidCompetitionState)
}
