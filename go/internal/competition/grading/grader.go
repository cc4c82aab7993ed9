package grading

//go:generate mockgen -package=mocks -destination=mocks/mock_grader.go github.com/PTMAbellana/polegion/go/internal/competition/grading Grader

import (
	"encoding/json"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// Result is the outcome of grading one solution.
type Result struct {
	Correct  bool   `json:"correct"`
	XPGained int    `json:"xp_gained"`
	Feedback string `json:"feedback"`
}

// Grader maps a problem and a submitted solution to a result.
// Implementations must be deterministic and free of side effects so a grade can be retried.
type Grader interface {
	Grade(problem models.ProblemSpec, solution json.RawMessage) (Result, error)
}
