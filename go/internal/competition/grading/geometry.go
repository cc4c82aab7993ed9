package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// DefaultTolerance is the absolute tolerance used when a problem does not set one.
const DefaultTolerance = 1e-6

var (
	ErrUnknownKind     = errors.New("unknown problem kind")
	ErrInvalidAnswer   = errors.New("invalid answer key")
	ErrInvalidSolution = errors.New("invalid solution payload")
)

// Point is a 2-D coordinate in a constructed figure.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type numericValue struct {
	Value *float64 `json:"value"`
}

type choiceValue struct {
	Choice *string `json:"choice"`
}

type pointsValue struct {
	Points []Point `json:"points"`
}

// Geometry grades the problem kinds used by geometry competitions.
type Geometry struct{}

// NewGeometry creates a geometry grader
func NewGeometry() *Geometry {
	return &Geometry{}
}

// Grade implements Grader.
func (g *Geometry) Grade(problem models.ProblemSpec, solution json.RawMessage) (Result, error) {
	if problem.MaxXP < 0 {
		return Result{}, fmt.Errorf("%w: negative max_xp", ErrInvalidAnswer)
	}
	if len(bytes.TrimSpace(solution)) == 0 {
		return Result{}, fmt.Errorf("%w: empty", ErrInvalidSolution)
	}

	switch problem.Kind {
	case models.ProblemKindNumeric:
		return gradeNumeric(problem, solution)
	case models.ProblemKindChoice:
		return gradeChoice(problem, solution)
	case models.ProblemKindPoints:
		return gradePoints(problem, solution)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, problem.Kind)
	}
}

func gradeNumeric(problem models.ProblemSpec, solution json.RawMessage) (Result, error) {
	var want, got numericValue
	if err := json.Unmarshal(problem.Answer, &want); err != nil || want.Value == nil {
		return Result{}, fmt.Errorf("%w: numeric answer needs a value", ErrInvalidAnswer)
	}
	if err := json.Unmarshal(solution, &got); err != nil || got.Value == nil {
		return Result{}, fmt.Errorf("%w: numeric solution needs a value", ErrInvalidSolution)
	}

	if math.Abs(*want.Value-*got.Value) <= tolerance(problem) {
		return correct(problem), nil
	}
	return incorrect(), nil
}

func gradeChoice(problem models.ProblemSpec, solution json.RawMessage) (Result, error) {
	var want, got choiceValue
	if err := json.Unmarshal(problem.Answer, &want); err != nil || want.Choice == nil {
		return Result{}, fmt.Errorf("%w: choice answer needs a choice", ErrInvalidAnswer)
	}
	if err := json.Unmarshal(solution, &got); err != nil || got.Choice == nil {
		return Result{}, fmt.Errorf("%w: choice solution needs a choice", ErrInvalidSolution)
	}

	if strings.EqualFold(strings.TrimSpace(*want.Choice), strings.TrimSpace(*got.Choice)) {
		return correct(problem), nil
	}
	return incorrect(), nil
}

// gradePoints matches submitted points to expected points regardless of order.
// XP is proportional to the matched share of expected points; extras forfeit correctness.
func gradePoints(problem models.ProblemSpec, solution json.RawMessage) (Result, error) {
	var want, got pointsValue
	if err := json.Unmarshal(problem.Answer, &want); err != nil || len(want.Points) == 0 {
		return Result{}, fmt.Errorf("%w: points answer needs at least one point", ErrInvalidAnswer)
	}
	if err := json.Unmarshal(solution, &got); err != nil {
		return Result{}, fmt.Errorf("%w: points solution: %v", ErrInvalidSolution, err)
	}

	tol := tolerance(problem)
	used := make([]bool, len(got.Points))
	matched := 0
	for _, w := range want.Points {
		for i, p := range got.Points {
			if used[i] {
				continue
			}
			if math.Hypot(w.X-p.X, w.Y-p.Y) <= tol {
				used[i] = true
				matched++
				break
			}
		}
	}

	extras := len(got.Points) - matched
	if matched == len(want.Points) && extras == 0 {
		return correct(problem), nil
	}

	xp := problem.MaxXP * matched / len(want.Points)
	feedback := fmt.Sprintf("partially correct: %d/%d points", matched, len(want.Points))
	if matched == 0 {
		feedback = "incorrect"
	} else if extras > 0 {
		feedback = fmt.Sprintf("%s, %d extra", feedback, extras)
	}
	return Result{Correct: false, XPGained: xp, Feedback: feedback}, nil
}

func tolerance(problem models.ProblemSpec) float64 {
	if problem.Tolerance > 0 {
		return problem.Tolerance
	}
	return DefaultTolerance
}

func correct(problem models.ProblemSpec) Result {
	return Result{Correct: true, XPGained: problem.MaxXP, Feedback: "correct"}
}

func incorrect() Result {
	return Result{Correct: false, XPGained: 0, Feedback: "incorrect"}
}
