package prewhitening

import "fmt"

// Stage names the step of an iteration that failed
type Stage string

const (
	StagePeriodogram   Stage = "periodogram"
	StagePeakSelection Stage = "peak selection"
	StageSingleFit     Stage = "single frequency fit"
	StageMultiFit      Stage = "multi frequency fit"
	StageResidual      Stage = "residual"
	StageSignificance  Stage = "significance"
	StageUncertainty   Stage = "uncertainty"
)

// StageError reports which stage of which iteration failed. Iteration is the
// number of completed iterations plus one while looping, and the final count
// during post-processing.
type StageError struct {
	Stage     Stage
	Iteration int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed in iteration %d: %v", e.Stage, e.Iteration, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
