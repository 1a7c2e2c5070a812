package rotator

import "time"

// Driver is the subset of rotator operations the acquisition loop and run
// controllers depend on; both Controller (real serial hardware) and Mock
// (tests) satisfy it.
type Driver interface {
	MoveAbsolute(deg float64) error
	Goto(deg float64, timeout time.Duration) (float64, error)
	QueryPosition() (float64, error)
	WaitOnTarget(timeout time.Duration) error
	ArmTrigger(startDeg, stepDeg, endDeg float64, polarity Polarity) error
	EnableTrigger(enable bool) error
	SetVelocity(degPerSec float64) error
	Initialize(runVelocity float64) error
}

var (
	_ Driver = (*Controller)(nil)
	_ Driver = (*Mock)(nil)
)
