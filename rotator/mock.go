package rotator

import "time"

// Mock is an in-memory rotator used by acquisition-loop tests; it never
// touches a serial port.
type Mock struct {
	Position    float64
	Velocity    float64
	TriggerOn   bool
	ArmedStart  float64
	ArmedStep   float64
	ArmedEnd    float64
	ArmedPol    Polarity
	Errors      bool // not read by any Mock method
}

// NewMock returns a Mock positioned at zero degrees.
func NewMock() *Mock {
	return &Mock{}
}

// MoveAbsolute sets the mock position instantly.
func (m *Mock) MoveAbsolute(deg float64) error {
	m.Position = deg
	return nil
}

// Goto moves instantly and returns the requested position.
func (m *Mock) Goto(deg float64, timeout time.Duration) (float64, error) {
	m.Position = deg
	return m.Position, nil
}

// QueryPosition returns the current mock position.
func (m *Mock) QueryPosition() (float64, error) {
	return m.Position, nil
}

// WaitOnTarget always succeeds immediately.
func (m *Mock) WaitOnTarget(timeout time.Duration) error {
	return nil
}

// ArmTrigger records the programmed trigger parameters.
func (m *Mock) ArmTrigger(startDeg, stepDeg, endDeg float64, polarity Polarity) error {
	m.ArmedStart, m.ArmedStep, m.ArmedEnd, m.ArmedPol = startDeg, stepDeg, endDeg, polarity
	return nil
}

// EnableTrigger records whether the trigger output is enabled.
func (m *Mock) EnableTrigger(enable bool) error {
	m.TriggerOn = enable
	return nil
}

// SetVelocity records the requested velocity.
func (m *Mock) SetVelocity(degPerSec float64) error {
	m.Velocity = degPerSec
	return nil
}

// Initialize mimics the real controller's startup sequence with no side
// effects beyond recording the run velocity.
func (m *Mock) Initialize(runVelocity float64) error {
	m.Velocity = runVelocity
	return nil
}
