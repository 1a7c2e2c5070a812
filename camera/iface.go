// Package camera defines the acquisition-facing camera interface both the
// real Andor SDK3 binding (camera/sdkcgo) and the test double
// (camera/mockcam) satisfy, mirroring the way the teacher's pi package lets
// pi.Controller and pi.ControllerMock stand in for one another behind
// pi.PIController.
package camera

import (
	"time"

	"github.com/LivTel/moptop/runconfig"
)

// AcquisitionCamera is the narrow surface the acquisition loop and run
// controllers drive a camera through (spec §4.3/§4.5/§4.6). It deliberately
// excludes the many device-discovery and feature-enumeration calls the
// vendor SDK exposes: those belong entirely inside Configure.
type AcquisitionCamera interface {
	// Configure applies a run's sensor settings and returns the values the
	// vendor actually latched.
	Configure(cfg *runconfig.RunConfig) (*runconfig.MeasuredParams, error)

	// AllocateRing allocates imgCycle frame buffers.
	AllocateRing(imgCycle int) error

	// QueueBuffer places ring slot idx on the camera's internal queue.
	QueueBuffer(idx int) error

	// WaitBuffer blocks for the next filled buffer, returning its ring slot.
	WaitBuffer(timeout time.Duration) (int, error)

	// RingSlotBytes returns the raw bytes most recently written into ring
	// slot idx.
	RingSlotBytes(idx int) []byte

	// Command issues a bare command feature (AcquisitionStart,
	// AcquisitionStop, SoftwareTrigger, TimestampClockReset).
	Command(name string) error

	// AcquisitionEnable starts or stops acquisition.
	AcquisitionEnable(enable bool) error

	// TriggerModeSet selects External (hardware) or Software trigger mode.
	TriggerModeSet(external bool) error

	// ClockReset zeroes the camera's internal timestamp clock.
	ClockReset() error

	// GetTemp returns the current sensor temperature in Celsius.
	GetTemp() (float64, error)

	// GetTempStatus returns the vendor's temperature status string.
	GetTempStatus() (string, error)

	// SetTempSetpoint requests a target sensor temperature.
	SetTempSetpoint(celsius float64) error

	// Close releases the camera connection.
	Close() error
}
