// Package cooling waits for a camera's sensor to reach its target
// temperature before a run starts acquiring, grounded on
// original_source/mop_cam.c's cam_cool.
package cooling

import (
	"fmt"
	"time"

	"github.com/LivTel/moptop/engineerr"
)

// PollInterval is how often the sensor temperature is sampled while waiting,
// matching the original's 1 Hz cam_cool poll.
const PollInterval = 1 * time.Second

// Thermometer is the subset of camera.AcquisitionCamera cooling depends on.
type Thermometer interface {
	GetTemp() (float64, error)
	GetTempStatus() (string, error)
	SetTempSetpoint(celsius float64) error
}

// Wait requests targetCelsius and blocks until the sensor has cooled to it,
// or timeout elapses, matching the two-phase cam_cool(cam, T, timeout, fast)
// the original always runs: unless quick (the -q / RunConfig.QuickCool
// argument, "fast" in the original) skips it, Wait first polls until the
// vendor reports a "Stabilised" status; it then always polls until
// sensor_temperature <= target (+toleranceCelsius headroom), since reaching
// the target is the condition that actually matters for a safe exposure,
// not the vendor's own settling heuristic.
func Wait(cam Thermometer, targetCelsius, toleranceCelsius float64, quick bool, timeout time.Duration) error {
	if err := cam.SetTempSetpoint(targetCelsius); err != nil {
		return engineerr.NewFatal(engineerr.FacCooling, err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	if !quick {
		for {
			status, err := cam.GetTempStatus()
			if err != nil {
				return engineerr.NewFatal(engineerr.FacCooling, err)
			}
			if status == "Stabilised" {
				break
			}
			if timeout > 0 && time.Now().After(deadline) {
				return engineerr.NewReported(engineerr.FacCooling, errNotStabilised(status))
			}
			<-ticker.C
		}
	}

	for {
		temp, err := cam.GetTemp()
		if err != nil {
			return engineerr.NewFatal(engineerr.FacCooling, err)
		}
		if reached(temp, targetCelsius, toleranceCelsius) {
			return nil
		}

		if timeout > 0 && time.Now().After(deadline) {
			return engineerr.NewReported(engineerr.FacCooling, errTimeout(temp, targetCelsius))
		}
		<-ticker.C
	}
}

// reached reports whether temp has cooled to at or below target, allowing
// toleranceCelsius of headroom above it (spec §4.4: "poll until
// sensor_temperature <= T").
func reached(temp, target, tolerance float64) bool {
	return temp <= target+tolerance
}

type timeoutError struct {
	temp, target float64
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("cooling: timed out at %.2fC before reaching target %.2fC", e.temp, e.target)
}

func errTimeout(temp, target float64) error {
	return &timeoutError{temp: temp, target: target}
}

type notStabilisedError struct {
	status string
}

func (e *notStabilisedError) Error() string {
	return fmt.Sprintf("cooling: timed out waiting for Stabilised status (last status %q)", e.status)
}

func errNotStabilised(status string) error {
	return &notStabilisedError{status: status}
}
