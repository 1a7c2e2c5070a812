package cooling

import (
	"testing"
	"time"
)

type fakeThermometer struct {
	temp   float64
	status string
	setpt  float64
	setErr error
}

func (f *fakeThermometer) GetTemp() (float64, error)      { return f.temp, nil }
func (f *fakeThermometer) GetTempStatus() (string, error) { return f.status, nil }
func (f *fakeThermometer) SetTempSetpoint(c float64) error {
	f.setpt = c
	return f.setErr
}

func TestWaitSucceedsWhenAlreadyAtTarget(t *testing.T) {
	cam := &fakeThermometer{temp: 4.0, status: "Stabilised"}
	if err := Wait(cam, 4.0, 0.5, false, time.Second); err != nil {
		t.Fatal(err)
	}
	if cam.setpt != 4.0 {
		t.Errorf("setpoint = %v, want 4.0", cam.setpt)
	}
}

func TestWaitFullPassTimesOutWhenNeverStabilised(t *testing.T) {
	// Even though the sensor is already at target, a non-quick wait must
	// still see a "Stabilised" status before it is allowed to check the
	// temperature (the slow pass that only quick mode skips).
	cam := &fakeThermometer{temp: 4.0, status: "Cooling"}
	err := Wait(cam, 4.0, 0.5, false, 1100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error waiting for Stabilised status")
	}
}

func TestWaitQuickSkipsStabilisedPassButStillChecksTemp(t *testing.T) {
	cam := &fakeThermometer{temp: 4.0, status: "Cooling"}
	if err := Wait(cam, 4.0, 0.5, true, time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestWaitQuickTimesOutWhenTempNeverReached(t *testing.T) {
	cam := &fakeThermometer{temp: 20.0, status: "Stabilised"}
	err := Wait(cam, 4.0, 0.5, true, 1100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error: quick mode still requires temp <= target")
	}
}

func TestWaitTimesOutWhenNeverReached(t *testing.T) {
	cam := &fakeThermometer{temp: 20.0, status: "Stabilised"}
	err := Wait(cam, 4.0, 0.5, false, 1100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestReachedAllowsHeadroomButNotOvershoot(t *testing.T) {
	if !reached(4.3, 4.0, 0.5) {
		t.Error("4.3 should have reached within 0.5 headroom of target 4.0")
	}
	if !reached(3.0, 4.0, 0.5) {
		t.Error("3.0 (below target) should count as reached")
	}
	if reached(5.0, 4.0, 0.5) {
		t.Error("5.0 should not have reached target 4.0 with 0.5 headroom")
	}
}
