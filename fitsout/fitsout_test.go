package fitsout

import (
	"testing"
	"time"

	"github.com/LivTel/moptop/runconfig"
)

func sampleRun() *RunContext {
	return &RunContext{
		RunNumber: 7,
		ExpTotal:  128,
		Config: &runconfig.RunConfig{
			FrameType:    runconfig.FrameExpose,
			Binning:      2,
			Readout:      runconfig.Readout100MHz,
			Amp:          runconfig.Amp16L,
			Encoding:     runconfig.Encoding16,
			ReadOrder:    runconfig.ReadOISIM,
			ImagesPerRev: runconfig.Cycle16,
			Velocity:     22.5,
			TargetTemp:   4.0,
			Exposure:     0.1,
			Focus:        runconfig.TelescopeUnset,
			Altitude:     runconfig.TelescopeUnset,
			Azimuth:      runconfig.TelescopeUnset,
		},
		Spec:             runconfig.CameraSpecs[1],
		Measured:         &runconfig.MeasuredParams{SensorWidth: 2048, SensorHeight: 2048, Exposure: 0.1, ClockFrequencyHz: 1e9},
		ResolvedExposure: 0.087,
	}
}

func sampleFrame() *runconfig.FrameRecord {
	start := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	return &runconfig.FrameRecord{
		Rotation:  1,
		Sequence:  3,
		RotReq:    45.0,
		RotAng:    45.0,
		RotBeg:    44.5,
		RotEnd:    45.5,
		RotArc:    1.0,
		ClockTick: 123456,
		ObsStart:  start,
		ObsEnd:    start.Add(100 * time.Millisecond),
	}
}

func TestHeaderCardsIncludesCoreTags(t *testing.T) {
	run := sampleRun()
	frame := sampleFrame()
	cards, err := headerCards(run, frame)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]fitsioValue{}
	for _, c := range cards {
		byName[c.Name] = fitsioValue{c.Value}
	}
	want := map[string]interface{}{
		"INSTRUME": "MOPTOP",
		"RADECSYS": "FK5",
		"CCDTYPE":  "sCMOS",
		"RUNNUM":   7,
		"EXPTOTAL": 128,
	}
	for name, expected := range want {
		v, ok := byName[name]
		if !ok {
			t.Fatalf("missing header card %s", name)
		}
		if v.v != expected {
			t.Errorf("%s = %v, want %v", name, v.v, expected)
		}
	}
}

func TestHeaderCardsUsesResolvedExposureForExpreqst(t *testing.T) {
	// EXPREQST must carry the run's resolved exposure (e.g. the auto-exposure
	// computation), not Config.Exposure, which is left unset on an
	// auto-exposure run.
	run := sampleRun()
	run.Config.Exposure = 0
	cards, err := headerCards(run, sampleFrame())
	if err != nil {
		t.Fatal(err)
	}
	var expreqst, exptime interface{}
	for _, c := range cards {
		switch c.Name {
		case "EXPREQST":
			expreqst = c.Value
		case "EXPTIME":
			exptime = c.Value
		}
	}
	if expreqst != run.ResolvedExposure {
		t.Errorf("EXPREQST = %v, want ResolvedExposure %v", expreqst, run.ResolvedExposure)
	}
	if exptime != run.Measured.Exposure {
		t.Errorf("EXPTIME = %v, want Measured.Exposure %v", exptime, run.Measured.Exposure)
	}
}

func TestHeaderCardsRejectsUnknownAmpGain(t *testing.T) {
	run := sampleRun()
	run.Config.Amp = "bogus"
	if _, err := headerCards(run, sampleFrame()); err == nil {
		t.Error("expected an error for an unknown amp gain/readout combination")
	}
}

type fitsioValue struct {
	v interface{}
}
