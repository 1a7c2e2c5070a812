package runconfig

import "testing"

func TestDecodeRunArgsAppliesFlagsOverDefaults(t *testing.T) {
	cfg, err := DecodeRunArgs("-e0.1 -xb -b4 -f270 -m12H -p12 -n8 -r5 -v22.5 -t-10 -q0 -w3")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exposure != 0.1 {
		t.Errorf("Exposure = %v, want 0.1", cfg.Exposure)
	}
	if cfg.FrameType != FrameBias {
		t.Errorf("FrameType = %q, want FrameBias", cfg.FrameType)
	}
	if cfg.Binning != 4 {
		t.Errorf("Binning = %d, want 4", cfg.Binning)
	}
	if cfg.Readout != Readout270MHz {
		t.Errorf("Readout = %v, want Readout270MHz", cfg.Readout)
	}
	if cfg.Amp != Amp12H {
		t.Errorf("Amp = %q, want Amp12H", cfg.Amp)
	}
	if cfg.Encoding != Encoding12 {
		t.Errorf("Encoding = %q, want Encoding12", cfg.Encoding)
	}
	if cfg.ImagesPerRev != Cycle8 {
		t.Errorf("ImagesPerRev = %v, want Cycle8", cfg.ImagesPerRev)
	}
	if cfg.Revolutions != 5 {
		t.Errorf("Revolutions = %d, want 5", cfg.Revolutions)
	}
	if cfg.Velocity != 22.5 {
		t.Errorf("Velocity = %v, want 22.5", cfg.Velocity)
	}
	if cfg.TargetTemp != -10 {
		t.Errorf("TargetTemp = %v, want -10", cfg.TargetTemp)
	}
	if cfg.QuickCool {
		t.Error("QuickCool = true, want false from -q0")
	}
	if cfg.FilterPosition != 3 {
		t.Errorf("FilterPosition = %d, want 3", cfg.FilterPosition)
	}
}

func TestDecodeRunArgsKeepsDefaultsWhenNoFlagsGiven(t *testing.T) {
	cfg, err := DecodeRunArgs("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameType != FrameExpose {
		t.Errorf("FrameType = %q, want default FrameExpose", cfg.FrameType)
	}
	if cfg.Binning != 2 {
		t.Errorf("Binning = %d, want default 2", cfg.Binning)
	}
	if cfg.Altitude != TelescopeUnset || cfg.Azimuth != TelescopeUnset {
		t.Errorf("Altitude/Azimuth = %v/%v, want TEL_UNSET sentinel", cfg.Altitude, cfg.Azimuth)
	}
}

func TestDecodeRunArgsRejectsExposureOutOfRange(t *testing.T) {
	if _, err := DecodeRunArgs("-e45"); err == nil {
		t.Fatal("expected error for exposure above 30s ceiling")
	}
}

func TestDecodeRunArgsRejectsUnknownFrameType(t *testing.T) {
	if _, err := DecodeRunArgs("-xZ"); err == nil {
		t.Fatal("expected error for unrecognized frame type")
	}
}

func TestDecodeRunArgsClampsAltitudeAndAzimuth(t *testing.T) {
	cfg, err := DecodeRunArgs("-A123 -Z-45")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Altitude != 90 {
		t.Errorf("Altitude = %v, want clamped to 90", cfg.Altitude)
	}
	if cfg.Azimuth != 0 {
		t.Errorf("Azimuth = %v, want clamped to 0", cfg.Azimuth)
	}
}

func TestDecodeRunArgsIgnoresUnrecognizedFlags(t *testing.T) {
	cfg, err := DecodeRunArgs("-Qnonsense -e0.2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exposure != 0.2 {
		t.Errorf("Exposure = %v, want 0.2 despite unrecognized -Q flag", cfg.Exposure)
	}
}

func TestDecodeRunArgsParsesKillAndSuggestedRun(t *testing.T) {
	cfg, err := DecodeRunArgs("-k -U17")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Kill {
		t.Error("Kill = false, want true from -k")
	}
	if cfg.SuggestedRun == nil || *cfg.SuggestedRun != 17 {
		t.Errorf("SuggestedRun = %v, want pointer to 17", cfg.SuggestedRun)
	}
}

func TestIsStaticAndFinalPosition(t *testing.T) {
	cfg, err := DecodeRunArgs("-n16 -r2 -v22.5")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IsStatic() {
		t.Error("IsStatic() = true, want false for nonzero velocity")
	}
	step, err := cfg.RotStep()
	if err != nil {
		t.Fatal(err)
	}
	if step != RotStep16 {
		t.Errorf("RotStep() = %v, want %v", step, RotStep16)
	}
	final, err := cfg.FinalPosition()
	if err != nil {
		t.Fatal(err)
	}
	want := float64(cfg.ImagesTotal())*step - RotTolerance
	if final != want {
		t.Errorf("FinalPosition() = %v, want %v", final, want)
	}
}

func TestIsStaticForcedByStaticAngleOverride(t *testing.T) {
	// -a0 with no -v: velocity keeps its nonzero default, but an explicit
	// static-angle override still forces software-trigger mode.
	cfg, err := DecodeRunArgs("-xb -a0 -n8 -r1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Velocity == 0 {
		t.Fatal("Velocity = 0, want nonzero default so this exercises the -a override path")
	}
	if !cfg.IsStatic() {
		t.Error("IsStatic() = false, want true when StaticAngle is set regardless of velocity")
	}
}

func TestResolveExposureRejectsAutoExposureWhenStatic(t *testing.T) {
	cfg, err := DecodeRunArgs("-a10")
	if err != nil {
		t.Fatal(err)
	}
	cfg.AutoExposure = true
	if _, err := cfg.ResolveExposure(0.01); err == nil {
		t.Fatal("expected error: automatic exposure requires a moving rotator")
	}
}

func TestSpecBySerialFindsKnownCameras(t *testing.T) {
	spec, err := SpecBySerial("VSC-04181")
	if err != nil {
		t.Fatal(err)
	}
	if spec.CameraNumber != 1 {
		t.Errorf("CameraNumber = %d, want 1", spec.CameraNumber)
	}
	if _, err := SpecBySerial("not-a-real-serial"); err == nil {
		t.Fatal("expected error for unknown serial")
	}
}
