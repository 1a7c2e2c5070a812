// Package runconfig holds the acquisition engine's data model: the per-run
// configuration decoded from a RUN datagram, the static per-camera
// calibration table, the mutable camera and filename state each process
// owns, and the transient per-frame record produced by the acquisition
// loop.
package runconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LivTel/moptop/engineerr"
	"github.com/LivTel/moptop/util"
)

// Defaults and limits, carried over from the original instrument software's
// mopnet.h so the engine's validation ranges match exactly.
const (
	MaxRevolutions = 100
	DefaultRevs    = 3

	RotStep8  = 45.0
	RotStep16 = 22.5
	RotVelMax = 360.0
	RotZero   = 0.0
	// DefaultVelocity is the rotator velocity assumed when -v is not given,
	// matching the original's ROT_VEL default (mop_opt.c).
	DefaultVelocity = 45.0
	// RotTolerance is subtracted from the final commanded rotator position
	// so the stage stops past the last trigger point without overshoot.
	RotTolerance = 0.004
)

// altitudeLimiter and azimuthLimiter clamp the telescope-pointing fields
// (spec §6's -A/-Z flags) to their physically valid ranges; the original
// (mop_opt.c) never validated these, but they are informational FITS header
// passthroughs (spec §7's Argument-level, non-fatal class) so out-of-range
// input is silently clamped rather than rejecting the whole RUN.
var (
	altitudeLimiter = &util.Limiter{Min: 0, Max: 90}
	azimuthLimiter  = &util.Limiter{Min: 0, Max: 360}

	DefaultExposure   = 0.45
	DefaultTemp       = 4.0
	TelescopeUnset    = 999.0
	DefaultFilterPos  = 5
	TransferMarginSec = 30.0
)

// FrameType is the single-character image type tag embedded in filenames and
// expanded into the FITS OBSTYPE header value.
type FrameType byte

// Frame types, matching the original's FTS_PFX_*/FTS_TYP_* pairs.
const (
	FrameBias     FrameType = 'b'
	FrameDark     FrameType = 'd'
	FrameExpose   FrameType = 'e'
	FrameFlat     FrameType = 'f'
	FrameAcquire  FrameType = 'q'
	FrameStandard FrameType = 's'
)

// ObsType returns the FITS OBSTYPE value for a frame type.
func (f FrameType) ObsType() (string, error) {
	switch f {
	case FrameBias:
		return "BIAS", nil
	case FrameDark:
		return "DARK", nil
	case FrameExpose:
		return "EXPOSE", nil
	case FrameFlat:
		return "SKY-FLAT", nil
	case FrameAcquire:
		return "ACQUIRE", nil
	case FrameStandard:
		return "STANDARD", nil
	default:
		return "", fmt.Errorf("unknown frame type %q", byte(f))
	}
}

// ReadoutRate is the sensor pixel readout clock.
type ReadoutRate int

// Supported readout rates.
const (
	Readout100MHz ReadoutRate = 100
	Readout270MHz ReadoutRate = 270
)

// AmpGain is the sensor's pre-amp gain / encoding mode.
type AmpGain string

// Supported amp gain modes.
const (
	Amp16L AmpGain = "16L"
	Amp12L AmpGain = "12L"
	Amp12H AmpGain = "12H"
)

// Encoding is the pixel transfer encoding.
type Encoding string

// Supported pixel encodings.
const (
	Encoding12     Encoding = "12"
	Encoding12Pack Encoding = "12PACK"
	Encoding16     Encoding = "16"
)

// ReadOrder is the sensor's row read-out pattern.
type ReadOrder string

// Supported read orders.
const (
	ReadBUSEQ ReadOrder = "BUSEQ" // Bottom Up Sequential
	ReadBUSIM ReadOrder = "BUSIM" // Bottom Up Simultaneous
	ReadCOSIM ReadOrder = "COSIM" // Centre Out Simultaneous
	ReadOISIM ReadOrder = "OISIM" // Outside In Simultaneous
	ReadTDSEQ ReadOrder = "TDSEQ" // Top Down Sequential
	ReadTDSIM ReadOrder = "TDSIM" // Top Down Simultaneous
)

// ImagesPerRev is the number of trigger positions per rotator revolution.
type ImagesPerRev int

// Supported images-per-revolution values and their corresponding angular
// step between triggers.
const (
	Cycle8  ImagesPerRev = 8
	Cycle16 ImagesPerRev = 16
)

// Step returns the angular step in degrees between consecutive triggers.
func (c ImagesPerRev) Step() (float64, error) {
	switch c {
	case Cycle8:
		return RotStep8, nil
	case Cycle16:
		return RotStep16, nil
	default:
		return 0, fmt.Errorf("images-per-revolution must be 8 or 16, got %d", c)
	}
}

// RunConfig is the full set of per-run parameters carried in a RUN datagram,
// per spec §3/§6. An "-ea"/"-eA" argument sets AutoExposure and leaves
// Exposure unset.
type RunConfig struct {
	Exposure     float64 // seconds; not used when AutoExposure is set
	AutoExposure bool
	FrameType    FrameType
	Binning      int // 1,2,3,4,8
	Readout      ReadoutRate
	Amp          AmpGain
	Encoding     Encoding
	ReadOrder    ReadOrder
	ImagesPerRev ImagesPerRev
	Revolutions  int
	// Velocity is signed degrees/second. >0 = CW hardware trigger,
	// <0 = CCW hardware trigger, 0 = static/software trigger.
	Velocity       float64
	TriggerHigh    bool
	TargetTemp     float64
	QuickCool      bool
	FilterPosition int
	OutputDir      string

	Object string
	RA     string
	Dec    string

	Focus    float64
	CAS      float64
	Altitude float64
	Azimuth  float64

	StaticAngle   *float64 // nil unless overridden with -a
	SuggestedRun  *int     // nil unless -U was supplied
	Kill          bool
	SingleCamera  bool // debug: skip all slave handshakes (one_cam)
}

// ImagesTotal is img_total = img_cycle * revolutions.
func (c *RunConfig) ImagesTotal() int {
	return int(c.ImagesPerRev) * c.Revolutions
}

// RotStep returns the signed angular step between triggers: positive for CW,
// negative for CCW, matching the original's sign(rot_vel) convention.
func (c *RunConfig) RotStep() (float64, error) {
	step, err := c.ImagesPerRev.Step()
	if err != nil {
		return 0, err
	}
	if c.Velocity < 0 {
		return -step, nil
	}
	return step, nil
}

// IsStatic reports whether the rotator is not moving during acquisition,
// i.e. software-trigger mode (spec §4.6) rather than hardware-trigger mode
// (spec §4.5). A zero velocity implies static mode, and so does an explicit
// -a static-angle override, which forces software-trigger mode regardless
// of velocity (mop_opt.c's case 'a': rot_sign = ROT_STAT; cam_trg = CAM_TRG_SW).
func (c *RunConfig) IsStatic() bool {
	return c.Velocity == 0 || c.StaticAngle != nil
}

// FinalPosition is the absolute rotator position the engine commands at the
// end of a hardware-triggered run: img_total*rot_step with a small tolerance
// subtracted so the stage halts past, not on, the final trigger point.
func (c *RunConfig) FinalPosition() (float64, error) {
	step, err := c.RotStep()
	if err != nil {
		return 0, err
	}
	final := float64(c.ImagesTotal()) * step
	if step >= 0 {
		return final - RotTolerance, nil
	}
	return final + RotTolerance, nil
}

// ResolveExposure computes the exposure to request from the camera. If
// AutoExposure is set and the rotator is moving, it follows spec §8
// invariant 7: exposure = |rot_step/velocity| - 2*readoutTime.
func (c *RunConfig) ResolveExposure(readoutTime float64) (float64, error) {
	if !c.AutoExposure {
		return c.Exposure, nil
	}
	if c.IsStatic() {
		return 0, fmt.Errorf("automatic exposure requires a moving rotator")
	}
	step, err := c.RotStep()
	if err != nil {
		return 0, err
	}
	interval := step / c.Velocity
	if interval < 0 {
		interval = -interval
	}
	exp := interval - 2*readoutTime
	return exp, nil
}

// CameraSpec is the static per-serial calibration table, grounded on
// original_source/mop_dat.h's cam_info array.
type CameraSpec struct {
	CameraNumber int
	Filter       string
	FilterID     string
	PolAngle     float64
	SerialNumber string
	Model        string
	WellDepth    int     // electrons
	DarkCurrent  float64 // e-/px/s

	// Gain and Noise are keyed by (ReadoutRate, AmpGain).
	Gain  map[ReadoutRate]map[AmpGain]float64
	Noise map[ReadoutRate]map[AmpGain]float64
}

// GainNoise returns the calibrated gain (e-/ADU) and read noise (e- RMS) for
// the given readout rate and amp gain mode.
func (s *CameraSpec) GainNoise(rate ReadoutRate, amp AmpGain) (gain, noise float64, err error) {
	gm, ok := s.Gain[rate]
	if !ok {
		return 0, 0, fmt.Errorf("no gain table for readout rate %d", rate)
	}
	nm, ok := s.Noise[rate]
	if !ok {
		return 0, 0, fmt.Errorf("no noise table for readout rate %d", rate)
	}
	g, ok := gm[amp]
	if !ok {
		return 0, 0, fmt.Errorf("no gain entry for amp %s", amp)
	}
	n, ok := nm[amp]
	if !ok {
		return 0, 0, fmt.Errorf("no noise entry for amp %s", amp)
	}
	return g, n, nil
}

// CameraSpecs is the real two-camera calibration table from the original
// instrument's mop_dat.h cam_info array.
var CameraSpecs = map[int]*CameraSpec{
	1: {
		CameraNumber: 1,
		PolAngle:     0.0,
		SerialNumber: "VSC-04181",
		Model:        "ZYLA-4.2P-USB3",
		WellDepth:    32241,
		DarkCurrent:  0.1080,
		Gain: map[ReadoutRate]map[AmpGain]float64{
			Readout100MHz: {Amp16L: 0.55, Amp12L: 0.27, Amp12H: 8.48},
			Readout270MHz: {Amp16L: 0.54, Amp12L: 0.29, Amp12H: 8.44},
		},
		Noise: map[ReadoutRate]map[AmpGain]float64{
			Readout100MHz: {Amp16L: 1.09, Amp12L: 0.90, Amp12H: 7.42},
			Readout270MHz: {Amp16L: 1.31, Amp12L: 1.09, Amp12H: 7.16},
		},
	},
	2: {
		CameraNumber: 2,
		PolAngle:     90.0,
		SerialNumber: "VSC-04151",
		Model:        "ZYLA-4.2P-USB3",
		WellDepth:    32699,
		DarkCurrent:  0.1063,
		Gain: map[ReadoutRate]map[AmpGain]float64{
			Readout100MHz: {Amp16L: 0.54, Amp12L: 0.26, Amp12H: 8.35},
			Readout270MHz: {Amp16L: 0.53, Amp12L: 0.29, Amp12H: 8.33},
		},
		Noise: map[ReadoutRate]map[AmpGain]float64{
			Readout100MHz: {Amp16L: 1.11, Amp12L: 0.89, Amp12H: 7.35},
			Readout270MHz: {Amp16L: 1.32, Amp12L: 1.11, Amp12H: 7.02},
		},
	},
}

// SpecBySerial looks up a CameraSpec by serial number, as the original did
// once per run (cam_param).
func SpecBySerial(serial string) (*CameraSpec, error) {
	for _, s := range CameraSpecs {
		if s.SerialNumber == serial {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no calibration data for camera serial %q", serial)
}

// MeasuredParams are the values the camera driver reads back after
// configuration, since the vendor may snap requested values to the nearest
// supported setting (spec §4.3).
type MeasuredParams struct {
	SerialNumber     string
	FirmwareVersion  string
	Exposure         float64
	ReadoutTime      float64
	BytesPerPixel    float64
	SensorWidth      int
	SensorHeight     int
	ImageSizeBytes   int64
	ExposureMin      float64
	ExposureMax      float64
	ClockFrequencyHz int64
}

// FrameRecord is one captured frame's transient metadata: created when the
// acquisition loop dequeues a ring slot, consumed by the FITS emitter, then
// discarded (spec §3).
type FrameRecord struct {
	Rotation    int // 1..revolutions
	Sequence    int // 1..img_cycle
	RotReq      float64
	RotAng      float64 // RotReq mod 360
	RotBeg      float64
	RotEnd      float64
	RotArc      float64
	ClockTick   uint64
	ObsStart    time.Time
	ObsEnd      time.Time
	SlotIndex   int
	Filename    string
}

// Duration is the wall-clock time spent acquiring this frame, in seconds.
func (f *FrameRecord) Duration() float64 {
	return f.ObsEnd.Sub(f.ObsStart).Seconds()
}

// DecodeRunArgs parses the space-separated "-<opt><arg>" argument list
// carried in a RUN datagram payload (spec §6's Configuration Arguments
// table). This is a wire-format decode, not a CLI parser: the original CLI
// parsing library details are explicitly out of scope (spec.md §1), but the
// RUN payload grammar it produces is part of the wire protocol and must be
// reproduced here.
func DecodeRunArgs(payload string) (*RunConfig, error) {
	cfg := &RunConfig{
		FrameType:      FrameExpose,
		Binning:        2,
		Readout:        Readout100MHz,
		Amp:            Amp16L,
		Encoding:       Encoding16,
		ReadOrder:      ReadOISIM,
		ImagesPerRev:   Cycle16,
		Revolutions:    DefaultRevs,
		Velocity:       DefaultVelocity, // overridden by explicit -v
		TargetTemp:     DefaultTemp,
		QuickCool:      true,
		FilterPosition: DefaultFilterPos,
		OutputDir:      ".",
		Focus:          TelescopeUnset,
		CAS:            TelescopeUnset,
		Altitude:       TelescopeUnset,
		Azimuth:        TelescopeUnset,
	}

	fields := strings.Fields(payload)
	for _, f := range fields {
		if len(f) < 2 || f[0] != '-' {
			continue
		}
		flag := f[1:2]
		arg := f[2:]
		if err := applyArg(cfg, flag, arg); err != nil {
			return nil, engineerr.NewArgument(flag, err)
		}
	}
	return cfg, nil
}

func applyArg(cfg *RunConfig, flag, arg string) error {
	switch flag {
	case "e":
		if arg == "a" || arg == "A" {
			cfg.AutoExposure = true
			return nil
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid exposure %q: %w", arg, err)
		}
		if v < 0.00001 || v > 30.0 {
			return fmt.Errorf("exposure %v out of range [0.00001, 30.0]", v)
		}
		cfg.Exposure = v
	case "x":
		if len(arg) != 1 {
			return fmt.Errorf("frame type must be a single character, got %q", arg)
		}
		ft := FrameType(arg[0])
		if _, err := ft.ObsType(); err != nil {
			return err
		}
		cfg.FrameType = ft
	case "b":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid binning %q: %w", arg, err)
		}
		switch v {
		case 1, 2, 3, 4, 8:
			cfg.Binning = v
		default:
			return fmt.Errorf("binning must be one of 1,2,3,4,8, got %d", v)
		}
	case "f":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid readout rate %q: %w", arg, err)
		}
		switch ReadoutRate(v) {
		case Readout100MHz, Readout270MHz:
			cfg.Readout = ReadoutRate(v)
		default:
			return fmt.Errorf("readout rate must be 100 or 270, got %d", v)
		}
	case "m":
		switch AmpGain(arg) {
		case Amp12H, Amp12L, Amp16L:
			cfg.Amp = AmpGain(arg)
		default:
			return fmt.Errorf("amp gain must be one of 12H,12L,16L, got %q", arg)
		}
	case "p":
		switch Encoding(arg) {
		case Encoding12, Encoding12Pack, Encoding16:
			cfg.Encoding = Encoding(arg)
		default:
			return fmt.Errorf("pixel encoding must be one of 12,12PACK,16, got %q", arg)
		}
	case "n":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid images-per-rev %q: %w", arg, err)
		}
		switch ImagesPerRev(v) {
		case Cycle8, Cycle16:
			cfg.ImagesPerRev = ImagesPerRev(v)
		default:
			return fmt.Errorf("images-per-rev must be 8 or 16, got %d", v)
		}
	case "o":
		switch ReadOrder(arg) {
		case ReadBUSEQ, ReadBUSIM, ReadCOSIM, ReadOISIM, ReadTDSEQ, ReadTDSIM:
			cfg.ReadOrder = ReadOrder(arg)
		default:
			return fmt.Errorf("unknown read order %q", arg)
		}
	case "r":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid revolutions %q: %w", arg, err)
		}
		if v < 1 || v > MaxRevolutions {
			return fmt.Errorf("revolutions must be in [1,%d], got %d", MaxRevolutions, v)
		}
		cfg.Revolutions = v
	case "v":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid velocity %q: %w", arg, err)
		}
		if v < -RotVelMax || v > RotVelMax {
			return fmt.Errorf("velocity must be in [-360,360], got %v", v)
		}
		cfg.Velocity = v
	case "t":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid target temperature %q: %w", arg, err)
		}
		cfg.TargetTemp = v
	case "q":
		cfg.QuickCool = arg == "1"
	case "w":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid filter position %q: %w", arg, err)
		}
		if v < 1 || v > 5 {
			return fmt.Errorf("filter position must be in [1,5], got %d", v)
		}
		cfg.FilterPosition = v
	case "W":
		cfg.OutputDir = arg
	case "O":
		cfg.Object = arg
	case "R":
		cfg.RA = arg
	case "D":
		cfg.Dec = arg
	case "F":
		v, err := strconv.ParseFloat(arg, 64)
		if err == nil {
			cfg.Focus = v
		}
	case "C":
		v, err := strconv.ParseFloat(arg, 64)
		if err == nil {
			cfg.CAS = v
		}
	case "A":
		v, err := strconv.ParseFloat(arg, 64)
		if err == nil {
			cfg.Altitude = altitudeLimiter.Clamp(v)
		}
	case "Z":
		v, err := strconv.ParseFloat(arg, 64)
		if err == nil {
			cfg.Azimuth = azimuthLimiter.Clamp(v)
		}
	case "a":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid static angle %q: %w", arg, err)
		}
		if v < -360 || v > 360 {
			return fmt.Errorf("static angle must be in [-360,360], got %v", v)
		}
		cfg.StaticAngle = &v
	case "U":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid suggested run number %q: %w", arg, err)
		}
		cfg.SuggestedRun = &v
	case "k":
		cfg.Kill = true
	default:
		// Unrecognized flags are ignored; the original rejected unknown
		// options at the getopt layer, which is out of scope here (CLI
		// parsing library details are excluded per spec.md §1).
	}
	return nil
}
