// Package mockcam is an in-memory stand-in for camera/sdkcgo.Camera, used by
// acquisition-loop and run-controller tests so they never touch the vendor
// SDK, the way pi.ControllerMock stands in for pi.Controller.
package mockcam

import (
	"fmt"
	"time"

	"github.com/LivTel/moptop/camera"
	"github.com/LivTel/moptop/runconfig"
)

var _ camera.AcquisitionCamera = (*Camera)(nil)

// Camera is a fully in-memory AcquisitionCamera. Frames queued are returned
// from WaitBuffer in FIFO order; SetFrame lets a test preload pixel data
// (including trailing metadata records) into a ring slot before it is
// waited on.
type Camera struct {
	Serial          string
	FirmwareVersion string
	ReadoutTimeSec  float64
	ImageSizeBytes  int64
	SensorWidth     int
	SensorHeight    int

	Temp       float64
	TempStatus string

	ring    [][]byte
	queue   []int
	closed  bool
	acqOn   bool
	trigExt bool

	LastConfig *runconfig.RunConfig
	Commands   []string
}

// New returns a mock camera with plausible default measured parameters.
func New(serial string) *Camera {
	return &Camera{
		Serial:          serial,
		FirmwareVersion: "mock-1.0",
		ReadoutTimeSec:  0.01,
		ImageSizeBytes:  2048 * 2048 * 2,
		SensorWidth:     2048,
		SensorHeight:    2048,
		Temp:            4.0,
		TempStatus:      "Stabilised",
	}
}

// Configure records the requested RunConfig and returns a MeasuredParams
// built from the mock's configured fields.
func (c *Camera) Configure(cfg *runconfig.RunConfig) (*runconfig.MeasuredParams, error) {
	c.LastConfig = cfg
	exposure, err := cfg.ResolveExposure(c.ReadoutTimeSec)
	if err != nil {
		return nil, err
	}
	return &runconfig.MeasuredParams{
		SerialNumber:     c.Serial,
		FirmwareVersion:  c.FirmwareVersion,
		Exposure:         exposure,
		ReadoutTime:      c.ReadoutTimeSec,
		BytesPerPixel:    2,
		SensorWidth:      c.SensorWidth,
		SensorHeight:     c.SensorHeight,
		ImageSizeBytes:   c.ImageSizeBytes,
		ExposureMin:      0.00001,
		ExposureMax:      30.0,
		ClockFrequencyHz: 1000000000,
	}, nil
}

// AllocateRing pre-allocates imgCycle empty slots.
func (c *Camera) AllocateRing(imgCycle int) error {
	c.ring = make([][]byte, imgCycle)
	for i := range c.ring {
		c.ring[i] = make([]byte, c.ImageSizeBytes)
	}
	return nil
}

// SetFrame preloads ring slot idx's bytes, for a test to control what
// WaitBuffer eventually returns via RingSlotBytes.
func (c *Camera) SetFrame(idx int, data []byte) error {
	if idx < 0 || idx >= len(c.ring) {
		return fmt.Errorf("mockcam: ring slot %d out of range [0,%d)", idx, len(c.ring))
	}
	c.ring[idx] = data
	return nil
}

// QueueBuffer marks ring slot idx as pending.
func (c *Camera) QueueBuffer(idx int) error {
	if idx < 0 || idx >= len(c.ring) {
		return fmt.Errorf("mockcam: ring slot %d out of range [0,%d)", idx, len(c.ring))
	}
	c.queue = append(c.queue, idx)
	return nil
}

// WaitBuffer returns the oldest queued slot index, or an error if none is
// queued (the mock never blocks indefinitely).
func (c *Camera) WaitBuffer(timeout time.Duration) (int, error) {
	if len(c.queue) == 0 {
		return -1, fmt.Errorf("mockcam: WaitBuffer called with nothing queued")
	}
	idx := c.queue[0]
	c.queue = c.queue[1:]
	return idx, nil
}

// RingSlotBytes returns ring slot idx's current contents.
func (c *Camera) RingSlotBytes(idx int) []byte {
	return c.ring[idx]
}

// Command records the command name issued.
func (c *Camera) Command(name string) error {
	c.Commands = append(c.Commands, name)
	return nil
}

// AcquisitionEnable records acquisition start/stop.
func (c *Camera) AcquisitionEnable(enable bool) error {
	c.acqOn = enable
	if enable {
		return c.Command("AcquisitionStart")
	}
	return c.Command("AcquisitionStop")
}

// TriggerModeSet records the requested trigger source.
func (c *Camera) TriggerModeSet(external bool) error {
	c.trigExt = external
	return nil
}

// ClockReset records a clock-reset command.
func (c *Camera) ClockReset() error {
	return c.Command("TimestampClockReset")
}

// GetTemp returns the mock's configured temperature.
func (c *Camera) GetTemp() (float64, error) { return c.Temp, nil }

// GetTempStatus returns the mock's configured temperature status string.
func (c *Camera) GetTempStatus() (string, error) { return c.TempStatus, nil }

// SetTempSetpoint records the requested setpoint as the current temperature,
// simulating instantaneous cooling for tests that don't exercise cooling's
// wait loop directly.
func (c *Camera) SetTempSetpoint(celsius float64) error {
	c.Temp = celsius
	return nil
}

// Close marks the mock closed.
func (c *Camera) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *Camera) Closed() bool { return c.closed }
