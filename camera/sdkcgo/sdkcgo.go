// Package sdkcgo wraps the Andor SDK3 C API (atcore.h) behind the
// acquisition-facing camera.AcquisitionCamera interface.
//
// This is a direct generalization of the teacher's andor/sdk3 package: the
// typed Get/Set-feature functions (SetInt/GetFloat/SetEnumString/...) are
// kept verbatim in spirit since they already are the fix for the giant
// function-dispatch block spec §9 flags in original_source/mop_cam.c's
// at_try. What's added here is the part andor/sdk3 never needed: a ring of
// img_cycle buffers cycled through the SDK queue (andor/sdk3's Camera
// "only one buffer is supported in this wrapper"), retried vendor calls
// (spec §4.3: 3 attempts, 1s apart), and the MOPTOP-specific configuration
// sequence from original_source/mop_cam.c's cam_conf.
package sdkcgo

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -latcore -latutility
#include <stdlib.h>
#include <atcore.h>

*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
	cwch "github.com/lordadamson/cgo.wchar"

	"github.com/LivTel/moptop/camera"
	"github.com/LivTel/moptop/engineerr"
	"github.com/LivTel/moptop/runconfig"
)

var _ camera.AcquisitionCamera = (*Camera)(nil)

const (
	lengthOfUndefinedBuffers = 255
	vendorRetries            = 3
	vendorRetryDelay         = 1 * time.Second
	ringAlignment            = 16
)

// ErrCodes maps Andor SDK3 driver error codes to names, grounded verbatim on
// andor/sdk3/sdk3.go's ErrCodes table.
var ErrCodes = map[int]string{
	0: "AT_SUCCESS", 1: "AT_ERR_NOT_INITIALISED", 2: "AT_ERR_NOT_IMPLEMENTED",
	3: "AT_ERR_READONLY", 4: "AT_ERR_NOT_READABLE", 5: "AT_ERR_NOT_WRITABLE",
	6: "AT_ERR_OUT_OF_RANGE", 7: "AT_ERR_INDEX_NOT_AVAILABLE", 8: "AT_ERR_INDEX_NOT_IMPLEMENTED",
	9: "AT_ERR_EXCEEDED_MAX_STRING_LENGTH", 10: "AT_ERR_CONNECTION", 11: "AT_ERR_NO_DATA",
	12: "AT_ERR_INVALID_HANDLE", 13: "AT_ERR_TIMED_OUT", 14: "AT_ERR_BUFFER_FULL",
	15: "AT_ERR_INVALID_SIZE", 16: "AT_ERR_INVALID_ALIGNMENT", 17: "AT_ERR_COMM",
	18: "AT_ERR_STRING_NOT_AVAILABLE", 19: "AT_ERR_STRING_NOT_IMPLEMENTED", 20: "AT_ERR_NULL_FEATURE",
	21: "AT_ERR_NULL_HANDLE", 37: "AT_ERR_NO_MEMORY", 38: "AT_ERR_DEVICE_IN_USE",
	39: "AT_ERR_DEVICE_NOT_FOUND", 100: "AT_ERR_HARDWARE_OVERFLOW",
}

// ErrorName translates a numeric driver error code to its name, reporting
// unknown codes as ERR_UNKNOWN (spec §4.3).
func ErrorName(code int) string {
	if s, ok := ErrCodes[code]; ok {
		return s
	}
	return "ERR_UNKNOWN"
}

func drvError(code int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("%d - %s", code, ErrorName(code))
}

func boolToAT(b bool) C.AT_BOOL {
	if b {
		return C.AT_TRUE
	}
	return C.AT_FALSE
}

func atToBool(b C.AT_BOOL) bool { return b == C.AT_TRUE }

// retry runs fn up to vendorRetries times, vendorRetryDelay apart, escalating
// to a RetryExhausted error if every attempt fails (spec §4.3, §7).
func retry(fn func() error) error {
	var lastErr error
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(vendorRetryDelay), vendorRetries-1)
	err := backoff.Retry(func() error {
		lastErr = fn()
		return lastErr
	}, b)
	if err != nil {
		return engineerr.NewRetryExhausted(engineerr.FacCamera, vendorRetries, lastErr)
	}
	return nil
}

func setEnumString(handle int, feature, value string) error {
	return retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		vstr, err := cwch.FromGoString(value)
		if err != nil {
			return err
		}
		code := int(C.AT_SetEnumString(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), (*C.AT_WC)(vstr.Pointer())))
		return drvError(code)
	})
}

func setBool(handle int, feature string, v bool) error {
	return retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		code := int(C.AT_SetBool(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), boolToAT(v)))
		return drvError(code)
	})
}

func setFloat(handle int, feature string, v float64) error {
	return retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		code := int(C.AT_SetFloat(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), C.double(v)))
		return drvError(code)
	})
}

func setInt(handle int, feature string, v int64) error {
	return retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		code := int(C.AT_SetInt(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), C.AT_64(v)))
		return drvError(code)
	})
}

func getFloat(handle int, feature string) (float64, error) {
	var out float64
	err := retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		var v C.double
		code := int(C.AT_GetFloat(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), &v))
		out = float64(v)
		return drvError(code)
	})
	return out, err
}

func getInt(handle int, feature string) (int64, error) {
	var out int64
	err := retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		var v C.AT_64
		code := int(C.AT_GetInt(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), &v))
		out = int64(v)
		return drvError(code)
	})
	return out, err
}

func getString(handle int, feature string) (string, error) {
	var out string
	err := retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		buf := cwch.NewWcharString(lengthOfUndefinedBuffers)
		code := int(C.AT_GetString(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer()), (*C.AT_WC)(buf.Pointer()), C.int(lengthOfUndefinedBuffers)))
		s, gerr := buf.GoString()
		if gerr != nil {
			return gerr
		}
		out = s
		return drvError(code)
	})
	return out, err
}

func issueCommand(handle int, feature string) error {
	return retry(func() error {
		fstr, err := cwch.FromGoString(feature)
		if err != nil {
			return err
		}
		code := int(C.AT_Command(C.AT_H(handle), (*C.AT_WC)(fstr.Pointer())))
		return drvError(code)
	})
}

// ringSlot is one pre-allocated 16-byte-aligned pixel buffer.
type ringSlot struct {
	buf  []uint64
	cptr *C.AT_U8
	size C.int
}

// Camera drives one Andor SDK3 device through a ring of pre-allocated
// buffers, generalizing andor/sdk3.Camera's single-buffer design to the
// img_cycle-sized ring spec §3/§4.3 require.
type Camera struct {
	Handle int
	Serial string

	Resolution [2]int64 // width, height
	ring       []ringSlot
}

// Open opens a connection to the camera at camIdx (2 = first camera, per
// SDK3 convention; 1 is the system handle).
func Open(camIdx int) (*Camera, error) {
	var hndle C.AT_H
	err := retry(func() error {
		return drvError(int(C.AT_Open(C.int(camIdx), &hndle)))
	})
	if err != nil {
		return nil, engineerr.NewFatal(engineerr.FacCamera, err)
	}
	serial, err := getString(int(hndle), "SerialNumber")
	if err != nil {
		return nil, engineerr.NewFatal(engineerr.FacCamera, err)
	}
	return &Camera{Handle: int(hndle), Serial: serial}, nil
}

// Close shuts down the connection to the camera.
func (c *Camera) Close() error {
	return retry(func() error {
		return drvError(int(C.AT_Close(C.AT_H(c.Handle))))
	})
}

func amplifierDescription(amp runconfig.AmpGain) (string, error) {
	switch amp {
	case runconfig.Amp16L:
		return "16-bit (low noise & high well capacity)", nil
	case runconfig.Amp12L:
		return "12-bit (low noise)", nil
	case runconfig.Amp12H:
		return "12-bit (high well capacity)", nil
	default:
		return "", fmt.Errorf("unknown amp gain %q", amp)
	}
}

func readoutRateDescription(rate runconfig.ReadoutRate) string {
	return fmt.Sprintf("%d MHz", int(rate))
}

func encodingDescription(enc runconfig.Encoding) (string, error) {
	switch enc {
	case runconfig.Encoding12:
		return "Mono12", nil
	case runconfig.Encoding12Pack:
		return "Mono12Packed", nil
	case runconfig.Encoding16:
		return "Mono16", nil
	default:
		return "", fmt.Errorf("unknown encoding %q", enc)
	}
}

func readOrderDescription(ro runconfig.ReadOrder) string {
	names := map[runconfig.ReadOrder]string{
		runconfig.ReadBUSEQ: "Bottom Up Sequential",
		runconfig.ReadBUSIM: "Bottom Up Simultaneous",
		runconfig.ReadCOSIM: "Centre Out Simultaneous",
		runconfig.ReadOISIM: "Outside In Simultaneous",
		runconfig.ReadTDSEQ: "Top Down Sequential",
		runconfig.ReadTDSIM: "Top Down Simultaneous",
	}
	return names[ro]
}

func binningDescription(bin int) string {
	return fmt.Sprintf("%dx%d", bin, bin)
}

// Configure applies the full MOPTOP sensor configuration (spec §4.3),
// grounded on original_source/mop_cam.c's cam_conf, and returns the
// measured parameters the vendor reported back.
func (c *Camera) Configure(cfg *runconfig.RunConfig) (*runconfig.MeasuredParams, error) {
	if err := setBool(c.Handle, "SensorCooling", true); err != nil {
		return nil, err
	}
	if err := setBool(c.Handle, "MetadataEnable", true); err != nil {
		return nil, err
	}
	if err := setBool(c.Handle, "MetadataTimestamp", true); err != nil {
		return nil, err
	}
	if err := setBool(c.Handle, "SpuriousNoiseFilter", false); err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "ElectronicShutteringMode", "Rolling"); err != nil {
		return nil, err
	}

	amp, err := amplifierDescription(cfg.Amp)
	if err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "SimplePreAmpGainControl", amp); err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "PixelReadoutRate", readoutRateDescription(cfg.Readout)); err != nil {
		return nil, err
	}
	enc, err := encodingDescription(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "PixelEncoding", enc); err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "AOIBinning", binningDescription(cfg.Binning)); err != nil {
		return nil, err
	}
	if rd := readOrderDescription(cfg.ReadOrder); rd != "" {
		if err := setEnumString(c.Handle, "VerticallyCentreAOI", rd); err != nil {
			return nil, err
		}
	}

	trigger := "External"
	if cfg.IsStatic() {
		trigger = "Software"
	}
	if err := setEnumString(c.Handle, "TriggerMode", trigger); err != nil {
		return nil, err
	}
	if err := setEnumString(c.Handle, "CycleMode", "Continuous"); err != nil {
		return nil, err
	}

	readoutTime, err := getFloat(c.Handle, "ReadoutTime")
	if err != nil {
		return nil, err
	}
	exposure, err := cfg.ResolveExposure(readoutTime)
	if err != nil {
		return nil, err
	}
	if err := setFloat(c.Handle, "ExposureTime", exposure); err != nil {
		return nil, err
	}

	measured := &runconfig.MeasuredParams{}
	if measured.SerialNumber, err = getString(c.Handle, "SerialNumber"); err != nil {
		return nil, err
	}
	if measured.FirmwareVersion, err = getString(c.Handle, "FirmwareVersion"); err != nil {
		return nil, err
	}
	if measured.Exposure, err = getFloat(c.Handle, "ExposureTime"); err != nil {
		return nil, err
	}
	if measured.ReadoutTime, err = getFloat(c.Handle, "ReadoutTime"); err != nil {
		return nil, err
	}
	if measured.BytesPerPixel, err = getFloat(c.Handle, "BytesPerPixel"); err != nil {
		return nil, err
	}
	w, err := getInt(c.Handle, "SensorWidth")
	if err != nil {
		return nil, err
	}
	h, err := getInt(c.Handle, "SensorHeight")
	if err != nil {
		return nil, err
	}
	measured.SensorWidth, measured.SensorHeight = int(w), int(h)
	c.Resolution = [2]int64{w, h}

	imgSize, err := getInt(c.Handle, "ImageSizeBytes")
	if err != nil {
		return nil, err
	}
	measured.ImageSizeBytes = imgSize
	if measured.ExposureMin, err = getFloat(c.Handle, "ExposureTime"); err != nil {
		return nil, err
	}
	clkFreq, err := getInt(c.Handle, "TimestampClockFrequency")
	if err != nil {
		return nil, err
	}
	measured.ClockFrequencyHz = clkFreq
	return measured, nil
}

// AllocateRing allocates imgCycle 16-byte-aligned buffers sized to the
// current ImageSizeBytes. Each buffer carries one spare 8-byte word so its
// start can be moved up to the next 16-byte boundary.
func (c *Camera) AllocateRing(imgCycle int) error {
	sz, err := getInt(c.Handle, "ImageSizeBytes")
	if err != nil {
		return err
	}
	c.ring = make([]ringSlot, imgCycle)
	for i := range c.ring {
		words := (int64(sz) + ringAlignment - 1) / 8
		buf := make([]uint64, words)
		if uintptr(unsafe.Pointer(&buf[0]))%ringAlignment != 0 {
			buf = buf[1:]
		}
		gptr := unsafe.Pointer(&buf[0])
		c.ring[i] = ringSlot{
			buf:  buf,
			cptr: (*C.AT_U8)(gptr),
			size: C.int(sz),
		}
	}
	return nil
}

// QueueBuffer places ring slot idx onto the SDK's internal queue.
func (c *Camera) QueueBuffer(idx int) error {
	if idx < 0 || idx >= len(c.ring) {
		return fmt.Errorf("sdkcgo: ring slot %d out of range [0,%d)", idx, len(c.ring))
	}
	slot := c.ring[idx]
	return retry(func() error {
		return drvError(int(C.AT_QueueBuffer(C.AT_H(c.Handle), slot.cptr, slot.size)))
	})
}

// WaitBuffer blocks until the SDK fills a queued buffer or timeout elapses,
// returning the ring slot index that was filled. A timeout here is fatal
// per spec §4.5 ("Missing a buffer is fatal").
func (c *Camera) WaitBuffer(timeout time.Duration) (int, error) {
	var filled *C.AT_U8
	var size C.int
	tout := C.uint(timeout.Milliseconds())
	err := drvError(int(C.AT_WaitBuffer(C.AT_H(c.Handle), &filled, &size, tout)))
	if err != nil {
		return -1, engineerr.NewFatal(engineerr.FacCamera, err)
	}
	for i, slot := range c.ring {
		if slot.cptr == filled {
			return i, nil
		}
	}
	return -1, engineerr.NewFatal(engineerr.FacCamera, fmt.Errorf("sdkcgo: filled buffer did not match any ring slot"))
}

// RingSlotBytes returns the raw byte contents of ring slot idx, for passing
// to the timestamp parser and FITS emitter.
func (c *Camera) RingSlotBytes(idx int) []byte {
	slot := c.ring[idx]
	return (*[1 << 30]byte)(unsafe.Pointer(&slot.buf[0]))[:slot.size:slot.size]
}

// Command issues a command feature (AcquisitionStart/Stop,
// TimestampClockReset, SoftwareTrigger).
func (c *Camera) Command(name string) error {
	return issueCommand(c.Handle, name)
}

// AcquisitionEnable issues AcquisitionStart or AcquisitionStop. It does not
// track the current acquisition state, so the command is sent on every call.
func (c *Camera) AcquisitionEnable(enable bool) error {
	if enable {
		return c.Command("AcquisitionStart")
	}
	return c.Command("AcquisitionStop")
}

// TriggerModeSet sets the trigger source to External or Software.
func (c *Camera) TriggerModeSet(external bool) error {
	mode := "Software"
	if external {
		mode = "External"
	}
	return setEnumString(c.Handle, "TriggerMode", mode)
}

// ClockReset resets the camera's internal timestamp clock to zero. Spec
// §4.5/§4.9 call this out as needing to happen before rotation starts,
// since the command can itself take over half a second.
func (c *Camera) ClockReset() error {
	return c.Command("TimestampClockReset")
}

// GetTemp returns the current sensor temperature in Celsius.
func (c *Camera) GetTemp() (float64, error) {
	return getFloat(c.Handle, "SensorTemperature")
}

// GetTempStatus returns the sensor's temperature status string (e.g.
// "Cooling", "Stabilised").
func (c *Camera) GetTempStatus() (string, error) {
	return getString(c.Handle, "TemperatureStatus")
}

// SetTempSetpoint sets the target sensor temperature.
func (c *Camera) SetTempSetpoint(celsius float64) error {
	return setFloat(c.Handle, "TargetSensorTemperature", celsius)
}

var _ = setInt // reserved for future integer-feature configuration
