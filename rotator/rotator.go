// Package rotator drives the serial-attached precision rotator that carries
// the polarizer, programming its hardware-trigger output so camera
// exposures stay aligned to angle rather than wall clock (spec §4.2).
//
// The rotator speaks the same GCS2 ASCII protocol
// (three-letter commands, axis addressing 1..N/A..Z, ERR? handshaking) that
// the teacher's pi package already implements a client for; this package
// keeps that client's write/query shape but adds the trigger-arming command
// sequence the generic pi package has no use for, grounded on
// original_source/mop_rot.c's rot_init.
package rotator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// Axis is the single rotator axis address used throughout MOPTOP.
const Axis = "1"

// Timing constants, grounded on original_source/mopnet.h.
const (
	ConnectRetries  = 5
	ConnectInterval = 1 * time.Second
	OnTargetTick    = 1 * time.Millisecond
	DefaultBaud     = 460800
)

// ErrNotOnTarget is returned when goto/wait-on-target exceeds its timeout.
var ErrNotOnTarget = errors.New("rotator: did not reach target position before timeout")

// Polarity selects the rotator's trigger output polarity.
type Polarity bool

// Supported polarities.
const (
	PolarityHigh Polarity = true
	PolarityLow  Polarity = false
)

// Controller drives one PI GCS2 rotator over a serial connection.
type Controller struct {
	conn io.ReadWriteCloser
	axis string

	// Timeout bounds a single command round-trip.
	Timeout time.Duration
}

// Connect opens the serial device, retrying up to ConnectRetries times at
// ConnectInterval, matching rot_init's connection-retry policy. Failure
// after all retries is fatal per spec §7.
func Connect(device string, baud int) (*Controller, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 10 * time.Minute,
	}

	var conn *serial.Port
	op := func() error {
		c, err := serial.OpenPort(cfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewConstantBackOff(ConnectInterval)
	bo := backoff.WithMaxRetries(b, ConnectRetries-1)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("rotator: connect %q after %d attempts: %w", device, ConnectRetries, err)
	}
	return &Controller{conn: conn, axis: Axis, Timeout: 30 * time.Second}, nil
}

// Disconnect closes the serial connection.
func (c *Controller) Disconnect() error {
	return c.conn.Close()
}

// write sends one or more write-only GCS2 commands and reads back ERR? to
// confirm success, the way pi.Controller.write does for its network
// transport, adapted here for a direct serial connection.
func (c *Controller) write(cmds ...string) error {
	for _, cmd := range cmds {
		if strings.Contains(cmd, "?") && !strings.Contains(cmd, "WAC") {
			return fmt.Errorf("rotator: write-only operation contains a query: %q", cmd)
		}
		if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
			return fmt.Errorf("rotator: write %q: %w", cmd, err)
		}
	}
	return c.checkError()
}

func (c *Controller) checkError() error {
	if _, err := io.WriteString(c.conn, "ERR?\n"); err != nil {
		return err
	}
	buf := make([]byte, 32)
	n, err := c.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("rotator: read ERR? reply: %w", err)
	}
	line := bytes.TrimSpace(buf[:n])
	code, err := strconv.Atoi(string(line))
	if err != nil {
		return fmt.Errorf("rotator: parse ERR? reply %q: %w", line, err)
	}
	if code != 0 {
		return fmt.Errorf("rotator: controller reported error %d", code)
	}
	return nil
}

func (c *Controller) query(cmd string) (string, error) {
	if !strings.Contains(cmd, "?") {
		return "", fmt.Errorf("rotator: query missing '?': %q", cmd)
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("rotator: query %q: %w", cmd, err)
	}
	buf := make([]byte, 256)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("rotator: read reply to %q: %w", cmd, err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func (c *Controller) readFloat(cmd string) (float64, error) {
	resp, err := c.query(cmd)
	if err != nil {
		return 0, err
	}
	resp = stripAxisPrefix(resp)
	return strconv.ParseFloat(resp, 64)
}

func (c *Controller) readBool(cmd string) (bool, error) {
	resp, err := c.query(cmd)
	if err != nil {
		return false, err
	}
	resp = stripAxisPrefix(resp)
	return strings.HasPrefix(resp, "1"), nil
}

func stripAxisPrefix(s string) string {
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// Stop halts all motion on the axis (ROT_ALL_STOP / "STP").
func (c *Controller) Stop() error {
	return c.write("STP")
}

// ClearErrors clears the controller's error queue (ROT_CLR_ERR / "ERR?"
// read-and-discard).
func (c *Controller) ClearErrors() error {
	_, err := c.query("ERR?")
	return err
}

// Enable turns servo control on for the axis.
func (c *Controller) Enable() error {
	return c.write(fmt.Sprintf("SVO %s 1", c.axis))
}

// Disable turns servo control off for the axis.
func (c *Controller) Disable() error {
	return c.write(fmt.Sprintf("SVO %s 0", c.axis))
}

// EnableRelativeMotion permits relative moves prior to referencing (ROT_INI_FRF).
func (c *Controller) EnableRelativeMotion() error {
	return c.write(fmt.Sprintf("FRF %s", c.axis))
}

// SetVelocity sets the axis's motion velocity in degrees/second.
func (c *Controller) SetVelocity(degPerSec float64) error {
	return c.write(fmt.Sprintf("VEL %s %.9f", c.axis, degPerSec))
}

// QueryPosition returns the current absolute position in degrees.
func (c *Controller) QueryPosition() (float64, error) {
	return c.readFloat(fmt.Sprintf("POS? %s", c.axis))
}

// OnTarget reports whether the axis has reached its commanded position.
func (c *Controller) OnTarget() (bool, error) {
	return c.readBool(fmt.Sprintf("ONT? %s", c.axis))
}

// MoveAbsolute commands the axis to an absolute position without waiting
// for arrival.
func (c *Controller) MoveAbsolute(deg float64) error {
	return c.write(fmt.Sprintf("MOV %s %.9f", c.axis, deg))
}

// WaitOnTarget polls on-target state every OnTargetTick until true or
// timeout elapses.
func (c *Controller) WaitOnTarget(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := c.OnTarget()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return ErrNotOnTarget
		}
		time.Sleep(OnTargetTick)
	}
}

// Goto moves to an absolute position and waits up to timeout for arrival,
// returning the actual position reached (spec §4.2: "returns the
// post-arrival position").
func (c *Controller) Goto(deg float64, timeout time.Duration) (actual float64, err error) {
	if err := c.MoveAbsolute(deg); err != nil {
		return 0, err
	}
	if err := c.WaitOnTarget(timeout); err != nil {
		return 0, err
	}
	return c.QueryPosition()
}

// ArmTrigger programs the rotator to emit one TTL pulse at startDeg and
// every stepDeg of travel thereafter, ceasing past endDeg, with the given
// polarity. Grounded exactly on the CTO command sequence in
// original_source/mop_rot.c's rot_init / mopnet.h's ROT_TRG_* macros.
func (c *Controller) ArmTrigger(startDeg, stepDeg, endDeg float64, polarity Polarity) error {
	pol := "0"
	if polarity == PolarityHigh {
		pol = "1"
	}
	cmds := []string{
		fmt.Sprintf("CTO %s 2 1", c.axis),                  // pin: output 1 (physical pin 5)
		fmt.Sprintf("CTO %s 3 7", c.axis),                  // mode: start position + distance travel
		fmt.Sprintf("CTO %s 1 %.9f", c.axis, stepDeg),      // distance between trigger events
		fmt.Sprintf("CTO %s 7 %s", c.axis, pol),            // polarity
		fmt.Sprintf("CTO %s 8 %.9f", c.axis, startDeg),     // trigger start position
		fmt.Sprintf("CTO %s 9 %.9f", c.axis, endDeg),       // trigger end position (travel limit)
		fmt.Sprintf("CTO %s 10 %.9f", c.axis, startDeg),    // trigger enabled at position
	}
	return c.write(cmds...)
}

// EnableTrigger turns the rotator's hardware trigger output on or off
// (ROT_TRG_ENA / ROT_TRG_DIS).
func (c *Controller) EnableTrigger(enable bool) error {
	v := "0"
	if enable {
		v = "1"
	}
	return c.write(fmt.Sprintf("TRO %s %s", c.axis, v))
}

// Initialize runs the full startup sequence from original_source/mop_rot.c's
// rot_init: clear errors, stop, disable trigger, set init velocity, enable
// servo, enable relative motion, wait on target, then set the run velocity.
func (c *Controller) Initialize(runVelocity float64) error {
	if err := c.ClearErrors(); err != nil {
		return err
	}
	if err := c.Stop(); err != nil {
		return err
	}
	if err := c.EnableTrigger(false); err != nil {
		return err
	}
	if err := c.SetVelocity(360.0); err != nil {
		return err
	}
	if err := c.Enable(); err != nil {
		return err
	}
	if err := c.EnableRelativeMotion(); err != nil {
		return err
	}
	if err := c.WaitOnTarget(30 * time.Second); err != nil {
		return err
	}
	return c.SetVelocity(runVelocity)
}
