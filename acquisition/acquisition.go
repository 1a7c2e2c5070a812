// Package acquisition drives the per-frame capture loops: the
// circular-buffer hardware-trigger loop (spec §4.5) and the static/
// software-trigger loop (spec §4.6). Grounded on
// original_source/mop_cam.c's cam_acq_circ and cam_acq_stat.
package acquisition

import (
	"math"
	"time"

	"github.com/LivTel/moptop/camera"
	"github.com/LivTel/moptop/engineerr"
	"github.com/LivTel/moptop/rotator"
	"github.com/LivTel/moptop/runconfig"
	"github.com/LivTel/moptop/sequencer"
	"github.com/LivTel/moptop/util"
)

// Role distinguishes a master process (which owns the rotator) from a slave
// process (which predicts rotator position instead of reading it).
type Role int

// Roles.
const (
	RoleMaster Role = iota
	RoleSlave
)

// FrameSink is what the loop hands each completed frame to: writing a FITS
// file and notifying the command process of the filename (spec §4.5 step 6).
type FrameSink interface {
	WriteFrame(rec *runconfig.FrameRecord, pixels []uint16, width, height int) (filename string, err error)
	NotifyFilename(filename string) error
}

// Loop runs one run's acquisition on a single camera.
type Loop struct {
	Role    Role
	Cam     camera.AcquisitionCamera
	Rot     rotator.Driver // nil on the slave
	Config  *runconfig.RunConfig
	Seq     *sequencer.Sequencer
	Sink    FrameSink

	// TransferMargin bounds how much extra time beyond the exposure is
	// allowed before wait_buffer is declared fatal (spec §4.5 step 3).
	TransferMargin time.Duration
}

// fatalMissedFrame wraps a wait-buffer failure as Fatal: spec §4.5 says a
// missed buffer aborts the run and the process because the rotator cannot
// be rolled back.
func fatalMissedFrame(err error) error {
	return engineerr.NewFatal(engineerr.FacCamera, err)
}

// RunCircular executes the hardware-trigger acquisition loop (spec §4.5),
// assuming every ring slot has already been queued, acquisition enabled,
// the camera clock reset, and the rotator armed and moving.
func (l *Loop) RunCircular(exposureSec float64) error {
	cfg := l.Config
	imgCycle := int(cfg.ImagesPerRev)
	total := cfg.ImagesTotal()
	rotZero := runconfig.RotZero
	step, err := cfg.RotStep()
	if err != nil {
		return err
	}

	timeout := util.SecsToDuration(exposureSec) + l.TransferMargin

	for i := 0; i < total; i++ {
		obsStart := time.Now()

		rotReq := rotZero + float64(i)*step
		rotAng := math.Mod(rotReq, 360)
		if rotAng < 0 {
			rotAng += 360
		}
		rotN := 1 + i/imgCycle
		seqN := 1 + i%imgCycle

		slot, err := l.Cam.WaitBuffer(timeout)
		if err != nil {
			return fatalMissedFrame(err)
		}

		var rotEnd, rotDif float64
		if l.Role == RoleMaster && l.Rot != nil {
			rotEnd, err = l.Rot.QueryPosition()
			if err != nil {
				return engineerr.NewFatal(engineerr.FacRotator, err)
			}
			rotDif = rotEnd - rotReq
		} else {
			rotEnd = rotReq + step
			rotDif = step
		}

		frameBytes := l.Cam.RingSlotBytes(slot)
		tick := camera.FrameTicks(frameBytes)

		obsEnd := time.Now()

		rec := &runconfig.FrameRecord{
			Rotation:  rotN,
			Sequence:  seqN,
			RotReq:    rotReq,
			RotAng:    rotAng,
			RotBeg:    rotReq,
			RotEnd:    rotEnd,
			RotArc:    rotDif,
			ClockTick: tick,
			ObsStart:  obsStart,
			ObsEnd:    obsEnd,
			SlotIndex: slot,
		}

		pixels := bytesToUint16(frameBytes)
		filename, err := l.Sink.WriteFrame(rec, pixels, 0, 0)
		if err != nil {
			return err
		}
		rec.Filename = filename
		if err := l.Sink.NotifyFilename(filename); err != nil {
			return engineerr.NewReported(engineerr.FacRunControl, err)
		}

		if err := l.Cam.QueueBuffer(slot); err != nil {
			return engineerr.NewFatal(engineerr.FacCamera, err)
		}
	}

	if err := l.Cam.AcquisitionEnable(false); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	if err := l.Cam.TriggerModeSet(false); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	if _, err := l.Cam.GetTemp(); err != nil {
		return engineerr.NewReported(engineerr.FacCamera, err)
	}
	return nil
}

// TriggerPeer is the minimal handshake surface a static-mode partner (the
// slave, from the master's point of view, or vice versa) must satisfy;
// satisfied by a thin wrapper around transport.Socket in runctl.
type TriggerPeer interface {
	SendTRG() error
	WaitTRG() error
}

// RunStatic executes the static/software-trigger acquisition loop (spec
// §4.6), one frame per entry of angles. On the master with a rotator, each
// frame first moves the rotator to its angle and then sends TRG to the peer;
// on the slave, each frame waits for TRG from the peer.
func (l *Loop) RunStatic(exposureSec float64, angles []float64, peer TriggerPeer) error {
	cfg := l.Config
	imgCycle := int(cfg.ImagesPerRev)
	timeout := util.SecsToDuration(exposureSec) + l.TransferMargin

	for i, angle := range angles {
		obsStart := time.Now()

		if l.Role == RoleMaster && l.Rot != nil {
			if _, err := l.Rot.Goto(angle, 30*time.Second); err != nil {
				return engineerr.NewFatal(engineerr.FacRotator, err)
			}
			if err := peer.SendTRG(); err != nil {
				return engineerr.NewReported(engineerr.FacRunControl, err)
			}
		} else {
			if err := peer.WaitTRG(); err != nil {
				return engineerr.NewReported(engineerr.FacRunControl, err)
			}
		}

		if err := l.Cam.Command("SoftwareTrigger"); err != nil {
			return engineerr.NewFatal(engineerr.FacCamera, err)
		}

		slot, err := l.Cam.WaitBuffer(timeout)
		if err != nil {
			return fatalMissedFrame(err)
		}

		var rotEnd, rotDif float64
		if l.Role == RoleMaster && l.Rot != nil {
			rotEnd, err = l.Rot.QueryPosition()
			if err != nil {
				return engineerr.NewFatal(engineerr.FacRotator, err)
			}
			rotDif = rotEnd - angle
		} else {
			rotEnd = angle
			rotDif = 0
		}

		frameBytes := l.Cam.RingSlotBytes(slot)
		tick := camera.FrameTicks(frameBytes)
		obsEnd := time.Now()

		rec := &runconfig.FrameRecord{
			Rotation:  1 + i/imgCycle,
			Sequence:  1 + i%imgCycle,
			RotReq:    angle,
			RotAng:    math.Mod(angle, 360),
			RotBeg:    angle,
			RotEnd:    rotEnd,
			RotArc:    rotDif,
			ClockTick: tick,
			ObsStart:  obsStart,
			ObsEnd:    obsEnd,
			SlotIndex: slot,
		}

		pixels := bytesToUint16(frameBytes)
		filename, err := l.Sink.WriteFrame(rec, pixels, 0, 0)
		if err != nil {
			return err
		}
		rec.Filename = filename
		if err := l.Sink.NotifyFilename(filename); err != nil {
			return engineerr.NewReported(engineerr.FacRunControl, err)
		}

		if err := l.Cam.QueueBuffer(slot); err != nil {
			return engineerr.NewFatal(engineerr.FacCamera, err)
		}
	}

	if err := l.Cam.AcquisitionEnable(false); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	return nil
}

func bytesToUint16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return out
}
