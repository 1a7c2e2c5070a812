// Package runctl implements the per-run state machines of spec §4.9 (master)
// and §4.10 (slave), grounded on original_source/mopnet.c's main(). Both
// controllers share an Engine that owns the bound socket, the camera, the
// calibration table, and (master only) the rotator.
package runctl

import (
	"fmt"
	"os"
	"time"

	"github.com/LivTel/moptop/acquisition"
	"github.com/LivTel/moptop/camera"
	"github.com/LivTel/moptop/cooling"
	"github.com/LivTel/moptop/engineerr"
	"github.com/LivTel/moptop/fitsout"
	"github.com/LivTel/moptop/logging"
	"github.com/LivTel/moptop/rotator"
	"github.com/LivTel/moptop/runconfig"
	"github.com/LivTel/moptop/sequencer"
	"github.com/LivTel/moptop/transport"
	"github.com/LivTel/moptop/util"
)

// HandshakeTimeout bounds each ACK-gated synchronization message.
const HandshakeTimeout = 10 * time.Second

// Engine holds the state and collaborators shared by Master and Slave.
type Engine struct {
	Sock     *transport.Socket
	Cam      camera.AcquisitionCamera
	CamSpec  *runconfig.CameraSpec
	CameraID string // "1".."6", the filename prefix

	CmdAddr string // where filename notifications are sent

	Log *logging.Logger
}

func (e *Engine) reconfigure(cfg *runconfig.RunConfig) (*runconfig.MeasuredParams, error) {
	measured, err := e.Cam.Configure(cfg)
	if err != nil {
		return nil, engineerr.NewFatal(engineerr.FacCamera, err)
	}
	return measured, nil
}

func (e *Engine) coolRecheck(cfg *runconfig.RunConfig, strict bool) error {
	err := cooling.Wait(e.Cam, cfg.TargetTemp, 0.5, cfg.QuickCool, 60*time.Second)
	if err == nil {
		return nil
	}
	if strict {
		return err
	}
	e.Log.Report(err)
	return nil
}

func (e *Engine) allocateAndArm(cfg *runconfig.RunConfig) error {
	if err := e.Cam.AllocateRing(int(cfg.ImagesPerRev)); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	for i := 0; i < int(cfg.ImagesPerRev); i++ {
		if err := e.Cam.QueueBuffer(i); err != nil {
			return engineerr.NewFatal(engineerr.FacCamera, err)
		}
	}
	if err := e.Cam.ClockReset(); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	if err := e.Cam.TriggerModeSet(!cfg.IsStatic()); err != nil {
		return engineerr.NewFatal(engineerr.FacCamera, err)
	}
	return e.Cam.AcquisitionEnable(true)
}

// udpSink implements acquisition.FrameSink: write one FITS file per frame
// and notify the command process, per spec §6's filename-notification row.
type udpSink struct {
	engine   *Engine
	seq      *sequencer.Sequencer
	runCtx   *fitsout.RunContext
	typ      byte
}

func (s *udpSink) WriteFrame(rec *runconfig.FrameRecord, pixels []uint16, width, height int) (string, error) {
	name, rot, seqN := s.seq.Next(s.engine.CameraID, s.typ, rec.ObsStart)
	rec.Rotation, rec.Sequence = rot, seqN

	f, err := os.Create(name)
	if err != nil {
		return "", engineerr.NewFatal(engineerr.FacFITS, err)
	}
	defer f.Close()

	w, h := width, height
	if w == 0 {
		w = s.runCtx.Measured.SensorWidth / s.runCtx.Config.Binning
	}
	if h == 0 {
		h = s.runCtx.Measured.SensorHeight / s.runCtx.Config.Binning
	}
	if err := fitsout.Write(f, s.runCtx, rec, pixels, w, h); err != nil {
		return "", err
	}
	return name, nil
}

func (s *udpSink) NotifyFilename(filename string) error {
	if s.engine.CmdAddr == "" {
		return nil
	}
	_, err := s.engine.Sock.Send(0, filename, s.engine.CmdAddr, "", 0)
	return err
}

// trgPeer adapts the shared socket/peer address into acquisition.TriggerPeer
// for the static/software-trigger loop's ACK-gated TRG handshake.
type trgPeer struct {
	sock     *transport.Socket
	peerAddr string
}

func (p *trgPeer) SendTRG() error {
	_, err := p.sock.Send(HandshakeTimeout, transport.TagTRG, p.peerAddr, transport.TagACK, 0)
	return err
}

func (p *trgPeer) WaitTRG() error {
	_, _, err := p.sock.Recv(HandshakeTimeout, transport.TagTRG, 0)
	return err
}

// soloPeer is the TriggerPeer of a single-camera run: there is no slave to
// exchange TRG with.
type soloPeer struct{}

func (soloPeer) SendTRG() error { return nil }
func (soloPeer) WaitTRG() error { return nil }

// Master drives the rotator and coordinates a slave camera through the full
// state machine of spec §4.9.
type Master struct {
	Engine
	Rot      rotator.Driver
	PeerAddr string // slave's address

	// SingleCamera is the process-level debug flag (one_cam) that skips all
	// slave handshakes; it is a startup option of the master executable, not
	// part of the RUN payload grammar (spec §6 lists no such flag). The
	// handshakes are also skipped when RunConfig.SingleCamera is set, though
	// DecodeRunArgs has no flag that sets it.
	SingleCamera bool
}

// HandleRun runs one complete RUN cycle: parse, arm rotator, cool-recheck,
// pick a run number, await the slave's TOK, signal ROT, then acquire.
func (m *Master) HandleRun(payload string, outputDir string, now time.Time) error {
	cfg, err := runconfig.DecodeRunArgs(payload)
	if err != nil {
		return err
	}

	if cfg.Kill {
		return nil
	}

	if !cfg.IsStatic() {
		step, err := cfg.RotStep()
		if err != nil {
			return err
		}
		pol := rotator.PolarityHigh
		if !cfg.TriggerHigh {
			pol = rotator.PolarityLow
		}
		final, err := cfg.FinalPosition()
		if err != nil {
			return err
		}
		if err := m.Rot.ArmTrigger(runconfig.RotZero, step, final, pol); err != nil {
			return engineerr.NewFatal(engineerr.FacRotator, err)
		}
	}

	if _, err := m.reconfigure(cfg); err != nil {
		return err
	}
	if err := m.coolRecheck(cfg, false); err != nil {
		return err
	}

	suggested, err := sequencer.PickRunNumber(outputDir, []string{m.CameraID}, now, cfg.SuggestedRun)
	if err != nil {
		return err
	}

	runNo := suggested
	if !(m.SingleCamera || cfg.SingleCamera) {
		forwarded := fmt.Sprintf("%s -U%d", payload, suggested)
		if _, err := m.Sock.Send(HandshakeTimeout, transport.TagRUN+" "+forwarded, m.PeerAddr, transport.TagACK, 0); err != nil {
			return engineerr.NewReported(engineerr.FacRunControl, err)
		}

		// TOK carries no reply (the slave does not wait for one), so no
		// expected prefix is given and Recv sends no ACK/NAK back.
		tok, _, err := m.Sock.Recv(HandshakeTimeout, "", 0)
		if err != nil {
			return engineerr.NewReported(engineerr.FacRunControl, err)
		}
		var slaveRun int
		if _, scanErr := fmt.Sscanf(tok, transport.TagTOK+" %d", &slaveRun); scanErr == nil && slaveRun > runNo {
			runNo = slaveRun
		}
	}

	measured, err := m.reconfigure(cfg)
	if err != nil {
		return err
	}
	if err := m.allocateAndArm(cfg); err != nil {
		return err
	}

	if !(m.SingleCamera || cfg.SingleCamera) {
		if _, err := m.Sock.Send(HandshakeTimeout, transport.TagROT, m.PeerAddr, transport.TagACK, 0); err != nil {
			return engineerr.NewReported(engineerr.FacRunControl, err)
		}
	}

	if !cfg.IsStatic() {
		if err := m.Rot.EnableTrigger(true); err != nil {
			return engineerr.NewFatal(engineerr.FacRotator, err)
		}
		if err := m.Rot.MoveAbsolute(mustFinal(cfg)); err != nil {
			return engineerr.NewFatal(engineerr.FacRotator, err)
		}
	}

	exposure, err := cfg.ResolveExposure(measured.ReadoutTime)
	if err != nil {
		return err
	}

	seq := sequencer.New(outputDir, runNo, int(cfg.ImagesPerRev))
	sink := &udpSink{
		engine: &m.Engine,
		seq:    seq,
		typ:    byte(cfg.FrameType),
		runCtx: &fitsout.RunContext{
			RunNumber:        runNo,
			ExpTotal:         cfg.ImagesTotal(),
			Config:           cfg,
			Spec:             m.CamSpec,
			Measured:         measured,
			ResolvedExposure: exposure,
		},
	}
	loop := &acquisition.Loop{
		Role:           acquisition.RoleMaster,
		Cam:            m.Cam,
		Rot:            m.Rot,
		Config:         cfg,
		Sink:           sink,
		TransferMargin: util.SecsToDuration(runconfig.TransferMarginSec),
	}

	if cfg.IsStatic() {
		angles := staticAngles(cfg)
		var peer acquisition.TriggerPeer = &trgPeer{sock: m.Sock, peerAddr: m.PeerAddr}
		if m.SingleCamera || cfg.SingleCamera {
			peer = soloPeer{}
		}
		return loop.RunStatic(exposure, angles, peer)
	}
	return loop.RunCircular(exposure)
}

func mustFinal(cfg *runconfig.RunConfig) float64 {
	f, _ := cfg.FinalPosition()
	return f
}

func staticAngles(cfg *runconfig.RunConfig) []float64 {
	n := cfg.ImagesTotal()
	angles := make([]float64, n)
	if cfg.StaticAngle != nil {
		for i := range angles {
			angles[i] = *cfg.StaticAngle
		}
		return angles
	}
	step, _ := cfg.RotStep()
	for i := range angles {
		angles[i] = runconfig.RotZero + float64(i)*step
	}
	return angles
}

// Slave mirrors the master's state machine with no rotator access (spec
// §4.10): it predicts rotator position rather than reading it.
type Slave struct {
	Engine
	MasterAddr string
}

// HandleRun handles a forwarded RUN payload: it reconfigures, cool-rechecks, sends
// its local run-number suggestion as TOK, waits for ROT, then acquires.
func (s *Slave) HandleRun(payload string, outputDir string, now time.Time) error {
	cfg, err := runconfig.DecodeRunArgs(payload)
	if err != nil {
		return err
	}
	if cfg.Kill {
		return nil
	}

	if _, err := s.reconfigure(cfg); err != nil {
		return err
	}
	if err := s.coolRecheck(cfg, false); err != nil {
		return err
	}

	localSuggestion, err := sequencer.PickRunNumber(outputDir, []string{s.CameraID}, now, cfg.SuggestedRun)
	if err != nil {
		return err
	}
	if _, err := s.Sock.Send(0, fmt.Sprintf("%s %d", transport.TagTOK, localSuggestion), s.MasterAddr, "", 0); err != nil {
		return engineerr.NewReported(engineerr.FacRunControl, err)
	}

	if _, _, err := s.Sock.Recv(HandshakeTimeout, transport.TagROT, 0); err != nil {
		return engineerr.NewReported(engineerr.FacRunControl, err)
	}

	measured, err := s.reconfigure(cfg)
	if err != nil {
		return err
	}
	if err := s.allocateAndArm(cfg); err != nil {
		return err
	}

	runNo := localSuggestion
	if cfg.SuggestedRun != nil && *cfg.SuggestedRun > runNo {
		runNo = *cfg.SuggestedRun
	}

	exposure, err := cfg.ResolveExposure(measured.ReadoutTime)
	if err != nil {
		return err
	}

	seq := sequencer.New(outputDir, runNo, int(cfg.ImagesPerRev))
	sink := &udpSink{
		engine: &s.Engine,
		seq:    seq,
		typ:    byte(cfg.FrameType),
		runCtx: &fitsout.RunContext{
			RunNumber:        runNo,
			ExpTotal:         cfg.ImagesTotal(),
			Config:           cfg,
			Spec:             s.CamSpec,
			Measured:         measured,
			ResolvedExposure: exposure,
		},
	}
	loop := &acquisition.Loop{
		Role:           acquisition.RoleSlave,
		Cam:            s.Cam,
		Config:         cfg,
		Sink:           sink,
		TransferMargin: util.SecsToDuration(runconfig.TransferMarginSec),
	}

	if cfg.IsStatic() {
		angles := staticAngles(cfg)
		peer := &trgPeer{sock: s.Sock, peerAddr: s.MasterAddr}
		return loop.RunStatic(exposure, angles, peer)
	}
	return loop.RunCircular(exposure)
}
