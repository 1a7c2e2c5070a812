package acquisition

import (
	"fmt"
	"testing"
	"time"

	"github.com/LivTel/moptop/camera/mockcam"
	"github.com/LivTel/moptop/rotator"
	"github.com/LivTel/moptop/runconfig"
)

type fakeSink struct {
	written []string
	notified []string
}

func (s *fakeSink) WriteFrame(rec *runconfig.FrameRecord, pixels []uint16, width, height int) (string, error) {
	name := fmt.Sprintf("frame-%d-%d.fits", rec.Rotation, rec.Sequence)
	s.written = append(s.written, name)
	return name, nil
}

func (s *fakeSink) NotifyFilename(filename string) error {
	s.notified = append(s.notified, filename)
	return nil
}

func preloadFrames(t *testing.T, cam *mockcam.Camera, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := cam.SetFrame(i, make([]byte, 16)); err != nil {
			t.Fatal(err)
		}
		if err := cam.QueueBuffer(i); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunCircularWritesAndNotifiesEveryFrame(t *testing.T) {
	cam := mockcam.New("VSC-04181")
	if err := cam.AllocateRing(8); err != nil {
		t.Fatal(err)
	}
	preloadFrames(t, cam, 8)

	cfg := &runconfig.RunConfig{
		ImagesPerRev: runconfig.Cycle8,
		Revolutions:  1,
		Velocity:     runconfig.RotStep8,
	}
	rot := rotator.NewMock()
	sink := &fakeSink{}
	loop := &Loop{
		Role:           RoleMaster,
		Cam:            cam,
		Rot:            rot,
		Config:         cfg,
		Sink:           sink,
		TransferMargin: time.Second,
	}
	if err := loop.RunCircular(0.1); err != nil {
		t.Fatal(err)
	}
	if len(sink.written) != 8 {
		t.Fatalf("wrote %d frames, want 8", len(sink.written))
	}
	if len(sink.notified) != 8 {
		t.Fatalf("notified %d frames, want 8", len(sink.notified))
	}
}

func TestRunCircularFatalOnMissedBuffer(t *testing.T) {
	cam := mockcam.New("VSC-04181")
	if err := cam.AllocateRing(8); err != nil {
		t.Fatal(err)
	}
	// Nothing queued: WaitBuffer will fail immediately.
	cfg := &runconfig.RunConfig{
		ImagesPerRev: runconfig.Cycle8,
		Revolutions:  1,
		Velocity:     runconfig.RotStep8,
	}
	loop := &Loop{
		Role:   RoleMaster,
		Cam:    cam,
		Rot:    rotator.NewMock(),
		Config: cfg,
		Sink:   &fakeSink{},
	}
	if err := loop.RunCircular(0.1); err == nil {
		t.Fatal("expected a fatal error when a buffer is missed")
	}
}

type fakePeer struct {
	sent, waited int
}

func (p *fakePeer) SendTRG() error { p.sent++; return nil }
func (p *fakePeer) WaitTRG() error { p.waited++; return nil }

func TestRunStaticHandlesMasterHandshake(t *testing.T) {
	cam := mockcam.New("VSC-04181")
	if err := cam.AllocateRing(2); err != nil {
		t.Fatal(err)
	}
	preloadFrames(t, cam, 2)

	cfg := &runconfig.RunConfig{ImagesPerRev: runconfig.Cycle8, Velocity: 0}
	rot := rotator.NewMock()
	sink := &fakeSink{}
	peer := &fakePeer{}
	loop := &Loop{
		Role:           RoleMaster,
		Cam:            cam,
		Rot:            rot,
		Config:         cfg,
		Sink:           sink,
		TransferMargin: time.Second,
	}
	if err := loop.RunStatic(0.1, []float64{0, 45}, peer); err != nil {
		t.Fatal(err)
	}
	if peer.sent != 2 {
		t.Errorf("peer.sent = %d, want 2", peer.sent)
	}
	if len(sink.written) != 2 {
		t.Errorf("wrote %d frames, want 2", len(sink.written))
	}
}

func TestRunStaticSlaveWaitsInsteadOfMoving(t *testing.T) {
	cam := mockcam.New("VSC-04181")
	if err := cam.AllocateRing(1); err != nil {
		t.Fatal(err)
	}
	preloadFrames(t, cam, 1)

	cfg := &runconfig.RunConfig{ImagesPerRev: runconfig.Cycle8, Velocity: 0}
	sink := &fakeSink{}
	peer := &fakePeer{}
	loop := &Loop{
		Role:   RoleSlave,
		Cam:    cam,
		Config: cfg,
		Sink:   sink,
	}
	if err := loop.RunStatic(0.1, []float64{0}, peer); err != nil {
		t.Fatal(err)
	}
	if peer.waited != 1 {
		t.Errorf("peer.waited = %d, want 1", peer.waited)
	}
	if peer.sent != 0 {
		t.Errorf("peer.sent = %d, want 0 (slave never sends TRG)", peer.sent)
	}
}
