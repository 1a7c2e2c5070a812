package runctl

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LivTel/moptop/camera/mockcam"
	"github.com/LivTel/moptop/logging"
	"github.com/LivTel/moptop/rotator"
	"github.com/LivTel/moptop/runconfig"
	"github.com/LivTel/moptop/transport"
)

func bindSocket(t *testing.T) *transport.Socket {
	t.Helper()
	s, err := transport.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func smallCam(serial string) *mockcam.Camera {
	c := mockcam.New(serial)
	c.ImageSizeBytes = 64
	c.SensorWidth = 8
	c.SensorHeight = 8
	return c
}

const samplePayload = "-e0.1 -xe -b2 -f100 -m16L -p16 -oOISIM -n8 -r1 -v0 -a45 -w5"

func TestMasterHandleRunSingleCameraStatic(t *testing.T) {
	dir := t.TempDir()
	sock := bindSocket(t)
	defer sock.Close()

	m := &Master{
		Engine: Engine{
			Sock:     sock,
			Cam:      smallCam("VSC-04181"),
			CamSpec:  runconfig.CameraSpecs[1],
			CameraID: "1",
			Log:      logging.New(logging.Info),
		},
		Rot:          rotator.NewMock(),
		SingleCamera: true,
	}

	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	if err := m.HandleRun(samplePayload, dir, now); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 8 {
		t.Fatalf("wrote %d files, want 8", len(entries))
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".fits" {
			t.Errorf("unexpected file %q", e.Name())
		}
	}
}

// TestMasterSlaveHandshakeAgreesOnRunNumber drives both controllers over real
// loopback sockets: the slave's own goroutine receives the forwarded RUN
// datagram (auto-ACKed by transport.Socket.Recv) the way its process main
// loop would, then hands the payload to Slave.HandleRun.
func TestMasterSlaveHandshakeAgreesOnRunNumber(t *testing.T) {
	dir := t.TempDir()
	masterSock := bindSocket(t)
	defer masterSock.Close()
	slaveSock := bindSocket(t)
	defer slaveSock.Close()

	// Pre-seed the directory with a run number higher than what a fresh
	// local scan would otherwise discover, so the master's suggestion must
	// be what wins the negotiation.
	if err := os.WriteFile(filepath.Join(dir, "1_e_20260315_9_1_1_0.fits"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	master := &Master{
		Engine: Engine{
			Sock:     masterSock,
			Cam:      smallCam("VSC-04181"),
			CamSpec:  runconfig.CameraSpecs[1],
			CameraID: "1",
			Log:      logging.New(logging.Info),
		},
		Rot:      rotator.NewMock(),
		PeerAddr: slaveSock.LocalAddr(),
	}
	slave := &Slave{
		Engine: Engine{
			Sock:     slaveSock,
			Cam:      smallCam("VSC-04151"),
			CamSpec:  runconfig.CameraSpecs[2],
			CameraID: "2",
			Log:      logging.New(logging.Info),
		},
		MasterAddr: masterSock.LocalAddr(),
	}

	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var slaveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		forwarded, _, err := slaveSock.Recv(5*time.Second, transport.TagRUN, 0)
		if err != nil {
			slaveErr = err
			return
		}
		payload := strings.TrimPrefix(forwarded, transport.TagRUN+" ")
		slaveErr = slave.HandleRun(payload, dir, now)
	}()

	if err := master.HandleRun(samplePayload, dir, now); err != nil {
		t.Fatalf("master: %v", err)
	}
	wg.Wait()

	if slaveErr != nil {
		t.Fatalf("slave: %v", slaveErr)
	}

	masterFiles, err := filepath.Glob(filepath.Join(dir, "1_e_*"))
	if err != nil {
		t.Fatal(err)
	}
	slaveFiles, err := filepath.Glob(filepath.Join(dir, "2_e_*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(masterFiles) == 0 || len(slaveFiles) == 0 {
		t.Fatalf("expected files from both cameras, got master=%v slave=%v", masterFiles, slaveFiles)
	}
	for _, f := range append(masterFiles, slaveFiles...) {
		if !strings.Contains(filepath.Base(f), "_10_") {
			t.Errorf("file %q does not carry the negotiated run number 10", f)
		}
	}
}
