// Command moptop-master runs the master-camera process of spec §4.9: it
// drives the rotator, negotiates run numbers with the slave process, and
// dispatches every incoming RUN datagram to runctl.Master.HandleRun. Entry
// shape (load config, construct collaborators, run, log.Fatal on
// bootstrap error) is grounded on cmd/envsrv/main.go.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/LivTel/moptop/camera/sdkcgo"
	"github.com/LivTel/moptop/config"
	"github.com/LivTel/moptop/logging"
	"github.com/LivTel/moptop/rotator"
	"github.com/LivTel/moptop/runconfig"
	"github.com/LivTel/moptop/runctl"
	"github.com/LivTel/moptop/transport"
)

func main() {
	configPath := flag.String("config", "moptop-master.yml", "path to the bootstrap configuration file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := logging.New(logging.Info)

	sock, err := transport.Bind(cfg.BindAddr)
	if err != nil {
		log.Fatalf("master: %v", err)
	}
	defer sock.Close()

	rot, err := rotator.Connect(cfg.RotatorDevice, rotator.DefaultBaud)
	if err != nil {
		log.Fatalf("master: rotator: %v", err)
	}
	defer rot.Disconnect()
	if err := rot.Initialize(180.0); err != nil {
		log.Fatalf("master: rotator init: %v", err)
	}

	cam, err := sdkcgo.Open(cfg.CameraIndex)
	if err != nil {
		log.Fatalf("master: camera: %v", err)
	}
	defer cam.Close()

	serial := cfg.CameraSerial
	if serial == "auto" {
		serial = cam.Serial
	}
	spec, err := runconfig.SpecBySerial(serial)
	if err != nil {
		log.Fatalf("master: %v", err)
	}

	master := &runctl.Master{
		Engine: runctl.Engine{
			Sock:     sock,
			Cam:      cam,
			CamSpec:  spec,
			CameraID: cfg.CameraID,
			CmdAddr:  cfg.CmdAddr,
			Log:      logger,
		},
		Rot:          rot,
		PeerAddr:     cfg.PeerAddr,
		SingleCamera: cfg.SingleCamera,
	}

	log.Printf("moptop-master listening on %s (peer %s)", cfg.BindAddr, cfg.PeerAddr)
	for {
		payload, _, err := sock.Recv(0, transport.TagRUN, 0)
		if err != nil {
			logger.Report(err)
			continue
		}
		if err := master.HandleRun(trimRunTag(payload), cfg.OutputRoot, time.Now()); err != nil {
			logger.Report(err)
		}
	}
}

func trimRunTag(payload string) string {
	const prefix = transport.TagRUN + " "
	if len(payload) >= len(prefix) && payload[:len(prefix)] == prefix {
		return payload[len(prefix):]
	}
	return payload
}
