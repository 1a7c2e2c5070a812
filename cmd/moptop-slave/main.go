// Command moptop-slave runs the slave-camera process of spec §4.10: it
// mirrors the master's per-run state machine with no rotator access,
// reacting to each RUN datagram the master forwards.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/LivTel/moptop/camera/sdkcgo"
	"github.com/LivTel/moptop/config"
	"github.com/LivTel/moptop/logging"
	"github.com/LivTel/moptop/runconfig"
	"github.com/LivTel/moptop/runctl"
	"github.com/LivTel/moptop/transport"
)

func main() {
	configPath := flag.String("config", "moptop-slave.yml", "path to the bootstrap configuration file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := logging.New(logging.Info)

	sock, err := transport.Bind(cfg.BindAddr)
	if err != nil {
		log.Fatalf("slave: %v", err)
	}
	defer sock.Close()

	cam, err := sdkcgo.Open(cfg.CameraIndex)
	if err != nil {
		log.Fatalf("slave: camera: %v", err)
	}
	defer cam.Close()

	serial := cfg.CameraSerial
	if serial == "auto" {
		serial = cam.Serial
	}
	spec, err := runconfig.SpecBySerial(serial)
	if err != nil {
		log.Fatalf("slave: %v", err)
	}

	slave := &runctl.Slave{
		Engine: runctl.Engine{
			Sock:     sock,
			Cam:      cam,
			CamSpec:  spec,
			CameraID: cfg.CameraID,
			CmdAddr:  cfg.CmdAddr,
			Log:      logger,
		},
		MasterAddr: cfg.PeerAddr,
	}

	log.Printf("moptop-slave listening on %s (master %s)", cfg.BindAddr, cfg.PeerAddr)
	for {
		payload, _, err := sock.Recv(0, transport.TagRUN, 0)
		if err != nil {
			logger.Report(err)
			continue
		}
		if err := slave.HandleRun(trimRunTag(payload), cfg.OutputRoot, time.Now()); err != nil {
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
