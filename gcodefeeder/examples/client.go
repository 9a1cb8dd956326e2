package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printlog"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)

	if len(os.Args) != 3 {
		log.Fatalf("usage: %s <port> <file.gcode>", os.Args[0])
	}

	session, err := gcodefeeder.Connect(gcodefeeder.Config{PortPath: os.Args[1]})
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	summary, err := session.StreamFile(context.Background(), os.Args[2], printlog.Console{}, nil)
	if err != nil {
		log.Error(err)
	}
	if err := session.HomeAndCooldown(); err != nil {
		log.Error(err)
	}
	if summary != nil {
		log.Infof("Sent %d commands, completed: %v", summary.Sent, summary.Completed)
	}
}
