// pantilt - camera pan/tilt targeting core
// Takes perception reports over websocket, runs the task queue and PD
// controller, and drives the actuator over a serial link.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-pantilt/internal/config"
	pantiltlog "github.com/teslashibe/go-pantilt/internal/log"
	"github.com/teslashibe/go-pantilt/pkg/serialport"
)

func main() {
	cfg, listPorts, err := parseFlags()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	if listPorts {
		printPorts()
		return
	}

	pantiltlog.Init(cfg.Log.Level)

	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("❌ Initialization failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := app.run(ctx)
	app.shutdown()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "❌ Runtime error: %v\n", runErr)
		os.Exit(1)
	}
}

// parseFlags loads the config file and environment, then applies any flags
// given on the command line.
func parseFlags() (config.Config, bool, error) {
	configPath := flag.String("config", config.Env("PANTILT_CONFIG", ""), "YAML config file")
	port := flag.String("port", "", "Serial port of the actuator (empty: discard packets)")
	baud := flag.Int("baud", 0, "Serial baud rate")
	webPort := flag.String("web-port", "", "Dashboard and perception feed port")
	staticDir := flag.String("static", "", "Serve dashboard assets from this directory")
	emitIdle := flag.Bool("emit-idle", false, "Send hold packets while no task is queued")
	preset := flag.String("preset", "", "Controller preset: default, slow, aggressive")
	store := flag.String("identity-store", "", "Identity store: sqlite, json, none")
	storePath := flag.String("identity-path", "", "Identity store path")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, false, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Serial.Port = *port
		case "baud":
			cfg.Serial.Options.BaudRate = *baud
		case "web-port":
			cfg.Web.Port = *webPort
		case "static":
			cfg.Web.StaticDir = *staticDir
		case "emit-idle":
			cfg.Control.EmitIdle = *emitIdle
		case "preset":
			cfg.Control.Preset = *preset
		case "identity-store":
			cfg.Identity.Store = *store
		case "identity-path":
			cfg.Identity.Path = *storePath
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, *listPorts, nil
}

func printPorts() {
	ports, err := serialport.Ports()
	if err != nil {
		log.Fatalf("❌ Listing serial ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}
