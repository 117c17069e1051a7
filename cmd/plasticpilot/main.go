// plasticpilot drives a 3D printer from a USB game controller. It polls
// the controller, turns stick and trigger input into paced G-code motion
// and extrusion over the printer's serial link, and exposes an HTTP/
// WebSocket surface for status, controller selection and live tuning.
// Status changes can optionally be published to an MQTT broker.
//
// Usage:
//
//	plasticpilot -config ~/plasticpilot.cfg [options]
//
// Options:
//
//	-config string     Configuration file (required)
//	-port int          Override the [api] listen port
//	-log-level string  Log level: debug, info, warn, error
//	-log-file string   Also write logs to this file (size-rotated)
//	-version           Print the version and exit
//
// Examples:
//
//	# Run with the configured API listener
//	plasticpilot -config ~/plasticpilot.cfg
//
//	# Verbose logs to a file, API on another port
//	plasticpilot -config ~/plasticpilot.cfg -log-level debug -log-file /var/log/plasticpilot.log -port 7130
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"plasticpilot/pkg/api"
	"plasticpilot/pkg/config"
	"plasticpilot/pkg/control"
	"plasticpilot/pkg/gamepad"
	"plasticpilot/pkg/log"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/notify"
	"plasticpilot/pkg/printer"
)

const version = "0.3.0"

func main() {
	// Command line flags
	configFile := flag.String("config", "", "Configuration file (required)")
	port := flag.Int("port", 0, "Override the [api] listen port")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "Also write logs to this file (size-rotated)")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("plasticpilot %s\n", version)
		return
	}

	// Validate required flags
	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	// Set up logging. Components derive prefixed children from the
	// default logger, so it must be configured before anything else.
	var logger *log.Logger
	var logWriter *log.RotatingFileWriter
	if *logFile != "" {
		var err error
		logger, logWriter, err = log.NewTeeLogger("pilot", log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
	} else {
		logger = log.New("pilot")
	}
	log.ConfigureFromEnv(logger)
	if *logLevel != "" {
		logger.SetLevel(log.ParseLevel(*logLevel))
	}
	log.SetDefaultLogger(logger)

	logger.Info("plasticpilot %s starting", version)

	// Parse the config file
	cfg, err := config.Load(*configFile)
	if err != nil {
		fatalf(logger, logWriter, "cannot read config: %v", err)
	}
	tuning, err := config.TuningFromConfig(cfg)
	if err != nil {
		fatalf(logger, logWriter, "invalid tuning settings: %v", err)
	}
	serialCfg, err := config.SerialFromConfig(cfg)
	if err != nil {
		fatalf(logger, logWriter, "invalid [printer] settings: %v", err)
	}
	apiCfg, err := config.APIFromConfig(cfg)
	if err != nil {
		fatalf(logger, logWriter, "invalid [api] settings: %v", err)
	}
	mqttCfg, err := config.MQTTFromConfig(cfg)
	if err != nil {
		fatalf(logger, logWriter, "invalid [mqtt] settings: %v", err)
	}

	logger.Info("config: %s", *configFile)
	logger.Info("printer: %s @ %d baud", serialCfg.Port, serialCfg.Baud)
	logger.Info("bed: %.0fx%.0f mm, base speed %.0f mm/min", tuning.MaxX, tuning.MaxY, tuning.BaseSpeed)

	pm := metrics.Global()
	mux := notify.NewMux()

	// Printer link. A miss here is not fatal: activation redials the
	// sink, so a printer powered on later still works.
	sink := printer.NewSerialSink(printer.SinkConfig{
		Port: serialCfg.Port,
		Baud: serialCfg.Baud,
	}, logger.WithPrefix("serial"), pm)
	if tuning.DebugMode {
		logger.Info("debug mode: printer link stays closed")
	} else if err := sink.Connect(); err != nil {
		logger.WithError(err).Warn("printer not reachable yet")
	}

	sess := control.NewSession(control.SessionOptions{
		Enumerator: gamepad.NewEnumerator(),
		Sink:       sink,
		Notifier:   mux,
		Tuning:     tuning,
		Logger:     logger.WithPrefix("session"),
		Metrics:    pm,
	})
	sink.SetFailureHandler(sess.NotifySinkFailure)

	var mqttPub *notify.MQTTPublisher
	if mqttCfg.Enabled {
		mqttPub = notify.NewMQTTPublisher(mqttCfg, logger.WithPrefix("mqtt"), pm)
		mux.Register(mqttPub)
	}

	addr := apiCfg.Listen
	if *port != 0 {
		addr = overridePort(addr, *port)
	}
	server := api.New(api.Config{
		Addr:     addr,
		Session:  sess,
		Store:    config.NewStore(*configFile, cfg),
		Notifier: mux,
		Logger:   logger.WithPrefix("api"),
		Metrics:  pm,
		Version:  version,
	})
	mux.Register(server)

	serverErr := make(chan error, 1)
	if apiCfg.Enabled {
		go func() { serverErr <- server.Start() }()
	} else {
		logger.Warn("API server disabled in config; only a signal can stop the daemon")
	}

	// Wait for a shutdown signal or a listener failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("API server failed")
			exitCode = 1
		}
	}

	// Teardown order matters: the session drains its queue to the
	// printer first, then the link closes, then the API goes away.
	sess.Close()
	if err := sink.Close(); err != nil {
		logger.WithError(err).Warn("closing serial link")
	}
	if err := server.Stop(); err != nil {
		logger.WithError(err).Warn("stopping API server")
	}
	if mqttPub != nil {
		mqttPub.Close()
	}

	logger.Info("plasticpilot stopped")
	if logWriter != nil {
		logWriter.Close()
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// fatalf logs a startup error and exits, flushing the log file first.
func fatalf(logger *log.Logger, w *log.RotatingFileWriter, format string, args ...interface{}) {
	logger.Error(format, args...)
	if w != nil {
		w.Close()
	}
	os.Exit(1)
}

// overridePort swaps the port of a listen address, keeping its host.
func overridePort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
