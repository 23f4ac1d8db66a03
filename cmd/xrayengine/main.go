// Command xrayengine runs the clinical workflow engine as a standalone
// process: it loads configuration, wires ports (real hardware drivers in a
// production build; in-memory fakes here, since no hardware driver ships in
// this repository), runs crash recovery, and serves the HTTP control
// surface until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xrayconsole/workflowengine/core"
	"github.com/xrayconsole/workflowengine/journal"
	"github.com/xrayconsole/workflowengine/ports/mock"
	"github.com/xrayconsole/workflowengine/protocol"
	xrayflow "github.com/xrayconsole/workflowengine"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	protocolFile := flag.String("protocols", "", "path to a protocols.yaml file; empty starts with an empty repository")
	flag.Parse()

	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Logger = core.NewProductionLogger(cfg.DeviceID, cfg.Logging.Level, cfg.Logging.Format)

	protocols := protocol.NewRepository()
	if *protocolFile != "" {
		data, err := os.ReadFile(*protocolFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading protocol file: %v\n", err)
			os.Exit(1)
		}
		if err := protocols.LoadYAML(data); err != nil {
			fmt.Fprintf(os.Stderr, "loading protocols: %v\n", err)
			os.Exit(1)
		}
	}

	p := xrayflow.Ports{
		HVG:         mock.NewHVG(),
		Detector:    mock.NewDetector(),
		AEC:         mock.NewAEC(),
		DoseTracker: mock.NewDoseTracker(),
		Worklist:    &mock.Worklist{},
		MPPS:        mock.NewMPPS(),
		Store:       &mock.Store{},
		Safety:      mock.NewSafety(),
	}

	engine, err := xrayflow.NewEngine(cfg, p, protocols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := engine.Recover(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crash recovery: %v\n", err)
		os.Exit(1)
	}
	if result.NeedsOperatorDecision {
		cfg.Logger.Warn("process restarted mid-study, awaiting operator recovery decision via /events", map[string]interface{}{
			"last_state":         result.LastState,
			"study_instance_uid": result.StudyInstanceUID,
		})
		// A production front-end presents RecoveryOption choices to the
		// operator over /events and posts the decision back through an
		// administrative endpoint; this standalone binary defaults to the
		// conservative choice so the process does not hang unattended.
		_ = engine.RecordRecoveryAction(ctx, journal.RecoveryAbortAndCloseStudy, "system", result.StudyInstanceUID)
	}

	cfg.Logger.Info("starting xrayengine", map[string]interface{}{"addr": *addr, "version": xrayflow.Version})
	if err := engine.Start(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "engine start: %v\n", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = engine.Stop(shutdownCtx)
}
