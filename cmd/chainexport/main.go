package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/limits"
	"github.com/btcsuite/btclog"
	"github.com/coinbase/chainexport"
	"github.com/coinbase/chainexport/aptos"
	"github.com/coinbase/chainexport/ordinals"
	"github.com/coinbase/chainexport/stellar"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cfg *config
	log btclog.Logger
)

// setupLogging creates one subsystem logger per package, all writing to the
// same backend at the configured level.
func setupLogging(backend *btclog.Backend) error {
	level, ok := btclog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return fmt.Errorf("Invalid debug level %q", cfg.DebugLevel)
	}

	subsystem := func(tag string) btclog.Logger {
		logger := backend.Logger(tag)
		logger.SetLevel(level)
		return logger
	}
	log = subsystem("MAIN")
	chainexport.UseLogger(subsystem("EXPT"))
	aptos.UseLogger(subsystem("APTS"))
	stellar.UseLogger(subsystem("STLR"))
	ordinals.UseLogger(subsystem("ORDI"))
	return nil
}

// serveMetrics exposes the Prometheus registry until the returned function
// is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Infof("Serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// realMain is the real main function for the utility.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	// Setup logging. Records own stdout when it is the output.
	logFile := os.Stdout
	if cfg.toStdout() {
		logFile = os.Stderr
	}
	backendLogger := btclog.NewBackend(logFile)
	defer logFile.Sync()
	if err := setupLogging(backendLogger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if cfg.MetricsListen != "" {
		stop := serveMetrics(cfg.MetricsListen)
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer cancel()

	exporter, err := chainexport.New(chainexport.Config{
		Source:         cfg.source,
		Exporter:       cfg.exporter,
		StartHeight:    cfg.StartHeight,
		EndHeight:      cfg.EndHeight,
		ConfirmedDepth: cfg.Confirmations,
		BatchSize:      cfg.BatchSize,
		MaxWorkers:     cfg.MaxWorkers,
		Unordered:      cfg.Unordered,
		DisableBulk:    cfg.NoBulk,
	})
	if err != nil {
		log.Errorf("Failed to create range exporter: %v", err)
		return err
	}

	done := make(chan struct{})
	if cfg.Progress != 0 {
		go logProgress(exporter, done)
	}

	log.Infof("Starting %s export", cfg.source.Chain())
	err = exporter.Run(ctx)
	close(done)
	if err != nil {
		reportFailure(err)
		return err
	}

	log.Infof("Completed successfully, exported %d positions",
		exporter.PositionsProcessed())
	return nil
}

// reportFailure logs the error that ended the export along with the
// position it occurred at, when known.
func reportFailure(err error) {
	kind := chainexport.ErrorKind(err)
	if pos, ok := chainexport.FailedPosition(err); ok {
		log.Errorf("Export failed at position %d (%s): %v", pos, kind, err)
		return
	}
	log.Errorf("Export failed (%s): %v", kind, err)
}

// logProgress periodically logs the status of the export routine and exits once
// the done channel is closed.
//
// This function should be run as a goroutine.
func logProgress(exporter *chainexport.RangeExporter, done <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(cfg.Progress) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			log.Infof("Processed %d / %d positions (%s)",
				exporter.PositionsProcessed(), exporter.TotalPositions(),
				exporter.State())
		case <-done:
			return
		}
	}
}

func main() {
	// Use all processor cores and up some limits.
	runtime.GOMAXPROCS(runtime.NumCPU())
	if err := limits.SetLimits(); err != nil {
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
