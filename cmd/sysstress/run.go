package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/p-arndt/sysstress/internal/bandwidth"
	"github.com/p-arndt/sysstress/internal/config"
	"github.com/p-arndt/sysstress/internal/controller"
	"github.com/p-arndt/sysstress/internal/cpustress"
	"github.com/p-arndt/sysstress/internal/display"
	"github.com/p-arndt/sysstress/internal/lock"
	"github.com/p-arndt/sysstress/internal/memstress"
	"github.com/p-arndt/sysstress/internal/store"
	"github.com/p-arndt/sysstress/internal/sysinfo"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to sysstress.yaml")
	yes := fs.Bool("yes", false, "start without waiting for confirmation")
	jsonOut := fs.Bool("json", false, "write newline-delimited JSON instead of the live view")
	elastic := fs.Bool("elastic", false, "resize the CPU pool from measured load")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := loadConfig(*cfgPath)
	if *elastic {
		cfg.CPU.Elastic = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 1
	}
	logger := newLogger(cfg)

	if cfg.LockPath != "" {
		l, err := lock.Acquire(cfg.LockPath)
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				fmt.Fprintf(os.Stderr, "another sysstress run is active (%s)\n", cfg.LockPath)
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
			return 1
		}
		defer l.Release()
	}

	console := display.SetupConsole(os.Stdout)

	sink, term := newSink(*jsonOut, os.Stdout)
	if term != nil {
		if !console.IsTerminal {
			logger.Warn("stdout is not a terminal, live view will contain escape codes")
		}
		term.Banner(cfg.Duration)
		if !*yes {
			if err := display.Confirm(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}
	}

	ctrl := controller.New(controllerOptions(cfg, blockSource(cfg)), sink, coreDetector(cfg), logger)

	if cfg.HistoryDB != "" {
		st, err := store.New(cfg.HistoryDB)
		if err != nil {
			logger.Warn("run history disabled", "path", cfg.HistoryDB, "error", err)
		} else {
			defer st.Close()
			ctrl.SetRecorder(st)
		}
	}

	if err := ctrl.Initialize(); err != nil {
		sink.Errorf("Initialization failed: %v", err)
		return 1
	}
	if term != nil {
		term.Detected(ctrl.Cores())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := ctrl.Run(ctx); err != nil {
		logger.Error("run finished with error", "error", err)
		return 1
	}
	return 0
}

// newSink returns the terminal as well when the live view is used, since
// only it draws the banner and detected cores.
func newSink(jsonOut bool, out io.Writer) (display.Sink, *display.Terminal) {
	if jsonOut {
		return display.NewJSON(out), nil
	}
	term := display.NewTerminal(out)
	return term, term
}

func coreDetector(cfg *config.Config) controller.CoreDetector {
	if cfg.CPU.Workers > 0 {
		return sysinfo.FixedCores(cfg.CPU.Workers)
	}
	return sysinfo.Detector{}
}

// blockSource guards heap growth with the host and cgroup headroom, plus
// the configured artificial limit when one is set.
func blockSource(cfg *config.Config) memstress.BlockSource {
	heap := &memstress.HeapSource{
		Headroom: sysinfo.NewMemory(),
		Floor:    uint64(cfg.Memory.Floor),
	}
	if cfg.Memory.Limit > 0 {
		return memstress.NewLimitedSource(heap, uint64(cfg.Memory.Limit))
	}
	return heap
}

func controllerOptions(cfg *config.Config, src memstress.BlockSource) controller.Options {
	return controller.Options{
		Duration:        cfg.Duration,
		RefreshInterval: cfg.RefreshInterval,
		JoinTimeout:     cfg.JoinTimeout,
		Memory: memstress.Options{
			Multiplier: cfg.Memory.Multiplier,
			BaseUnit:   uint64(cfg.Memory.BaseUnit),
			BlockSize:  int(cfg.Memory.BlockSize),
		},
		MemorySource: src,
		Bandwidth: bandwidth.Options{
			BufferSize: int(cfg.Bandwidth.BufferSize),
			Iterations: cfg.Bandwidth.Iterations,
			Interval:   cfg.Bandwidth.Interval,
			Stride:     cfg.Bandwidth.Stride,
		},
		CPU: cpustress.Options{
			BatchSize:     cfg.CPU.BatchSize,
			ExponentScale: cfg.CPU.ExponentScale,
		},
		Elastic:       cfg.CPU.Elastic,
		ManageEvery:   cfg.CPU.ManageInterval,
		LoadEstimator: cfg.CPU.LoadEstimator,
	}
}
