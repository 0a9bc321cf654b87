// Command flashgcd is the user-space process equivalent of the source
// filesystem's f2fs_gc kernel thread (§6, start_gc_thread/stop_gc_thread):
// it wires a GC manager over a mounted flash filesystem, runs the pacing
// worker for the life of the process, and exposes a trigger-gc subcommand
// for an operator to force a synchronous pass.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sitadapter "github.com/watersir/f2fs-change/adapters/repos/sit"
	"github.com/watersir/f2fs-change/internal/cyclemanager"
	"github.com/watersir/f2fs-change/internal/gc"
	"github.com/watersir/f2fs-change/internal/metrics"
)

var (
	mountID        string
	blocksPerSeg   int
	segsPerSection int
	allocModeFlag  string
	sitDir         string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flashgcd",
		Short: "Garbage-collection worker for a flash-friendly log-structured filesystem",
	}

	root.PersistentFlags().StringVar(&mountID, "id", "default", "identity of the mounted device, used to name the pacing worker")
	root.PersistentFlags().IntVar(&blocksPerSeg, "blocks-per-seg", 512, "blocks per segment (B)")
	root.PersistentFlags().IntVar(&segsPerSection, "segs-per-section", 1, "segments per section (S)")
	root.PersistentFlags().StringVar(&allocModeFlag, "alloc-mode", "lfs", "allocation mode: lfs or ssr")
	root.PersistentFlags().StringVar(&sitDir, "sit-dir", "", "directory holding the persistent segment information table; empty runs against an unpopulated in-process table")

	root.AddCommand(newRunCmd(), newTriggerGCCmd())
	return root
}

// newRunCmd starts the pacing worker (C6) and blocks until interrupted,
// mirroring start_gc_thread's lifetime as a long-running kernel thread.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the pacing worker and block until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			mgr, closeSIT, err := buildManager(log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			callbacks := cyclemanager.New()
			if err := mgr.StartGCThread(ctx, log, callbacks, mountID); err != nil {
				return fmt.Errorf("start gc thread: %w", err)
			}
			log.WithField("id", mountID).Info("gc pacing worker started")

			<-ctx.Done()

			log.Info("shutting down gc pacing worker")
			if err := mgr.StopGCThread(context.Background()); err != nil {
				return err
			}
			return closeSIT(context.Background())
		},
	}
}

// newTriggerGCCmd calls the synchronous entry point of §6 once and reports
// the resulting Status.
func newTriggerGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger-gc",
		Short: "Run one synchronous, reclaim-now GC pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			mgr, closeSIT, err := buildManager(log)
			if err != nil {
				return err
			}
			defer closeSIT(cmd.Context())

			status, err := mgr.F2FSGc(cmd.Context(), true)
			log.WithField("status", status).Info("f2fs_gc (sync) finished")
			if err != nil {
				return fmt.Errorf("f2fs_gc: %w", err)
			}
			return nil
		},
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// buildManager wires a Manager over the flash filesystem collaborators
// reachable from this process. The segment information table is real: when
// --sit-dir is set it is the persistent adapters/repos/sit.Table backed by
// that directory; otherwise an empty one is opened under a temp directory so
// the binary still runs end to end against zero seeded segments. The
// remaining collaborators (node manager, page cache, block I/O) stay out of
// scope for this exercise (§1) and are left as a zero gc.Deps; a real binary
// would populate them from its own mount layer before calling
// BuildGCManager. buildManager also returns a shutdown func for the SIT's
// housekeeping cycle, to be called once the pacer itself has stopped.
func buildManager(log logrus.FieldLogger) (*gc.Manager, func(context.Context) error, error) {
	mode := gc.LFS
	switch allocModeFlag {
	case "lfs":
		mode = gc.LFS
	case "ssr":
		mode = gc.SSR
	default:
		return nil, nil, fmt.Errorf("unknown --alloc-mode %q (want lfs or ssr)", allocModeFlag)
	}

	dir := sitDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "flashgcd-sit-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create scratch sit directory: %w", err)
		}
	}

	sitCallbacks := cyclemanager.New()
	table, err := sitadapter.Load(log, dir, blocksPerSeg, segsPerSection, sitCallbacks)
	if err != nil {
		return nil, nil, fmt.Errorf("load segment information table from %q: %w", dir, err)
	}

	cfg := gc.NewConfig(
		gc.WithSegmentSize(blocksPerSeg),
		gc.WithSectionSize(segsPerSection),
		gc.WithAllocMode(mode),
	)
	cfg.Metrics = metrics.New(nil)

	deps := gc.Deps{Segments: table}
	return gc.BuildGCManager(log, deps, cfg), table.Shutdown, nil
}
