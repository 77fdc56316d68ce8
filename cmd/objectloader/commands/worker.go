package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/bytesize"
	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/itemqueue"
	"github.com/marmos91/objectloader/pkg/metrics/prometheus"
	"github.com/marmos91/objectloader/pkg/ringbuffer"
	"github.com/marmos91/objectloader/pkg/store/factory"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

var (
	workerSegment  string
	workerCapacity string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Persist objects written to a shared segment",
	Long: `Worker attaches to the ring buffer segment created by
"objectloader load" with queue.segment set and drains it into the store.

The segment path and capacity form the handshake and must match what the
loader created. The worker waits for the segment to appear and exits after
draining once the segment is removed or on SIGINT/SIGTERM.

Examples:
  objectloader worker --segment /dev/shm/objectloader.seg --capacity 64Mi`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerSegment, "segment", "", "segment file to attach to (default: queue.segment)")
	workerCmd.Flags().StringVar(&workerCapacity, "capacity", "", "segment capacity, e.g. 64Mi (default: queue.capacity)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	handle := ringbuffer.Handle{Path: workerSegment, Capacity: int(cfg.Queue.Capacity)}
	if handle.Path == "" {
		handle.Path = cfg.Queue.Segment
	}
	if handle.Path == "" {
		return errors.New("no segment: pass --segment or set queue.segment")
	}
	if workerCapacity != "" {
		c, err := bytesize.ParseByteSize(workerCapacity)
		if err != nil {
			return fmt.Errorf("invalid --capacity: %w", err)
		}
		handle.Capacity = int(c)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()
	defer startMetricsServer(cfg)()

	st, err := factory.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if st == nil {
		return errors.New("worker needs a store: set store.type")
	}
	defer func() { _ = st.Close() }()

	rb, err := attachSegment(ctx, handle)
	if err != nil {
		return err
	}
	queue := itemqueue.New(rb)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := watchRemoval(ctx, handle.Path, cancel); err != nil {
		logger.Warn("Segment removal will not be detected", logger.KeySegment, handle.Path, logger.KeyError, err)
	}

	worker := writebehind.NewWorker(queue, st, cfg.Worker, prometheus.NewBatchingMetrics())
	prometheus.RegisterWorker(worker)
	return worker.Run(ctx)
}

// attachSegment retries until the loader has created the segment or ctx
// ends. A capacity mismatch fails immediately.
func attachSegment(ctx context.Context, h ringbuffer.Handle) (*ringbuffer.Queue, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	var rb *ringbuffer.Queue
	op := func() error {
		q, err := ringbuffer.Attach(h)
		switch {
		case err == nil:
			rb = q
			return nil
		case errors.Is(err, ringbuffer.ErrCapacityMismatch):
			return backoff.Permanent(err)
		case errors.Is(err, os.ErrNotExist), errors.Is(err, ringbuffer.ErrInvalidSegment):
			// Not created yet, or header not written yet.
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("Waiting for segment", logger.KeySegment, h.Path, logger.KeyError, err, "retry_in", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("attach segment %s: %w", h.Path, err)
	}
	logger.Info("Attached to segment", logger.KeySegment, h.Path, logger.KeyCapacity, rb.Capacity())
	return rb, nil
}

// watchRemoval calls onRemoved once path is deleted or renamed away.
func watchRemoval(ctx context.Context, path string, onRemoved func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watching the directory survives the file being replaced.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
					logger.Info("Segment removed, draining", logger.KeySegment, path)
					onRemoved()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Segment watch error", logger.KeyError, err)
			}
		}
	}()
	return nil
}
