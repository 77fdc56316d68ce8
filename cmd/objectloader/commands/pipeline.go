package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/marmos91/objectloader/pkg/config"
	"github.com/marmos91/objectloader/pkg/deferment"
	"github.com/marmos91/objectloader/pkg/itemqueue"
	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/metrics/prometheus"
	"github.com/marmos91/objectloader/pkg/ringbuffer"
	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/factory"
	"github.com/marmos91/objectloader/pkg/transport"
	"github.com/marmos91/objectloader/pkg/transport/memory"
	"github.com/marmos91/objectloader/pkg/transport/remote"
	"github.com/marmos91/objectloader/pkg/transport/s3"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

// drainPoll is how often a segment owner checks whether an external worker
// has emptied the queue.
const drainPoll = 20 * time.Millisecond

// pipelineOptions are the per-run inputs that do not come from config.
type pipelineOptions struct {
	RootID    string
	CacheOnly bool   // no downloader, only the store
	FromFile  string // NDJSON dump served in memory
}

// pipeline wires cache, deferments, store, write-behind and transport into
// one ObjectLoader.
type pipeline struct {
	cfg        *config.Config
	store      store.Store
	downloader transport.Downloader
	queue      *itemqueue.Queue
	writer     *writebehind.Writer
	worker     *writebehind.Worker
	loader     *loader.ObjectLoader

	stopWorker context.CancelFunc
	workerDone chan error
}

// newPipeline builds everything a load run needs. Close releases it.
func newPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg}
	defer func() {
		if err != nil {
			p.release()
		}
	}()

	p.store, err = factory.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if !opts.CacheOnly {
		p.downloader, err = openDownloader(ctx, cfg, opts.FromFile)
		if err != nil {
			return nil, err
		}
	}

	if err := p.startWriteBehind(ctx); err != nil {
		return nil, err
	}

	manager := deferment.NewManager(cache.NewMemoryCache(cfg.Cache, prometheus.NewCacheMetrics()))
	prometheus.RegisterManager(manager)

	p.loader, err = loader.New(loader.Options{
		RootID:          opts.RootID,
		Manager:         manager,
		Downloader:      p.downloader,
		Store:           p.store,
		Writer:          p.writer,
		Config:          cfg.Loader,
		Metrics:         prometheus.NewLoaderMetrics(),
		BatchingMetrics: prometheus.NewBatchingMetrics(),
	})
	if err != nil {
		manager.Dispose()
		return nil, err
	}
	return p, nil
}

// startWriteBehind creates the ring buffer and, unless an external worker
// owns persistence, the in-process worker. Nothing is created when there is
// neither a store nor a segment.
func (p *pipeline) startWriteBehind(ctx context.Context) error {
	segment := p.cfg.Queue.Segment
	if p.store == nil && segment == "" {
		return nil
	}

	capacity := int(p.cfg.Queue.Capacity)
	var (
		rb  *ringbuffer.Queue
		err error
	)
	if segment != "" {
		rb, err = ringbuffer.Create(segment, capacity)
	} else {
		rb, err = ringbuffer.New(capacity)
	}
	if err != nil {
		return fmt.Errorf("failed to create write-behind queue: %w", err)
	}
	p.queue = itemqueue.New(rb)
	p.writer = writebehind.NewWriter(p.queue, writebehind.WriterConfig{EnqueueTimeout: p.cfg.Queue.EnqueueTimeout})
	prometheus.RegisterWriter(p.writer)

	if segment != "" {
		logger.Info("Waiting for external write-behind worker",
			logger.KeySegment, segment,
			logger.KeyCapacity, p.queue.Segment().Capacity)
		return nil
	}

	p.worker = writebehind.NewWorker(p.queue, p.store, p.cfg.Worker, prometheus.NewBatchingMetrics())
	prometheus.RegisterWorker(p.worker)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.stopWorker = cancel
	p.workerDone = make(chan error, 1)
	go func() { p.workerDone <- p.worker.Run(workerCtx) }()
	return nil
}

// Close disposes the loader, lets write-behind finish and closes the queue
// and the store, in that order.
func (p *pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.loader != nil {
		errs = append(errs, p.loader.Dispose(ctx))
	}

	switch {
	case p.worker != nil:
		p.stopWorker()
		errs = append(errs, <-p.workerDone)
	case p.queue != nil:
		errs = append(errs, p.awaitExternalDrain(ctx))
	}

	errs = append(errs, p.release())
	return errors.Join(errs...)
}

// awaitExternalDrain waits for a separate worker process to empty the
// segment before it is unmapped.
func (p *pipeline) awaitExternalDrain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for !p.queue.IsEmpty() {
		select {
		case <-ctx.Done():
			logger.Warn("Segment not drained before shutdown",
				logger.KeySegment, p.queue.Segment().Path,
				logger.KeyBytes, p.queue.Buffer().Len())
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (p *pipeline) release() error {
	var errs []error
	if p.queue != nil {
		errs = append(errs, p.queue.Close())
		p.queue = nil
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
		p.store = nil
	}
	return errors.Join(errs...)
}

// openDownloader builds the configured transport. fromFile forces the
// memory transport over an NDJSON dump.
func openDownloader(ctx context.Context, cfg *config.Config, fromFile string) (transport.Downloader, error) {
	if fromFile != "" || cfg.Transport.Type == config.TransportMemory {
		path := fromFile
		if path == "" {
			path = cfg.Transport.File
		}
		if path == "" {
			return nil, errors.New("memory transport needs transport.file or --from-file")
		}
		return openDump(path)
	}

	switch cfg.Transport.Type {
	case config.TransportRemote:
		d, err := remote.New(cfg.Transport.Remote)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.TransportS3:
		d, err := s3.NewFromConfig(ctx, cfg.Transport.S3)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

func openDump(path string) (*memory.Downloader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object dump: %w", err)
	}
	defer func() { _ = f.Close() }()
	return memory.FromLines(f)
}
