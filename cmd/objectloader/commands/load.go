package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/cli/output"
	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/traverser"
)

var (
	loadOut       string
	loadCacheOnly bool
	loadFromFile  string
	loadQuiet     bool
	loadTimeout   time.Duration
)

var loadCmd = &cobra.Command{
	Use:   "load ROOT_ID",
	Short: "Load and reconstruct the object graph under a root",
	Long: `Load fetches the root object and everything it references, persists
downloaded objects into the configured store and rebuilds the complete graph.

Examples:
  # Load from the configured transport and print a summary
  objectloader load 3f2a9c

  # Load from an NDJSON dump and write the reconstructed object
  objectloader load 3f2a9c --from-file objects.ndjson --out graph.json

  # Rebuild from the local store only
  objectloader load 3f2a9c --cache-only`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadOut, "out", "", "write the reconstructed object as JSON to FILE (- for stdout)")
	loadCmd.Flags().BoolVar(&loadCacheOnly, "cache-only", false, "resolve objects from the store only, never download")
	loadCmd.Flags().StringVar(&loadFromFile, "from-file", "", "serve objects from an NDJSON dump instead of the configured transport")
	loadCmd.Flags().BoolVarP(&loadQuiet, "quiet", "q", false, "do not report progress")
	loadCmd.Flags().DurationVar(&loadTimeout, "timeout", 0, "abort the load after this long (0 = no limit)")
	loadCmd.MarkFlagsMutuallyExclusive("cache-only", "from-file")
}

// lazyLoader hides the loader's object stream so the traverser resolves
// children on demand instead of prefetching the closure.
type lazyLoader struct {
	l *loader.ObjectLoader
}

func (w lazyLoader) GetRootObject(ctx context.Context) (base.Base, error) {
	return w.l.GetRootObject(ctx)
}

func (w lazyLoader) GetObject(ctx context.Context, id string) (base.Base, error) {
	return w.l.GetObject(ctx, id)
}

// loadSummary is printed after a successful load.
type loadSummary struct {
	RootID     string  `json:"root_id" yaml:"root_id"`
	RunID      string  `json:"run_id" yaml:"run_id"`
	Children   int     `json:"children" yaml:"children"`
	Requested  uint64  `json:"requested" yaml:"requested"`
	FromStore  uint64  `json:"from_store" yaml:"from_store"`
	Downloaded uint64  `json:"downloaded" yaml:"downloaded"`
	Refetched  uint64  `json:"refetched" yaml:"refetched"`
	Evicted    uint64  `json:"evicted" yaml:"evicted"`
	CacheHits  uint64  `json:"cache_hits" yaml:"cache_hits"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
	Output     string  `json:"output,omitempty" yaml:"output,omitempty"`
}

func (s loadSummary) Headers() []string { return nil }

func (s loadSummary) Rows() [][]string {
	f := output.Fields{
		{"Root", s.RootID},
		{"Run", s.RunID},
		{"Children", strconv.Itoa(s.Children)},
		{"Requested", strconv.FormatUint(s.Requested, 10)},
		{"From store", strconv.FormatUint(s.FromStore, 10)},
		{"Downloaded", strconv.FormatUint(s.Downloaded, 10)},
		{"Evicted", strconv.FormatUint(s.Evicted, 10)},
		{"Refetched", strconv.FormatUint(s.Refetched, 10)},
		{"Cache hits", strconv.FormatUint(s.CacheHits, 10)},
		{"Duration", fmt.Sprintf("%.0fms", s.DurationMs)},
	}
	if s.Output != "" {
		f = append(f, [2]string{"Output", s.Output})
	}
	return f.Rows()
}

func runLoad(cmd *cobra.Command, args []string) error {
	rootID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, loadTimeout)
		defer cancel()
	}

	shutdown, err := setupObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()
	defer startMetricsServer(cfg)()

	p, err := newPipeline(ctx, cfg, pipelineOptions{
		RootID:    rootID,
		CacheOnly: loadCacheOnly,
		FromFile:  loadFromFile,
	})
	if err != nil {
		return err
	}

	var src traverser.Loader = p.loader
	if !cfg.Traverser.Prefetch {
		src = lazyLoader{l: p.loader}
	}
	tr := traverser.New(src, traverser.Options{
		ExcludeProps: cfg.Traverser.ExcludeProps,
		MaxFanOut:    cfg.Traverser.MaxFanOut,
	})

	var onProgress traverser.ProgressFunc
	var progress *output.Progress
	if !loadQuiet {
		progress = output.NewProgress(cmd.ErrOrStderr())
		onProgress = func(ev traverser.Progress) {
			progress.Update(ev.Stage, ev.Current, ev.Total)
		}
	}

	start := time.Now()
	result, loadErr := tr.GetAndConstructObject(p.loader.Context(ctx), onProgress)
	if progress != nil {
		progress.Done()
	}

	// Write-behind gets the shutdown budget even when ctx was cancelled.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	closeErr := p.Close(closeCtx)
	if loadErr != nil {
		return fmt.Errorf("load %s: %w", rootID, loadErr)
	}
	if closeErr != nil {
		logger.Warn("Pipeline shutdown incomplete", logger.KeyError, closeErr)
	}

	st := p.loader.Stats()
	summary := loadSummary{
		RootID:     rootID,
		RunID:      st.RunID,
		Children:   len(result.Closure()),
		Requested:  st.Requested,
		FromStore:  st.FromStore,
		Downloaded: st.Downloaded,
		Refetched:  st.Refetched,
		Evicted:    st.Evicted,
		CacheHits:  st.Manager.Cache.Hits,
		DurationMs: logger.Duration(start),
	}

	if loadOut != "" {
		data, err := base.Encode(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if loadOut == "-" {
			_, err := cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(loadOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		summary.Output = loadOut
	}

	return printer.Print(summary)
}
