package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/cli/output"
	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store/factory"
	"github.com/marmos91/objectloader/pkg/transport"
	"github.com/marmos91/objectloader/pkg/transport/s3"
)

// importChunk is how many objects are written per store or upload call.
const importChunk = 500

const (
	importTargetStore = "store"
	importTargetS3    = "s3"
)

var importTarget string

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import an NDJSON object dump",
	Long: `Import reads "id<TAB>json" lines from FILE (- for stdin) and writes the
objects into the configured store, or uploads them to the configured S3
bucket with --target s3. Malformed lines are skipped and counted.

Examples:
  objectloader import objects.ndjson
  objectloader import objects.ndjson --target s3`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importTarget, "target", importTargetStore, "where to import to (store|s3)")
}

// importResult is printed when an import finishes.
type importResult struct {
	Target   string `json:"target" yaml:"target"`
	Imported int    `json:"imported" yaml:"imported"`
	Skipped  int    `json:"skipped" yaml:"skipped"`
}

func (r importResult) Headers() []string { return nil }

func (r importResult) Rows() [][]string {
	return output.Fields{
		{"Target", r.Target},
		{"Imported", strconv.Itoa(r.Imported)},
		{"Skipped", strconv.Itoa(r.Skipped)},
	}.Rows()
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var (
		write func([]base.Item) error
		label string
	)
	switch importTarget {
	case importTargetStore:
		st, err := factory.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		if st == nil {
			return errors.New("import needs a store: set store.type")
		}
		defer func() { _ = st.Close() }()
		write = func(items []base.Item) error { return st.PutMany(ctx, items) }
		label = st.Type()
	case importTargetS3:
		up, err := s3.NewFromConfig(ctx, cfg.Transport.S3)
		if err != nil {
			return err
		}
		write = func(items []base.Item) error { return up.Upload(ctx, items) }
		label = "s3://" + cfg.Transport.S3.Bucket
	default:
		return fmt.Errorf("unknown --target %q (want store or s3)", importTarget)
	}

	in, err := openInput(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	res := importResult{Target: label}
	chunk := make([]base.Item, 0, importChunk)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := write(chunk); err != nil {
			return err
		}
		res.Imported += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	err = transport.ReadLines(in, func(it base.Item) error {
		chunk = append(chunk, it)
		if len(chunk) < importChunk {
			return nil
		}
		return flush()
	}, func(line []byte, err error) {
		res.Skipped++
		logger.Debug("Skipping malformed line", logger.KeyError, err)
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("import after %d objects: %w", res.Imported, err)
	}

	logger.Info("Import complete",
		logger.KeyCount, res.Imported,
		logger.KeyDropped, res.Skipped)
	return printer.Print(res)
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}
