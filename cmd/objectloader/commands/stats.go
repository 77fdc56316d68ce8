package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/objectloader/internal/bytesize"
	"github.com/marmos91/objectloader/internal/cli/output"
	"github.com/marmos91/objectloader/pkg/ringbuffer"
	"github.com/marmos91/objectloader/pkg/store/factory"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and segment statistics",
	Long: `Stats reports how many objects the configured store holds and, when
queue.segment names an existing segment, how much of it is waiting to be
persisted.`,
	RunE: runStats,
}

// storeStats describes the configured store and write-behind segment.
type storeStats struct {
	StoreType string        `json:"store_type" yaml:"store_type"`
	Objects   int64         `json:"objects" yaml:"objects"`
	Segment   *segmentStats `json:"segment,omitempty" yaml:"segment,omitempty"`
}

type segmentStats struct {
	Path     string `json:"path" yaml:"path"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Pending  int    `json:"pending_bytes" yaml:"pending_bytes"`
}

func (s storeStats) Headers() []string { return nil }

func (s storeStats) Rows() [][]string {
	f := output.Fields{
		{"Store", s.StoreType},
		{"Objects", strconv.FormatInt(s.Objects, 10)},
	}
	if s.Segment != nil {
		f = append(f,
			[2]string{"Segment", s.Segment.Path},
			[2]string{"Capacity", bytesize.ByteSize(s.Segment.Capacity).String()},
			[2]string{"Pending", bytesize.ByteSize(s.Segment.Pending).String()},
		)
	}
	return f.Rows()
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	res := storeStats{StoreType: factory.TypeNone}
	st, err := factory.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		res.StoreType = st.Type()
		if res.Objects, err = st.Count(ctx); err != nil {
			return fmt.Errorf("failed to count objects: %w", err)
		}
	}

	if path := cfg.Queue.Segment; path != "" {
		rb, err := ringbuffer.Open(path)
		switch {
		case err == nil:
			res.Segment = &segmentStats{Path: path, Capacity: rb.Capacity(), Pending: rb.Len()}
			_ = rb.Close()
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("failed to open segment: %w", err)
		}
	}

	return printer.Print(res)
}
