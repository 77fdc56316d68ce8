package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/store/badger"
	"github.com/marmos91/objectloader/pkg/store/gormstore"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		cfg      Config
		wantType string
	}{
		{Config{Type: TypeMemory}, "memory"},
		{Config{Type: TypeBadger, Badger: badger.Config{InMemory: true}}, "badger"},
		{Config{Type: TypeSQL, SQL: gormstore.Config{Path: filepath.Join(dir, "o.db")}}, "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg)
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			assert.Equal(t, tt.wantType, s.Type())
		})
	}
}

func TestOpenNone(t *testing.T) {
	s, err := Open(context.Background(), Config{Type: TypeNone})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(context.Background(), Config{Type: "tape"})
	assert.Error(t, err)
}
