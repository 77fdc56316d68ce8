package gormstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/gormstore"
	"github.com/marmos91/objectloader/pkg/store/storetest"
)

func TestSQLiteConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := gormstore.New(gormstore.Config{
			Type: gormstore.DatabaseTypeSQLite,
			Path: filepath.Join(t.TempDir(), "objects.db"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     gormstore.Config
		wantErr bool
	}{
		{"sqlite default type", gormstore.Config{Path: "x.db"}, false},
		{"sqlite without path", gormstore.Config{Type: gormstore.DatabaseTypeSQLite}, true},
		{"postgres without dsn", gormstore.Config{Type: gormstore.DatabaseTypePostgres}, true},
		{"postgres", gormstore.Config{Type: gormstore.DatabaseTypePostgres, DSN: "host=db"}, false},
		{"unknown", gormstore.Config{Type: "oracle"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
