//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/gormstore"
	"github.com/marmos91/objectloader/pkg/store/postgres"
	"github.com/marmos91/objectloader/pkg/store/storetest"
)

var testConfig postgres.Config

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("objectloader_test"),
		tcpostgres.WithUsername("objectloader"),
		tcpostgres.WithPassword("objectloader"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testConfig = postgres.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "objectloader_test",
		User:        "objectloader",
		Password:    "objectloader",
		AutoMigrate: true,
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := postgres.New(t.Context(), testConfig)
		require.NoError(t, err)
		truncate(t, s)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestGormConformance(t *testing.T) {
	cfg := testConfig
	cfg.ApplyDefaults()

	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s, err := gormstore.New(gormstore.Config{
			Type:  gormstore.DatabaseTypePostgres,
			DSN:   cfg.ConnectionString(),
			Table: "gorm_objects",
		})
		require.NoError(t, err)
		require.NoError(t, s.DB().Exec("TRUNCATE gorm_objects").Error)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMigrationsAreRepeatable(t *testing.T) {
	require.NoError(t, postgres.RunMigrations(t.Context(), testConfig))
	require.NoError(t, postgres.RunMigrations(t.Context(), testConfig))
}

func truncate(t *testing.T, s *postgres.Store) {
	t.Helper()
	require.NoError(t, s.Exec(t.Context(), "TRUNCATE objects"))
}
