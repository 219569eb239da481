package pggate_test

import (
	"context"
	"os"
	"testing"

	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	"github.com/ewancroft/pggate"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pggate.Config {
	return pggate.Config{
		Pool: pggate.PoolConfig{MaxConns: 5},
		Query: pggate.QueryConfig{
			DefaultTimeoutSeconds: 30,
			MaxSQLLength:          100000,
			MaxResultLength:       100000,
		},
	}
}

func newTestInstance(t *testing.T, config pggate.Config) (*pggate.Gateway, string) {
	t.Helper()
	connStr := acquireTestDB(t)
	ctx := context.Background()
	g, err := pggate.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}
	t.Cleanup(func() { g.Close(ctx) })
	return g, connStr
}

func setupTable(t *testing.T, g *pggate.Gateway, sql string) {
	t.Helper()
	output := g.Query(context.Background(), pggate.QueryInput{SQL: sql})
	if output.Error != "" {
		t.Fatalf("setup failed: %s", output.Error)
	}
}

// unrestrictedConfig permits DDL so tests can create their fixtures.
func unrestrictedConfig() pggate.Config {
	config := defaultConfig()
	config.Validation.Mode = "unrestricted"
	return config
}
