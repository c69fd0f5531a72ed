package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/donations/pkg/config"
)

func TestDialector_UnknownDriver(t *testing.T) {
	_, err := dialector(cfgpkg.DBConfig{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
}

func TestNewDB_SQLiteMigrates(t *testing.T) {
	cfg := &cfgpkg.Config{Env: cfgpkg.EnvProd, Database: cfgpkg.DBConfig{Driver: cfgpkg.DBDriverSQLite, DSN: ":memory:"}}
	log := zap.NewNop().Sugar()

	gdb, err := NewDB(log, cfg)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(log, gdb))
	require.True(t, gdb.Migrator().HasTable("payment"))
	require.True(t, gdb.Migrator().HasIndex("payment", "ux_payment_subscription_provider_ref"))
}

func TestNewDB_EmptyDSN(t *testing.T) {
	_, err := NewDB(zap.NewNop().Sugar(), &cfgpkg.Config{})
	require.Error(t, err)
}
