package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"misp-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	gormlogger "gorm.io/gorm/logger"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Host = "db"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "misp"
	cfg.Database.User = "misp"

	cfg.Database.Type = "postgres"
	d, err := Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &postgres.Dialector{}, d)
	require.Equal(t, "misp", getDBNameFromDialector(d))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &mysql.Dialector{}, d)
	require.Equal(t, "misp", getDBNameFromDialector(d))

	cfg.Database.Type = "sqlite"
	cfg.Database.DBNAME = "file::memory:"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	require.IsType(t, &sqlite.Dialector{}, d)

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "misp", extractDBNameFromDSN("host=a user=b dbname=misp port=1"))
	require.Equal(t, "licenses", extractDBNameFromDSN("u:p@tcp(h:3306)/licenses?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=a"))
}

func TestGormLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	cfg := &config.Config{}
	cfg.AppEnv = "production"
	l := NewGormLogger(zap.New(core), cfg)

	sql := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), sql, nil)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sql, gormlogger.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sql, errors.New("deadlock detected"))
	require.Equal(t, 1, logs.FilterMessage("query failed").Len())

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	require.Equal(t, 1, logs.FilterMessage("slow query").Len())

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), sql, errors.New("ignored"))
	require.Equal(t, 2, logs.Len())
}

func TestGormLogger_DevelopmentLogsStatements(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), &config.Config{})

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	entries := logs.FilterMessage("query").All()
	require.Len(t, entries, 1)
	require.Equal(t, "SELECT 1", entries[0].ContextMap()["sql"])
}
