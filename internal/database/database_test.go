package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"docingest/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildPostgresDSN(t *testing.T) {
	base := config.DatabaseConfig{Host: "db", Port: "5432", User: "ingest", Name: "documents"}
	with := func(f func(*config.DatabaseConfig)) config.DatabaseConfig {
		c := base
		f(&c)
		return c
	}

	tests := []struct {
		name    string
		config  config.DatabaseConfig
		want    string
		wantErr bool
	}{
		{
			name:   "password and sslmode",
			config: with(func(c *config.DatabaseConfig) { c.Password = "pass"; c.SSLMode = "disable" }),
			want:   "postgres://ingest:pass@db:5432/documents?sslmode=disable",
		},
		{
			name:   "password is escaped",
			config: with(func(c *config.DatabaseConfig) { c.Password = "p@ss/w:rd" }),
			want:   "postgres://ingest:p%40ss%2Fw%3Ard@db:5432/documents",
		},
		{
			name:   "no password",
			config: with(func(c *config.DatabaseConfig) { c.SSLMode = "require" }),
			want:   "postgres://ingest@db:5432/documents?sslmode=require",
		},
		{name: "missing host", config: with(func(c *config.DatabaseConfig) { c.Host = "" }), wantErr: true},
		{name: "missing port", config: with(func(c *config.DatabaseConfig) { c.Port = "" }), wantErr: true},
		{name: "missing user", config: with(func(c *config.DatabaseConfig) { c.User = "" }), wantErr: true},
		{name: "missing name", config: with(func(c *config.DatabaseConfig) { c.Name = "" }), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPostgresDSN(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// stubOpen makes NewPostgres use db instead of dialing.
func stubOpen(t *testing.T, db *sql.DB, err error) {
	t.Helper()
	orig := sqlOpen
	sqlOpen = func(string, string) (*sql.DB, error) { return db, err }
	t.Cleanup(func() { sqlOpen = orig })
}

func TestNewPostgres(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	conf := config.DatabaseConfig{
		Host:               "db",
		Port:               "5432",
		User:               "ingest",
		Password:           "pass",
		Name:               "documents",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetimeSec: 300,
	}

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		stubOpen(t, db, nil)

		mock.ExpectPing()

		gotDB, err := NewPostgres(ctx, conf, log)
		require.NoError(t, err)
		assert.Equal(t, 10, gotDB.Stats().MaxOpenConnections)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open error", func(t *testing.T) {
		stubOpen(t, nil, errors.New("open error"))

		gotDB, err := NewPostgres(ctx, conf, log)
		assert.ErrorContains(t, err, "sql open: open error")
		assert.Nil(t, gotDB)
	})

	t.Run("ping error without connect timeout is not retried", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		// NewPostgres closes db itself on failure.
		stubOpen(t, db, nil)

		mock.ExpectPing().WillReturnError(errors.New("ping failed"))

		gotDB, err := NewPostgres(ctx, conf, log)
		assert.ErrorContains(t, err, "db ping: ping failed")
		assert.Nil(t, gotDB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid DSN", func(t *testing.T) {
		gotDB, err := NewPostgres(ctx, config.DatabaseConfig{}, log)
		assert.Error(t, err)
		assert.Nil(t, gotDB)
	})

	t.Run("ping is retried until the database answers", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		stubOpen(t, db, nil)

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		mock.ExpectPing()

		core, logs := observer.New(zap.InfoLevel)
		retryConf := conf
		retryConf.ConnectTimeout = 10 * time.Second

		gotDB, err := NewPostgres(ctx, retryConf, zap.New(core))
		require.NoError(t, err)
		assert.NotNil(t, gotDB)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, 1, logs.FilterMessage("db_ping_failed").Len())
		connected := logs.FilterMessage("db_connected").All()
		require.Len(t, connected, 1)
		assert.EqualValues(t, 2, connected[0].ContextMap()["attempts"])
	})
}
