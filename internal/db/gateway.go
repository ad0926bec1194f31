package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sqlagent-backend/internal/metrics"
	"sqlagent-backend/internal/sqltext"
)

// Source is the catalog and query surface the agent and tools consume.
type Source interface {
	ListTables(ctx context.Context) (sqltext.Tabular, error)
	GetColumns(ctx context.Context, table string) (sqltext.Tabular, error)
	Sample(ctx context.Context, table string, limit int) (sqltext.Tabular, error)
	Query(ctx context.Context, stmt string) (sqltext.Tabular, error)
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Logger *slog.Logger

	// ReadOnly rejects statements that could modify the datasource.
	ReadOnly bool

	// Schema overrides the default schema used for catalog lookups.
	Schema string
}

// Gateway exposes a datasource to the agent as string tables.
type Gateway struct {
	log     *slog.Logger
	db      *Database
	dialect dialect
	cfg     GatewayConfig
}

// NewGateway wraps database with dialect-aware catalog queries.
func NewGateway(database *Database, cfg GatewayConfig) (*Gateway, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schema == "" {
		cfg.Schema = database.GetConfig().Schema
	}

	d, err := dialectFor(database.Type())
	if err != nil {
		return nil, err
	}

	return &Gateway{
		log:     cfg.Logger,
		db:      database,
		dialect: d,
		cfg:     cfg,
	}, nil
}

// ListTables returns tableName and tableComment for every table and view.
func (g *Gateway) ListTables(ctx context.Context) (sqltext.Tabular, error) {
	q, args := g.dialect.listTables(g.cfg.Schema)
	rs, err := g.db.Query(ctx, q, args...)
	if err != nil {
		return sqltext.Tabular{}, fmt.Errorf("failed to list tables: %w", err)
	}
	return rs.Tabular(), nil
}

// GetColumns returns columnName, columnType and columnComment for table.
func (g *Gateway) GetColumns(ctx context.Context, table string) (sqltext.Tabular, error) {
	if strings.TrimSpace(table) == "" {
		return sqltext.Tabular{}, fmt.Errorf("table name is required")
	}

	q, args := g.dialect.listColumns(g.cfg.Schema, table)
	rs, err := g.db.Query(ctx, q, args...)
	if err != nil {
		return sqltext.Tabular{}, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	return rs.Tabular(), nil
}

// Sample returns the first limit rows of table.
func (g *Gateway) Sample(ctx context.Context, table string, limit int) (sqltext.Tabular, error) {
	if strings.TrimSpace(table) == "" {
		return sqltext.Tabular{}, fmt.Errorf("table name is required")
	}
	if limit <= 0 {
		limit = 3
	}

	q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", g.qualify(table), limit)
	rs, err := g.db.Query(ctx, q)
	if err != nil {
		return sqltext.Tabular{}, fmt.Errorf("failed to sample table %s: %w", table, err)
	}
	return rs.Tabular(), nil
}

// Query runs a single statement and returns its rows. With ReadOnly set,
// statements that could modify data are rejected before reaching the
// database.
func (g *Gateway) Query(ctx context.Context, stmt string) (sqltext.Tabular, error) {
	if g.cfg.ReadOnly {
		if err := CheckReadOnly(stmt); err != nil {
			metrics.DBQueriesTotal.WithLabelValues("rejected").Inc()
			g.log.Warn("db: rejected statement", "error", err)
			return sqltext.Tabular{}, err
		}
	}

	rs, err := g.db.Query(ctx, stmt)
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues("error").Inc()
		g.log.Debug("db: query failed", "error", err)
		return sqltext.Tabular{}, err
	}

	metrics.DBQueriesTotal.WithLabelValues("success").Inc()
	g.log.Debug("db: query completed", "rows", rs.RowCount)
	return rs.Tabular(), nil
}

func (g *Gateway) qualify(table string) string {
	if g.cfg.Schema == "" || g.db.Type() == DatabaseTypeSQLite {
		return g.dialect.quote(table)
	}
	return g.dialect.quote(g.cfg.Schema) + "." + g.dialect.quote(table)
}
