package config

import (
	"github.com/tywrap/hostbridge/internal/audit"
	"github.com/tywrap/hostbridge/internal/audit/pgstore"
	"github.com/tywrap/hostbridge/internal/audit/sqlitestore"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// BuildAuditLogger constructs the configured audit backend and wraps it in
// an async logger, or returns (nil, nil) when auditing is disabled.
func (c AuditConfig) BuildAuditLogger() (*audit.AsyncLogger, error) {
	if !c.Enabled {
		return nil, nil
	}

	var store audit.Store
	var err error
	switch c.Backend {
	case "", "sqlite":
		store, err = sqlitestore.New(c.DSN)
	case "postgres":
		store, err = pgstore.New(c.DSN)
	default:
		return nil, bridgeerr.Config("unknown audit backend %q", c.Backend)
	}
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, err, "open audit store")
	}
	return audit.NewAsyncLogger(store, 1024), nil
}
