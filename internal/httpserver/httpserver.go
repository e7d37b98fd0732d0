// Package httpserver assembles storage, directory, auth, and routing
// into a runnable server.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/auth"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/backend/memory"
	"github.com/averlon/carddavd/internal/backend/postgres"
	"github.com/averlon/carddavd/internal/backend/sqlite"
	"github.com/averlon/carddavd/internal/config"
	"github.com/averlon/carddavd/internal/dav"
	"github.com/averlon/carddavd/internal/directory"
	"github.com/averlon/carddavd/internal/router"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	dir, err := directory.NewLDAPClient(cfg.LDAP, logger)
	if err != nil {
		return nil, nil, err
	}
	aclp := acl.NewLDAPACL(dir)

	var factory backend.Factory
	var closeStore func()

	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(cfg.Storage.PostgresURL, logger)
		if err != nil {
			dir.Close()
			return nil, nil, err
		}
		factory = func(prefix string) backend.Handler {
			return postgres.NewHandler(store, dir, aclp, prefix, cfg.Report.MaxResults)
		}
		closeStore = store.Close
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLitePath, logger)
		if err != nil {
			dir.Close()
			return nil, nil, err
		}
		factory = func(prefix string) backend.Handler {
			return sqlite.NewHandler(store, dir, aclp, prefix, cfg.Report.MaxResults)
		}
		closeStore = store.Close
	case "memory":
		store := memory.NewStore(cfg.Report.MaxResults)
		factory = func(prefix string) backend.Handler {
			return memory.NewHandler(store, prefix)
		}
		closeStore = func() {}
	default:
		dir.Close()
		return nil, nil, errors.New("unknown storage type: " + cfg.Storage.Type)
	}

	pool := backend.NewPool(factory)
	authn := auth.NewChain(cfg, dir, logger)
	davh := dav.NewHandlers(cfg, pool, logger)
	mux := router.New(cfg, davh, authn, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	cleanup := func() {
		closeStore()
		dir.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.HTTP.Addr, cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
