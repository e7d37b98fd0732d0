// Package dav exposes the CardDAV HTTP surface and translates requests
// into protocol-core operations.
package dav

import (
	"net/http"
	"strings"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/config"
	"github.com/averlon/carddavd/internal/dav/common"
	"github.com/averlon/carddavd/internal/webdav"

	"github.com/rs/zerolog"
)

type Handlers struct {
	cfg      *config.Config
	pool     *backend.Pool
	logger   zerolog.Logger
	basePath string
}

func NewHandlers(cfg *config.Config, pool *backend.Pool, logger zerolog.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		pool:     pool,
		logger:   logger,
		basePath: strings.TrimSuffix(cfg.HTTP.BasePath, "/"),
	}
}

// davPath strips the mount prefix so the protocol core only ever sees
// server-relative paths.
func (h *Handlers) davPath(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, h.basePath)
	if p == "" {
		p = "/"
	}
	return p
}

// intf checks out a backend handler for the authenticated account and
// wraps it in the protocol core. The release func must be deferred.
func (h *Handlers) intf(w http.ResponseWriter, r *http.Request) (*webdav.Intf, func(), bool) {
	pr := common.MustPrincipal(r.Context())
	if pr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, nil, false
	}
	be, release, err := h.pool.Checkout(r.Context(), backend.PoolKey{
		Prefix:  h.basePath,
		Account: pr.UserID,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user", pr.UserID).Msg("backend checkout failed")
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return nil, nil, false
	}
	return &webdav.Intf{
		BE:         be,
		Logger:     h.logger,
		MaxResults: h.cfg.Report.MaxResults,
		MaxDepth:   h.cfg.Report.MaxDepth,
	}, release, true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := webdav.StatusOf(err)
	if status >= 500 {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Str("method", r.Method).Int("status", status).Msg("request rejected")
	}
	http.Error(w, err.Error(), status)
}
