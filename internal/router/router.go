// Package router wires authentication and method dispatch in front of
// the DAV handlers.
package router

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/averlon/carddavd/internal/auth"
	"github.com/averlon/carddavd/internal/config"
	"github.com/averlon/carddavd/internal/dav"

	"github.com/rs/zerolog"
)

type Router struct {
	config   *config.Config
	handlers *dav.Handlers
	auth     *auth.Chain
	logger   zerolog.Logger
}

func New(cfg *config.Config, h *dav.Handlers, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{
		config:   cfg,
		handlers: h,
		auth:     authn,
		logger:   logger,
	}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/carddav", r.handleWellKnown)
	mux.HandleFunc("/healthz", r.handleHealth)

	base := r.getBasePath()
	mux.HandleFunc(base, r.handleDAVRequest)
	mux.HandleFunc(strings.TrimSuffix(base, "/"), r.handleDAVRequest)

	return mux
}

func (r *Router) getBasePath() string {
	base := r.config.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/dav"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (r *Router) handleWellKnown(w http.ResponseWriter, req *http.Request) {
	http.Redirect(w, req, r.getBasePath(), http.StatusMovedPermanently)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleDAVRequest(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("DAV", "1, 3, access-control, addressbook")

	// OPTIONS is public for capability discovery
	if req.Method == http.MethodOptions {
		r.handlers.Options(w, req)
		return
	}

	p, err := r.authenticate(req)
	if err != nil || p == nil {
		r.logAttempt(req, err)
		w.Header().Set("WWW-Authenticate", `Basic realm="CardDAV", charset="UTF-8"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	r.routeDAVMethod(w, req, p)
}

func (r *Router) routeDAVMethod(w http.ResponseWriter, req *http.Request, p *auth.Principal) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	switch req.Method {
	case "PROPFIND":
		r.handlers.Propfind(rec, req)
	case "REPORT":
		r.handlers.Report(rec, req)
	case http.MethodGet:
		r.handlers.Get(rec, req)
	case http.MethodHead:
		r.handlers.Head(rec, req)
	case http.MethodPut:
		r.handlers.Put(rec, req)
	case http.MethodDelete:
		r.handlers.Delete(rec, req)
	case "MKCOL":
		r.handlers.Mkcol(rec, req)
	case "COPY":
		r.handlers.Copy(rec, req)
	case "MOVE":
		r.handlers.Move(rec, req)
	default:
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
	}

	dur := time.Since(start)

	ev := r.logger.Debug()
	switch req.Method {
	case http.MethodPut, http.MethodDelete, "MKCOL", "COPY", "MOVE":
		ev = r.logger.Info()
	}
	ev.Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("user", p.UserID).
		Int("status", statusOrDefault(rec.status)).
		Int("bytes", rec.bytes).
		Float64("duration_ms", float64(dur.Microseconds())/1000.0).
		Str("ip", realIP(req)).
		Str("user_agent", req.Header.Get("User-Agent")).
		Msg("http request")
}

func (r *Router) authenticate(req *http.Request) (*auth.Principal, error) {
	authz := req.Header.Get("Authorization")
	lower := strings.ToLower(authz)

	// Prefer Bearer if present and enabled
	if strings.HasPrefix(lower, "bearer ") && r.auth.BearerEnabled() {
		return r.auth.BearerAuthenticate(req.Context(), strings.TrimSpace(authz[7:]))
	}

	if r.auth.BasicEnabled() {
		return r.auth.BasicAuthenticate(req.Context(), authz)
	}

	return nil, errors.New("no auth")
}

func (r *Router) logAttempt(req *http.Request, authErr error) {
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}

	ev := r.logger.Info().
		Bool("auth_success", false).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("ip", realIP(req)).
		Str("user_agent", req.Header.Get("User-Agent")).
		Str("auth_type", authType)
	if authErr != nil {
		ev = ev.Str("error", authErr.Error())
	}
	ev.Msg("auth attempt")
}
