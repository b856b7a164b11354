// Package server exposes the operator HTTP API: org login, snapshot fetch,
// diff state, content search, and deployment submission.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mdsync/mdsync/internal/config"
	"github.com/mdsync/mdsync/internal/deploy"
	"github.com/mdsync/mdsync/internal/diff"
	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/progress"
	"github.com/mdsync/mdsync/internal/search"
	"github.com/mdsync/mdsync/internal/session"
	"github.com/mdsync/mdsync/internal/snapshot"
	"github.com/mdsync/mdsync/internal/store"
)

// LoginFunc authenticates against an org and returns the live API plus the
// instance URL it resolved to. Swappable in tests.
type LoginFunc func(ctx context.Context, loginURL, username, secret, apiVersion string, callsPerSec float64) (metadata.API, string, error)

type Server struct {
	Store    *store.Store
	Registry *session.Registry
	Vault    *session.Vault
	Tracker  *progress.Tracker

	// Login defaults to the real SOAP login.
	Login LoginFunc

	cfg       *config.Config
	collector *snapshot.Collector
	differ    *diff.Engine
	deployer  *deploy.Orchestrator
	scanner   *search.Scanner
	mux       *http.ServeMux
}

func New(cfg *config.Config, st *store.Store) *Server {
	poller := metadata.Poller{
		Interval: cfg.Remote.PollInterval,
		MaxWait:  cfg.Remote.PollMaxWait,
	}
	s := &Server{
		Store:    st,
		Registry: session.NewRegistry(),
		Tracker:  progress.New(),
		Login:    soapLogin,
		cfg:      cfg,
		collector: &snapshot.Collector{
			Store:      st,
			Dir:        cfg.Storage.Dir,
			APIVersion: cfg.Remote.APIVersion,
			ChunkSize:  cfg.Remote.ChunkSize,
			Poller:     poller,
		},
		differ: &diff.Engine{Store: st, Dir: cfg.Storage.Dir},
		deployer: &deploy.Orchestrator{
			Store:      st,
			APIVersion: cfg.Remote.APIVersion,
			Poller:     poller,
		},
		scanner: &search.Scanner{Store: st, Dir: cfg.Storage.Dir},
		mux:     http.NewServeMux(),
	}
	if cfg.Security.VaultPassphrase != "" {
		s.Vault = &session.Vault{Store: st, Passphrase: cfg.Security.VaultPassphrase}
	}

	s.mux.HandleFunc("POST /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/fetch/{env}", s.handleFetch)
	s.mux.HandleFunc("POST /api/fetch-all", s.handleFetchAll)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/deploy", s.handleDeploy)
	s.mux.HandleFunc("GET /api/deploy/status/{id}", s.handleDeployStatus)
	s.mux.HandleFunc("GET /api/progress/ws", s.handleProgressWS)
	return s
}

// RestoreSessions re-establishes connections from vaulted credentials. A
// slot with no stored credentials is skipped; a failed login is reported but
// does not block the other slot.
func (s *Server) RestoreSessions(ctx context.Context) error {
	if s.Vault == nil {
		return nil
	}

	var firstErr error
	for _, env := range []string{session.EnvSource, session.EnvTarget} {
		creds, err := s.Vault.Open(env)
		if err != nil || creds == nil {
			if err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		api, instanceURL, err := s.Login(ctx, creds.LoginURL, creds.Username, creds.Secret,
			s.cfg.Remote.APIVersion, s.cfg.Remote.CallsPerSec)
		if err != nil {
			slog.Warn("session restore failed", "env", env, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		s.Registry.Set(env, session.Connection{
			API:         api,
			InstanceURL: instanceURL,
			Username:    creds.Username,
		})
		if err := s.Store.SetInstanceURL(env, instanceURL); err != nil && firstErr == nil {
			firstErr = err
		}
		slog.Info("session restored", "env", env, "user", creds.Username)
	}
	return firstErr
}

func soapLogin(ctx context.Context, loginURL, username, secret, apiVersion string, callsPerSec float64) (metadata.API, string, error) {
	sess, err := metadata.Login(ctx, loginURL, username, secret, apiVersion, callsPerSec)
	if err != nil {
		return nil, "", err
	}
	return sess, sess.InstanceURL, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid token")
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
