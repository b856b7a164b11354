package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mdsync/mdsync/internal/deploy"
	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/progress"
	"github.com/mdsync/mdsync/internal/session"
	"github.com/mdsync/mdsync/internal/store"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Env      string `json:"env"`
		LoginURL string `json:"loginUrl"`
		Username string `json:"username"`
		Password string `json:"password"`
		Token    string `json:"token"`
		Remember bool   `json:"remember"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !session.ValidEnv(req.Env) {
		writeError(w, http.StatusBadRequest, "env must be source or target")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	loginURL := req.LoginURL
	if loginURL == "" {
		loginURL = s.cfg.Remote.LoginURL
	}

	secret := req.Password + req.Token
	api, instanceURL, err := s.Login(r.Context(), loginURL, req.Username, secret,
		s.cfg.Remote.APIVersion, s.cfg.Remote.CallsPerSec)
	if err != nil {
		if errors.Is(err, metadata.ErrAuth) {
			writeError(w, http.StatusUnauthorized, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.Registry.Set(req.Env, session.Connection{
		API:         api,
		InstanceURL: instanceURL,
		Username:    req.Username,
	})
	if err := s.Store.SetInstanceURL(req.Env, instanceURL); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Remember && s.Vault != nil {
		err := s.Vault.Seal(req.Env, session.Credentials{
			LoginURL: loginURL,
			Username: req.Username,
			Secret:   secret,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("login ok but credentials not saved: %v", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"instanceUrl": instanceURL,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	env := r.PathValue("env")
	if !session.ValidEnv(env) {
		writeError(w, http.StatusBadRequest, "env must be source or target")
		return
	}
	conn, err := s.Registry.Get(env)
	if err != nil {
		writeError(w, http.StatusBadRequest, env+" not connected")
		return
	}

	var records []store.DiffRecord
	err = s.Tracker.RunExclusive("Fetching "+env, func() error {
		if err := s.collector.Collect(r.Context(), env, conn.API, s.Tracker.Update); err != nil {
			return err
		}
		s.Tracker.Update("Analyzing Differences...", 100)
		records, err = s.differ.Analyze()
		return err
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": records})
}

func (s *Server) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	src, srcErr := s.Registry.Get(session.EnvSource)
	tgt, tgtErr := s.Registry.Get(session.EnvTarget)
	if srcErr != nil || tgtErr != nil {
		writeError(w, http.StatusBadRequest, "connect both environments first")
		return
	}

	var records []store.DiffRecord
	err := s.Tracker.RunExclusive("Fetching all", func() error {
		if err := s.collector.Collect(r.Context(), session.EnvSource, src.API, s.Tracker.Update); err != nil {
			return err
		}
		if err := s.collector.Collect(r.Context(), session.EnvTarget, tgt.API, s.Tracker.Update); err != nil {
			return err
		}
		s.Tracker.Update("Analyzing Differences...", 100)
		var err error
		records, err = s.differ.Analyze()
		return err
	})
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": records})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.Tracker.State()
	srcMeta, err := s.Store.GetEnvMeta(session.EnvSource)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tgtMeta, err := s.Store.GetEnvMeta(session.EnvTarget)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"isBusy":   state.Busy,
		"action":   state.Action,
		"progress": state.Percent,
		"error":    state.LastError,
		"lastSync": map[string]*time.Time{
			session.EnvSource: srcMeta.LastSync,
			session.EnvTarget: tgtMeta.LastSync,
		},
		"instanceUrls": map[string]string{
			session.EnvSource: srcMeta.InstanceURL,
			session.EnvTarget: tgtMeta.InstanceURL,
		},
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	records, err := s.Store.ListAnalysis()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.DiffRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Env   string `json:"env"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	env := req.Env
	if env == "" {
		env = session.EnvTarget
	}
	if !session.ValidEnv(env) {
		writeError(w, http.StatusBadRequest, "env must be source or target")
		return
	}

	results, err := s.scanner.Scan(r.Context(), env, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	src, srcErr := s.Registry.Get(session.EnvSource)
	tgt, tgtErr := s.Registry.Get(session.EnvTarget)
	if srcErr != nil || tgtErr != nil {
		writeError(w, http.StatusUnauthorized, "orgs not connected")
		return
	}

	var req struct {
		Components map[string][]string `json:"components"`
		CheckOnly  bool                `json:"checkOnly"`
		TestLevel  string              `json:"testLevel"`
		RunTests   string              `json:"runTests"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	opts := deploy.Options{
		CheckOnly: req.CheckOnly,
		TestLevel: req.TestLevel,
		RunTests:  splitTests(req.RunTests),
	}

	var jobID string
	err := s.Tracker.RunExclusive("Deploying", func() error {
		var err error
		jobID, err = s.deployer.Submit(r.Context(), src.API, tgt.API, req.Components, opts, s.Tracker.Update)
		return err
	})
	if err != nil {
		if errors.Is(err, deploy.ErrEmptyManifest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

func (s *Server) handleDeployStatus(w http.ResponseWriter, r *http.Request) {
	tgt, err := s.Registry.Get(session.EnvTarget)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "target not connected")
		return
	}

	res, err := s.deployer.Status(r.Context(), tgt.API, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, progress.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func splitTests(raw string) []string {
	if raw == "" {
		return nil
	}
	var tests []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tests = append(tests, t)
		}
	}
	return tests
}
