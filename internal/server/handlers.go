package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"instashim/internal/api"
	"instashim/internal/logging"
	"instashim/internal/precache"
	"instashim/internal/preflight"
	"instashim/internal/shim"
)

func (s *Server) handleServiceWorker(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	opts := precache.WorkerOptions{
		Strategy:    string(s.worker.Strategy()),
		DeleteStale: s.worker.DeleteStale(),
	}
	if err := s.worker.Manifest().RenderServiceWorker(&buf, opts); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := api.ServerStatus{
		Running:      true,
		PID:          pid(),
		Address:      s.Addr(),
		Origin:       s.cfg.Server.Origin,
		CacheDBPath:  s.cfg.Cache.DBPath,
		LockFilePath: s.lockPath,
		Worker:       api.FromWorkerStatus(s.worker.Status(r.Context())),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(s.cfg)),
	}
	if r.URL.Query().Get("checks") == "1" {
		payload.Checks = api.FromChecks(preflight.RunAll(r.Context(), s.cfg))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.worker.Reinstall(r.Context())
	if err != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "manual install failed", "install_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous cache generation keeps serving"),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, shim.ErrInstallFailed) {
			status = http.StatusBadGateway
		}
		s.writeError(w, status, err.Error())
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	status := s.worker.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.InstallResponse{
		CacheName: status.CacheName,
		Entries:   status.Entries,
		Deleted:   deleted,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)
	resp, source, err := s.worker.Fetch(r.Context(), r)
	if err != nil {
		logging.WarnWithContext(logger, "origin request failed", "origin_unavailable",
			logging.String(logging.FieldURL, r.URL.String()),
			logging.String("source", string(source)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the origin application is running"),
			logging.String(logging.FieldImpact, "request answered with 502"),
		)
		s.writeError(w, http.StatusBadGateway, "origin unavailable")
		return
	}
	logger.Debug("request served",
		logging.String("method", r.Method),
		logging.String(logging.FieldURL, r.URL.String()),
		logging.String("source", string(source)),
		logging.Int("status", resp.Status),
	)
	resp.WriteTo(w)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
