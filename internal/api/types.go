package api

import (
	"time"

	"instashim/internal/deps"
	"instashim/internal/preflight"
	"instashim/internal/shim"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkerStatus describes the shim lifecycle and its current cache.
type WorkerStatus struct {
	State       string   `json:"state"`
	CacheName   string   `json:"cacheName"`
	ActiveCache string   `json:"activeCache,omitempty"`
	Digest      string   `json:"digest"`
	Strategy    string   `json:"strategy"`
	DeleteStale bool     `json:"deleteStale"`
	Assets      []string `json:"assets"`
	Entries     int      `json:"entries"`
	LastError   string   `json:"lastError,omitempty"`
	InstalledAt string   `json:"installedAt,omitempty"`
	ActivatedAt string   `json:"activatedAt,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult mirrors a preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ServerStatus aggregates runtime information for /_shim/status.
type ServerStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Address      string             `json:"address"`
	Origin       string             `json:"origin"`
	CacheDBPath  string             `json:"cacheDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Worker       WorkerStatus       `json:"worker"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckResult      `json:"checks,omitempty"`
}

// InstallResponse reports the outcome of POST /_shim/install.
type InstallResponse struct {
	CacheName string   `json:"cacheName"`
	Entries   int      `json:"entries"`
	Deleted   []string `json:"deleted"`
}

// ErrorResponse is the body of every non-2xx /_shim/ response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromWorkerStatus converts a shim status snapshot.
func FromWorkerStatus(status shim.Status) WorkerStatus {
	return WorkerStatus{
		State:       string(status.State),
		CacheName:   status.CacheName,
		ActiveCache: status.ActiveCache,
		Digest:      status.Digest,
		Strategy:    string(status.Strategy),
		DeleteStale: status.DeleteStale,
		Assets:      append([]string(nil), status.Assets...),
		Entries:     status.Entries,
		LastError:   status.LastError,
		InstalledAt: formatTime(status.InstalledAt),
		ActivatedAt: formatTime(status.ActivatedAt),
	}
}

// FromDependencies converts dependency statuses.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]CheckResult, len(results))
	for i, r := range results {
		out[i] = CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
