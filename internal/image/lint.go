package image

import (
	"fmt"
	"slices"
	"strconv"
)

// Severity ranks lint findings.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding codes.
const (
	CodePortUnwired    = "port-unwired"
	CodeExposeMismatch = "expose-mismatch"
	CodeMissingFFmpeg  = "missing-ffmpeg"
	CodeNoWorkers      = "no-workers"
)

// Finding is one lint result.
type Finding struct {
	Code     string
	Severity Severity
	Message  string
}

// Lint reports inconsistencies between the declared port, the exposed port
// and the entry command, plus packages the downloader cannot run without.
func (d *Descriptor) Lint() []Finding {
	var findings []Finding
	bindPort := d.BindPort()

	portValue, hasPort := d.Env.Lookup("PORT")
	if hasPort && !d.Entry.PortWired() {
		findings = append(findings, Finding{
			Code:     CodePortUnwired,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("PORT is set but the entry command binds %s", d.BindAddress()),
		})
	}
	if bindPort != d.Expose {
		findings = append(findings, Finding{
			Code:     CodeExposeMismatch,
			Severity: SeverityError,
			Message:  fmt.Sprintf("EXPOSE %d does not match bind port %d", d.Expose, bindPort),
		})
	}
	if hasPort {
		if p, err := strconv.Atoi(portValue); err != nil || p != d.Expose {
			findings = append(findings, Finding{
				Code:     CodeExposeMismatch,
				Severity: SeverityError,
				Message:  fmt.Sprintf("PORT=%s does not match EXPOSE %d", portValue, d.Expose),
			})
		}
	}
	if !slices.Contains(d.SystemPackages, "ffmpeg") {
		findings = append(findings, Finding{
			Code:     CodeMissingFFmpeg,
			Severity: SeverityWarning,
			Message:  "ffmpeg is not installed; media merging will be unavailable",
		})
	}
	if d.Entry.Workers == 0 {
		findings = append(findings, Finding{
			Code:     CodeNoWorkers,
			Severity: SeverityWarning,
			Message:  "entry.workers is unset; the manager default applies",
		})
	}
	return findings
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
