package shim

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrNotInstalled  = errors.New("not installed")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap tags err with marker and an "operation: message" detail so callers can
// classify failures with errors.Is.
func Wrap(marker error, operation, message string, err error) error {
	if marker == nil {
		marker = ErrInstallFailed
	}
	detail := buildDetail(operation, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "shim failure"
	}
	return strings.Join(parts, ": ")
}
