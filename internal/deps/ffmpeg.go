package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// DefaultFFmpegPath is the location the container image installs ffmpeg to,
// or the bare Windows executable name for local development.
func DefaultFFmpegPath() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "/usr/bin/ffmpeg"
}

// ResolveFFmpeg reports the ffmpeg binary the application will execute.
//
// The lookup order matches the downloader: "ffmpeg" on PATH wins, otherwise
// the override (FFMPEG_PATH) is used, otherwise the platform default. The
// dependency is optional; without it audio extraction fails at request time.
func ResolveFFmpeg(override string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Used by the downloader for audio extraction and merging",
		Optional:    true,
	}

	if resolved, err := exec.LookPath("ffmpeg"); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}

	candidate := strings.TrimSpace(override)
	if candidate == "" {
		candidate = DefaultFFmpegPath()
	}
	result.Command = candidate
	if resolved, err := exec.LookPath(candidate); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}
	if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
		result.Available = true
		return result
	}
	result.Detail = fmt.Sprintf("ffmpeg not found on PATH or at %q", candidate)
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
