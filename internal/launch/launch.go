package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"instashim/internal/config"
	"instashim/internal/deps"
	"instashim/internal/image"
	"instashim/internal/logging"
	"instashim/internal/preflight"
)

// DefaultGracePeriod is how long Run waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 10 * time.Second

var (
	// ErrMissingDependency reports a required binary that could not be found.
	ErrMissingDependency = errors.New("missing required dependency")
	// ErrKilled reports a process that ignored SIGTERM for the whole grace period.
	ErrKilled = errors.New("process killed after grace period")
)

var commandContext = exec.CommandContext

// Plan is a resolved entry command.
type Plan struct {
	Args   []string
	Bind   string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Grace  time.Duration
}

// Command renders the plan as a single shell-quoted line.
func (p Plan) Command() string {
	parts := make([]string, len(p.Args))
	for i, arg := range p.Args {
		parts[i] = image.ShellQuote(arg)
	}
	return strings.Join(parts, " ")
}

// NewPlan builds the entry command from cfg. The bind port is
// cfg.Server.Port, which already reflects PORT when it is set.
func NewPlan(cfg *config.Config) (Plan, error) {
	if cfg == nil {
		return Plan{}, errors.New("launch: config is required")
	}
	manager := strings.TrimSpace(cfg.Launch.Manager)
	if manager == "" {
		return Plan{}, errors.New("launch: manager is required")
	}
	if cfg.Server.Port <= 0 {
		return Plan{}, fmt.Errorf("launch: invalid port %d", cfg.Server.Port)
	}
	bind := cfg.Bind()
	args := []string{manager}
	if cfg.Launch.Workers > 0 {
		args = append(args, "--workers", strconv.Itoa(cfg.Launch.Workers))
	}
	args = append(args, "--bind", bind, cfg.Launch.App)

	env := append(os.Environ(), "PORT="+strconv.Itoa(cfg.Server.Port))
	if path := strings.TrimSpace(cfg.Launch.FFmpegPath); path != "" {
		env = append(env, "FFMPEG_PATH="+path)
	}
	return Plan{
		Args:   args,
		Bind:   bind,
		Env:    env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Grace:  DefaultGracePeriod,
	}, nil
}

// Preflight checks the entry command's binaries. A missing manager is an
// error; a missing ffmpeg is logged and tolerated because the application
// starts without it.
func Preflight(cfg *config.Config, logger *slog.Logger) ([]deps.Status, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	statuses := preflight.CheckSystemDeps(cfg)
	for _, status := range statuses {
		if status.Available {
			logger.Debug("dependency available",
				logging.String("dependency", status.Name),
				logging.String("command", status.Command),
			)
			continue
		}
		if status.Optional {
			logging.WarnWithContext(logger, "optional dependency missing", "dependency_missing",
				logging.String("dependency", status.Name),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldErrorHint, "install ffmpeg or set FFMPEG_PATH"),
				logging.String(logging.FieldImpact, "audio extraction requests will fail"),
			)
		}
	}
	if missing := deps.Missing(statuses); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, status := range missing {
			names = append(names, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
		}
		return statuses, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(names, ", "))
	}
	return statuses, nil
}

// Run starts the plan in a new process group and waits for it to exit.
// When ctx is cancelled the group receives SIGTERM, then SIGKILL once the
// grace period elapses. A process that exits within the grace period after
// SIGTERM is a clean stop and Run returns nil.
func Run(ctx context.Context, plan Plan, logger *slog.Logger) error {
	if len(plan.Args) == 0 {
		return errors.New("launch: empty command")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	grace := plan.Grace
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	// The process is signalled by hand, so it must not be bound to ctx.
	cmd := commandContext(context.WithoutCancel(ctx), plan.Args[0], plan.Args[1:]...) //nolint:gosec
	cmd.Env = plan.Env
	cmd.Stdout = plan.Stdout
	cmd.Stderr = plan.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", plan.Args[0], err)
	}
	pid := cmd.Process.Pid
	logger.Info("process started",
		logging.String("command", plan.Command()),
		logging.String("bind", plan.Bind),
		logging.Int("pid", pid),
	)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s exited: %w", plan.Args[0], err)
		}
		logger.Info("process exited", logging.Int("pid", pid))
		return nil
	case <-ctx.Done():
	}

	logger.Info("stopping process group", logging.Int("pid", pid), logging.Duration("grace", grace))
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		logger.Debug("sigterm failed", logging.Error(err))
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		logger.Info("process stopped", logging.Int("pid", pid))
		return nil
	case <-timer.C:
	}

	logging.WarnWithContext(logger, "process ignored SIGTERM", "process_killed",
		logging.Int("pid", pid),
		logging.Duration("grace", grace),
		logging.String(logging.FieldImpact, "in-flight downloads were interrupted"),
	)
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		logger.Debug("sigkill failed", logging.Error(err))
	}
	<-done
	return ErrKilled
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
