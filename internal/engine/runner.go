package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/log"
	"github.com/mattwade/papermill/internal/workspace"
)

const (
	// Method tags engine-backed results.
	Method = "soffice"

	// maxCaptureBytes caps captured stdout/stderr from an engine run.
	maxCaptureBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 2 * time.Second
)

// Missing shared-library sentinels. The Windows build exits with
// STATUS_DLL_NOT_FOUND (seen signed or unsigned depending on the shell);
// the POSIX loader path surfaces as 127.
const (
	dllNotFoundSigned   = -1073741515
	dllNotFoundUnsigned = 3221225781
	posixLoaderFailure  = 127
)

// PathResolver yields a validated engine executable path.
type PathResolver interface {
	Resolve() (string, error)
}

// Runner owns the lifecycle of a single engine invocation per conversion:
// spawn, bounded wait, output reconciliation, and failure classification.
type Runner struct {
	resolver   PathResolver
	workspaces workspace.Manager
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRunner creates a Runner. timeout bounds each invocation.
func NewRunner(resolver PathResolver, workspaces workspace.Manager, timeout time.Duration) *Runner {
	return &Runner{
		resolver:   resolver,
		workspaces: workspaces,
		timeout:    timeout,
		logger:     log.WithComponent("engine.runner"),
	}
}

// Convert runs one engine invocation for req. Every failure mode is folded
// into the result; no error escapes.
func (r *Runner) Convert(ctx context.Context, req convert.Request) convert.Result {
	started := time.Now()
	opLogger := r.logger.With("operation_id", req.OperationID)

	fail := func(kind convert.FailureKind, msg string) convert.Result {
		return convert.Failed(kind, msg, Method, time.Since(started))
	}

	exePath, err := r.resolver.Resolve()
	if err != nil {
		opLogger.Error("engine resolution failed", "error", err)
		return fail(convert.FailureEngineNotFound, err.Error())
	}

	// Never spawn against a missing or empty input; the engine's own error
	// for that case is ambiguous.
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return fail(convert.FailureInputMissing, fmt.Sprintf("input file %s does not exist", req.InputPath))
	}
	if info.Size() == 0 {
		return fail(convert.FailureInputMissing, fmt.Sprintf("input file %s is empty", req.InputPath))
	}

	// Isolated profile + output dirs for this operation. Failure is
	// non-fatal: the engine falls back to its default profile at the cost
	// of possible engine-internal contention.
	profileDir := ""
	outDir := filepath.Dir(req.OutputPath)
	op, wsErr := r.workspaces.Create(ctx, req.OperationID)
	if wsErr != nil {
		opLogger.Warn("failed to create operation workspace, proceeding without isolation", "error", wsErr)
	} else {
		profileDir = op.ProfileDir
		outDir = op.OutDir
		defer func() {
			if err := r.workspaces.Remove(context.Background(), req.OperationID); err != nil {
				opLogger.Warn("workspace cleanup failed", "error", err)
			}
		}()
	}

	expected := expectedOutputPath(req.InputPath, req.TargetFormat, outDir)

	cmd := buildCommand(exePath, req.InputPath, req.TargetFormat, outDir, profileDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	opLogger.Debug("spawning engine", "exe", exePath, "args", cmd.Args[1:], "timeout", r.timeout)

	if err := cmd.Start(); err != nil {
		opLogger.Error("engine spawn failed", "error", err)
		return fail(convert.FailureSpawn, fmt.Sprintf("start engine process: %v", err))
	}

	// Wait for exit in a goroutine so the select below can race it against
	// the deadline and caller cancellation. cmd's internal stream copiers
	// drain stdout and stderr concurrently, so a chatty child cannot
	// deadlock on a full pipe.
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		r.terminate(cmd, waitErr, opLogger)
		opLogger.Warn("engine timed out", "timeout", r.timeout)
		return fail(convert.FailureTimeout,
			fmt.Sprintf("engine did not finish within %v", r.timeout))

	case <-ctx.Done():
		r.terminate(cmd, waitErr, opLogger)
		opLogger.Warn("conversion abandoned by caller", "error", ctx.Err())
		return fail(convert.FailureTimeout,
			fmt.Sprintf("conversion abandoned: %v", ctx.Err()))

	case err := <-waitErr:
		if err != nil {
			return r.classifyExit(err, &stdout, &stderr, fail, opLogger)
		}
	}

	// Exit code zero is necessary but not sufficient: the engine can exit 0
	// without producing output.
	if _, err := os.Stat(expected); err != nil {
		diag := captured(&stderr, &stdout)
		opLogger.Error("engine exited 0 but produced no output", "expected", expected, "diag", diag)
		return fail(convert.FailureOutputNotProduced,
			fmt.Sprintf("engine reported success but %s was not produced: %s", filepath.Base(expected), diag))
	}

	if expected != req.OutputPath {
		if err := moveFile(expected, req.OutputPath); err != nil {
			opLogger.Error("output relocation failed", "from", expected, "to", req.OutputPath, "error", err)
			return fail(convert.FailureOutputRelocation,
				fmt.Sprintf("move output to %s: %v", req.OutputPath, err))
		}
	}

	opLogger.Info("conversion succeeded", "output", req.OutputPath,
		"elapsed_ms", time.Since(started).Milliseconds())
	return convert.Succeeded(req.OutputPath, Method, time.Since(started))
}

// terminate forcibly stops a running engine process: SIGTERM, a short grace,
// then SIGKILL. It returns once the process is gone.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM failed", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		logger.Warn("engine ignored SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("SIGKILL failed", "error", err)
		}
		<-waitErr
	}
}

func (r *Runner) classifyExit(
	err error,
	stdout, stderr *bytes.Buffer,
	fail func(convert.FailureKind, string) convert.Result,
	logger *slog.Logger,
) convert.Result {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		logger.Error("engine wait failed", "error", err)
		return fail(convert.FailureSpawn, fmt.Sprintf("wait for engine process: %v", err))
	}

	code := exitErr.ExitCode()
	if isMissingLibSentinel(code) {
		logger.Error("engine missing a runtime dependency", "exit_code", code)
		return fail(convert.FailureMissingRuntimeDep,
			fmt.Sprintf("engine exited with code %d: a required shared library is missing; "+
				"verify the engine installation on this host", code))
	}

	diag := captured(stderr, stdout)
	logger.Warn("engine conversion failed", "exit_code", code, "diag", diag)
	return fail(convert.FailureEngineConversion,
		fmt.Sprintf("engine exited with code %d: %s", code, diag))
}

// isMissingLibSentinel matches the exit codes the engine uses when a shared
// library cannot be loaded. This is a deployment defect, not a per-file one.
func isMissingLibSentinel(code int) bool {
	switch code {
	case dllNotFoundSigned, posixLoaderFailure:
		return true
	}
	return uint32(code) == dllNotFoundUnsigned
}

// buildCommand assembles the engine argv: headless flags, the isolated
// profile override, target format, output directory, and the input file.
func buildCommand(exePath, inputPath, targetFormat, outDir, profileDir string) *exec.Cmd {
	args := []string{"--headless", "--norestore", "--nolockcheck"}
	if profileDir != "" {
		args = append(args, "-env:UserInstallation="+profileURL(profileDir))
	}
	args = append(args, "--convert-to", targetFormat, "--outdir", outDir, inputPath)
	return exec.Command(exePath, args...)
}

// profileURL renders a profile directory as the file URL the engine expects.
func profileURL(dir string) string {
	dir = filepath.ToSlash(dir)
	if !strings.HasPrefix(dir, "/") {
		// Windows drive path.
		dir = "/" + dir
	}
	return "file://" + dir
}

// expectedOutputPath applies the engine's own naming convention: same base
// name as the input, target extension, placed in the output directory. The
// target format may carry an export filter suffix ("pdf:writer_pdf_Export").
func expectedOutputPath(inputPath, targetFormat, outDir string) string {
	ext := targetFormat
	if i := strings.IndexByte(ext, ':'); i >= 0 {
		ext = ext[:i]
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(outDir, base+"."+ext)
}

// moveFile renames src to dst, falling back to copy+remove for cross-device
// moves. The destination directory is created if needed.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open produced output: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy output: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("flush destination: %w", err)
	}

	_ = os.Remove(src)
	return nil
}

// captured returns primary's text, falling back to secondary, truncated to
// the capture cap.
func captured(primary, secondary *bytes.Buffer) string {
	text := strings.TrimSpace(primary.String())
	if text == "" {
		text = strings.TrimSpace(secondary.String())
	}
	if text == "" {
		return "(no diagnostic output)"
	}
	if len(text) > maxCaptureBytes {
		text = text[:maxCaptureBytes]
	}
	return text
}
