// Package engine locates, validates, and runs the external conversion engine
// (a headless LibreOffice) as a subprocess.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattwade/papermill/internal/log"
)

// programDirName is the engine's standard install-layout convention: the
// binary always lives in a directory literally named "program".
const programDirName = "program"

// ErrEngineNotFound means no candidate executable exists on this host.
var ErrEngineNotFound = errors.New("engine executable not found")

// ErrEngineValidation means a candidate exists but failed the trust checks.
var ErrEngineValidation = errors.New("engine executable failed validation")

// Resolver locates the trusted engine executable.
//
// Strategy order, first match wins: bundled location under the application
// directory, configured absolute path, system install directory, 32-bit
// system install directory. Every candidate is validated before it is
// trusted, so neither configuration nor environment tampering can point the
// orchestrator at an arbitrary binary.
type Resolver struct {
	appDir         string
	configuredPath string
	systemRoots    []string
	binaryName     string
	logger         *slog.Logger
}

// ResolverOptions configures a Resolver. Zero values select platform
// defaults.
type ResolverOptions struct {
	// AppDir is the application's own installation directory. Defaults to
	// the directory of the running executable.
	AppDir string

	// ConfiguredPath is the optional absolute path override from
	// configuration.
	ConfiguredPath string

	// SystemRoots are the recognized program-files directories. Defaults
	// per platform.
	SystemRoots []string

	// BinaryName is the expected engine binary filename. Defaults per
	// platform ("soffice" / "soffice.exe").
	BinaryName string
}

// NewResolver creates a resolver with platform defaults filled in.
func NewResolver(opts ResolverOptions) *Resolver {
	appDir := opts.AppDir
	if appDir == "" {
		if exe, err := os.Executable(); err == nil {
			appDir = filepath.Dir(exe)
		}
	}

	roots := opts.SystemRoots
	if roots == nil {
		roots = defaultSystemRoots()
	}

	name := opts.BinaryName
	if name == "" {
		name = defaultBinaryName()
	}

	return &Resolver{
		appDir:         appDir,
		configuredPath: opts.ConfiguredPath,
		systemRoots:    roots,
		binaryName:     name,
		logger:         log.WithComponent("engine.resolver"),
	}
}

// Resolve returns the validated path to the engine executable.
//
// If no candidate exists, the bundled path is returned alongside
// ErrEngineNotFound so the caller can surface an actionable location in the
// error message.
func (r *Resolver) Resolve() (string, error) {
	bundled := r.bundledPath()

	for _, candidate := range r.candidates() {
		if candidate.path == "" {
			continue
		}
		if _, err := os.Stat(candidate.path); err != nil {
			continue
		}
		if err := r.validate(candidate.path); err != nil {
			r.logger.Warn("rejected engine candidate",
				"path", candidate.path,
				"strategy", candidate.strategy,
				"reason", err.Error())
			continue
		}
		r.logger.Debug("resolved engine executable",
			"path", candidate.path, "strategy", candidate.strategy)
		return candidate.path, nil
	}

	return bundled, fmt.Errorf("%w (expected at %s)", ErrEngineNotFound, bundled)
}

// candidate pairs a filesystem path with the strategy that produced it.
type candidate struct {
	path     string
	strategy string
}

func (r *Resolver) candidates() []candidate {
	out := []candidate{
		{path: r.bundledPath(), strategy: "bundled"},
		{path: r.configuredPath, strategy: "configured"},
	}
	for _, root := range r.systemRoots {
		out = append(out, candidate{
			path:     filepath.Join(root, engineDirName(), programDirName, r.binaryName),
			strategy: "system",
		})
	}
	return out
}

func (r *Resolver) bundledPath() string {
	return filepath.Join(r.appDir, engineDirName(), programDirName, r.binaryName)
}

// validate applies the trust checks to a candidate path.
func (r *Resolver) validate(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: path %q is not absolute", ErrEngineValidation, path)
	}

	// Canonicalize so symlinks and traversal segments cannot smuggle the
	// candidate outside a trusted root.
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("%w: cannot canonicalize %q: %v", ErrEngineValidation, path, err)
	}
	if canonical != filepath.Clean(canonical) {
		return fmt.Errorf("%w: path %q has unresolved segments", ErrEngineValidation, path)
	}

	if !strings.EqualFold(filepath.Base(canonical), r.binaryName) {
		return fmt.Errorf("%w: filename %q does not match expected binary %q",
			ErrEngineValidation, filepath.Base(canonical), r.binaryName)
	}

	if !strings.EqualFold(filepath.Base(filepath.Dir(canonical)), programDirName) {
		return fmt.Errorf("%w: %q is not inside a %q directory",
			ErrEngineValidation, canonical, programDirName)
	}

	for _, root := range append([]string{r.appDir}, r.systemRoots...) {
		if root == "" {
			continue
		}
		if isDescendant(root, canonical) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is outside the application and system install directories",
		ErrEngineValidation, canonical)
}

// isDescendant reports whether path is strictly inside root, comparing whole
// path segments so "...Files" never matches "...FilesEvil".
func isDescendant(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = resolved
	}

	rel, err := filepath.Rel(rootAbs, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// engineDirName is the engine's install directory name under a root. Linux
// packages use the lowercase spelling.
func engineDirName() string {
	if runtime.GOOS == "linux" {
		return "libreoffice"
	}
	return "LibreOffice"
}

func defaultBinaryName() string {
	if runtime.GOOS == "windows" {
		return "soffice.exe"
	}
	return "soffice"
}

func defaultSystemRoots() []string {
	switch runtime.GOOS {
	case "windows":
		roots := []string{}
		if pf := os.Getenv("ProgramFiles"); pf != "" {
			roots = append(roots, pf)
		} else {
			roots = append(roots, `C:\Program Files`)
		}
		if pf86 := os.Getenv("ProgramFiles(x86)"); pf86 != "" {
			roots = append(roots, pf86)
		} else {
			roots = append(roots, `C:\Program Files (x86)`)
		}
		return roots
	case "darwin":
		return []string{"/Applications"}
	default:
		return []string{"/usr/lib", "/usr/lib64", "/opt"}
	}
}
