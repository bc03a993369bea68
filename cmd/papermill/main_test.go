package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
service:
  name: papermill-test
engine:
  max_concurrency: 2
  timeout: 30s
workspace:
  dir: ` + filepath.Join(dir, "work") + `
history:
  path: ` + filepath.Join(dir, "history.db") + `
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunCLINoArgs(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "papermill <command>") {
		t.Fatalf("usage missing from output: %s", stdout)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr missing unknown command: %s", stderr)
	}
}

func TestRunVersion(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion(nil)
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "papermill ") {
		t.Fatalf("stdout missing version line: %s", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("stdout missing version JSON: %s", stdout)
	}
}

func TestRunFormatsListsPairs(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runFormats(nil)
	})
	if code != 0 {
		t.Fatalf("runFormats() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "docx -> pdf") {
		t.Fatalf("stdout missing docx -> pdf pair: %s", stdout)
	}
}

func TestRunConfigCheckValid(t *testing.T) {
	configPath := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Config OK") {
		t.Fatalf("stdout missing OK line: %s", stdout)
	}
}

func TestRunConfigCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("engine:\n  max_concurrency: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Config check failed") {
		t.Fatalf("stderr missing failure line: %s", stderr)
	}
}

func TestRunConfigLockWritesChecksums(t *testing.T) {
	configPath := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Successfully locked configuration") {
		t.Fatalf("stdout missing success line: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}
}

func TestRunConfigNounHelp(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"--help"})
	})
	if code != 0 {
		t.Fatalf("runConfigNoun() code = %d", code)
	}
	if !strings.Contains(stdout, "Usage: papermill config <action>") {
		t.Fatalf("stdout missing config usage: %s", stdout)
	}
}

func TestRunConvertBadArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConvert([]string{"only-one-arg"})
	})
	if code != 1 {
		t.Fatalf("runConvert() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: papermill convert") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestExtFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/data/report.DOCX", "docx"},
		{"/data/report.pdf", "pdf"},
		{"/data/report", ""},
		{"report.tar.gz", "gz"},
	}
	for _, tt := range tests {
		if got := extFormat(tt.path); got != tt.want {
			t.Errorf("extFormat(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
