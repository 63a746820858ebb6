package monitoring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLevelHelpers(t *testing.T) {
	original := Logf
	defer func() { Logf = original; SetDebug(false) }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	SetDebug(false)
	Debugf("hidden %d", 1)
	Infof("region %s", "default")
	Warnf("dropped")
	Errorf("stuck")
	SetDebug(true)
	Debugf("shown %d", 2)

	want := []string{"info: region default", "warn: dropped", "error: stuck", "debug: shown 2"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(lines), lines, len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSetup_WritesLogFile(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	path := filepath.Join(t.TempDir(), "log", "autopilot.log")
	closer, err := Setup(path, false)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Infof("hello %s", "file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "info: hello file") {
		t.Errorf("log file missing entry, got %q", data)
	}
}

func TestSetup_RotatesLogFile(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "autopilot.log")
	closer, err := setup(path, false, io.Discard)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer closer.Close()

	line := strings.Repeat("x", 1000)
	for i := 0; i < 2*logMaxSizeMB*1100; i++ {
		Infof("%04d %s", i, line)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() > logMaxSizeMB*1024*1024 {
		t.Errorf("active log is %d bytes, want at most %d", info.Size(), logMaxSizeMB*1024*1024)
	}
	backups, err := filepath.Glob(filepath.Join(dir, "autopilot-*.log"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(backups) == 0 {
		t.Error("no rotated backup written")
	}
}
