package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, false)

	lg.Debugf("hidden %d", 1)
	lg.Infof("shown %d", 2)
	lg.Warningf("careful")
	lg.Errorf("broken: %v", "disk")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug output should be suppressed when not verbose:\n%s", out)
	}
	for _, want := range []string{"INFO shown 2", "WARNING careful", "ERROR broken: disk"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	lg.SetVerbose(true)
	lg.Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG visible") {
		t.Errorf("Debug output missing in verbose mode")
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelmorph.log")
	lg := Open(Config{Logfile: path, MaxSize: 1, MaxAge: 1}, false)
	lg.Infof("written to file")
	lg.Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "INFO written to file") {
		t.Errorf("Log file does not contain the message: %q", data)
	}
}
