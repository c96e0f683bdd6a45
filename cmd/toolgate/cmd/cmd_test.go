package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"start":   false,
		"stop":    false,
		"token":   false,
		"version": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmdFlagDefaults(t *testing.T) {
	dev, err := startCmd.Flags().GetBool("dev")
	if err != nil {
		t.Fatalf("failed to get dev flag: %v", err)
	}
	if dev {
		t.Error("dev flag default = true, want false")
	}
}

func TestTokenCmdFlagDefaults(t *testing.T) {
	ttl := tokenCmd.Flags().Lookup("ttl")
	if ttl == nil {
		t.Fatal("ttl flag not registered on tokenCmd")
	}
	if ttl.DefValue != "30m0s" {
		t.Errorf("ttl default = %q, want %q", ttl.DefValue, "30m0s")
	}

	user := tokenCmd.Flags().Lookup("user")
	if user == nil {
		t.Fatal("user flag not registered on tokenCmd")
	}
	if user.Usage == "" {
		t.Error("user flag missing usage description")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFileUnreadable(t *testing.T) {
	dir := t.TempDir()

	if got := readPIDFile(filepath.Join(dir, "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(garbage, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readPIDFile(garbage); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}
