package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("VCHAT_SERVER_URL", "https://chat.example.com")
	t.Setenv("VCHAT_MODE", "stream")
	t.Setenv("VCHAT_SILENCE_TIMEOUT", "1500")
	t.Setenv("VCHAT_TIMESLICE", "250ms")
	t.Setenv("VCHAT_THRESHOLD", "0.2")
	t.Setenv("VCHAT_CUES", "false")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.ServerURL != "https://chat.example.com" || c.Mode != "stream" {
		t.Errorf("strings not applied: %+v", c)
	}
	if c.SilenceTimeout != 1500*time.Millisecond || c.Timeslice != 250*time.Millisecond {
		t.Errorf("durations = %v, %v", c.SilenceTimeout, c.Timeslice)
	}
	if c.Threshold != 0.2 || c.Cues {
		t.Errorf("threshold=%v cues=%v", c.Threshold, c.Cues)
	}
}

func TestLoadEnvErrors(t *testing.T) {
	t.Setenv("VCHAT_THRESHOLD", "loud")
	t.Setenv("VCHAT_RECONNECT_DELAY", "soon")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"VCHAT_THRESHOLD", "VCHAT_RECONNECT_DELAY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VCHAT_CODEC=json\nVCHAT_DEVICE=USB Mic\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VCHAT_DEVICE", "Preset")
	// godotenv sets variables for the rest of the process.
	t.Cleanup(func() { os.Unsetenv("VCHAT_CODEC") })

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Codec != "json" {
		t.Errorf("codec = %q, want json from file", c.Codec)
	}
	if c.Device != "Preset" {
		t.Errorf("device = %q, environment should win over the file", c.Device)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestFlagsOverride(t *testing.T) {
	t.Setenv("VCHAT_FORMAT", "pcm")
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	fs := flag.NewFlagSet("vchat", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse([]string{"-format", "flac", "-silence", "3s"}); err != nil {
		t.Fatal(err)
	}
	if c.Format != "flac" || c.SilenceTimeout != 3*time.Second {
		t.Errorf("flags not applied: %+v", c)
	}
	if c.Mode != "turn" {
		t.Errorf("untouched flag changed mode to %q", c.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"codec", func(c *Config) { c.Codec = "grpc" }, "codec"},
		{"mode", func(c *Config) { c.Mode = "push" }, "mode"},
		{"format", func(c *Config) { c.Format = "mp3" }, "format"},
		{"timeslice", func(c *Config) { c.Timeslice = 10 * time.Millisecond }, "timeslice"},
		{"silence", func(c *Config) { c.SilenceTimeout = 50 * time.Millisecond }, "silence"},
		{"threshold", func(c *Config) { c.Threshold = 1 }, "threshold"},
		{"reconnect", func(c *Config) { c.ReconnectDelay = 0 }, "reconnect"},
		{"server", func(c *Config) { c.ServerURL = "" }, "server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
