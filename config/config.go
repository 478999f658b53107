// Package config resolves runtime settings from defaults, a .env file,
// VCHAT_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "VCHAT_"

type Config struct {
	ServerURL      string
	Codec          string
	Mode           string
	Format         string
	Timeslice      time.Duration
	SilenceTimeout time.Duration
	Threshold      float64
	ReconnectDelay time.Duration
	Device         string
	Gain           int
	Cues           bool
	LogPath        string
	TUI            bool
}

func Default() Config {
	return Config{
		ServerURL:      "http://localhost:3001",
		Codec:          "socketio",
		Mode:           "turn",
		Format:         "wav",
		Timeslice:      100 * time.Millisecond,
		SilenceTimeout: 2 * time.Second,
		Threshold:      0.1,
		ReconnectDelay: 3 * time.Second,
		Gain:           1,
		Cues:           true,
		TUI:            true,
	}
}

// Load returns the defaults overlaid with envFile (when it exists) and the
// process environment. Variables already set in the environment win over
// the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	c := Default()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	str("SERVER_URL", &c.ServerURL)
	str("CODEC", &c.Codec)
	str("MODE", &c.Mode)
	str("FORMAT", &c.Format)
	str("DEVICE", &c.Device)
	str("LOG_PATH", &c.LogPath)
	dur("TIMESLICE", &c.Timeslice)
	dur("SILENCE_TIMEOUT", &c.SilenceTimeout)
	dur("RECONNECT_DELAY", &c.ReconnectDelay)
	if v, ok := lookup(envPrefix + "THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTHRESHOLD: %w", envPrefix, err))
		} else {
			c.Threshold = f
		}
	}
	if v, ok := lookup(envPrefix + "GAIN"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sGAIN: %w", envPrefix, err))
		} else {
			c.Gain = n
		}
	}
	if v, ok := lookup(envPrefix + "CUES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCUES: %w", envPrefix, err))
		} else {
			c.Cues = b
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare integers in milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// RegisterFlags binds the settings to fs, using the current values as
// defaults so flags override everything else.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "Chat server URL")
	fs.StringVar(&c.Codec, "codec", c.Codec, "Channel wire encoding: socketio or json")
	fs.StringVar(&c.Mode, "mode", c.Mode, "Capture mode: turn (flush on silence) or stream")
	fs.StringVar(&c.Format, "format", c.Format, "Turn payload format: wav, pcm or flac")
	fs.DurationVar(&c.Timeslice, "timeslice", c.Timeslice, "Recorder fragment length")
	fs.DurationVar(&c.SilenceTimeout, "silence", c.SilenceTimeout, "Silence that ends a turn")
	fs.Float64Var(&c.Threshold, "threshold", c.Threshold, "Speech level threshold in (0,1)")
	fs.DurationVar(&c.ReconnectDelay, "reconnect", c.ReconnectDelay, "Delay between reconnect attempts")
	fs.StringVar(&c.Device, "device", c.Device, "Use named microphone device")
	fs.IntVar(&c.Gain, "gain", c.Gain, "Microphone gain multiplier")
	fs.BoolVar(&c.Cues, "cues", c.Cues, "Play start/stop cue tones")
	fs.StringVar(&c.LogPath, "logpath", c.LogPath, "Log directory (overrides VCHAT_LOG_PATH)")
	fs.BoolVar(&c.TUI, "tui", c.TUI, "Run the terminal chat view")
}

func (c Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server URL is empty"))
	}
	switch strings.ToLower(c.Codec) {
	case "json", "socketio", "socket.io":
	default:
		errs = append(errs, fmt.Errorf("codec %q: want socketio or json", c.Codec))
	}
	switch strings.ToLower(c.Mode) {
	case "turn", "batch", "stream", "streaming":
	default:
		errs = append(errs, fmt.Errorf("mode %q: want turn or stream", c.Mode))
	}
	switch strings.ToLower(c.Format) {
	case "wav", "pcm", "flac":
	default:
		errs = append(errs, fmt.Errorf("format %q: want wav, pcm or flac", c.Format))
	}
	if c.Timeslice < 100*time.Millisecond || c.Timeslice > time.Second {
		errs = append(errs, fmt.Errorf("timeslice %v: want 100ms to 1s", c.Timeslice))
	}
	if c.SilenceTimeout < c.Timeslice {
		errs = append(errs, fmt.Errorf("silence timeout %v is shorter than the timeslice", c.SilenceTimeout))
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold %v: want between 0 and 1", c.Threshold))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay %v must be positive", c.ReconnectDelay))
	}
	if c.Gain < 1 || c.Gain > 16 {
		errs = append(errs, fmt.Errorf("gain %d: want 1 to 16", c.Gain))
	}
	return errors.Join(errs...)
}
