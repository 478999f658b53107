package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagName = "diagnostics_log.txt"
	chatName = "chat_log.txt"
)

var (
	diagLog  zerolog.Logger
	diagFile io.WriteCloser
	chatFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}
	// Priority 2: VCHAT_LOG_PATH environment variable
	if envPath := os.Getenv("VCHAT_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	// Priority 3: Default OS-specific location
	return defaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}
	pid = os.Getpid()

	chat, err := os.OpenFile(filepath.Join(dir, chatName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	chatFile = chat

	diagFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagName),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
	}
	diagLog = zerolog.New(zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}).With().Timestamp().Int("pid", pid).Logger()
	diagLog.Info().Str("dir", dir).Msg("log_open")

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if chatFile != nil {
		chatFile.Close()
		chatFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// ChatLine appends one message to the conversation transcript.
func ChatLine(sender, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if chatFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, sender, text)
	chatFile.WriteString(line)
}

func SessionStart(server, codec, mode, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("server", server).
		Str("codec", codec).
		Str("mode", mode).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(sent, received int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("sent", sent).
		Int("received", received).
		Msg("session_end")
}

func CaptureStart(device, mode, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Str("mode", mode).
		Str("format", format).
		Msg("capture_start")
}

func CaptureStop(turns int, d time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Float64("duration_s", d.Seconds()).
		Msg("capture_stop")
}

func TurnFlushed(fragments, pcmBytes int, format string, final bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("fragments", fragments).
		Float64("audio_s", float64(pcmBytes)/32000).
		Float64("raw_kb", float64(pcmBytes)/1024).
		Str("format", format).
		Bool("final", final).
		Msg("turn_flushed")
}

func Connection(state, url string, attempt int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("state", state).
		Str("url", url).
		Int("attempt", attempt).
		Msg("connection")
}
