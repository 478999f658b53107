package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"vchat/audio"
	"vchat/chat"
	"vchat/config"
	"vchat/doctor"
	"vchat/log"
	"vchat/playback"
	"vchat/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func envFile() string {
	if p := os.Getenv("VCHAT_ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

func modeLineText(cfg config.Config) string {
	format := cfg.Format
	if cfg.Mode == "stream" || cfg.Mode == "streaming" {
		format = "pcm"
	}
	return fmt.Sprintf("[%s | %s | %s]", cfg.Mode, format, cfg.Codec)
}

func run() int {
	cfg, err := config.Load(envFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.RegisterFlags(flag.CommandLine)
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, WAV file as microphone)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("vchat %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *doctorFlag {
		return doctor.Run(cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		return 1
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SessionStart(cfg.ServerURL, cfg.Codec, cfg.Mode, cfg.Format)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: vchat -test <wav-file>")
			return 1
		}
		if err := runHeadless(ctx, cfg, args[0], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	device, err := pickDevice(actx, cfg.Device, *setupFlag)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
	}
	if device != nil && audio.IsBluetooth(device.Name) {
		log.Warn("bluetooth_mic: " + device.Name)
		fmt.Println("Warning: Bluetooth microphones switch the headset to a low quality profile while recording.")
	}

	var out playback.Output = playback.Discard{}
	if sp, err := playback.NewSpeaker(); err != nil {
		log.Warnf("audio output unavailable: %v", err)
	} else {
		out = sp
	}

	a, err := newApp(cfg, actx, appOptions{device: device, output: out, autoClose: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !cfg.TUI {
		err = runScripted(ctx, a, nil, os.Stdin, os.Stdout)
	} else {
		err = runTUI(ctx, a, cfg, device)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("exit: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// pickDevice resolves the capture device: a named device, the interactive
// picker, or nil for the system default.
func pickDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	switch {
	case name != "":
		return audio.FindDevice(actx, name)
	case setup:
		dev, err := audio.SelectDevice(actx)
		if errors.Is(err, audio.ErrSelectionCancelled) {
			return nil, nil
		}
		return dev, err
	}
	return nil, nil
}

func runTUI(ctx context.Context, a *app, cfg config.Config, device *audio.DeviceInfo) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := NewTUIProgram(newTUIModel(a, cfg.ServerURL, modeLineText(cfg), deviceLineText(device)))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	go a.relay.Run(ctx, func(s chat.State) { p.Send(stateMsg(s)) })
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err := p.Run()
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}
