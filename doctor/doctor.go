package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	cb "github.com/atotto/clipboard"

	"vchat/audio"
	"vchat/channel"
	"vchat/config"
	"vchat/encoder"
	"vchat/level"
	"vchat/playback"
	"vchat/sched"
	"vchat/shutdown"
)

const (
	listenFor      = 3 * time.Second
	connectTimeout = 5 * time.Second
)

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config) int {
	resetTerminal()
	defer exitOnInterrupt()()

	fmt.Println("vchat doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	if !checkMicrophone(cfg) {
		allPass = false
	}
	if !checkServer(cfg) {
		allPass = false
	}
	if !checkSpeaker() {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

// exitOnInterrupt exits with status 1 on a termination signal until the
// returned func runs.
func exitOnInterrupt() func() {
	done := make(chan struct{})
	ctx, stop := shutdown.Context(context.Background())
	go func() {
		<-ctx.Done()
		select {
		case <-done:
			return
		default:
		}
		fmt.Println("\nInterrupted")
		os.Exit(1)
	}()
	return func() {
		close(done)
		stop()
	}
}

func checkMicrophone(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[1/4] Microphone and speech level")

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer actx.Close()

	devices, err := actx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}
	for _, d := range devices {
		bt := ""
		if audio.IsBluetooth(d.Name) {
			bt = " (bluetooth)"
		}
		fmt.Printf("  - %s%s\n", d.Name, bt)
	}

	var device *audio.DeviceInfo
	if cfg.Device != "" {
		if device, err = audio.FindDevice(actx, cfg.Device); err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			return false
		}
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	peak, captured, err := listen(actx, device, cfg)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if captured == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}
	fmt.Printf("  Captured %.1f KB, peak level %.2f (threshold %.2f)\n", float64(captured)/1024, peak, cfg.Threshold)
	if peak <= cfg.Threshold {
		fmt.Println("  FAIL: speech never crossed the threshold; raise -gain or lower -threshold")
		return false
	}
	fmt.Println("  PASS: speech detected")
	return true
}

// listen captures for listenFor and returns the loudest level sample and
// the number of PCM bytes captured.
func listen(actx audio.Context, device *audio.DeviceInfo, cfg config.Config) (float64, int, error) {
	mic := audio.NewMicrophone(actx, device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       cfg.Gain,
	})

	var mu sync.Mutex
	captured := 0
	an := level.NewAnalyser()

	ctx, cancel := context.WithTimeout(context.Background(), listenFor)
	defer cancel()

	stream, err := mic.Acquire(ctx, an.Feed, func(data []byte, _ uint32) {
		mu.Lock()
		captured += len(data)
		mu.Unlock()
	})
	if err != nil {
		return 0, 0, err
	}

	loop := sched.NewLoop()
	peak := 0.0
	h := level.Start(loop, an, cfg.Threshold, func(s level.Sample) {
		if s.Level > peak {
			peak = s.Level
		}
	})

	fmt.Print("  Recording")
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(500 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fmt.Print(".")
			}
		}
	}()

	loop.Run(ctx)
	close(done)
	h.Stop()
	stream.Release()
	fmt.Println(" done")

	mu.Lock()
	defer mu.Unlock()
	return peak, captured, nil
}

func checkServer(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[2/4] Chat server")

	connected := make(chan struct{}, 1)
	failed := make(chan error, 1)
	client, err := channel.New(channel.Config{
		URL:            cfg.ServerURL,
		Codec:          cfg.Codec,
		ReconnectDelay: cfg.ReconnectDelay,
	}, func(in channel.Inbound) {
		switch ev := in.(type) {
		case channel.Connected:
			select {
			case connected <- struct{}{}:
			default:
			}
		case channel.ConnectError:
			select {
			case failed <- ev.Err:
			default:
			}
		}
	})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  Connecting to %s (%s)...\n", client.Endpoint(), cfg.Codec)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client.Start(ctx)
	defer client.Close()

	select {
	case <-connected:
		fmt.Println("  PASS: connected")
		return true
	case err := <-failed:
		fmt.Printf("  FAIL: %v\n", err)
	case <-ctx.Done():
		fmt.Println("  FAIL: timeout waiting for connection")
	}
	return false
}

func checkSpeaker() bool {
	fmt.Println()
	fmt.Println("[3/4] Speaker")

	sp, err := playback.NewSpeaker()
	if err != nil {
		fmt.Printf("  FAIL: cannot open audio output: %v\n", err)
		return false
	}
	if err := sp.Play(playback.CueClip(playback.CueStart)); err != nil {
		fmt.Printf("  FAIL: playback error: %v\n", err)
		return false
	}

	resetTerminal()
	fmt.Print("Did you hear a short tone? [y/n]: ")
	confirm, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: playback verified by user")
		return true
	}
	fmt.Println("  FAIL: playback not confirmed")
	return false
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[4/4] Clipboard (copy last reply)")

	prev, _ := cb.ReadAll()
	const sentinel = "vchat-doctor-test"
	if err := cb.WriteAll(sentinel); err != nil {
		fmt.Printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := cb.ReadAll()
	if prev != "" {
		cb.WriteAll(prev)
	}
	if err != nil {
		fmt.Printf("  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Printf("  FAIL: clipboard mismatch (got %q, want %q)\n", got, sentinel)
		return false
	}
	fmt.Println("  PASS: clipboard round trip")
	return true
}
