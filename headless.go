package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vchat/audio"
	"vchat/chat"
	"vchat/config"
	"vchat/log"
)

const waitTimeout = 15 * time.Second

// runHeadless drives the client from a line-oriented script, replaying
// wavPath as the microphone. Commands:
//
//	START | STOP | TOGGLE      recording control
//	SAY <text>                 send a text message
//	WAIT_CONNECTED             block until the server connection is up
//	WAIT_AUDIO_DONE            block until the clip has been captured
//	WAIT_REPLY                 block until a new AI message arrives
//	WAIT_IDLE                  block until recording has stopped
//	SLEEP <ms>
//	QUIT
func runHeadless(ctx context.Context, cfg config.Config, wavPath string, in io.Reader, out io.Writer) error {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		return fmt.Errorf("loading WAV: %w", err)
	}
	cfg.Cues = false
	a, err := newApp(cfg, fake, appOptions{})
	if err != nil {
		return err
	}
	return runScripted(ctx, a, fake, in, out)
}

func runScripted(ctx context.Context, a *app, fake *audio.FakeContext, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newScript(a, fake, out)
	a.view.Subscribe(s.changed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error {
		a.relay.Run(gctx, s.print)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return s.run(gctx, in)
	})
	err := g.Wait()
	s.print(a.view.State())
	return err
}

type script struct {
	app  *app
	fake *audio.FakeContext
	out  io.Writer

	wake chan struct{}

	mu      sync.Mutex
	printed int
	replies int
}

func newScript(a *app, fake *audio.FakeContext, out io.Writer) *script {
	return &script{app: a, fake: fake, out: out, wake: make(chan struct{}, 1)}
}

// changed runs under the chat model's callers' locks and only signals.
func (s *script) changed(chat.State) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *script) print(st chat.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(st.Messages) < s.printed {
		s.printed = 0
	}
	for _, m := range st.Messages[s.printed:] {
		fmt.Fprintf(s.out, "%s: %s\n", m.Sender, m.Text)
	}
	s.printed = len(st.Messages)
}

func countReplies(st chat.State) int {
	n := 0
	for _, m := range st.Messages {
		if m.Sender == chat.AI {
			n++
		}
	}
	return n
}

func (s *script) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var cmd string
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd = line
		}
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			continue
		}
		done, err := s.exec(ctx, cmd)
		if err != nil {
			log.Errorf("script %q: %v", cmd, err)
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if done {
			return nil
		}
	}
}

func (s *script) exec(ctx context.Context, cmd string) (quit bool, err error) {
	verb, arg, _ := strings.Cut(cmd, " ")
	switch verb {
	case "START":
		return false, s.app.ctrl.Start(s.app.ctx)
	case "STOP":
		s.app.ctrl.Stop()
	case "TOGGLE":
		return false, s.app.ToggleRecording()
	case "SAY":
		return false, s.app.SendText(arg)
	case "WAIT_CONNECTED":
		return false, s.waitFor(ctx, func(st chat.State) bool { return st.Connected })
	case "WAIT_IDLE":
		return false, s.waitFor(ctx, func(st chat.State) bool { return !st.Recording })
	case "WAIT_REPLY":
		s.mu.Lock()
		want := s.replies + 1
		s.mu.Unlock()
		err := s.waitFor(ctx, func(st chat.State) bool { return countReplies(st) >= want })
		if err == nil {
			s.mu.Lock()
			s.replies = want
			s.mu.Unlock()
		}
		return false, err
	case "WAIT_AUDIO_DONE":
		if s.fake == nil {
			return false, fmt.Errorf("live microphone has no clip to wait for")
		}
		c := s.fake.Last()
		if c == nil {
			return false, fmt.Errorf("no capture started")
		}
		select {
		case <-c.AudioDone():
		case <-ctx.Done():
		case <-time.After(waitTimeout):
			return false, fmt.Errorf("timeout")
		}
	case "SLEEP":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return false, err
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
		}
	case "QUIT":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command")
	}
	return false, nil
}

func (s *script) waitFor(ctx context.Context, ok func(chat.State) bool) error {
	timeout := time.NewTimer(waitTimeout)
	defer timeout.Stop()
	for {
		if ok(s.app.view.State()) {
			return nil
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("timeout")
		}
	}
}
