package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"vchat/audio"
	"vchat/channel"
	"vchat/chat"
	"vchat/config"
	"vchat/encoder"
	"vchat/log"
	"vchat/playback"
	"vchat/sched"
	"vchat/turn"
)

// app wires one microphone, one server connection and the chat view
// together for the lifetime of the process.
type app struct {
	cfg    config.Config
	client *channel.Client
	view   *chat.Model
	ctrl   *turn.Controller
	loop   *sched.Loop
	player *playback.Player
	relay  *stateRelay

	// ctx bounds microphone acquisition; cancelled when Run returns.
	ctx    context.Context
	cancel context.CancelFunc
}

type appOptions struct {
	device *audio.DeviceInfo
	output playback.Output
	// autoClose stops a recording after a long stretch of silence.
	autoClose bool
}

func newApp(cfg config.Config, actx audio.Context, opts appOptions) (*app, error) {
	mode, err := turn.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	format, err := turn.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if opts.output == nil {
		opts.output = playback.Discard{}
	}

	a := &app{cfg: cfg, loop: sched.NewLoop(), relay: newStateRelay()}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.player = playback.NewPlayer(opts.output)
	if !cfg.Cues {
		a.player.DisableCues()
	}

	a.client, err = channel.New(channel.Config{
		URL:            cfg.ServerURL,
		Codec:          cfg.Codec,
		ReconnectDelay: cfg.ReconnectDelay,
	}, func(in channel.Inbound) { a.view.Apply(in) })
	if err != nil {
		a.player.Close()
		a.cancel()
		return nil, fmt.Errorf("channel: %w", err)
	}
	a.view = chat.New(a.client, a.player)
	a.view.Subscribe(a.relay.Publish)

	mic := audio.NewMicrophone(actx, opts.device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       cfg.Gain,
	})
	watch := newVoiceWatch(a.view, a.player, sched.FrameInterval, opts.autoClose, func() {
		log.Info("silence_auto_close")
		a.ctrl.Stop()
	})
	a.ctrl = turn.New(turn.Config{
		Mode:           mode,
		Format:         format,
		Timeslice:      cfg.Timeslice,
		SilenceTimeout: cfg.SilenceTimeout,
		Threshold:      cfg.Threshold,
	}, a.loop, mic, &channelTransport{out: a.client, cues: a.player}, turn.WithObserver(watch))
	return a, nil
}

// Run connects to the server and dispatches capture callbacks until ctx
// ends, then stops any recording and closes the connection.
func (a *app) Run(ctx context.Context) error {
	clientCtx, cancelClient := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelClient()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.client.Start(clientCtx)
		<-gctx.Done()
		a.cancel()
		a.ctrl.Stop()
		cancelClient()
		a.player.Close()
		return a.client.Close()
	})
	return g.Wait()
}

// ToggleRecording starts or stops a capture session.
func (a *app) ToggleRecording() error {
	err := a.ctrl.Toggle(a.ctx)
	switch {
	case errors.Is(err, turn.ErrAborted):
		return nil
	case errors.Is(err, audio.ErrPermissionDenied):
		return fmt.Errorf("microphone access denied: %w", err)
	}
	return err
}

func (a *app) SendText(text string) error {
	err := a.view.SendText(text)
	if errors.Is(err, channel.ErrNotConnected) {
		return errors.New("not connected")
	}
	return err
}

func (a *app) LastReply() (string, bool) { return a.view.LastReply() }
