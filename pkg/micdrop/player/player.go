// Package player plays audio files through the PulseAudio protocol, which
// PipeWire serves through pipewire-pulse.
package player

import (
	"errors"
	"fmt"
	"time"

	"github.com/jfreymuth/pulse"
	"go.uber.org/zap"
)

const (
	SampleRate = 48000
	Channels   = 2

	defaultLatency = 100 * time.Millisecond
)

var (
	ErrOpen              = errors.New("player: cannot open audio file")
	ErrDecode            = errors.New("player: cannot decode audio file")
	ErrUnsupportedFormat = errors.New("player: unsupported audio format")
	ErrDevice            = errors.New("player: cannot acquire audio device")
)

type Options struct {
	// ApplicationName is reported to the server as application.name
	ApplicationName string
	Latency         time.Duration
}

// Player owns one playback stream that lives as long as the Player, so the
// server announces its node before anything is played.
type Player struct {
	logger  *zap.SugaredLogger
	latency time.Duration

	client *pulse.Client
	stream *pulse.PlaybackStream
	mixer  *mixer
}

func New(logger *zap.SugaredLogger, opts Options) (*Player, error) {
	logger = logger.Named("player")

	if opts.Latency <= 0 {
		opts.Latency = defaultLatency
	}

	clientOpts := []pulse.ClientOption{}
	if opts.ApplicationName != "" {
		clientOpts = append(clientOpts, pulse.ClientApplicationName(opts.ApplicationName))
	}

	client, err := pulse.NewClient(clientOpts...)
	if err != nil {
		logger.Warnw("Failed to connect to audio server", "error", err)
		return nil, fmt.Errorf("%w: connect: %w", ErrDevice, err)
	}

	m := newMixer()

	stream, err := client.NewPlayback(pulse.Float32Reader(m.read),
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(opts.Latency.Seconds()),
	)
	if err != nil {
		client.Close()
		logger.Warnw("Failed to create playback stream", "error", err)
		return nil, fmt.Errorf("%w: create playback stream: %w", ErrDevice, err)
	}

	stream.Start()

	p := &Player{
		logger:  logger,
		latency: opts.Latency,
		client:  client,
		stream:  stream,
		mixer:   m,
	}

	logger.Debugw("Created player", "sampleRate", SampleRate, "latency", opts.Latency)

	return p, nil
}

// PlayFile decodes path and queues it behind anything already playing
func (p *Player) PlayFile(path string) error {
	c, err := decodeFile(path)
	if err != nil {
		p.logger.Warnw("Failed to decode audio file", "path", path, "error", err)
		return err
	}

	samples := convert(c, SampleRate, Channels)
	p.mixer.enqueue(samples)

	p.logger.Infow("Queued audio file",
		"path", path,
		"sourceRate", c.rate,
		"sourceChannels", c.channels,
		"duration", time.Duration(len(samples)/Channels)*time.Second/SampleRate)

	return nil
}

// SetVolume sets the gain multiplier, 1.0 is unity
func (p *Player) SetVolume(volume float32) {
	p.mixer.setGain(volume)
	p.logger.Debugw("Volume set", "volume", volume)
}

// WaitUntilEnd blocks until everything queued has been played
func (p *Player) WaitUntilEnd() {
	p.mixer.waitIdle()

	// what was handed to the server still sits in its buffer
	time.Sleep(p.latency)

	if err := p.stream.Error(); err != nil {
		p.logger.Warnw("Playback stream reported an error", "error", err)
	}
}

// Stop drops queued audio, releasing anyone in WaitUntilEnd
func (p *Player) Stop() {
	p.mixer.flush()
}

func (p *Player) Close() error {
	p.mixer.flush()

	p.stream.Stop()
	p.stream.Close()
	p.client.Close()

	p.logger.Debug("Closed player")

	return nil
}
