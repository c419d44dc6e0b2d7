// Package bands turns an audio track into a small set of smoothed amplitude
// bands for visualization.
//
// An Analyzer samples its attached source on a fixed cadence, computes a
// windowed magnitude spectrum, smooths it over time, converts it to decibels
// and averages the configured bin range into Config.Bands values. With no
// source attached, or when the source fails, the output is an all-zero frame.
package bands

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
)

// MinInterval bounds the refresh rate so sampling never saturates the scheduler.
const MinInterval = 16 * time.Millisecond

// Config controls band extraction.
type Config struct {
	Bands     int           // number of output bands
	FFTSize   int           // power of two
	Interval  time.Duration // refresh cadence, clamped to MinInterval
	Smoothing float64       // time constant in [0, 1); 0 disables smoothing
	MinDB     float64
	MaxDB     float64
	LoBin     int // first analysed bin (inclusive)
	HiBin     int // last analysed bin (exclusive)
	Spacing   Spacing
}

// DefaultConfig mirrors the browser analyser defaults for the given band count.
func DefaultConfig(bands int) Config {
	return Config{
		Bands:     bands,
		FFTSize:   2048,
		Interval:  32 * time.Millisecond,
		Smoothing: 0.8,
		MinDB:     -100,
		MaxDB:     -10,
		LoBin:     100,
		HiBin:     600,
		Spacing:   Linear,
	}
}

func (c Config) validate() (Config, []int, error) {
	if !isPowerOfTwo(c.FFTSize) {
		return c, nil, fmt.Errorf("bands: fft size %d is not a power of two", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return c, nil, fmt.Errorf("bands: smoothing %.2f out of range", c.Smoothing)
	}
	if c.MaxDB <= c.MinDB {
		return c, nil, fmt.Errorf("bands: max dB %.1f must exceed min dB %.1f", c.MaxDB, c.MinDB)
	}
	c.Interval = max(c.Interval, MinInterval)
	c.HiBin = min(c.HiBin, c.FFTSize/2)
	edges, err := Partition(c.LoBin, c.HiBin, c.Bands, c.Spacing)
	if err != nil {
		return c, nil, err
	}
	return c, edges, nil
}

// Analyzer produces Frames from at most one attached AudioSource at a time.
type Analyzer struct {
	cfg    Config
	edges  []int
	window []float64
	logger *zap.Logger

	// subMu serializes Attach/Detach so two sources never run concurrently.
	subMu sync.Mutex
	sub   *subscription

	mu        sync.Mutex
	frame     Frame
	onFrame   func(Frame)
	onSamples func([]float32)
}

// New validates cfg and returns an idle Analyzer.
func New(cfg Config, logger *zap.Logger) (*Analyzer, error) {
	cfg, edges, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cfg:    cfg,
		edges:  edges,
		window: blackman(cfg.FFTSize),
		logger: logger,
		frame:  ZeroFrame(cfg.Bands),
	}, nil
}

// OnFrame registers fn to receive a copy of every published frame. It is
// called from the sampling goroutine and must not block.
func (a *Analyzer) OnFrame(fn func(Frame)) {
	a.mu.Lock()
	a.onFrame = fn
	a.mu.Unlock()
}

// OnSamples registers fn to receive the raw samples read on every tick, before
// analysis. A tick without fresh samples delivers a silent buffer. The slice
// is reused between ticks; fn must not retain it.
func (a *Analyzer) OnSamples(fn func([]float32)) {
	a.mu.Lock()
	a.onSamples = fn
	a.mu.Unlock()
}

// Frame returns a copy of the latest frame.
func (a *Analyzer) Frame() Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frame.Clone()
}

// Attach releases the current source, resets smoothing and starts sampling
// src. A nil src leaves the analyzer idle with a zero frame.
func (a *Analyzer) Attach(src media.AudioSource) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.detachLocked()
	if src == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		src:    src,
		cancel: cancel,
		done:   make(chan struct{}),
		smooth: make([]float64, a.cfg.FFTSize/2),
		buf:    make([]float32, a.cfg.FFTSize),
		re:     make([]float64, a.cfg.FFTSize),
		im:     make([]float64, a.cfg.FFTSize),
		norm:   make([]float64, a.cfg.FFTSize/2),
	}
	a.sub = s
	go a.run(ctx, s)
}

// Detach stops sampling and waits for the sampling goroutine to exit.
func (a *Analyzer) Detach() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.detachLocked()
}

// Close is Detach; the analyzer can be re-attached afterwards.
func (a *Analyzer) Close() { a.Detach() }

func (a *Analyzer) detachLocked() {
	if s := a.sub; s != nil {
		s.cancel()
		<-s.done
		a.sub = nil
	}
	a.mu.Lock()
	a.frame = ZeroFrame(a.cfg.Bands)
	fn := a.onFrame
	a.mu.Unlock()
	if fn != nil {
		fn(ZeroFrame(a.cfg.Bands))
	}
}

// run samples the source until ctx is cancelled. Ticks that arrive while a
// step is still running are dropped by the ticker rather than queued.
func (a *Analyzer) run(ctx context.Context, s *subscription) {
	defer close(s.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publish(ctx, a.step(s))
		}
	}
}

func (a *Analyzer) publish(ctx context.Context, f Frame) {
	a.mu.Lock()
	if ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	a.frame = f
	fn := a.onFrame
	a.mu.Unlock()
	if fn != nil {
		fn(f.Clone())
	}
}

type subscription struct {
	src    media.AudioSource
	cancel context.CancelFunc
	done   chan struct{}

	smooth  []float64
	buf     []float32
	re, im  []float64
	norm    []float64
	failing bool
}

// step computes one frame from the subscription's source.
func (a *Analyzer) step(s *subscription) (out Frame) {
	out = ZeroFrame(a.cfg.Bands)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("band analysis panicked, emitting zero frame", zap.Any("panic", r))
			out = ZeroFrame(a.cfg.Bands)
		}
	}()

	n, err := s.src.Latest(s.buf)
	if err != nil {
		if !s.failing {
			a.logger.Warn("audio source failed, emitting zero frame", zap.Error(err))
		}
		s.failing = true
		return out
	}
	if s.failing {
		a.logger.Info("audio source recovered")
		s.failing = false
	}
	a.mu.Lock()
	tap := a.onSamples
	a.mu.Unlock()
	size := a.cfg.FFTSize
	n = min(n, size)
	if tap != nil {
		if n > 0 {
			tap(s.buf[:n])
		} else {
			// no fresh audio counts as silence
			clear(s.buf)
			tap(s.buf)
		}
	}
	// right-align the newest samples, zero the rest
	pad := size - n
	for i := 0; i < size; i++ {
		var v float64
		if i >= pad {
			v = float64(s.buf[i-pad])
		}
		s.re[i] = v * a.window[i]
		s.im[i] = 0
	}
	fft(s.re, s.im)

	tau := a.cfg.Smoothing
	scale := 1.0 / float64(size)
	for k := range s.smooth {
		mag := math.Hypot(s.re[k], s.im[k]) * scale
		s.smooth[k] = tau*s.smooth[k] + (1-tau)*mag
		db := math.Inf(-1)
		if s.smooth[k] > 0 {
			db = 20 * math.Log10(s.smooth[k])
		}
		s.norm[k] = normalizeDB(db, a.cfg.MinDB, a.cfg.MaxDB)
	}
	reduce(s.norm, a.edges, out)
	return out
}
