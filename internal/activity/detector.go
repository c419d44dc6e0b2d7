// Package activity detects voice activity on a stream of normalized samples.
package activity

import (
	"math"
	"sync"
	"time"
)

// Config holds the detector thresholds.
type Config struct {
	Threshold float64       // RMS on the [-1, 1] scale counted as voice
	FrameSize int           // newest samples considered per Feed
	Votes     int           // frames in the majority vote window
	HangOver  time.Duration // speaking persists this long after the last voiced vote
}

// DefaultConfig suits 48kHz agent speech sampled every few tens of milliseconds.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.01,
		FrameSize: 960, // 20ms at 48kHz
		Votes:     4,
		HangOver:  200 * time.Millisecond,
	}
}

// Detector is an RMS voice activity detector with a majority vote window and
// a hang-over so short pauses between words do not flap the state.
type Detector struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	votes     []bool
	lastVoice time.Time
	speaking  bool
}

// NewDetector returns a Detector; zero fields of cfg take defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.Votes <= 0 {
		cfg.Votes = def.Votes
	}
	if cfg.HangOver < 0 {
		cfg.HangOver = 0
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Feed scores the newest samples and returns the speaking state and whether
// it changed with this call.
func (d *Detector) Feed(samples []float32) (speaking, changed bool) {
	if n := len(samples); n > d.cfg.FrameSize {
		samples = samples[n-d.cfg.FrameSize:]
	}
	voiced := rms(samples) >= d.cfg.Threshold

	d.mu.Lock()
	defer d.mu.Unlock()
	d.votes = append(d.votes, voiced)
	if len(d.votes) > d.cfg.Votes {
		d.votes = d.votes[len(d.votes)-d.cfg.Votes:]
	}
	yes := 0
	for _, v := range d.votes {
		if v {
			yes++
		}
	}
	now := d.now()
	if yes*2 >= len(d.votes) && yes > 0 {
		d.lastVoice = now
	}
	next := !d.lastVoice.IsZero() && now.Sub(d.lastVoice) <= d.cfg.HangOver
	changed = next != d.speaking
	d.speaking = next
	return next, changed
}

// Speaking reports the state computed by the last Feed.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset forgets all history.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.votes = d.votes[:0]
	d.lastVoice = time.Time{}
	d.speaking = false
	d.mu.Unlock()
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
