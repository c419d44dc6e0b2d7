package rtc

import (
	"errors"
	"sync"
	"time"
)

var errTrackEnded = errors.New("rtc: track ended")

const (
	frameDuration = 20 * time.Millisecond
	// staleAfter is how long samples stay readable without a newer write;
	// senders go quiet during silence.
	staleAfter = 3 * frameDuration
)

// pcmRing keeps the newest decoded samples of one audio track and serves
// them as a media.AudioSource.
type pcmRing struct {
	rate int
	now  func() time.Time

	mu     sync.Mutex
	buf    []int16
	pos    int // next write index
	filled int
	ended  bool
	last   time.Time
}

func newPCMRing(rate int, capacity int) *pcmRing {
	return &pcmRing{rate: rate, now: time.Now, buf: make([]int16, capacity)}
}

func (r *pcmRing) SampleRate() int { return r.rate }

// Write appends samples, overwriting the oldest ones when full.
func (r *pcmRing) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(samples) == 0 {
		return
	}
	r.last = r.now()
	if len(samples) > len(r.buf) {
		samples = samples[len(samples)-len(r.buf):]
	}
	for len(samples) > 0 {
		n := copy(r.buf[r.pos:], samples)
		samples = samples[n:]
		r.pos = (r.pos + n) % len(r.buf)
		r.filled = min(r.filled+n, len(r.buf))
	}
}

// Latest copies up to len(dst) of the newest samples, oldest first, scaled
// to [-1, 1]. Nothing is returned once the last write is older than
// staleAfter.
func (r *pcmRing) Latest(dst []float32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return 0, errTrackEnded
	}
	if r.filled == 0 || r.now().Sub(r.last) > staleAfter {
		return 0, nil
	}
	n := min(len(dst), r.filled)
	start := (r.pos - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		dst[i] = float32(r.buf[(start+i)%len(r.buf)]) / 32768
	}
	return n, nil
}

// End marks the track as gone; later reads fail.
func (r *pcmRing) End() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
}
