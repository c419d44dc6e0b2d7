package rtc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
)

type fakeTrack struct{ writes int32 }

func (f *fakeTrack) WriteSample(media.Sample) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

func newTestWriter(ft *fakeTrack, queue int) *OpusPacedWriter {
	return &OpusPacedWriter{
		track:        ft,
		frameSamples: 960,
		frames:       make(chan []byte, queue),
		stopCh:       make(chan struct{}),
	}
}

func TestOpusPacedWriter_PacerWritesFrames(t *testing.T) {
	ft := &fakeTrack{}
	w := newTestWriter(ft, 8)
	done := make(chan struct{})
	go func() { w.pacer(); close(done) }()

	for i := 0; i < 3; i++ {
		w.pushFrame([]byte{0x01, 0x02})
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&ft.writes) >= 1 }, time.Second, 5*time.Millisecond)
	w.Close()
	<-done
}

func TestOpusPacedWriter_FullQueueDrops(t *testing.T) {
	w := newTestWriter(&fakeTrack{}, 2)
	for i := 0; i < 5; i++ {
		w.pushFrame([]byte{byte(i)})
	}
	assert.Len(t, w.frames, 2)
}

func TestOpusPacedWriter_ResetDrains(t *testing.T) {
	w := newTestWriter(&fakeTrack{}, 8)
	w.pcmBuf = []int16{1, 2, 3}
	w.frames <- []byte{0x01}
	w.frames <- []byte{0x02}
	w.Reset()
	assert.Len(t, w.frames, 0)
	assert.Empty(t, w.pcmBuf)
}

func TestOpusPacedWriter_CloseIsIdempotent(t *testing.T) {
	w := newTestWriter(&fakeTrack{}, 1)
	w.Close()
	assert.NotPanics(t, w.Close)
}
