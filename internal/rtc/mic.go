package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/agent-playground/internal/media"
)

// Microphone is the published local audio track. PCM written to it is sent
// to the room and kept for local metering.
type Microphone struct {
	s      *Session
	ref    media.TrackRef
	ring   *pcmRing
	writer *OpusPacedWriter
	once   sync.Once
}

// PublishMicrophone starts sending the negotiated microphone track. Calling
// it again returns the same Microphone.
func (s *Session) PublishMicrophone() (*Microphone, error) {
	s.mu.Lock()
	if s.mic != nil {
		m := s.mic
		s.mu.Unlock()
		return m, nil
	}
	if s.micTrack == nil {
		s.mu.Unlock()
		return nil, ErrMicrophoneUnavailable
	}
	w, err := NewOpusPacedWriter(s.micTrack)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ring := newPCMRing(sampleRate, ringCapacity)
	m := &Microphone{
		s:      s,
		ring:   ring,
		writer: w,
		ref: media.TrackRef{
			SID:         "TR_" + uuid.NewString()[:8],
			Participant: s.LocalParticipant(),
			Kind:        media.KindAudio,
			Source:      media.SourceMicrophone,
			Handle:      ring,
		},
	}
	s.mic = m
	s.mu.Unlock()

	s.logger.Info("microphone published", zap.String("sid", m.ref.SID))
	s.emit(media.TracksChanged{})
	return m, nil
}

// WritePCM sends 48kHz mono samples.
func (m *Microphone) WritePCM(samples []int16) {
	m.ring.Write(samples)
	m.writer.WritePCM(samples)
}

// Stream reads little-endian 16-bit 48kHz mono PCM from r at real-time pace
// until r is exhausted or ctx is done. Audio still queued from earlier writes
// is discarded.
func (m *Microphone) Stream(ctx context.Context, r io.Reader) error {
	const frame = 960 // 20ms
	m.writer.Reset()
	buf := make([]byte, frame*2)
	samples := make([]int16, frame)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			for i := 0; i < n/2; i++ {
				samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
			}
			m.WritePCM(samples[:n/2])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			m.writer.FlushTail()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close unpublishes the microphone.
func (m *Microphone) Close() {
	m.once.Do(func() {
		m.writer.Close()
		m.ring.End()
		m.s.mu.Lock()
		if m.s.mic == m {
			m.s.mic = nil
		}
		m.s.mu.Unlock()
		m.s.emit(media.TracksChanged{})
	})
}
