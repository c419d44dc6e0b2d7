package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// TopicTranscription is the data-channel topic carrying speech transcriptions.
const TopicTranscription = "transcription"

var (
	ErrMalformedPayload = errors.New("transcript: malformed payload")
	ErrMissingText      = errors.New("transcript: payload has no text field")
)

// Transcription is a validated transcription payload.
type Transcription struct {
	Text string
	// Timestamp is Unix milliseconds, or 0 when the sender did not stamp it.
	Timestamp int64
}

type wireTranscription struct {
	Text      *string  `json:"text"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// DecodeTranscription validates a raw payload. The payload must be UTF-8 JSON
// with a string "text" field; a timestamp that is not positive or does not fit
// in an int64 is treated as absent.
func DecodeTranscription(payload []byte) (Transcription, error) {
	if !utf8.Valid(payload) {
		return Transcription{}, fmt.Errorf("%w: not valid UTF-8", ErrMalformedPayload)
	}
	var w wireTranscription
	if err := json.Unmarshal(payload, &w); err != nil {
		return Transcription{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Text == nil {
		return Transcription{}, ErrMissingText
	}
	t := Transcription{Text: *w.Text}
	// out-of-range values are treated as absent
	if w.Timestamp != nil && *w.Timestamp > 0 && *w.Timestamp < math.MaxInt64 {
		t.Timestamp = int64(*w.Timestamp)
	}
	return t, nil
}
