// Package tracks picks the agent and local tracks out of the published set.
package tracks

import "github.com/chadiek/agent-playground/internal/media"

// Selection is the result of Select. Absent tracks are nil.
type Selection struct {
	AgentAudio *media.TrackRef
	AgentVideo *media.TrackRef
	LocalAudio *media.TrackRef
	LocalVideo *media.TrackRef
}

// Select returns the first agent-owned audio and video tracks and the local
// microphone and camera tracks. It keeps no state and never fails; an empty
// input yields an empty Selection.
//
// When several participants are flagged as agents the first matching track in
// list order wins.
func Select(all []media.TrackRef) Selection {
	var sel Selection
	for i := range all {
		t := all[i]
		p := t.Participant
		switch {
		case p.IsAgent && t.Kind == media.KindAudio && sel.AgentAudio == nil:
			sel.AgentAudio = &t
		case p.IsAgent && t.Kind == media.KindVideo && sel.AgentVideo == nil:
			sel.AgentVideo = &t
		case p.IsLocal && t.Source == media.SourceMicrophone && sel.LocalAudio == nil:
			sel.LocalAudio = &t
		case p.IsLocal && t.Source == media.SourceCamera && sel.LocalVideo == nil:
			sel.LocalVideo = &t
		}
	}
	return sel
}

// SameTrack reports whether a and b reference the same published track.
func SameTrack(a, b *media.TrackRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SID == b.SID && a.Participant.Identity == b.Participant.Identity
}
