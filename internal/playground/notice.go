package playground

import (
	"strings"
	"time"
)

// Notice is a user-visible message raised by a transport error.
type Notice struct {
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
}

const micPermissionHint = "Please enable your microphone so i can hear you."

// noticeFor turns a transport error into wording fit for the user.
func noticeFor(err error, now time.Time) *Notice {
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "permission denied") {
		msg = micPermissionHint
	}
	return &Notice{Message: msg, Kind: "error", At: now}
}
