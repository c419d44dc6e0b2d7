package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// TopicChat carries chat messages on the data channel.
const TopicChat = "lk-chat-topic"

// dataPacket is the envelope of every data-channel message.
type dataPacket struct {
	Topic   string `msgpack:"topic"`
	Sender  string `msgpack:"sender,omitempty"`
	Payload []byte `msgpack:"payload"`
}

func encodePacket(p dataPacket) ([]byte, error) {
	return msgpack.Marshal(&p)
}

func decodePacket(b []byte) (dataPacket, error) {
	var p dataPacket
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return dataPacket{}, fmt.Errorf("rtc: decode data packet: %w", err)
	}
	return p, nil
}

// chatPayload is the JSON body of a chat packet.
type chatPayload struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func decodeChat(b []byte) (chatPayload, error) {
	var c chatPayload
	if err := json.Unmarshal(b, &c); err != nil {
		return chatPayload{}, fmt.Errorf("rtc: decode chat payload: %w", err)
	}
	return c, nil
}
