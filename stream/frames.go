package stream

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
)

// InflateZlib decodes a zlib-compressed binary frame into its plain text
// payload — frame decoding variant (b): "zlib-compressed binary with small
// text frames for pong replies (inflate then parse)". Small control frames
// that aren't zlib-compressed are returned unchanged so pong text frames
// pass through untouched.
func InflateZlib(frame []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		// Not zlib-compressed (e.g. a plain-text pong reply) — pass through.
		return frame, nil
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ChannelIDMessage is a decoded frame variant (c): a JSON array whose first
// element is a numeric channel id shared by all subsequent messages for
// that subscription.
type ChannelIDMessage struct {
	ChannelID int64
	Payload   json.RawMessage
}

// DecodeChannelIDArray parses frame as a `[channelId, ...rest]` JSON array.
// It returns ok=false (not an error) when frame is not such an array, so
// callers can fall back to their other expected shapes (e.g. a heartbeat
// object) without treating the mismatch as a decode failure.
func DecodeChannelIDArray(frame []byte) (msg ChannelIDMessage, ok bool, err error) {
	var raw []json.RawMessage
	if unmarshalErr := json.Unmarshal(frame, &raw); unmarshalErr != nil || len(raw) == 0 {
		return ChannelIDMessage{}, false, nil
	}
	var chanID int64
	if err := json.Unmarshal(raw[0], &chanID); err != nil {
		return ChannelIDMessage{}, false, nil
	}
	rest, err := json.Marshal(raw[1:])
	if err != nil {
		return ChannelIDMessage{}, false, fmt.Errorf("stream: re-marshal channel-id frame: %w", err)
	}
	return ChannelIDMessage{ChannelID: chanID, Payload: rest}, true, nil
}

// IsHeartbeat reports whether a decoded text payload is a heartbeat frame
// that must be filtered before dispatch to subscription handlers (payload
// == "hb" or an equivalent short sentinel).
func IsHeartbeat(payload string) bool {
	switch payload {
	case "hb", "ping", "pong", "\"ping\"", "\"pong\"":
		return true
	default:
		return false
	}
}
