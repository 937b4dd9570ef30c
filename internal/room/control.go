package room

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound control message types.
const (
	TypeInitTriggers   = "INIT_TRIGGERS"
	TypeUpdateTriggers = "UPDATE_TRIGGERS"
	TypeURLUpdate      = "URL_UPDATE"
	TypeTrackEnded     = "TRACK_ENDED"
)

// ErrMalformedControl is returned for a text message that is not a JSON
// control object.
var ErrMalformedControl = errors.New("malformed control message")

// ControlMessage is a text message from the extension. Unknown types are
// decoded and left to the handler to ignore.
type ControlMessage struct {
	Type     string   `json:"type"`
	Triggers []string `json:"triggers,omitempty"`
	// URL is nil when the message carries no url field.
	URL     *string `json:"url,omitempty"`
	TrackID string  `json:"track_id,omitempty"`
}

// DecodeControl parses a text message.
func DecodeControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if msg.Type == "" {
		return ControlMessage{}, fmt.Errorf("%w: missing type", ErrMalformedControl)
	}
	if msg.Type == TypeURLUpdate && msg.URL == nil {
		return ControlMessage{}, fmt.Errorf("%w: URL_UPDATE without url", ErrMalformedControl)
	}
	if msg.Type == TypeTrackEnded && msg.TrackID == "" {
		return ControlMessage{}, fmt.Errorf("%w: TRACK_ENDED without track_id", ErrMalformedControl)
	}
	return msg, nil
}

// Known reports whether the message type is one the agent acts on.
func (m ControlMessage) Known() bool {
	switch m.Type {
	case TypeInitTriggers, TypeUpdateTriggers, TypeURLUpdate, TypeTrackEnded:
		return true
	}
	return false
}
