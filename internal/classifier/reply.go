package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedReply is returned when a model reply is not the expected
// JSON object.
var ErrMalformedReply = errors.New("malformed classifier reply")

// Reply is the validated shape of a model verdict.
type Reply struct {
	TriggerDetected bool
	TriggerName     string
	Confidence      float64
	Description     string
}

type wireReply struct {
	TriggerDetected *bool    `json:"trigger_detected"`
	TriggerName     *string  `json:"trigger_name"`
	Confidence      *float64 `json:"confidence"`
	Description     string   `json:"description"`
}

// ParseReply decodes a model reply. Incidental code fences are stripped;
// any other surrounding prose is an error. trigger_detected and confidence
// are required; confidence is clamped to [0, 1].
func ParseReply(text string) (Reply, error) {
	body := stripCodeFence(text)
	if body == "" {
		return Reply{}, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var w wireReply
	if err := dec.Decode(&w); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if dec.More() {
		return Reply{}, fmt.Errorf("%w: trailing content after object", ErrMalformedReply)
	}
	if w.TriggerDetected == nil {
		return Reply{}, fmt.Errorf("%w: missing trigger_detected", ErrMalformedReply)
	}
	if w.Confidence == nil {
		return Reply{}, fmt.Errorf("%w: missing confidence", ErrMalformedReply)
	}

	r := Reply{
		TriggerDetected: *w.TriggerDetected,
		Confidence:      clamp(*w.Confidence),
		Description:     w.Description,
	}
	if w.TriggerName != nil {
		r.TriggerName = strings.TrimSpace(*w.TriggerName)
	}
	return r, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop an info string such as "json".
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
