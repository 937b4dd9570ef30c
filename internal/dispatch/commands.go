package dispatch

import "github.com/tjfontaine/feedfilter/internal/platform"

// Outbound command types.
const (
	TypeClickElement    = "CLICK_ELEMENT"
	TypeTriggerDetected = "TRIGGER_DETECTED"
	TypeNavigateNext    = "NAVIGATE_NEXT"
	TypeScrollNext      = "SCROLL_NEXT"
	TypeStatusUpdate    = "STATUS_UPDATE"
	TypeError           = "ERROR"
)

// Click methods.
const (
	MethodFallback = "fallback"
	MethodSelector = "selector"
	MethodMCP      = "mcp"
)

// Header is embedded in every command. CommandID is zero, and omitted,
// for STATUS_UPDATE and ERROR.
type Header struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	CommandID int64  `json:"command_id,omitempty"`
}

func (h *Header) header() *Header { return h }

// Command is any outbound payload.
type Command interface {
	header() *Header
}

// numbered reports whether t takes a command id.
func numbered(t string) bool {
	return t != TypeStatusUpdate && t != TypeError
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ClickElement struct {
	Header
	Selector    *string `json:"selector"`
	Coordinates *Point  `json:"coordinates"`
	Text        *string `json:"text"`
	Method      string  `json:"method"`
}

type TriggerDetected struct {
	Header
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
}

type NavigateNext struct {
	Header
	Action    string `json:"action"`
	Target    string `json:"target"`
	Platform  string `json:"platform"`
	Reasoning string `json:"reasoning"`
}

type ScrollNext struct {
	Header
	ScrollType   platform.ScrollType `json:"scroll_type"`
	Selector     *string             `json:"selector"`
	ScrollAmount platform.Amount     `json:"scroll_amount"`
	Platform     platform.ID         `json:"platform"`
}

type StatusUpdate struct {
	Header
	Status  string  `json:"status"`
	Message *string `json:"message"`
}

type ErrorNotice struct {
	Header
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// NewClick builds a CLICK_ELEMENT. Empty selector and text encode as null.
func NewClick(selector, text, method string) *ClickElement {
	return &ClickElement{
		Header:   Header{Type: TypeClickElement},
		Selector: optional(selector),
		Text:     optional(text),
		Method:   method,
	}
}

func NewTriggerDetected(trigger string, confidence float64) *TriggerDetected {
	return &TriggerDetected{Header: Header{Type: TypeTriggerDetected}, Trigger: trigger, Confidence: confidence}
}

func NewStatus(status, message string) *StatusUpdate {
	return &StatusUpdate{Header: Header{Type: TypeStatusUpdate}, Status: status, Message: optional(message)}
}

func NewError(errorType, message string) *ErrorNotice {
	return &ErrorNotice{Header: Header{Type: TypeError}, ErrorType: errorType, Message: message}
}

func newScroll(s platform.Strategy) *ScrollNext {
	return &ScrollNext{
		Header:       Header{Type: TypeScrollNext},
		ScrollType:   s.Scroll.Type,
		Selector:     optional(s.Scroll.Selector),
		ScrollAmount: s.Scroll.Amount,
		Platform:     s.ID,
	}
}

func newNavigate(s platform.Strategy, reasoning string) *NavigateNext {
	return &NavigateNext{
		Header:    Header{Type: TypeNavigateNext},
		Action:    s.Fallback.Action,
		Target:    s.Fallback.Target,
		Platform:  s.Name,
		Reasoning: reasoning,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
