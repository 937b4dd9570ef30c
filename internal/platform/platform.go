// Package platform holds per-platform navigation data: how to advance a
// feed and how to mark an item "not interested". The tables are data, not
// logic, and may be overridden from configuration.
package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tjfontaine/feedfilter/internal/config"
)

// ID identifies a platform.
type ID string

const (
	TikTok        ID = "tiktok"
	Instagram     ID = "instagram"
	YouTubeShorts ID = "youtube_shorts"
	YouTube       ID = "youtube"
	Facebook      ID = "facebook"
	Twitter       ID = "twitter"
	Reddit        ID = "reddit"
	Unknown       ID = "unknown"
)

// ScrollType is the gesture the extension performs to advance the feed.
type ScrollType string

const (
	ScrollDown ScrollType = "scroll_down"
	SwipeUp    ScrollType = "swipe_up"
	ArrowDown  ScrollType = "arrow_down"
	PageDown   ScrollType = "page_down"
)

// Amount is a scroll distance: a full item or a number of pixels.
type Amount struct {
	Full   bool
	Pixels int
}

// FullAmount scrolls one whole item.
var FullAmount = Amount{Full: true}

// Pixels scrolls n pixels.
func Pixels(n int) Amount { return Amount{Pixels: n} }

// MarshalJSON encodes "full" or the pixel count.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Full {
		return []byte(`"full"`), nil
	}
	return []byte(strconv.Itoa(a.Pixels)), nil
}

// UnmarshalJSON accepts "full" or a number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "full" {
			return fmt.Errorf("invalid scroll amount %q", s)
		}
		*a = FullAmount
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid scroll amount: %w", err)
	}
	*a = Pixels(n)
	return nil
}

// Scroll describes how to reach the next item.
type Scroll struct {
	Type ScrollType
	// Selector is the element to scroll; empty lets the extension pick.
	Selector    string
	Amount      Amount
	Description string
}

// Action is a keyboard or scroll fallback for NAVIGATE_NEXT.
type Action struct {
	Action string // "key", "scroll", "click"
	Target string
}

// Step is one click in a "not interested" sequence. A step without a
// selector asks the extension to find an element by its text.
type Step struct {
	Selector string
	Text     string
}

// Method names how the extension should resolve the step.
func (s Step) Method() string {
	if s.Selector != "" {
		return "selector"
	}
	return "fallback"
}

// Strategy is everything the dispatcher needs to act on one platform.
type Strategy struct {
	ID   ID
	Name string
	// Scroll advances the feed with SCROLL_NEXT.
	Scroll Scroll
	// Fallback advances the feed with NAVIGATE_NEXT.
	Fallback Action
	// NotInterested is clicked in order with a settle delay between steps.
	NotInterested []Step
}

// MultiStep reports whether the not-interested sequence has several steps.
func (s Strategy) MultiStep() bool {
	return len(s.NotInterested) > 1
}

type pattern struct {
	substr string
	id     ID
}

// patterns are checked in order; the first match wins, so more specific
// paths precede their hosts.
var patterns = []pattern{
	{"tiktok.com", TikTok},
	{"instagram.com", Instagram},
	{"youtube.com/shorts", YouTubeShorts},
	{"youtube.com", YouTube},
	{"facebook.com", Facebook},
	{"twitter.com", Twitter},
	{"x.com", Twitter},
	{"reddit.com", Reddit},
}

var notInterested = []Step{{Text: "Not interested"}}

var builtins = map[ID]Strategy{
	TikTok: {
		ID: TikTok, Name: "TikTok",
		Scroll:   Scroll{Type: SwipeUp, Selector: "video", Amount: FullAmount, Description: "Swipe up to next TikTok video"},
		Fallback: Action{Action: "key", Target: "ArrowDown"},
		NotInterested: []Step{
			{Selector: "button[class*='StyledThreeDotButton']"},
			{Text: "Not interested"},
		},
	},
	Instagram: {
		ID: Instagram, Name: "Instagram",
		Scroll:        Scroll{Type: SwipeUp, Selector: "video", Amount: FullAmount, Description: "Swipe up to next Instagram Reel"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
	YouTubeShorts: {
		ID: YouTubeShorts, Name: "YouTube Shorts",
		Scroll:        Scroll{Type: ArrowDown, Selector: "ytd-reel-video-renderer", Amount: FullAmount, Description: "Arrow down to next YouTube Short"},
		Fallback:      Action{Action: "key", Target: "ArrowDown"},
		NotInterested: notInterested,
	},
	YouTube: {
		ID: YouTube, Name: "YouTube",
		Scroll:        Scroll{Type: ScrollDown, Selector: "ytd-rich-item-renderer", Amount: Pixels(400), Description: "Scroll to next YouTube video"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
	Facebook: {
		ID: Facebook, Name: "Facebook",
		Scroll:        Scroll{Type: ScrollDown, Selector: "div[role='article']", Amount: Pixels(500), Description: "Scroll to next Facebook post"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
	Twitter: {
		ID: Twitter, Name: "Twitter/X",
		Scroll:        Scroll{Type: ScrollDown, Selector: "article[data-testid='tweet']", Amount: Pixels(400), Description: "Scroll to next tweet"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
	Reddit: {
		ID: Reddit, Name: "Reddit",
		Scroll:        Scroll{Type: ScrollDown, Selector: "div[data-testid='post-container']", Amount: Pixels(500), Description: "Scroll to next Reddit post"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
	Unknown: {
		ID: Unknown, Name: "Unknown",
		Scroll:        Scroll{Type: ScrollDown, Amount: Pixels(500), Description: "Generic scroll down"},
		Fallback:      Action{Action: "scroll", Target: "down"},
		NotInterested: notInterested,
	},
}

// Catalog resolves page URLs to strategies. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	strategies map[ID]Strategy
}

// NewCatalog returns the built-in table with overrides applied. Override
// keys must name a known platform.
func NewCatalog(overrides map[string]config.PlatformConfig) (*Catalog, error) {
	strategies := make(map[ID]Strategy, len(builtins))
	for id, s := range builtins {
		s.NotInterested = append([]Step(nil), s.NotInterested...)
		strategies[id] = s
	}

	for name, o := range overrides {
		id := ID(strings.ToLower(name))
		s, ok := strategies[id]
		if !ok {
			return nil, fmt.Errorf("unknown platform %q in platforms config", name)
		}
		if len(o.NotInterested) == 0 {
			continue
		}
		steps := make([]Step, 0, len(o.NotInterested))
		for i, st := range o.NotInterested {
			if st.Selector == "" && st.Text == "" {
				return nil, fmt.Errorf("platforms.%s.not_interested[%d] needs a selector or text", name, i)
			}
			steps = append(steps, Step{Selector: st.Selector, Text: st.Text})
		}
		s.NotInterested = steps
		strategies[id] = s
	}

	return &Catalog{strategies: strategies}, nil
}

// Detect returns the platform for url by substring match, or Unknown.
func Detect(url string) ID {
	lower := strings.ToLower(url)
	for _, p := range patterns {
		if strings.Contains(lower, p.substr) {
			return p.id
		}
	}
	return Unknown
}

// Resolve returns the strategy for url. An empty url resolves to Unknown.
func (c *Catalog) Resolve(url string) Strategy {
	if s, ok := c.strategies[Detect(url)]; ok {
		return s
	}
	return c.strategies[Unknown]
}

// Lookup returns the strategy for id.
func (c *Catalog) Lookup(id ID) (Strategy, bool) {
	s, ok := c.strategies[id]
	return s, ok
}
