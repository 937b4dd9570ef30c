package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/feedfilter/internal/mcp"
	"github.com/tjfontaine/feedfilter/internal/navigation"
	"github.com/tjfontaine/feedfilter/internal/platform"
)

type fakeDestination struct {
	mu        sync.Mutex
	connected bool
	failOn    int // 1-based send index that fails, 0 for none
	sent      [][]byte
	attempts  int
}

func newDestination() *fakeDestination { return &fakeDestination{connected: true} }

func (f *fakeDestination) Identity() string { return "ext-1" }

func (f *fakeDestination) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDestination) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts == f.failOn {
		return errors.New("write failed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeDestination) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, p := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(p, &m); err != nil {
			t.Fatalf("payload %s: %v", p, err)
		}
		out = append(out, m)
	}
	return out
}

type fakeLocator struct {
	link     mcp.Link
	found    bool
	findErr  error
	clickErr error
	clicks   []string
}

func (f *fakeLocator) Enabled() bool { return true }

func (f *fakeLocator) FindNotInterested(ctx context.Context, url string) (mcp.Link, bool, error) {
	return f.link, f.found, f.findErr
}

func (f *fakeLocator) Click(ctx context.Context, url, selector string) error {
	f.clicks = append(f.clicks, selector)
	return f.clickErr
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

type sleepRecorder struct{ waits []time.Duration }

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newDispatcher(opts Options) (*Dispatcher, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = func() time.Time { return fixedNow }
	opts.Sleep = rec.sleep
	return New(&Counter{}, opts), rec
}

func strategy(t *testing.T, id platform.ID) platform.Strategy {
	t.Helper()
	c, err := platform.NewCatalog(nil)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := c.Lookup(id)
	if !ok {
		t.Fatalf("no strategy for %s", id)
	}
	return s
}

func clickDecision(t *testing.T, id platform.ID, url string) navigation.Decision {
	return navigation.Decision{
		Kind:  navigation.KindClickTarget,
		Click: &navigation.ClickTarget{Trigger: "X", Confidence: 0.9, URL: url, Strategy: strategy(t, id)},
	}
}

func TestCommandIDsAreSequential(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()

	const n = 25
	for i := 0; i < n; i++ {
		d.Send(context.Background(), dst, NewTriggerDetected("x", 0.9))
	}

	for i, m := range dst.messages(t) {
		if got := int64(m["command_id"].(float64)); got != int64(i+1) {
			t.Fatalf("command %d has id %d", i, got)
		}
	}
	if d.Counter().Last() != n {
		t.Errorf("Last() = %d, want %d", d.Counter().Last(), n)
	}

	d.Counter().Reset()
	if s := d.Send(context.Background(), dst, NewTriggerDetected("x", 0.9)); s.CommandID != 1 {
		t.Errorf("after Reset id = %d, want 1", s.CommandID)
	}
}

func TestCommandIDsConcurrent(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Send(context.Background(), dst, NewTriggerDetected("x", 0.9))
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, m := range dst.messages(t) {
		id := int64(m["command_id"].(float64))
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	for id := int64(1); id <= 400; id++ {
		if !seen[id] {
			t.Fatalf("id %d missing", id)
		}
	}
}

func TestDisconnectedSkipsWithoutConsumingID(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()
	dst.connected = false

	s := d.Send(context.Background(), dst, NewTriggerDetected("x", 0.9))
	if !s.Skipped || !errors.Is(s.Err, ErrDisconnected) || s.CommandID != 0 {
		t.Errorf("Send() = %+v, want skipped", s)
	}
	if dst.attempts != 0 {
		t.Error("transport was called while disconnected")
	}

	dst.connected = true
	if s := d.Send(context.Background(), dst, NewTriggerDetected("x", 0.9)); s.CommandID != 1 {
		t.Errorf("id after skip = %d, want 1", s.CommandID)
	}
}

func TestFallbackClick(t *testing.T) {
	d, rec := newDispatcher(Options{})
	dst := newDestination()

	sent := d.Dispatch(context.Background(), dst, clickDecision(t, platform.YouTube, "https://www.youtube.com/watch?v=1"))
	if len(sent) != 2 || len(rec.waits) != 0 {
		t.Fatalf("sent %d, waits %v", len(sent), rec.waits)
	}

	msgs := dst.messages(t)
	click := msgs[0]
	if click["type"] != TypeClickElement || click["selector"] != nil || click["text"] != "Not interested" || click["method"] != MethodFallback {
		t.Errorf("click = %v", click)
	}
	if _, ok := click["coordinates"]; !ok {
		t.Error("click has no coordinates field")
	}
	if click["timestamp"].(float64) != float64(fixedNow.UnixMilli()) {
		t.Errorf("timestamp = %v", click["timestamp"])
	}
	notice := msgs[1]
	if notice["type"] != TypeTriggerDetected || notice["trigger"] != "X" || notice["command_id"].(float64) != 2 {
		t.Errorf("notice = %v", notice)
	}
}

func TestMultiStepClick(t *testing.T) {
	d, rec := newDispatcher(Options{SettleDelay: 400 * time.Millisecond})
	dst := newDestination()

	d.Dispatch(context.Background(), dst, clickDecision(t, platform.TikTok, "https://www.tiktok.com/foryou"))

	msgs := dst.messages(t)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	if msgs[0]["selector"] != "button[class*='StyledThreeDotButton']" || msgs[0]["method"] != MethodSelector {
		t.Errorf("step 1 = %v", msgs[0])
	}
	if msgs[1]["selector"] != nil || msgs[1]["text"] != "Not interested" {
		t.Errorf("step 2 = %v", msgs[1])
	}
	if len(rec.waits) != 1 || rec.waits[0] != 400*time.Millisecond {
		t.Errorf("waits = %v", rec.waits)
	}
}

func TestMultiStepContinuesAfterFailure(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()
	dst.failOn = 1

	sent := d.Dispatch(context.Background(), dst, clickDecision(t, platform.TikTok, ""))
	if len(sent) != 3 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Delivered() || !sent[1].Delivered() || !sent[2].Delivered() {
		t.Errorf("delivery = %v %v %v", sent[0].Delivered(), sent[1].Delivered(), sent[2].Delivered())
	}
	// The failed step consumed id 1; later steps are not renumbered.
	if sent[1].CommandID != 2 || sent[2].CommandID != 3 {
		t.Errorf("ids = %d, %d", sent[1].CommandID, sent[2].CommandID)
	}
}

func TestLocatorClick(t *testing.T) {
	url := "https://www.youtube.com/watch?v=1"
	tests := []struct {
		name       string
		locator    *fakeLocator
		wantTypes  []string
		wantMethod string
	}{
		{
			name:      "located and clicked",
			locator:   &fakeLocator{link: mcp.Link{Text: "Not interested", Selector: "#ni"}, found: true},
			wantTypes: []string{TypeTriggerDetected},
		},
		{
			name:       "locator click fails",
			locator:    &fakeLocator{link: mcp.Link{Text: "Not interested", Selector: "#ni"}, found: true, clickErr: errors.New("boom")},
			wantTypes:  []string{TypeClickElement, TypeTriggerDetected},
			wantMethod: MethodMCP,
		},
		{
			name:      "nothing located",
			locator:   &fakeLocator{},
			wantTypes: []string{TypeTriggerDetected},
		},
		{
			name:       "locator errors",
			locator:    &fakeLocator{findErr: errors.New("timeout")},
			wantTypes:  []string{TypeClickElement, TypeTriggerDetected},
			wantMethod: MethodFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDispatcher(Options{Locator: tt.locator})
			dst := newDestination()

			d.Dispatch(context.Background(), dst, clickDecision(t, platform.YouTube, url))

			msgs := dst.messages(t)
			if len(msgs) != len(tt.wantTypes) {
				t.Fatalf("sent %v, want types %v", msgs, tt.wantTypes)
			}
			for i, m := range msgs {
				if m["type"] != tt.wantTypes[i] {
					t.Errorf("message %d type = %v", i, m["type"])
				}
			}
			if tt.wantMethod != "" && msgs[0]["method"] != tt.wantMethod {
				t.Errorf("method = %v, want %s", msgs[0]["method"], tt.wantMethod)
			}
		})
	}
}

func TestLocatorSkippedWithoutURL(t *testing.T) {
	loc := &fakeLocator{link: mcp.Link{Selector: "#ni"}, found: true}
	d, _ := newDispatcher(Options{Locator: loc})
	dst := newDestination()

	d.Dispatch(context.Background(), dst, clickDecision(t, platform.YouTube, ""))

	if len(loc.clicks) != 0 {
		t.Error("locator used without a url")
	}
	if msgs := dst.messages(t); msgs[0]["method"] != MethodFallback {
		t.Errorf("click = %v", msgs[0])
	}
}

func TestNavigateCommands(t *testing.T) {
	decision := navigation.Decision{
		Kind: navigation.KindNavigateNext,
		Navigate: &navigation.NavigateNext{
			Reason:   navigation.ReasonWatchBudget,
			Elapsed:  10 * time.Second,
			Strategy: strategy(t, platform.TikTok),
		},
	}

	t.Run("scroll", func(t *testing.T) {
		d, _ := newDispatcher(Options{NavigateCommand: "scroll"})
		dst := newDestination()
		d.Dispatch(context.Background(), dst, decision)

		m := dst.messages(t)[0]
		if m["type"] != TypeScrollNext || m["scroll_type"] != "swipe_up" || m["selector"] != "video" ||
			m["scroll_amount"] != "full" || m["platform"] != "tiktok" || m["command_id"].(float64) != 1 {
			t.Errorf("scroll = %v", m)
		}
	})

	t.Run("navigate", func(t *testing.T) {
		d, _ := newDispatcher(Options{NavigateCommand: "navigate"})
		dst := newDestination()
		d.Dispatch(context.Background(), dst, decision)

		m := dst.messages(t)[0]
		if m["type"] != TypeNavigateNext || m["action"] != "key" || m["target"] != "ArrowDown" ||
			m["platform"] != "TikTok" || m["reasoning"] != "watch time exceeded after 10.0s" {
			t.Errorf("navigate = %v", m)
		}
	})

	t.Run("unknown platform selector is null", func(t *testing.T) {
		d, _ := newDispatcher(Options{})
		dst := newDestination()
		unknown := decision
		unknown.Navigate = &navigation.NavigateNext{Strategy: strategy(t, platform.Unknown)}
		d.Dispatch(context.Background(), dst, unknown)

		m := dst.messages(t)[0]
		if m["selector"] != nil || m["scroll_amount"].(float64) != 500 {
			t.Errorf("scroll = %v", m)
		}
	})
}

func TestNoneSendsNothing(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()
	if sent := d.Dispatch(context.Background(), dst, navigation.Decision{}); len(sent) != 0 {
		t.Errorf("Dispatch(None) = %v", sent)
	}
}

func TestStatusAndErrorAreUnnumbered(t *testing.T) {
	d, _ := newDispatcher(Options{})
	dst := newDestination()

	d.Status(context.Background(), dst, "ready", "")
	d.Error(context.Background(), dst, "classification", "provider down")
	s := d.Send(context.Background(), dst, NewTriggerDetected("x", 1))

	msgs := dst.messages(t)
	for _, m := range msgs[:2] {
		if _, ok := m["command_id"]; ok {
			t.Errorf("%v carries a command_id", m["type"])
		}
	}
	if _, ok := msgs[0]["message"]; !ok || msgs[0]["message"] != nil {
		t.Errorf("status message = %v", msgs[0]["message"])
	}
	if msgs[1]["error_type"] != "classification" {
		t.Errorf("error = %v", msgs[1])
	}
	if s.CommandID != 1 {
		t.Errorf("first numbered command id = %d, want 1", s.CommandID)
	}
}
