package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openaiapi "github.com/tjfontaine/feedfilter/internal/api/openai"
	"github.com/tjfontaine/feedfilter/internal/classifier"
	"github.com/tjfontaine/feedfilter/internal/config"
	"github.com/tjfontaine/feedfilter/internal/media"
	"github.com/tjfontaine/feedfilter/internal/testutil"
)

var testImage = media.Image{Data: []byte{0xff, 0xd8, 0xff, 0xd9}, MediaType: media.MIMETypeJPEG, Width: 1, Height: 1}

func TestProvider_Complete(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("VCR_MODE") == "record" {
		t.Skip("Skipping test: OPENAI_API_KEY not set")
	}

	recorder, cleanup := testutil.NewVCRRecorder(t, "openai_classify")
	defer cleanup()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}

	p := New(ProviderType, apiKey, "", openaiapi.WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	result := classifier.New(p, classifier.Options{}).Classify(context.Background(), testImage, nil)

	if result.TriggerDetected || result.Failed {
		t.Fatalf("result = %+v, want clean non-detection", result)
	}
	if result.Description == "" {
		t.Error("description is empty")
	}
}

func TestProvider_CompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := New(ProviderType, "k", "", openaiapi.WithBaseURL(server.URL))
	if _, err := p.Complete(context.Background(), &classifier.Request{Image: testImage}); err == nil {
		t.Fatal("Complete() error = nil for empty choices")
	}
}

func TestRegisterProviderFactories(t *testing.T) {
	RegisterProviderFactories()

	tests := []struct {
		name    string
		cfg     config.VisionConfig
		wantErr bool
	}{
		{name: "openai", cfg: config.VisionConfig{Provider: ProviderType, APIKey: "k"}},
		{name: "openai missing key", cfg: config.VisionConfig{Provider: ProviderType}, wantErr: true},
		{name: "compatible", cfg: config.VisionConfig{Provider: CompatibleProviderType, APIKey: "k", BaseURL: "http://localhost:11434/v1"}},
		{name: "compatible missing base url", cfg: config.VisionConfig{Provider: CompatibleProviderType, APIKey: "k"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := classifier.CreateProvider(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.cfg.Provider {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.cfg.Provider)
			}
		})
	}
}
