// Package gemini calls the Google Gemini generateContent API.
package gemini

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"replyguard/internal/core"
	"replyguard/internal/llmclient"
)

const (
	// DefaultBaseURL is the native Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	providerName = "gemini"
)

// Provider turns a prompt into reply text using one Gemini model.
type Provider struct {
	client *llmclient.Client
	apiKey string
	model  string
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// New creates a Gemini provider.
func New(apiKey string, opts ...Option) *Provider {
	o := options{baseURL: DefaultBaseURL, model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{
		apiKey: apiKey,
		model:  o.model,
	}

	cfg := llmclient.DefaultConfig(providerName, o.baseURL)
	if o.httpClient != nil {
		p.client = llmclient.NewWithHTTPClient(o.httpClient, cfg, p.setHeaders)
	} else {
		p.client = llmclient.New(cfg, p.setHeaders)
	}
	return p
}

// setHeaders authenticates with the API key header so the key never
// appears in a URL.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.model
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

// Complete sends prompt as a single user turn and returns the text of the
// first candidate.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + p.model + ":generateContent",
		Body: generateContentRequest{
			Contents: []content{{Parts: []part{{Text: prompt}}}},
		},
	})
	if err != nil {
		return "", err
	}

	return parseReply(resp.Body)
}

func parseReply(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", core.NewProviderError(providerName, http.StatusBadGateway, "response is not valid JSON", nil)
	}

	if reason := gjson.GetBytes(body, "promptFeedback.blockReason"); reason.Exists() {
		return "", core.NewProviderError(providerName, http.StatusBadGateway, "prompt blocked: "+reason.String(), nil)
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", core.NewProviderError(providerName, http.StatusBadGateway, "response contained no reply text", nil)
	}
	return text.String(), nil
}
