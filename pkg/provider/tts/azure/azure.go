// Package azure provides a tts.Synthesizer backed by the Azure Speech
// text-to-speech REST endpoint. Requests are sent as SSML with an
// mstts:express-as element so that the speaking style can be chosen per
// utterance.
package azure

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/bingbong/pkg/provider/tts"
)

const (
	// DefaultVoice is the neural voice used when none is configured.
	DefaultVoice = "en-US-DavisNeural"

	// DefaultOutputFormat is 16 kHz mono MP3 at 32 kbit/s.
	DefaultOutputFormat = "audio-16khz-32kbitrate-mono-mp3"

	defaultUserAgent = "bingbong-tts/1.0"
	endpointFmt      = "https://%s.tts.speech.microsoft.com"
	synthesizePath   = "/cognitiveservices/v1"

	// maxErrorBody caps how much of an error response is kept as detail.
	maxErrorBody = 4 << 10
)

// ErrEmptyAudio is returned when the service answers 200 without a body,
// which happens for utterances that render to silence.
var ErrEmptyAudio = errors.New("azure: service returned empty audio")

// StatusError is returned when the service answers with a non-200 status.
// Detail holds the (truncated) response body, which usually names the cause
// such as invalid credentials or an exhausted quota.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("azure: synthesis failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("azure: synthesis failed with status %d: %s", e.StatusCode, e.Detail)
}

// IsClientError reports whether err was caused by the request itself rather
// than by the service or the network. Such errors repeat on every region, so
// they say nothing about backend health. Rejected credentials and throttling
// are excluded because they are properties of the endpoint.
func IsClientError(err error) bool {
	if errors.Is(err, ErrEmptyAudio) {
		return true
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithVoice sets the neural voice name (e.g. "en-US-JennyNeural").
func WithVoice(voice string) Option {
	return func(c *Client) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithOutputFormat sets the X-Microsoft-OutputFormat value.
func WithOutputFormat(format string) Option {
	return func(c *Client) {
		if format != "" {
			c.format = format
		}
	}
}

// WithBaseURL overrides the regional endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// Client implements tts.Synthesizer against Azure Speech.
type Client struct {
	key        string
	region     string
	voice      string
	format     string
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

var _ tts.Synthesizer = (*Client)(nil)

// New creates a Client. key and region must be non-empty.
func New(key, region string, opts ...Option) (*Client, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	if region == "" {
		return nil, errors.New("azure: region must not be empty")
	}
	c := &Client{
		key:        key,
		region:     region,
		voice:      DefaultVoice,
		format:     DefaultOutputFormat,
		baseURL:    fmt.Sprintf(endpointFmt, region),
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Voice returns the configured voice name.
func (c *Client) Voice() string { return c.voice }

// Format returns the configured output format.
func (c *Client) Format() string { return c.format }

// Synthesize posts the SSML document for req and streams the audio into
// path. The body is written to a temporary sibling first and renamed into
// place, so path is either absent or complete.
func (c *Client) Synthesize(ctx context.Context, req tts.Request, path string) (tts.Result, error) {
	ssml, err := BuildSSML(c.voice, req.Style, req.Text)
	if err != nil {
		return tts.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synthesizePath, strings.NewReader(ssml))
	if err != nil {
		return tts.Result{}, fmt.Errorf("azure: create request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", c.format)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return tts.Result{}, fmt.Errorf("azure: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return tts.Result{}, &StatusError{
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
		}
	}

	n, err := writeFile(path, resp.Body)
	if err != nil {
		return tts.Result{}, err
	}
	if n == 0 {
		_ = os.Remove(path)
		return tts.Result{}, ErrEmptyAudio
	}
	return tts.Result{Path: path, Bytes: n, Format: c.format}, nil
}

// writeFile copies r into a temp file next to path and renames it onto path.
func writeFile(path string, r io.Reader) (int64, error) {
	// The prefix matches scratch.TempPrefix so abandoned downloads get swept.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".synth-*")
	if err != nil {
		return 0, fmt.Errorf("azure: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("azure: write audio: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("azure: move audio into place: %w", err)
	}
	return n, nil
}

// BuildSSML renders the SSML document for one utterance. Voice, style, and
// text are XML-escaped so that user input cannot alter the document.
func BuildSSML(voice, style, text string) (string, error) {
	var b strings.Builder
	b.WriteString(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis'`)
	b.WriteString(` xmlns:mstts='http://www.w3.org/2001/mstts'`)
	b.WriteString(` xmlns:emo='http://www.w3.org/2009/10/emotionml' xml:lang='en-US'>`)
	b.WriteString(`<voice name='`)
	if err := escape(&b, voice); err != nil {
		return "", err
	}
	b.WriteString(`'><mstts:express-as style='`)
	if err := escape(&b, style); err != nil {
		return "", err
	}
	b.WriteString(`'>`)
	if err := escape(&b, text); err != nil {
		return "", err
	}
	b.WriteString(`</mstts:express-as></voice></speak>`)
	return b.String(), nil
}

func escape(b *strings.Builder, s string) error {
	if err := xml.EscapeText(b, []byte(s)); err != nil {
		return fmt.Errorf("azure: escape ssml: %w", err)
	}
	return nil
}
