package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// ErrIncompleteExperience indicates a fetched experience record did not
// name both streams. A session with only one stream is invalid, so the
// fetch fails fast instead of letting the session half-open.
var ErrIncompleteExperience = errors.New("config: experience record must name both rgb and alpha streams")

// Experience is the per-customer record that drives one AR experience:
// the two stream assets, the call-to-action, and playback behavior.
type Experience struct {
	RGBURL   string `json:"rgbUrl"`
	AlphaURL string `json:"alphaUrl"`
	CTAURL   string `json:"ctaUrl,omitempty"`
	CTALabel string `json:"ctaLabel,omitempty"`
	PlayOnce bool   `json:"playOnce,omitempty"`
}

// Validate checks that the record can start a composite session.
func (e *Experience) Validate() error {
	if e.RGBURL == "" || e.AlphaURL == "" {
		return ErrIncompleteExperience
	}
	return nil
}

// Fetcher downloads experience records. With HTTP3 enabled it speaks
// HTTP/3 directly via quic-go instead of TCP.
type Fetcher struct {
	client *http.Client
	h3     *http3.Transport
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration, useHTTP3 bool) *Fetcher {
	f := &Fetcher{client: &http.Client{Timeout: timeout}}
	if useHTTP3 {
		f.h3 = &http3.Transport{}
		f.client.Transport = f.h3
	}
	return f
}

// Fetch downloads and validates the experience record at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Experience, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build experience request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch experience: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch experience: unexpected status %s", resp.Status)
	}

	var exp Experience
	if err := json.NewDecoder(resp.Body).Decode(&exp); err != nil {
		return nil, fmt.Errorf("decode experience: %w", err)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Close releases the HTTP/3 transport, if one was created.
func (f *Fetcher) Close() error {
	if f.h3 != nil {
		return f.h3.Close()
	}
	return nil
}
