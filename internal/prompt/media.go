package prompt

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/botwire/inference-gateway/internal/awssign"
	"github.com/botwire/inference-gateway/internal/config"
)

// maxMediaBytes caps fetched media size (25MB, above WhatsApp's media limit).
const maxMediaBytes = 25 * 1024 * 1024

// MediaFetcher retrieves media referenced by https:// or s3:// URLs.
// Messaging platforms typically park inbound voice notes and photos in
// S3, so s3://bucket/key references are fetched through a SigV4-signing
// transport; plain https URLs use a bounded-timeout default client.
type MediaFetcher struct {
	httpClient *http.Client
	s3Client   *http.Client
	s3Region   string
}

// NewMediaFetcher builds a fetcher. The s3Region enables s3:// support;
// when empty, s3 references fail as a modality error (absorbed upstream).
func NewMediaFetcher(s3Region string) *MediaFetcher {
	f := &MediaFetcher{
		httpClient: &http.Client{Timeout: config.UpstreamCallTimeout},
		s3Region:   s3Region,
	}
	if s3Region != "" {
		if t, err := awssign.New("s3", s3Region, nil); err == nil {
			f.s3Client = &http.Client{Transport: t, Timeout: config.UpstreamCallTimeout}
		}
	}
	return f
}

// Fetch returns the media bytes for a supported URL scheme.
func (f *MediaFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.get(ctx, f.httpClient, rawURL)
	case "s3":
		if f.s3Client == nil {
			return nil, fmt.Errorf("s3 media reference %q but no s3 region configured", rawURL)
		}
		target := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
			u.Host, f.s3Region, strings.TrimPrefix(u.Path, "/"))
		return f.get(ctx, f.s3Client, target)
	default:
		return nil, fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}
}

// ToDataURL fetches media and inlines it as a base64 data URL, for
// upstreams that cannot reach the original reference themselves.
func (f *MediaFetcher) ToDataURL(ctx context.Context, rawURL string) (string, error) {
	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (f *MediaFetcher) get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media read failed: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d byte limit", maxMediaBytes)
	}
	return data, nil
}
