package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/config"
)

// Aux is the pair of auxiliary model calls the preprocessor needs.
// Implemented by the backend package against the per-request credential.
type Aux interface {
	Transcribe(ctx context.Context, audio []byte, name string) (string, error)
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

// Fetcher retrieves media bytes for audio and s3-hosted images.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	ToDataURL(ctx context.Context, rawURL string) (string, error)
}

// Preprocess enriches the normalized prompt with audio and image
// context. Fixed order: audio transcription first, then image analysis
// - each stage enriches the prompt the next one consumes. A modality
// failure never fails the request; degraded text-only continuation is
// the designed fallback. onAuthFailure is invoked when a sub-call was
// rejected for authentication, so the caller can demote the credential.
func Preprocess(ctx context.Context, n *Normalized, aux Aux, fetch Fetcher, onAuthFailure func()) {
	if n.Audio != "" {
		transcribeAudio(ctx, n, aux, fetch, onAuthFailure)
	}
	if len(n.Images) > 0 {
		describeImages(ctx, n, aux, fetch, onAuthFailure)
	}
}

func transcribeAudio(ctx context.Context, n *Normalized, aux Aux, fetch Fetcher, onAuthFailure func()) {
	transcript, err := func() (string, error) {
		data, err := fetch.Fetch(ctx, n.Audio)
		if err != nil {
			return "", err
		}
		return aux.Transcribe(ctx, data, audioName(n.Audio))
	}()

	if err != nil {
		log.Warn().Err(err).Msg("audio transcription failed; continuing text-only")
		if errors.Is(err, apierr.ErrAuthConfig) {
			onAuthFailure()
		}
		n.User += "\n\n[Audio Transcript: unavailable]"
		return
	}

	n.User += fmt.Sprintf("\n\n[Audio Transcript: %q]", transcript)
}

func describeImages(ctx context.Context, n *Normalized, aux Aux, fetch Fetcher, onAuthFailure func()) {
	images := n.Images
	if len(images) > config.MaxImagesPerRequest {
		images = images[:config.MaxImagesPerRequest]
	}

	var lines []string
	for i, ref := range images {
		url := ref
		if strings.HasPrefix(ref, "s3://") {
			inlined, err := fetch.ToDataURL(ctx, ref)
			if err != nil {
				log.Warn().Err(err).Int("image", i+1).Msg("image fetch failed; skipping")
				continue
			}
			url = inlined
		}

		desc, err := aux.DescribeImage(ctx, url)
		if err != nil {
			// Omitted silently from the prompt; the caller never sees this.
			log.Warn().Err(err).Int("image", i+1).Msg("image analysis failed; skipping")
			if errors.Is(err, apierr.ErrAuthConfig) {
				onAuthFailure()
			}
			continue
		}
		lines = append(lines, fmt.Sprintf("Image %d: %s", i+1, desc))
	}

	if len(lines) > 0 {
		n.System = strings.TrimSpace(n.System + "\n\n[Image Context]\n" + strings.Join(lines, "\n"))
	}
}

// audioName derives a filename hint for the transcription upstream,
// which sniffs the container format from the extension.
func audioName(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" || !strings.Contains(trimmed, ".") {
		return "audio.ogg"
	}
	return trimmed
}
