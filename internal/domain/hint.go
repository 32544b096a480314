package domain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ImageSpec holds the fixed generation parameters.
type ImageSpec struct {
	Size     int     // width and height in pixels
	Steps    int     // inference steps
	Guidance float64 // classifier-free guidance scale
}

// DefaultImageSpec matches the parameters the hint images were designed around.
var DefaultImageSpec = ImageSpec{Size: 1024, Steps: 75, Guidance: 8.5}

// Locale describes the city the hint images depict.
type Locale struct {
	City     string
	Features string
}

// ImageGenerator renders a text prompt into encoded image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, spec ImageSpec) ([]byte, error)
}

// Hint image sources.
const (
	HintSourceGenerated = "generated"
	HintSourceFallback  = "fallback"
)

// HintImage is a base64-encoded image plus where it came from.
type HintImage struct {
	Payload string
	Source  string
}

// BuildPrompt combines the tier scene, its advisory and the locale into one
// generation prompt.
func BuildPrompt(tier Tier, locale Locale) string {
	return fmt.Sprintf(
		"A %s cityscape with %s, %s, %s, include AQI level indicator and health tips in the image, showing the unique characteristics of %s",
		locale.City, locale.Features, tier.Scene(), tier.Advice(), locale.City,
	)
}

// HintProvider obtains hint images, falling back to a blank placeholder on
// any generator failure. It never returns an error.
type HintProvider struct {
	generator ImageGenerator
	locale    Locale
	spec      ImageSpec
	timeout   time.Duration
	logger    *slog.Logger

	placeholderOnce sync.Once
	placeholder     string
}

// NewHintProvider creates a provider. A nil generator always yields the
// placeholder, which is how an unconfigured image service degrades.
func NewHintProvider(generator ImageGenerator, locale Locale, spec ImageSpec, timeout time.Duration, logger *slog.Logger) *HintProvider {
	return &HintProvider{
		generator: generator,
		locale:    locale,
		spec:      spec,
		timeout:   timeout,
		logger:    logger,
	}
}

// HintImage returns an image for the tier.
func (p *HintProvider) HintImage(ctx context.Context, tier Tier) HintImage {
	if p.generator == nil {
		return p.fallback()
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := p.generator.Generate(ctx, BuildPrompt(tier, p.locale), p.spec)
	if err == nil && len(data) == 0 {
		err = errors.New("generator returned an empty image")
	}
	if err != nil {
		p.logger.Warn("hint image generation failed, using placeholder",
			"aqi_level", int(tier),
			"error", err,
		)
		return p.fallback()
	}

	return HintImage{
		Payload: base64.StdEncoding.EncodeToString(data),
		Source:  HintSourceGenerated,
	}
}

func (p *HintProvider) fallback() HintImage {
	p.placeholderOnce.Do(func() {
		data, err := PlaceholderImage(p.spec.Size)
		if err != nil {
			// Encoding an in-memory RGBA image only fails on a bad size.
			p.logger.Error("placeholder image encoding failed", "size", p.spec.Size, "error", err)
			return
		}
		p.placeholder = base64.StdEncoding.EncodeToString(data)
	})
	return HintImage{Payload: p.placeholder, Source: HintSourceFallback}
}
