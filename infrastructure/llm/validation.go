package llm

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-rationale/internal/ports"
)

// Parameter ranges accepted from callers. Providers with a narrower range
// clamp again when they build the request.
const (
	MaxTemperature = 2.0
	MaxTopP        = 1.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0

	MinTimeout = time.Second
	MaxTimeout = 10 * time.Minute
)

// Largest image each provider accepts inline in a single request.
const (
	maxInlineImageGoogle    = 20 << 20
	maxInlineImageOpenAI    = 20 << 20
	maxInlineImageAnthropic = 5 << 20
)

// IsValidTemperature reports whether val lies in [0, MaxTemperature].
func IsValidTemperature(val float64) bool { return val >= 0 && val <= MaxTemperature }

// IsValidTopP reports whether val lies in [0, MaxTopP].
func IsValidTopP(val float64) bool { return val >= 0 && val <= MaxTopP }

func IsPositiveInt(val int) bool { return val > 0 }

func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL normalizes an http(s) base URL. An empty URL selects the
// provider's default endpoint.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q: missing host", baseURL)
	}
	return u.String(), nil
}

// ValidateTimeout clamps a positive timeout into [MinTimeout, MaxTimeout].
// Zero or negative returns zero, meaning the SDK default.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return min(max(timeout, MinTimeout), MaxTimeout)
}

// SafeFloat32 converts a numeric request option to float32, refusing values
// that would overflow or lose integer precision.
func SafeFloat32(value any) (float32, bool) {
	const exactInt = 1 << 24
	switch v := value.(type) {
	case float32:
		return v, true
	case float64:
		if math.Abs(v) > math.MaxFloat32 {
			return 0, false
		}
		return float32(v), true
	case int:
		if v > exactInt || v < -exactInt {
			return 0, false
		}
		return float32(v), true
	case int64:
		if v > exactInt || v < -exactInt {
			return 0, false
		}
		return float32(v), true
	default:
		return 0, false
	}
}

func ClampFloat64(val, lo, hi float64) float64 { return min(max(val, lo), hi) }

// validateImages rejects images a provider could not inline. A maxBytes of
// zero disables the size check.
func validateImages(images []ports.Image, maxBytes int) error {
	for i, img := range images {
		switch {
		case len(img.Data) == 0:
			return fmt.Errorf("%w: image %d (%s) has no data", ErrInvalidImage, i, img.Path)
		case img.MIMEType == "":
			return fmt.Errorf("%w: image %d (%s) has no MIME type", ErrInvalidImage, i, img.Path)
		case !strings.HasPrefix(img.MIMEType, "image/"):
			return fmt.Errorf("%w: image %d (%s) is %s", ErrInvalidImage, i, img.Path, img.MIMEType)
		case maxBytes > 0 && len(img.Data) > maxBytes:
			return fmt.Errorf("%w: image %d (%s) is %d bytes, limit is %d",
				ErrInvalidImage, i, img.Path, len(img.Data), maxBytes)
		}
	}
	return nil
}
