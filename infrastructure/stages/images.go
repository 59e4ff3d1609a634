package stages

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ahrav/go-rationale/internal/ports"
)

// ErrNotAnImage is returned when a file's content is not an image.
var ErrNotAnImage = errors.New("not an image")

// ImageLoader reads image files and detects their media type from content.
type ImageLoader struct {
	// MaxBytes rejects larger files when positive.
	MaxBytes int64
}

// Load reads path and returns it as a request attachment.
func (l ImageLoader) Load(path string) (ports.Image, error) {
	if l.MaxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return ports.Image{}, fmt.Errorf("stat image: %w", err)
		}
		if info.Size() > l.MaxBytes {
			return ports.Image{}, fmt.Errorf("image %s is %d bytes, limit is %d", path, info.Size(), l.MaxBytes)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ports.Image{}, fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return ports.Image{}, fmt.Errorf("%w: %s detected as %s", ErrNotAnImage, path, mt.String())
	}
	return ports.Image{Path: path, MIMEType: mt.String(), Data: data}, nil
}
