package stages

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/domain"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	return path
}

func samplePair(image string) domain.QAPair {
	return domain.QAPair{
		Image:           image,
		Question:        "How many wheels are visible?",
		CorrectAnswer:   "Four",
		ConfusingAnswer: "Three",
	}
}

func sampleRationale(image string) domain.RationaleRecord {
	return domain.NewRationaleRecord(samplePair(image),
		"All four wheels appear in the side view.",
		"A fourth wheel is visible behind the front one.")
}
