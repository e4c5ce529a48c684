package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/satindergrewal/bigeyemix/internal/audio"
)

// Exporter writes rendered buffers to the output directory.
type Exporter struct {
	dir     string
	bitrate string
	encode  func(ctx context.Context, b audio.Buffer, path, bitrate string) error
}

// NewExporter creates an exporter writing mp3 files at bitrate into dir.
func NewExporter(dir, bitrate string) *Exporter {
	return &Exporter{dir: dir, bitrate: bitrate, encode: audio.EncodeFile}
}

// Export encodes b as <uuid>.mp3 and returns the id and path.
func (x *Exporter) Export(ctx context.Context, b audio.Buffer) (string, string, error) {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	id := uuid.NewString()
	path := x.Path(id)
	if err := x.encode(ctx, b, path, x.bitrate); err != nil {
		return "", "", fmt.Errorf("export %s: %w", id, err)
	}
	return id, path, nil
}

// Path returns where the output with the given id lives. It returns ""
// for ids that are not uuids.
func (x *Exporter) Path(id string) string {
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return filepath.Join(x.dir, id+".mp3")
}
