package acestep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/audio"
)

// StylePrompt keeps generated bridges instrumental and close to the source.
const StylePrompt = "instrumental, seamless continuation, same key and tempo"

// Extender turns a reference buffer into generated continuation audio.
// The reference is staged as an mp3 under stageDir, which must be served
// at publicURL+"/files/" so the remote service can fetch it.
type Extender struct {
	client    *Client
	stageDir  string
	publicURL string
	bitrate   string
	log       *zap.Logger

	encode func(ctx context.Context, b audio.Buffer, path, bitrate string) error
	decode func(ctx context.Context, path string) (audio.Buffer, error)
}

// NewExtender creates an Extender backed by client.
func NewExtender(client *Client, stageDir, publicURL, bitrate string, logger *zap.Logger) *Extender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extender{
		client:    client,
		stageDir:  stageDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		bitrate:   bitrate,
		log:       logger,
		encode:    audio.EncodeFile,
		decode:    audio.DecodeFile,
	}
}

// Extend returns the reference followed by seconds of generated audio, as
// decoded from the service result.
func (e *Extender) Extend(ctx context.Context, reference audio.Buffer, seconds float64) (audio.Buffer, error) {
	name := uuid.NewString() + ".mp3"
	staged := filepath.Join(e.stageDir, name)
	if err := e.encode(ctx, reference, staged, e.bitrate); err != nil {
		return nil, fmt.Errorf("stage reference: %w", err)
	}
	defer os.Remove(staged)

	url, err := e.client.Extend(ctx, ExtendRequest{
		AudioURL:     e.publicURL + "/files/" + name,
		RightSeconds: seconds,
		StylePrompt:  StylePrompt,
	})
	if err != nil {
		return nil, err
	}

	path, err := e.client.Download(ctx, url, e.stageDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	out, err := e.decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("decode extension: %w", err)
	}
	e.log.Debug("extension decoded", zap.Float64("reference_s", reference.Seconds()),
		zap.Float64("result_s", out.Seconds()))
	return out, nil
}
