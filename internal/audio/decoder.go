package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(ctx context.Context, path string) (Buffer, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return BytesToSamples(out), nil
}

// EncodeFile writes b to path with FFmpeg. The container follows the file
// extension; bitrate applies to lossy formats such as mp3.
func EncodeFile(ctx context.Context, b Buffer, path, bitrate string) error {
	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", "pipe:0",
	}
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		args = append(args, "-codec:a", "libmp3lame")
		if bitrate != "" {
			args = append(args, "-b:a", bitrate)
		}
	}
	args = append(args, "-loglevel", "error", "-y", path)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdin = bytes.NewReader(SamplesToBytes(b))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// BytesToSamples converts little-endian bytes to int16 samples, dropping a
// trailing odd byte.
func BytesToSamples(raw []byte) Buffer {
	samples := make(Buffer, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
