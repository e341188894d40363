package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/vividhyeok/radioflow/internal/rlog"
)

// FFmpegCodec shells out to ffmpeg for both directions of the codec
// boundary, adapted from the teacher's decodeToPCM (analyzer.go) and
// RenderFinalMix (renderer.go) exec idiom.
type FFmpegCodec struct {
	// Path is the ffmpeg binary to invoke. Defaults to "ffmpeg", overridable
	// via the FFMPEG_PATH environment variable (teacher's initFFmpeg).
	Path string
}

// NewFFmpegCodec resolves the ffmpeg binary path, honoring FFMPEG_PATH.
func NewFFmpegCodec() *FFmpegCodec {
	path := "ffmpeg"
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		path = p
	}
	return &FFmpegCodec{Path: path}
}

// Decode shells out to ffmpeg to produce 16-bit signed little-endian PCM
// at sampleRate/channels (spec §6).
func (f *FFmpegCodec) Decode(ctx context.Context, filePath string, sampleRate, channels int) ([]byte, error) {
	logger := rlog.For("codec")

	cmd := exec.CommandContext(ctx, f.Path,
		"-v", "error",
		"-i", filePath,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", channels),
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-",
	)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, wrapFailure("decode pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, wrapFailure("decode start", fmt.Errorf("%w (%s)", err, stderr.String()))
	}

	data, err := io.ReadAll(stdout)
	if err != nil {
		return nil, wrapFailure("decode read", err)
	}
	if waitErr := cmd.Wait(); waitErr != nil {
		logger.Warn().Str("file", filePath).Str("stderr", stderr.String()).Msg("ffmpeg decode exited non-zero")
	}

	if len(data) == 0 {
		return nil, wrapFailure("decode", fmt.Errorf("no audio data decoded from %s (stderr: %s)", filePath, stderr.String()))
	}
	return data, nil
}

// Encode shells out to ffmpeg to compress raw PCM into MP3 at the
// requested bitrate (spec §6).
func (f *FFmpegCodec) Encode(ctx context.Context, pcm []byte, sampleRate, channels, bitrateKbps int) ([]byte, error) {
	logger := rlog.For("codec")

	cmd := exec.CommandContext(ctx, f.Path,
		"-v", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-i", "-",
		"-f", "mp3",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-",
	)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdin = bytes.NewReader(pcm)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, wrapFailure("encode pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, wrapFailure("encode start", fmt.Errorf("%w (%s)", err, stderr.String()))
	}

	data, err := io.ReadAll(stdout)
	if err != nil {
		return nil, wrapFailure("encode read", err)
	}
	if waitErr := cmd.Wait(); waitErr != nil {
		logger.Warn().Str("stderr", stderr.String()).Msg("ffmpeg encode exited non-zero")
	}
	if len(data) == 0 {
		return nil, wrapFailure("encode", fmt.Errorf("no encoded data produced (stderr: %s)", stderr.String()))
	}
	return data, nil
}
