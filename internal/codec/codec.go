// Package codec defines the Codec boundary (spec §6): two abstract,
// blocking operations over byte buffers. radioflow treats the concrete
// decoder/encoder as an external collaborator; FFmpegCodec is the one
// concrete implementation, adapted from the teacher's exec-based
// decodeToPCM (analyzer.go) and RenderPreview/RenderFinalMix (renderer.go).
package codec

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/vividhyeok/radioflow/internal/rerr"
)

// Decoder turns a file on disk into raw 16-bit signed little-endian
// interleaved PCM at the requested sample rate/channel count (spec §6).
type Decoder interface {
	Decode(ctx context.Context, filePath string, sampleRate, channels int) ([]byte, error)
}

// Encoder turns raw PCM into a compressed byte stream (e.g. MP3) at the
// requested bitrate (spec §6).
type Encoder interface {
	Encode(ctx context.Context, pcm []byte, sampleRate, channels, bitrateKbps int) ([]byte, error)
}

// Codec composes both directions of the boundary.
type Codec interface {
	Decoder
	Encoder
}

// HideWindow prevents cmd from flashing a console window on Windows; a
// no-op everywhere else. Exported so other packages that shell out to
// ffmpeg directly (internal/planner's offline renderer) share the same
// platform handling as FFmpegCodec instead of duplicating it.
func HideWindow(cmd *exec.Cmd) {
	hideWindow(cmd)
}

// wrapFailure maps any underlying codec error to the spec §7 codec-failure
// taxonomy entry.
func wrapFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, rerr.ErrCodecFailure, err)
}
