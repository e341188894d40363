package codec

import (
	"errors"
	"os"
	"testing"

	"github.com/vividhyeok/radioflow/internal/rerr"
)

func TestNewFFmpegCodecDefaultPath(t *testing.T) {
	os.Unsetenv("FFMPEG_PATH")
	c := NewFFmpegCodec()
	if c.Path != "ffmpeg" {
		t.Fatalf("expected default path 'ffmpeg', got %q", c.Path)
	}
}

func TestNewFFmpegCodecHonorsEnvOverride(t *testing.T) {
	os.Setenv("FFMPEG_PATH", "/custom/ffmpeg")
	defer os.Unsetenv("FFMPEG_PATH")
	c := NewFFmpegCodec()
	if c.Path != "/custom/ffmpeg" {
		t.Fatalf("expected overridden path, got %q", c.Path)
	}
}

func TestWrapFailureIsCodecFailure(t *testing.T) {
	err := wrapFailure("decode", errors.New("boom"))
	if !errors.Is(err, rerr.ErrCodecFailure) {
		t.Fatalf("expected wrapped error to match ErrCodecFailure")
	}
}

func TestWrapFailureNilPassthrough(t *testing.T) {
	if err := wrapFailure("decode", nil); err != nil {
		t.Fatalf("expected nil passthrough, got %v", err)
	}
}
