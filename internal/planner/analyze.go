package planner

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/codec"
)

// Analyzer runs the planner's offline analysis pipeline (BPM, beat grid,
// phrase/segment classification, highlights, key, loudness) over a batch of
// tracks, adapted from the teacher's AnalyzeTrack/AnalyzeBatch
// (analyzer.go). This is a distinct, richer analysis than
// internal/analyzer.Analyze: the live session only needs BPM/RMS/peaks/key/
// crossfade lead-time for a track already in the corpus, while the planner
// needs the full structural breakdown to place transitions.
type Analyzer struct {
	FFmpegPath string
	Logger     zerolog.Logger
}

// NewAnalyzer resolves the ffmpeg binary the same way NewRenderer does.
func NewAnalyzer(logger zerolog.Logger) *Analyzer {
	path := "ffmpeg"
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		path = p
	}
	return &Analyzer{FFmpegPath: path, Logger: logger.With().Str("component", "planner").Logger()}
}

// fileHash hashes file size plus its first and last megabyte, cheap enough
// to run before a potentially expensive full analysis and stable across
// renames/moves.
func fileHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	size := info.Size()
	chunkSize := int64(1024 * 1024)

	h := md5.New()
	fmt.Fprintf(h, "%d", size)

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, chunkSize)
	n, _ := f.Read(head)
	h.Write(head[:n])

	if size > chunkSize {
		if _, err := f.Seek(-chunkSize, io.SeekEnd); err == nil {
			tail := make([]byte, chunkSize)
			n, _ = f.Read(tail)
			h.Write(tail[:n])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (a *Analyzer) decodeToMonoPCM(path string) ([]float32, int, error) {
	sr := 22050
	cmd := exec.Command(a.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sr),
		"-",
	)
	codec.HideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("start ffmpeg: %w (%s)", err, stderr.String())
	}

	data, err := io.ReadAll(stdout)
	if err != nil {
		return nil, 0, fmt.Errorf("read: %w", err)
	}
	if waitErr := cmd.Wait(); waitErr != nil {
		a.Logger.Warn().Str("stderr", stderr.String()).Msg("ffmpeg decode exited non-zero")
	}

	numSamples := len(data) / 4
	if numSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data decoded from %s (stderr: %s)", path, stderr.String())
	}

	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}

	return samples, sr, nil
}

func loadCachedAnalysis(cachePath string) (*TrackAnalysis, error) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, err
	}
	var ta TrackAnalysis
	if err := json.Unmarshal(data, &ta); err != nil {
		return nil, err
	}
	return &ta, nil
}

func saveCachedAnalysis(cachePath string, ta *TrackAnalysis) error {
	data, err := json.MarshalIndent(ta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(cachePath, data, 0644)
}

// AnalyzeTrack runs the full offline analysis pipeline on a single file,
// reusing a cached result keyed by file hash when available.
func (a *Analyzer) AnalyzeTrack(path, cacheDir string) (*TrackAnalysis, error) {
	hash, err := fileHash(path)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	cachePath := filepath.Join(cacheDir, hash+"_analysis.json")
	if cached, err := loadCachedAnalysis(cachePath); err == nil {
		a.Logger.Debug().Str("path", path).Msg("planner analysis cache hit")
		return cached, nil
	}

	samples, sr, err := a.decodeToMonoPCM(path)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	duration := float64(len(samples)) / float64(sr)
	loudness := computeLoudnessDB(samples)

	hopSize := 512
	frameSize := 1024
	onset := computeOnsetEnvelope(samples, sr, frameSize, hopSize)

	bpm := estimateBPMFromOnset(onset, sr, hopSize)
	beatTimes := estimateBeatTimes(onset, sr, duration, bpm, hopSize)
	energy := computeBeatEnergy(samples, sr, beatTimes)
	key := detectKey(samples, sr)

	gridSize := 32
	var phrases []float64
	for i := 0; i < len(beatTimes); i += gridSize {
		phrases = append(phrases, beatTimes[i])
	}

	segments := classifySegments(phrases, energy, duration, gridSize)
	highlights := detectHighlights(beatTimes, energy)

	ta := &TrackAnalysis{
		Filepath:   path,
		Hash:       hash,
		Duration:   math.Round(duration*100) / 100,
		BPM:        bpm,
		LoudnessDB: math.Round(loudness*10) / 10,
		Key:        key,
		BeatTimes:  beatTimes,
		Phrases:    phrases,
		Segments:   segments,
		Energy:     energy,
		Highlights: highlights,
	}

	if err := saveCachedAnalysis(cachePath, ta); err != nil {
		a.Logger.Warn().Err(err).Str("path", cachePath).Msg("failed to cache planner analysis")
	}
	a.Logger.Info().Str("path", path).Float64("duration_sec", duration).Float64("bpm", bpm).Str("key", key).Msg("analyzed track")
	return ta, nil
}

// AnalyzeBatch analyzes multiple tracks concurrently, capped at 4 in flight.
func (a *Analyzer) AnalyzeBatch(paths []string, cacheDir string) ([]TrackAnalysis, []string) {
	results := make([]TrackAnalysis, len(paths))
	errors := make([]string, len(paths))
	var wg sync.WaitGroup

	sem := make(chan struct{}, 4)

	for i, p := range paths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ta, err := a.AnalyzeTrack(path, cacheDir)
			if err != nil {
				errors[idx] = fmt.Sprintf("%s: %v", path, err)
				return
			}
			results[idx] = *ta
		}(i, p)
	}
	wg.Wait()

	var errs []string
	for _, e := range errors {
		if e != "" {
			errs = append(errs, e)
		}
	}
	return results, errs
}
