package planner

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vividhyeok/radioflow/internal/codec"
)

// Renderer bounces a MixPlan to a finished MP3 (plus LRC timing) or a
// single transition preview, shelling out to ffmpeg directly with
// filter_complex graphs the Codec boundary (spec §6) doesn't express.
// Adapted from the teacher's RenderPreview/RenderFinalMix (renderer.go).
type Renderer struct {
	FFmpegPath string
	Logger     zerolog.Logger
}

// NewRenderer resolves the ffmpeg binary the same way codec.NewFFmpegCodec
// does, honoring FFMPEG_PATH.
func NewRenderer(logger zerolog.Logger) *Renderer {
	path := "ffmpeg"
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		path = p
	}
	return &Renderer{FFmpegPath: path, Logger: logger.With().Str("component", "planner").Logger()}
}

func randHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// clampPlayBounds enforces a 30s minimum chunk and a 15s fallback guard.
func clampPlayBounds(startSec, endSec, duration float64) (float64, float64) {
	if endSec <= 0 {
		endSec = duration
	}
	if startSec < 0 {
		startSec = 0
	}
	if endSec-startSec < 30.0 {
		needed := 30.0 - (endSec - startSec)
		if endSec+needed <= duration {
			endSec += needed
		} else {
			endSec = duration
			startSec = math.Max(0, endSec-30.0)
		}
	}
	if startSec >= endSec-15.0 {
		startSec = math.Max(0, endSec-15.0)
	}
	return startSec, endSec
}

// trimSilenceEnd scans backward from the end of a normalized WAV file and
// returns the effective duration (seconds) by skipping trailing silence
// below -40 dBFS, using ReadAt so it never reads the whole file.
func trimSilenceEnd(wavPath string) float64 {
	f, err := os.Open(wavPath)
	if err != nil {
		return 0
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0
	}
	fileSize := info.Size()
	if fileSize <= 44 {
		return 0
	}

	dataBytes := fileSize - 44
	totalSamples := dataBytes / 2
	chunkSamples := int64(4410 * 2)
	chunkBytes := chunkSamples * 2
	buf := make([]byte, chunkBytes)

	effSamples := totalSamples
	for j := totalSamples - chunkSamples; j >= 0; j -= chunkSamples {
		n, _ := f.ReadAt(buf, 44+j*2)
		if n == 0 {
			break
		}
		count := n / 2
		var sumSq float64
		for k := 0; k < count; k++ {
			v := float64(int16(binary.LittleEndian.Uint16(buf[k*2:k*2+2]))) / 32768.0
			sumSq += v * v
		}
		rms := math.Sqrt(sumSq / float64(count))
		if 20.0*math.Log10(rms+1e-9) > -40.0 {
			effSamples = j + chunkSamples
			break
		}
	}
	return float64(effSamples) / (44100.0 * 2.0)
}

// RenderPreview renders a short preview of a single transition between two
// tracks using an ffmpeg filter_complex graph shaped by spec.Type.
func (r *Renderer) RenderPreview(trackAPath, trackBPath string, spec TransitionSpec, cacheDir string) (string, error) {
	margin := 10.0
	overlap := spec.Duration
	if overlap <= 0 {
		overlap = 10
	}
	tOut := spec.AOutTime
	tIn := spec.BInTime
	speedA := spec.SpeedA
	speedB := spec.SpeedB
	if speedA <= 0 {
		speedA = 1.0
	}
	if speedB <= 0 {
		speedB = 1.0
	}

	aStart := tOut - margin
	if aStart < 0 {
		aStart = 0
	}
	aDur := margin + overlap

	bStart := tIn
	bDur := overlap + margin

	delayMs := int(margin / speedA * 1000)
	fadeDur := overlap / speedA

	var filterComplex string

	atempoA := buildAtempoFilter(speedA, 0.0)
	atempoB := buildAtempoFilter(speedB, spec.PitchStepB)

	switch spec.Type {
	case "bass_swap":
		filterComplex = fmt.Sprintf(
			"[0:a]%s,highpass=f=300,afade=t=out:st=%.2f:d=%.2f[a];"+
				"[1:a]%s,adelay=%d|%d,afade=t=in:d=%.2f[b];"+
				"[a][b]amix=inputs=2:duration=longest:normalize=0[out]",
			atempoA, margin/speedA, fadeDur,
			atempoB, delayMs, delayMs, fadeDur,
		)
	case "cut":
		cutPoint := margin / speedA
		filterComplex = fmt.Sprintf(
			"[0:a]%s,atrim=0:%.2f[a];[1:a]%s[b];[a][b]concat=n=2:v=0:a=1[out]",
			atempoA, cutPoint, atempoB,
		)
	case "filter_fade":
		filterComplex = fmt.Sprintf(
			"[0:a]%s,lowpass=f=400,afade=t=out:st=%.2f:d=%.2f[a];"+
				"[1:a]%s,adelay=%d|%d,afade=t=in:d=%.2f[b];"+
				"[a][b]amix=inputs=2:duration=longest:normalize=0[out]",
			atempoA, margin/speedA, fadeDur,
			atempoB, delayMs, delayMs, fadeDur,
		)
	case "mashup":
		filterComplex = fmt.Sprintf(
			"[0:a]%s,volume=-1dB[a];"+
				"[1:a]%s,highpass=f=300,volume=1dB,adelay=%d|%d[b];"+
				"[a][b]amix=inputs=2:duration=longest:normalize=0[out]",
			atempoA, atempoB, delayMs, delayMs,
		)
	default: // crossfade
		filterComplex = fmt.Sprintf(
			"[0:a]%s,afade=t=out:st=%.2f:d=%.2f[a];"+
				"[1:a]%s,adelay=%d|%d,afade=t=in:d=%.2f[b];"+
				"[a][b]amix=inputs=2:duration=longest:normalize=0[out]",
			atempoA, margin/speedA, fadeDur,
			atempoB, delayMs, delayMs, fadeDur,
		)
	}

	outputPath := filepath.Join(cacheDir, fmt.Sprintf("preview_%s_%d_%s.mp3",
		spec.Type, int(tOut), randHex(4)))

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", aStart), "-t", fmt.Sprintf("%.2f", aDur), "-i", trackAPath,
		"-ss", fmt.Sprintf("%.2f", bStart), "-t", fmt.Sprintf("%.2f", bDur), "-i", trackBPath,
		"-filter_complex", filterComplex,
		"-map", "[out]",
		"-b:a", "192k",
		outputPath,
	}

	r.Logger.Info().Str("track_a", filepath.Base(trackAPath)).Str("track_b", filepath.Base(trackBPath)).
		Str("type", spec.Type).Msg("rendering transition preview")

	var previewStderr bytes.Buffer
	cmd := exec.Command(r.FFmpegPath, args...)
	codec.HideWindow(cmd)
	cmd.Stderr = &previewStderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg preview: %w\n%s", err, previewStderr.String())
	}
	return outputPath, nil
}

// RenderFinalMix renders a whole planned set to a single MP3 plus an LRC
// timing sidecar, using a PCM canvas overlay instead of an ffmpeg
// filter_complex per track pair (which does not scale past a handful of
// tracks).
func (r *Renderer) RenderFinalMix(playlist []TrackEntry, transitions []TransitionSpec, outputPath, cacheDir string) (string, string, error) {
	if len(playlist) < 2 {
		return "", "", fmt.Errorf("need at least 2 tracks")
	}

	r.Logger.Info().Int("tracks", len(playlist)).Int("transitions", len(transitions)).Msg("rendering final mix")

	type normResult struct {
		wavPath string
		playEnd float64
		ok      bool
	}
	normResults := make([]normResult, len(playlist))
	var normWg sync.WaitGroup
	normSem := make(chan struct{}, 4)

	for i, t := range playlist {
		normWg.Add(1)
		go func(idx int, track TrackEntry) {
			defer normWg.Done()
			normSem <- struct{}{}
			defer func() { <-normSem }()

			wavPath := filepath.Join(cacheDir, fmt.Sprintf("norm_%s.wav", randHex(6)))
			var normStderr bytes.Buffer
			cmd := exec.Command(r.FFmpegPath, "-y", "-i", track.Filepath,
				"-map_metadata", "-1",
				"-ar", "44100", "-ac", "2", "-sample_fmt", "s16",
				"-af", "loudnorm=I=-14:TP=-1.5:LRA=11",
				wavPath,
			)
			codec.HideWindow(cmd)
			cmd.Stderr = &normStderr
			if err := cmd.Run(); err != nil {
				r.Logger.Warn().Err(err).Int("track", idx).Msg("failed to normalize track to wav")
				return
			}
			normResults[idx] = normResult{
				wavPath: wavPath,
				playEnd: trimSilenceEnd(wavPath),
				ok:      true,
			}
		}(i, t)
	}
	normWg.Wait()

	var wavMap []string
	for i, res := range normResults {
		if res.ok {
			playlist[i].Filepath = res.wavPath
			wavMap = append(wavMap, res.wavPath)
			if playlist[i].PlayEnd <= 0 || playlist[i].PlayEnd > res.playEnd {
				playlist[i].PlayEnd = res.playEnd
			}
		}
	}

	var canvas []float32
	var trackStarts []struct {
		OffsetMs int
		Name     string
	}

	currentOffsetMs := 0
	prevActualChunkMs := 0

	type fadeInfo struct {
		EntryFade float64
		EntryType string
		ExitFade  float64
		ExitType  string
	}
	fades := make([]fadeInfo, len(playlist))

	{
		prevTheoryMs := 0
		for i := 0; i < len(playlist); i++ {
			t := playlist[i]
			startSec, endSec := clampPlayBounds(t.PlayStart, t.PlayEnd, t.Duration)
			chunkTheorySec := endSec - startSec

			if i > 0 {
				trans := transitions[i-1]
				xfadeMs := int(math.Round(trans.Duration * 1000.0))

				avgBPM := (playlist[i-1].BPM + t.BPM) / 2.0
				if avgBPM <= 0 {
					avgBPM = 120.0
				}
				barDur := 4.0 * 60.0 / avgBPM
				minXfadeMs := int(math.Round(2.0 * barDur * 1000.0))
				if minXfadeMs < 8000 {
					minXfadeMs = 8000
				}
				if xfadeMs < minXfadeMs {
					xfadeMs = minXfadeMs
				}

				maxByPrev := prevTheoryMs - 1000
				maxByB := int(chunkTheorySec*1000.0) - 5000
				maxBy40pct := int(math.Min(float64(prevTheoryMs), chunkTheorySec*1000.0) * 0.4)

				if xfadeMs > maxByPrev && maxByPrev > 0 {
					xfadeMs = maxByPrev
				}
				if xfadeMs > maxByB && maxByB > 0 {
					xfadeMs = maxByB
				}
				if xfadeMs > maxBy40pct && maxBy40pct > 0 {
					xfadeMs = maxBy40pct
				}
				if xfadeMs < 0 {
					xfadeMs = 0
				}
				fadeSec := float64(xfadeMs) / 1000.0
				fades[i].EntryFade = fadeSec
				fades[i].EntryType = trans.Type
				fades[i-1].ExitFade = fadeSec
				fades[i-1].ExitType = trans.Type
			}
			prevTheoryMs = int(math.Round(chunkTheorySec * 1000.0))
		}
	}

	for i := 0; i < len(playlist); i++ {
		t := playlist[i]

		startSec, endSec := clampPlayBounds(t.PlayStart, t.PlayEnd, t.Duration)

		if i > 0 {
			trans := transitions[i-1]
			xfadeMs := int(math.Round(trans.Duration * 1000.0))

			avgBPM := (playlist[i-1].BPM + t.BPM) / 2.0
			if avgBPM <= 0 {
				avgBPM = 120.0
			}
			barDur := 4.0 * 60.0 / avgBPM
			minXfadeMs := int(math.Round(2.0 * barDur * 1000.0))
			if minXfadeMs < 8000 {
				minXfadeMs = 8000
			}
			if xfadeMs < minXfadeMs {
				xfadeMs = minXfadeMs
			}

			chunkTheorySec := endSec - startSec
			maxByPrev := prevActualChunkMs - 1000
			maxByB := int(chunkTheorySec*1000.0) - 5000
			maxBy40pct := int(math.Min(float64(prevActualChunkMs), chunkTheorySec*1000.0) * 0.4)

			if xfadeMs > maxByPrev && maxByPrev > 0 {
				xfadeMs = maxByPrev
			}
			if xfadeMs > maxByB && maxByB > 0 {
				xfadeMs = maxByB
			}
			if xfadeMs > maxBy40pct && maxBy40pct > 0 {
				xfadeMs = maxBy40pct
			}
			if xfadeMs < 0 {
				xfadeMs = 0
			}

			currentOffsetMs -= xfadeMs
			if currentOffsetMs < 0 {
				currentOffsetMs = 0
			}
		}

		f := fades[i]
		durRaw := endSec - startSec
		if durRaw < 0 {
			durRaw = 0
		}

		targetLUFS := -14.0
		gainDB := targetLUFS - t.LoudnessDB
		if gainDB > 10.0 {
			gainDB = 10.0
		} else if gainDB < -10.0 {
			gainDB = -10.0
		}

		baseFilter := fmt.Sprintf("atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS,volume=%.2fdB", startSec, endSec, gainDB)

		entryFilter := ""
		if f.EntryFade > 0 {
			switch f.EntryType {
			case "mashup":
				entryFilter = ",highpass=f=300,volume=1dB"
			case "cut":
			default:
				entryFilter = fmt.Sprintf(",afade=t=in:d=%.3f", f.EntryFade)
			}
		}

		exitFilter := ""
		if f.ExitFade > 0 {
			fadeStart := durRaw - f.ExitFade
			if fadeStart < 0 {
				fadeStart = 0
			}
			switch f.ExitType {
			case "bass_swap":
				exitFilter = fmt.Sprintf(",highpass=f=300,afade=t=out:st=%.3f:d=%.3f", fadeStart, f.ExitFade)
			case "filter_fade":
				exitFilter = fmt.Sprintf(",lowpass=f=400,afade=t=out:st=%.3f:d=%.3f", fadeStart, f.ExitFade)
			case "mashup":
				exitFilter = ",volume=-1dB"
			case "cut":
				exitFilter = fmt.Sprintf(",afade=t=out:st=%.3f:d=0.01", fadeStart)
			default:
				exitFilter = fmt.Sprintf(",afade=t=out:st=%.3f:d=%.3f", fadeStart, f.ExitFade)
			}
		}

		filterChain := baseFilter + entryFilter + exitFilter
		pcmPath := filepath.Join(cacheDir, fmt.Sprintf("chunk_%d_%s.pcm", i, randHex(4)))

		var chunkStderr bytes.Buffer
		cmdRaw := exec.Command(r.FFmpegPath,
			"-y", "-i", t.Filepath,
			"-map_metadata", "-1",
			"-af", filterChain,
			"-f", "f32le", "-ar", "44100", "-ac", "2",
			pcmPath,
		)
		codec.HideWindow(cmdRaw)
		cmdRaw.Stderr = &chunkStderr
		if err := cmdRaw.Run(); err != nil {
			r.Logger.Warn().Err(err).Int("track", i).Str("stderr", chunkStderr.String()).Msg("failed to extract pcm chunk")
			continue
		}

		b, err := os.ReadFile(pcmPath)
		if err != nil {
			r.Logger.Warn().Err(err).Int("track", i).Msg("failed to read pcm chunk")
			continue
		}
		pcmFloatCount := len(b) / 4

		trackStarts = append(trackStarts, struct {
			OffsetMs int
			Name     string
		}{currentOffsetMs, t.Filename})

		offsetSamples := int(float64(currentOffsetMs)/1000.0*44100.0) * 2
		requiredLen := offsetSamples + pcmFloatCount
		if len(canvas) < requiredLen {
			newCanvas := make([]float32, requiredLen)
			copy(newCanvas, canvas)
			canvas = newCanvas
		}
		for j := 0; j < pcmFloatCount; j++ {
			canvas[offsetSamples+j] += math.Float32frombits(binary.LittleEndian.Uint32(b[j*4 : j*4+4]))
		}
		os.Remove(pcmPath)

		prevActualChunkMs = pcmFloatCount * 1000 / (44100 * 2)
		currentOffsetMs += prevActualChunkMs
	}

	if len(canvas) > 0 {
		fadeLen := 3 * 44100 * 2
		if fadeLen > len(canvas) {
			fadeLen = len(canvas)
		}
		startIdx := len(canvas) - fadeLen
		for i := 0; i < fadeLen; i++ {
			canvas[startIdx+i] *= 1.0 - float32(i)/float32(fadeLen)
		}
	}

	finalPcmPath := filepath.Join(cacheDir, fmt.Sprintf("final_canvas_%s.pcm", randHex(4)))

	outPcmBytes := make([]byte, len(canvas)*4)
	for j, v := range canvas {
		binary.LittleEndian.PutUint32(outPcmBytes[j*4:j*4+4], math.Float32bits(v))
	}

	if err := os.WriteFile(finalPcmPath, outPcmBytes, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write master pcm: %w", err)
	}

	r.Logger.Info().Msg("encoding final mp3 from master pcm overlay")
	encodeArgs := []string{
		"-y",
		"-f", "f32le", "-ar", "44100", "-ac", "2",
		"-i", finalPcmPath,
		"-af", "alimiter=limit=0.89:attack=5:release=50:level=false",
		"-b:a", "320k", "-q:a", "0",
		outputPath,
	}

	var encStderr bytes.Buffer
	encCmd := exec.Command(r.FFmpegPath, encodeArgs...)
	codec.HideWindow(encCmd)
	encCmd.Stderr = &encStderr
	if err := encCmd.Run(); err != nil {
		return "", "", fmt.Errorf("failed to encode final mp3: %w\n%s", err, encStderr.String())
	}

	os.Remove(finalPcmPath)

	lrcPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".lrc"
	var lrcSb strings.Builder
	lrcSb.WriteString("[ar:radioflow]\n[ti:planned mix]\n[al:Auto Generated]\n[by:radioflow]\n\n")

	for _, ts := range trackStarts {
		sec := float64(ts.OffsetMs) / 1000.0
		m := int(sec) / 60
		s := sec - float64(m*60)
		name := strings.TrimSuffix(ts.Name, filepath.Ext(ts.Name))
		lrcSb.WriteString(fmt.Sprintf("[%02d:%05.2f] %s\n", m, s, name))
	}
	os.WriteFile(lrcPath, []byte(lrcSb.String()), 0644)

	for _, wPath := range wavMap {
		os.Remove(wPath)
	}

	r.Logger.Info().Str("output", outputPath).Str("lrc", lrcPath).Msg("final mix rendered")
	return outputPath, lrcPath, nil
}

func buildAtempoFilter(speed float64, pitchStep float64) string {
	filter := ""

	if speed > 0 && !(speed > 0.99 && speed < 1.01) {
		filter += fmt.Sprintf("atempo=%.4f", speed)
	}

	if pitchStep != 0.0 {
		if filter != "" {
			filter += ","
		}
		filter += fmt.Sprintf("rubberband=pitch=%.2f", pitchStep)
	}

	if filter == "" {
		return "anull"
	}
	return filter
}
