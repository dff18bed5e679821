package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"VKMBot/logger"
)

// FFmpegProcessor implements Processor with the ffmpeg and ffprobe binaries.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

var _ Processor = (*FFmpegProcessor)(nil)

// NewFFmpegProcessor creates a processor. An empty ffprobePath is derived
// from ffmpegPath.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		dir, base := filepath.Split(ffmpegPath)
		ffprobePath = dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// getAudioFormat returns the codec name of the first audio stream.
func (p *FFmpegProcessor) getAudioFormat(ctx context.Context, inputFile string) (string, error) {
	out, err := p.probe(ctx, inputFile,
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name",
	)
	if err != nil {
		return "", err
	}
	return parseCodecName(out)
}

// Transcode re-encodes inputFile into outputFile. The codec follows the
// output extension.
func (p *FFmpegProcessor) Transcode(ctx context.Context, inputFile, outputFile, bitrate string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", outputFile, err)
	}

	codec, err := p.getAudioFormat(ctx, inputFile)
	if err != nil {
		logger.Warn("[FFmpeg] could not detect input codec, using defaults",
			logger.String("input", inputFile),
			logger.ErrorField(err))
	}

	args := transcodeArgs(inputFile, outputFile, bitrate, codec)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("[FFmpeg] transcoding",
		logger.String("cmd", p.ffmpegPath+" "+strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg execution failed for %s: %w: %s", inputFile, err, tail(stderr.String(), 512))
	}
	return nil
}

// transcodeArgs builds the ffmpeg argument list.
func transcodeArgs(inputFile, outputFile, bitrate, inputCodec string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputFile, "-vn"}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(outputFile), ".")) {
	case "m4a", "aac":
		args = append(args, "-c:a", "aac")
	case "opus", "ogg":
		args = append(args, "-c:a", "libopus")
	default:
		args = append(args, "-c:a", "libmp3lame")
	}
	if bitrate != "" {
		args = append(args, "-b:a", strings.ToLower(bitrate))
	}
	// Planar float input (flac, opus) needs an explicit sample format for lame.
	if inputCodec == "flac" || inputCodec == "opus" {
		args = append(args, "-af", "aformat=sample_fmts=fltp")
	}
	return append(args, outputFile)
}

// GetAudioDuration uses ffprobe to get the duration of an audio file.
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (time.Duration, error) {
	out, err := p.probe(ctx, inputFile, "-show_entries", "format=duration")
	if err != nil {
		return 0, err
	}
	return parseProbeDuration(out)
}

func (p *FFmpegProcessor) probe(ctx context.Context, inputFile string, entries ...string) ([]byte, error) {
	args := append([]string{"-v", "error"}, entries...)
	args = append(args, "-of", "json", inputFile)

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w: %s", inputFile, err, tail(stderr.String(), 512))
	}
	return out.Bytes(), nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

func parseProbeDuration(raw []byte) (time.Duration, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if out.Format.Duration == "" {
		return 0, errors.New("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", out.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseCodecName(raw []byte) (string, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return "", errors.New("no audio streams found in file")
	}
	return out.Streams[0].CodecName, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
