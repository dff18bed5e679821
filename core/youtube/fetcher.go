package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/kkdai/youtube/v2"

	"VKMBot/core/audio"
	"VKMBot/core/plugin"
	"VKMBot/core/utils"
	"VKMBot/logger"
	"VKMBot/model"
)

// Source is the plugin name of the native backend.
const Source = "youtube"

// videoClient is the part of *youtube.Client the fetcher uses.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

// Plugin resolves and downloads audio natively, without the yt-dlp binary.
// Searching is delegated since the native client has no search endpoint.
type Plugin struct {
	Searcher   plugin.MusicPlugin
	client     videoClient
	transcoder audio.Transcoder
}

var _ plugin.MusicPlugin = (*Plugin)(nil)

func New(searcher plugin.MusicPlugin, transcoder audio.Transcoder) *Plugin {
	return &Plugin{
		Searcher:   searcher,
		client:     &youtube.Client{},
		transcoder: transcoder,
	}
}

func (p *Plugin) GetSource() string {
	return Source
}

func (p *Plugin) Search(ctx context.Context, query string, maxResults int) ([]model.Candidate, error) {
	if p.Searcher == nil {
		return nil, fmt.Errorf("%w: native backend has no search", plugin.ErrProviderUnavailable)
	}
	return p.Searcher.Search(ctx, query, maxResults)
}

// Fetch streams the best audio-only format to a temporary file and
// transcodes it into the requested format.
func (p *Plugin) Fetch(ctx context.Context, req plugin.FetchRequest) error {
	if strings.TrimSpace(req.Locator) == "" {
		return fmt.Errorf("%w: empty locator", plugin.ErrNotFound)
	}
	if req.Format == "" {
		req.Format = "mp3"
	}

	video, err := p.client.GetVideoContext(ctx, req.Locator)
	if err != nil {
		return classify(ctx, err)
	}

	format := bestAudioFormat(video.Formats)
	if format == nil {
		return fmt.Errorf("%w: no audio formats for %s", plugin.ErrNotFound, video.ID)
	}

	stream, size, err := p.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return classify(ctx, err)
	}
	defer stream.Close()

	// ".part" keeps the intermediate file out of artifact lookup.
	tmpPath := req.OutputPath("src.part")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", plugin.ErrLocalIO, tmpPath, err)
	}
	defer os.Remove(tmpPath)

	_, err = utils.CopyWithProgress(ctx, tmp, stream, size, req.Progress)
	closeErr := tmp.Close()
	if err != nil {
		return classify(ctx, err)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close %s: %v", plugin.ErrLocalIO, tmpPath, closeErr)
	}

	logger.Debug("[YouTube] stream downloaded, transcoding",
		logger.String("video", video.ID),
		logger.Int("itag", format.ItagNo),
		logger.Int64("bytes", size))

	if err := p.transcoder.Transcode(ctx, tmpPath, req.OutputPath(req.Format), req.Bitrate); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classify(ctx, ctxErr)
		}
		return fmt.Errorf("%w: %v", plugin.ErrExtraction, err)
	}
	return nil
}

// bestAudioFormat picks the audio-only format with the highest bitrate.
func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", plugin.ErrTimeout, ctxErr)
		}
		return ctxErr
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, io.ErrShortWrite) {
		return fmt.Errorf("%w: %v", plugin.ErrLocalIO, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "private"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "login required"),
		strings.Contains(msg, "invalid characters"),
		strings.Contains(msg, "video id"):
		return fmt.Errorf("%w: %v", plugin.ErrNotFound, err)
	case strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", plugin.ErrRateLimited, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", plugin.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", plugin.ErrExtraction, err)
	}
}
