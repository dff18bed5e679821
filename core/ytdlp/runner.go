package ytdlp

import (
	"context"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"VKMBot/core/plugin"
)

// Runner executes yt-dlp. The default implementation shells out through
// go-ytdlp; tests substitute a fake.
type Runner interface {
	// Search runs a "ytsearchN:" target and returns the raw JSON lines.
	Search(ctx context.Context, target string) (stdout string, err error)
	// Download extracts audio for req.Locator into req.OutputTemplate.
	Download(ctx context.Context, req plugin.FetchRequest) (stderr string, err error)
}

type execRunner struct {
	executable string
	ffmpegPath string
}

func (r *execRunner) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if r.executable != "" {
		cmd.SetExecutable(r.executable)
	}
	return cmd
}

func (r *execRunner) Search(ctx context.Context, target string) (string, error) {
	res, err := r.command().
		DumpJSON().
		SkipDownload().
		IgnoreErrors().
		NoWarnings().
		Run(ctx, target)
	if res == nil {
		return "", err
	}
	// --ignore-errors exits non-zero when any entry failed; the entries that
	// did resolve are still on stdout.
	if err != nil && strings.TrimSpace(res.Stdout) != "" && ctx.Err() == nil {
		return res.Stdout, nil
	}
	if err != nil {
		return res.Stdout, withStderr(err, res.Stderr)
	}
	return res.Stdout, nil
}

func (r *execRunner) Download(ctx context.Context, req plugin.FetchRequest) (string, error) {
	cmd := r.command().
		ExtractAudio().
		AudioFormat(req.Format).
		AudioQuality(strings.ToUpper(req.Bitrate)).
		Output(req.OutputTemplate).
		NoPlaylist().
		NoWarnings()
	if r.ffmpegPath != "" {
		cmd.FFmpegLocation(r.ffmpegPath)
	}
	if req.Progress != nil {
		cmd.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			req.Report(int64(update.DownloadedBytes), int64(update.TotalBytes))
		})
	}

	res, err := cmd.Run(ctx, req.Locator)
	if res == nil {
		return "", err
	}
	return res.Stderr, err
}
