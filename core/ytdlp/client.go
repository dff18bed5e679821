package ytdlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"VKMBot/core/plugin"
	"VKMBot/logger"
	"VKMBot/model"
)

// Source is the plugin name under which the client registers.
const Source = "ytdlp"

const defaultSearchTimeout = 30 * time.Second

type Options struct {
	Executable    string
	FFmpegPath    string
	RatePerSec    float64
	SearchTimeout time.Duration
}

// Client is a MusicPlugin backed by the yt-dlp executable.
type Client struct {
	runner        Runner
	limiter       *rate.Limiter
	searchTimeout time.Duration
}

var _ plugin.MusicPlugin = (*Client)(nil)

func New(opts Options) *Client {
	return NewWithRunner(&execRunner{executable: opts.Executable, ffmpegPath: opts.FFmpegPath}, opts)
}

func NewWithRunner(r Runner, opts Options) *Client {
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	timeout := opts.SearchTimeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	return &Client{
		runner:        r,
		limiter:       rate.NewLimiter(limit, 1),
		searchTimeout: timeout,
	}
}

func (c *Client) GetSource() string {
	return Source
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]model.Candidate, error) {
	q, err := plugin.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	n := plugin.ClampResults(maxResults)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", plugin.ErrProviderUnavailable, err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	start := time.Now()
	stdout, err := c.runner.Search(searchCtx, fmt.Sprintf("ytsearch%d:%s", n, q))
	if err != nil {
		logger.Warn("[YtDlp] search failed",
			logger.String("query", q),
			logger.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", plugin.ErrProviderUnavailable, err)
	}

	candidates, skipped := parseSearchOutput(stdout, n)
	logger.Debug("[YtDlp] search done",
		logger.String("query", q),
		logger.Int("results", len(candidates)),
		logger.Int("skipped", skipped),
		logger.Duration("took", time.Since(start)))
	return candidates, nil
}

func (c *Client) Fetch(ctx context.Context, req plugin.FetchRequest) error {
	if strings.TrimSpace(req.Locator) == "" {
		return fmt.Errorf("%w: empty locator", plugin.ErrNotFound)
	}
	if !strings.Contains(req.OutputTemplate, "%(ext)s") {
		return fmt.Errorf("output template %q lacks an extension placeholder", req.OutputTemplate)
	}
	if req.Format == "" {
		req.Format = "mp3"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return classify(ctx, "", err)
	}

	stderr, err := c.runner.Download(ctx, req)
	if err != nil {
		classified := classify(ctx, stderr, err)
		logger.Warn("[YtDlp] fetch failed",
			logger.String("locator", req.Locator),
			logger.ErrorField(classified))
		return classified
	}
	return nil
}
