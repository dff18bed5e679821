package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"VKMBot/core/audio"
	"VKMBot/core/plugin"
	"VKMBot/logger"
	"VKMBot/model"
)

type Options struct {
	WorkDir        string
	Format         string
	Bitrate        string
	PremiumBitrate string
	// Prober is optional; without it artifacts carry the candidate's length.
	Prober audio.Prober
}

// Executor turns a selected candidate into an audio file on disk.
type Executor struct {
	provider       plugin.MusicPlugin
	workDir        string
	format         string
	bitrate        string
	premiumBitrate string
	prober         audio.Prober
}

func NewExecutor(provider plugin.MusicPlugin, opts Options) *Executor {
	format := opts.Format
	if format == "" {
		format = "mp3"
	}
	premium := opts.PremiumBitrate
	if premium == "" {
		premium = opts.Bitrate
	}
	return &Executor{
		provider:       provider,
		workDir:        opts.WorkDir,
		format:         format,
		bitrate:        opts.Bitrate,
		premiumBitrate: premium,
		prober:         opts.Prober,
	}
}

func (e *Executor) WorkDir() string { return e.workDir }

func (e *Executor) bitrateFor(tier model.Tier) string {
	if tier == model.TierPremium {
		return e.premiumBitrate
	}
	return e.bitrate
}

// Fetch retrieves job.Candidate into the work directory. It performs no
// retries; on failure every file carrying the job's name is removed.
func (e *Executor) Fetch(ctx context.Context, job *model.DownloadJob, progress func(done, total int64)) (*model.Artifact, error) {
	if err := os.MkdirAll(e.workDir, 0755); err != nil {
		job.Status = model.JobFailed
		return nil, &Error{Kind: KindIOFailure, Op: "prepare", Err: err}
	}

	base := ArtifactBaseName(job.Candidate.Title, job.Token())
	ext := "." + e.format
	start := time.Now()
	job.Status = model.JobFetching

	logger.Info("[Retrieval] fetching",
		logger.String("job", job.ID),
		logger.Int64("userId", job.UserID),
		logger.String("locator", job.Candidate.Locator),
		logger.String("tier", string(job.Tier)))

	fail := func(rerr *Error) (*model.Artifact, error) {
		job.Status = model.JobFailed
		removed := removeJobFiles(e.workDir, base)
		logger.Warn("[Retrieval] fetch failed",
			logger.String("job", job.ID),
			logger.String("kind", rerr.Kind.String()),
			logger.Int("cleaned", removed),
			logger.ErrorField(rerr.Err))
		return nil, rerr
	}

	err := e.provider.Fetch(ctx, plugin.FetchRequest{
		Locator:        job.Candidate.Locator,
		OutputTemplate: filepath.Join(e.workDir, base+".%(ext)s"),
		Format:         e.format,
		Bitrate:        e.bitrateFor(job.Tier),
		Progress:       progress,
	})
	if err != nil {
		return fail(classify(ctx, err))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fail(&Error{Kind: KindProviderFailure, Op: "fetch", Err: ctxErr})
	}

	path, err := locateArtifact(e.workDir, base, ext, MaxScanEntries)
	if errors.Is(err, errArtifactMissing) {
		return fail(&Error{Kind: KindNotFound, Op: "locate", Err: err})
	}
	if err != nil {
		return fail(&Error{Kind: KindIOFailure, Op: "locate", Err: err})
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(&Error{Kind: KindIOFailure, Op: "stat", Err: err})
	}

	artifact := &model.Artifact{
		Path:     path,
		Title:    job.Candidate.Title,
		Uploader: job.Candidate.Uploader,
		Size:     info.Size(),
		Duration: job.Candidate.Duration,
	}
	if e.prober != nil {
		if d, err := e.prober.GetAudioDuration(ctx, path); err == nil && d > 0 {
			artifact.Duration = d
		} else if err != nil {
			logger.Debug("[Retrieval] duration probe failed",
				logger.String("path", path),
				logger.ErrorField(err))
		}
	}

	job.ArtifactPath = path
	job.Status = model.JobReady
	logger.Info("[Retrieval] fetched",
		logger.String("job", job.ID),
		logger.String("path", path),
		logger.Int64("bytes", artifact.Size),
		logger.Duration("took", time.Since(start)))
	return artifact, nil
}

func classify(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	if errors.Is(err, plugin.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: "fetch", Err: err}
	}
	var pathErr *fs.PathError
	if errors.Is(err, plugin.ErrLocalIO) || errors.As(err, &pathErr) {
		return &Error{Kind: KindIOFailure, Op: "fetch", Err: err}
	}
	return &Error{Kind: KindProviderFailure, Op: "fetch", Err: err}
}

// Remove deletes an artifact file; a missing file is not an error.
func (e *Executor) Remove(artifact *model.Artifact) error {
	if artifact == nil || artifact.Path == "" {
		return nil
	}
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: KindIOFailure, Op: "remove", Err: err}
	}
	return nil
}

// SweepOrphans removes audio and partial files older than olderThan left in
// the work directory by an interrupted process.
func (e *Executor) SweepOrphans(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(e.workDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &Error{Kind: KindIOFailure, Op: "sweep", Err: err}
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.HasSuffix(name, "."+e.format) && !isPartial(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(e.workDir, name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		logger.Info("[Retrieval] swept orphaned files",
			logger.String("dir", e.workDir),
			logger.Int("removed", removed))
	}
	return removed, nil
}
