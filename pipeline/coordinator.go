package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"VKMBot/cache"
	"VKMBot/logger"
	"VKMBot/model"
	"VKMBot/quota"
	"VKMBot/retrieval"
)

const (
	minQueryRunes    = 2
	progressInterval = 500 * time.Millisecond
)

// Searcher finds candidates for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.Candidate, error)
}

// Fetcher retrieves a job's audio and disposes of artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, job *model.DownloadJob, progress func(done, total int64)) (*model.Artifact, error)
	Remove(artifact *model.Artifact) error
}

// QuotaGate admits downloads against the daily limit.
type QuotaGate interface {
	CheckAndReserve(ctx context.Context, userID int64) (quota.Decision, error)
	Commit(ctx context.Context, res *quota.Reservation, title, duration string) error
	Release(ctx context.Context, res *quota.Reservation) error
}

type Config struct {
	MaxResults      int
	Retries         int
	RetryBackoff    time.Duration
	DownloadTimeout time.Duration
}

// Coordinator runs each user's search, selection and delivery flow.
type Coordinator struct {
	searcher  Searcher
	results   cache.ResultCache
	quota     QuotaGate
	fetcher   Fetcher
	presenter Presenter
	cfg       Config

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewCoordinator(searcher Searcher, results cache.ResultCache, gate QuotaGate, fetcher Fetcher, presenter Presenter, cfg Config) *Coordinator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Coordinator{
		searcher:  searcher,
		results:   results,
		quota:     gate,
		fetcher:   fetcher,
		presenter: presenter,
		cfg:       cfg,
		sessions:  make(map[int64]*session),
	}
}

// session returns userID's session with a reference held. Every call must
// be paired with release.
func (c *Coordinator) session(userID int64) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[userID]
	if !ok {
		s = &session{}
		c.sessions[userID] = s
	}
	s.refs++
	return s
}

// release drops a reference and forgets the session once it is unused and
// back to Idle. A session is never dropped while an operation holds it, so
// search generations stay ordered.
func (c *Coordinator) release(userID int64, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.refs--
	s.lastUsed = time.Now()
	if s.refs == 0 && s.State() == StateIdle && c.sessions[userID] == s {
		delete(c.sessions, userID)
	}
}

// SweepSessions forgets unused sessions untouched for longer than olderThan,
// such as users who searched and never picked a track.
func (c *Coordinator) SweepSessions(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, s := range c.sessions {
		if s.refs == 0 && !s.lastUsed.After(cutoff) {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}

// State reports where userID currently is in the flow.
func (c *Coordinator) State(userID int64) State {
	c.mu.Lock()
	s, ok := c.sessions[userID]
	c.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return s.State()
}

// ValidQuery reports whether text should be treated as a search.
func ValidQuery(text string) (string, bool) {
	q := strings.TrimSpace(text)
	if utf8.RuneCountInString(q) < minQueryRunes || strings.HasPrefix(q, "/") {
		return q, false
	}
	return q, true
}

// OnQuery searches for text and offers the results to the user.
func (c *Coordinator) OnQuery(ctx context.Context, userID int64, text string) (err error) {
	s := c.session(userID)
	defer c.release(userID, s)
	defer func() {
		if r := recover(); r != nil {
			err = c.handlePanic(ctx, userID, "query", r)
			s.abandonSearch()
		}
	}()

	query, ok := ValidQuery(text)
	if !ok {
		c.status(ctx, userID, invalidQueryStatus())
		return ErrInvalidQuery
	}

	gen := s.beginSearch()
	c.status(ctx, userID, searchingStatus(query))

	candidates, err := c.searcher.Search(ctx, query, c.cfg.MaxResults)
	if err != nil {
		logger.Warn("[Pipeline] search failed",
			logger.Int64("userId", userID),
			logger.String("query", query),
			logger.ErrorField(err))
		if s.isLatest(gen) {
			s.endSearch(gen, StateFailed)
			c.status(ctx, userID, searchFailedStatus())
			s.endSearch(gen, StateIdle)
		}
		return fmt.Errorf("%w: %w", ErrSearchFailure, err)
	}

	s.publishMu.Lock()
	if !s.isLatest(gen) {
		s.publishMu.Unlock()
		logger.Debug("[Pipeline] dropping superseded search",
			logger.Int64("userId", userID),
			logger.String("query", query))
		return nil
	}
	if len(candidates) == 0 {
		err = c.results.Drop(ctx, userID)
	} else {
		err = c.results.Put(ctx, userID, candidates)
	}
	s.publishMu.Unlock()

	if err != nil {
		logger.Error("[Pipeline] failed to store search results",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		s.endSearch(gen, StateFailed)
		c.status(ctx, userID, searchFailedStatus())
		s.endSearch(gen, StateIdle)
		return fmt.Errorf("%w: %w", ErrSearchFailure, err)
	}

	if len(candidates) == 0 {
		s.endSearch(gen, StateIdle)
		if perr := c.presenter.PresentCandidates(ctx, userID, nil); perr != nil {
			c.logPresentError(userID, "candidates", perr)
		}
		c.status(ctx, userID, noResultsStatus())
		return nil
	}

	s.endSearch(gen, StateAwaitingSelection)
	if perr := c.presenter.PresentCandidates(ctx, userID, NewCandidateViews(candidates)); perr != nil {
		c.logPresentError(userID, "candidates", perr)
	}
	return nil
}

// OnSelect downloads and delivers the candidate at index from the user's
// latest result set.
func (c *Coordinator) OnSelect(ctx context.Context, userID int64, index int) (err error) {
	s := c.session(userID)
	defer c.release(userID, s)
	if !s.acquire() {
		c.status(ctx, userID, busyStatus())
		return ErrBusy
	}

	var (
		reservation *quota.Reservation
		artifact    *model.Artifact
		settled     bool
	)
	defer func() {
		if r := recover(); r != nil {
			err = c.handlePanic(ctx, userID, "select", r)
		}
		if reservation != nil && !settled {
			if rerr := c.quota.Release(context.WithoutCancel(ctx), reservation); rerr != nil {
				logger.Error("[Pipeline] failed to release quota reservation",
					logger.Int64("userId", userID),
					logger.ErrorField(rerr))
			}
		}
		if artifact != nil {
			if rerr := c.fetcher.Remove(artifact); rerr != nil {
				logger.Warn("[Pipeline] failed to remove artifact",
					logger.String("path", artifact.Path),
					logger.ErrorField(rerr))
			}
		}
		if err != nil {
			s.set(StateFailed)
		}
		s.finish()
	}()

	candidate, err := c.results.Resolve(ctx, userID, index)
	if err != nil {
		c.status(ctx, userID, expiredStatus())
		return fmt.Errorf("%w: %w", ErrExpiredSelection, err)
	}

	decision, err := c.quota.CheckAndReserve(ctx, userID)
	if err != nil {
		logger.Error("[Pipeline] quota check failed",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		c.status(ctx, userID, internalStatus())
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if !decision.Allowed {
		c.status(ctx, userID, quotaExceededStatus(decision.Limit, decision.RetryAfter))
		return &QuotaExceededError{Limit: decision.Limit, RetryAfter: decision.RetryAfter}
	}
	reservation = decision.Reservation

	s.set(StateDownloading)
	c.status(ctx, userID, downloadingStatus(candidate.Title))

	job := model.NewDownloadJob(userID, candidate, decision.Tier)
	artifact, err = c.fetchWithRetry(ctx, job)
	if err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			c.status(ctx, userID, trackUnavailableStatus())
		} else {
			c.status(ctx, userID, downloadFailedStatus())
		}
		return err
	}

	s.set(StateDelivering)
	if err = c.presenter.PresentArtifact(ctx, userID, artifact); err != nil {
		logger.Warn("[Pipeline] delivery failed",
			logger.Int64("userId", userID),
			logger.String("job", job.ID),
			logger.ErrorField(err))
		c.status(ctx, userID, deliveryFailedStatus())
		return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	settled = true
	if cerr := c.quota.Commit(context.WithoutCancel(ctx), reservation, candidate.Title, model.FormatDuration(artifact.Duration)); cerr != nil {
		logger.Error("[Pipeline] failed to commit download",
			logger.Int64("userId", userID),
			logger.String("job", job.ID),
			logger.ErrorField(cerr))
	}

	logger.Info("[Pipeline] delivered",
		logger.Int64("userId", userID),
		logger.String("job", job.ID),
		logger.String("title", candidate.Title))
	c.status(ctx, userID, deliveredStatus(decision.Remaining))
	return nil
}

// fetchWithRetry retries transient provider failures with a fixed backoff.
func (c *Coordinator) fetchWithRetry(ctx context.Context, job *model.DownloadJob) (*model.Artifact, error) {
	progress := c.progressFunc(ctx, job)
	for attempt := 0; ; attempt++ {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.DownloadTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.DownloadTimeout)
		}
		job.Status = model.JobPending
		artifact, err := c.fetcher.Fetch(fetchCtx, job, progress)
		cancel()
		if err == nil {
			return artifact, nil
		}
		if attempt >= c.cfg.Retries || ctx.Err() != nil || !retrieval.IsTransient(err) {
			return nil, err
		}

		logger.Info("[Pipeline] retrying download",
			logger.String("job", job.ID),
			logger.Int("attempt", attempt+2),
			logger.ErrorField(err))
		select {
		case <-time.After(c.cfg.RetryBackoff):
		case <-ctx.Done():
			return nil, err
		}
	}
}

func (c *Coordinator) progressFunc(ctx context.Context, job *model.DownloadJob) func(done, total int64) {
	pp, ok := c.presenter.(ProgressPresenter)
	if !ok {
		return nil
	}
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(done, total int64) {
		mu.Lock()
		now := time.Now()
		if (total <= 0 || done < total) && now.Sub(last) < progressInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		err := pp.PresentProgress(ctx, job.UserID, Progress{
			JobID:      job.ID,
			Title:      job.Candidate.Title,
			Downloaded: done,
			Total:      total,
		})
		if err != nil {
			c.logPresentError(job.UserID, "progress", err)
		}
	}
}

func (c *Coordinator) status(ctx context.Context, userID int64, st Status) {
	if err := c.presenter.PresentStatus(ctx, userID, st); err != nil {
		c.logPresentError(userID, "status:"+st.Kind.String(), err)
	}
}

func (c *Coordinator) logPresentError(userID int64, what string, err error) {
	logger.Warn("[Pipeline] presenter error",
		logger.Int64("userId", userID),
		logger.String("what", what),
		logger.ErrorField(err))
}

func (c *Coordinator) handlePanic(ctx context.Context, userID int64, op string, r interface{}) error {
	logger.Error("[Pipeline] recovered panic",
		logger.Int64("userId", userID),
		logger.String("op", op),
		logger.Any("panic", r),
		logger.String("stack", string(debug.Stack())))
	c.status(ctx, userID, internalStatus())
	return fmt.Errorf("%w: %v", ErrInternal, r)
}
