package ytdlp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VKMBot/core/plugin"
	"VKMBot/model"
)

type fakeRunner struct {
	stdout    string
	stderr    string
	err       error
	targets   []string
	downloads []plugin.FetchRequest
}

func (f *fakeRunner) Search(_ context.Context, target string) (string, error) {
	f.targets = append(f.targets, target)
	return f.stdout, f.err
}

func (f *fakeRunner) Download(_ context.Context, req plugin.FetchRequest) (string, error) {
	f.downloads = append(f.downloads, req)
	return f.stderr, f.err
}

const mixedOutput = `{"id":"a1","title":"First Song","webpage_url":"https://www.youtube.com/watch?v=a1","duration":225,"uploader":"Band","view_count":1500}
not json at all
{"id":"b2","title":"Second Song","duration":61.4,"channel":"Label Channel"}
{"id":"c3","webpage_url":"https://www.youtube.com/watch?v=c3"}
{"title":"Third Song","url":"https://example.com/c","view_count":null}
`

func TestParseSearchOutputSkipsMalformed(t *testing.T) {
	got, skipped := parseSearchOutput(mixedOutput, 10)

	require.Len(t, got, 3)
	assert.Equal(t, 2, skipped)

	assert.Equal(t, "First Song", got[0].Title)
	assert.Equal(t, 225*time.Second, got[0].Duration)
	assert.Equal(t, "Band", got[0].Uploader)
	assert.EqualValues(t, 1500, got[0].Popularity)

	assert.Equal(t, "https://www.youtube.com/watch?v=b2", got[1].Locator)
	assert.Equal(t, "Label Channel", got[1].Uploader)

	assert.Equal(t, "https://example.com/c", got[2].Locator)
	assert.Equal(t, model.UnknownDuration, got[2].Duration)
	assert.Equal(t, "Unknown", got[2].Uploader)
	assert.Zero(t, got[2].Popularity)
}

func TestParseSearchOutputHonoursLimit(t *testing.T) {
	got, _ := parseSearchOutput(mixedOutput, 2)
	assert.Len(t, got, 2)

	got, skipped := parseSearchOutput("", 5)
	assert.Empty(t, got)
	assert.Zero(t, skipped)
}

func TestSearchBuildsTargetAndClamps(t *testing.T) {
	r := &fakeRunner{stdout: mixedOutput}
	c := NewWithRunner(r, Options{})

	got, err := c.Search(context.Background(), "  some query ", 50)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, []string{"ytsearch10:some query"}, r.targets)
}

func TestSearchProviderFailure(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	c := NewWithRunner(r, Options{})

	_, err := c.Search(context.Background(), "query", 5)
	assert.ErrorIs(t, err, plugin.ErrProviderUnavailable)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	c := NewWithRunner(&fakeRunner{}, Options{})
	_, err := c.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, plugin.ErrEmptyQuery)
}

func TestFetchClassifiesStderr(t *testing.T) {
	cases := []struct {
		stderr string
		want   error
	}{
		{"ERROR: [youtube] a1: Video unavailable", plugin.ErrNotFound},
		{"ERROR: [youtube] a1: Private video. Sign in", plugin.ErrNotFound},
		{"ERROR: unable to download webpage: HTTP Error 429: Too Many Requests", plugin.ErrRateLimited},
		{"ERROR: Read timed out.", plugin.ErrTimeout},
		{"ERROR: Postprocessing: audio conversion failed", plugin.ErrExtraction},
		{"ERROR: unable to write data: [Errno 28] No space left on device", plugin.ErrLocalIO},
		{"ERROR: unable to open for writing: [Errno 13] Permission denied: '/tmp/x.webm.part'", plugin.ErrLocalIO},
	}
	for _, tc := range cases {
		r := &fakeRunner{stderr: tc.stderr, err: errors.New("exit status 1")}
		c := NewWithRunner(r, Options{})
		err := c.Fetch(context.Background(), plugin.FetchRequest{
			Locator:        "https://www.youtube.com/watch?v=a1",
			OutputTemplate: "/tmp/x.%(ext)s",
		})
		assert.ErrorIs(t, err, tc.want, tc.stderr)
		assert.Contains(t, err.Error(), "ERROR:")
		if tc.want == plugin.ErrLocalIO {
			assert.False(t, plugin.IsTransient(err), tc.stderr)
		}
	}
}

func TestFetchDeadlineIsTimeout(t *testing.T) {
	r := &fakeRunner{err: errors.New("signal: killed")}
	c := NewWithRunner(r, Options{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := c.Fetch(ctx, plugin.FetchRequest{Locator: "x", OutputTemplate: "/tmp/x.%(ext)s"})
	assert.ErrorIs(t, err, plugin.ErrTimeout)
}

func TestFetchCancelledStaysCancelled(t *testing.T) {
	r := &fakeRunner{err: errors.New("signal: killed")}
	c := NewWithRunner(r, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Fetch(ctx, plugin.FetchRequest{Locator: "x", OutputTemplate: "/tmp/x.%(ext)s"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchPassesRequestThrough(t *testing.T) {
	r := &fakeRunner{}
	c := NewWithRunner(r, Options{})

	err := c.Fetch(context.Background(), plugin.FetchRequest{
		Locator:        "https://www.youtube.com/watch?v=a1",
		OutputTemplate: "/w/Song_1234abcd.%(ext)s",
		Bitrate:        "320k",
	})
	require.NoError(t, err)
	require.Len(t, r.downloads, 1)
	assert.Equal(t, "mp3", r.downloads[0].Format)
	assert.Equal(t, "320k", r.downloads[0].Bitrate)
}

func TestFetchValidatesRequest(t *testing.T) {
	c := NewWithRunner(&fakeRunner{}, Options{})

	err := c.Fetch(context.Background(), plugin.FetchRequest{OutputTemplate: "/tmp/x.%(ext)s"})
	assert.ErrorIs(t, err, plugin.ErrNotFound)

	err = c.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: "/tmp/x.mp3"})
	assert.Error(t, err)
}

func TestLastLinePrefersErrorLine(t *testing.T) {
	stderr := "WARNING: something\nERROR: the real cause\n[debug] trailing"
	assert.Equal(t, "ERROR: the real cause", lastLine(stderr))
	assert.Equal(t, "only line", lastLine("only line\n"))
}
