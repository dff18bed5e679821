package youtube

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VKMBot/core/plugin"
	"VKMBot/model"
)

type fakeClient struct {
	video     *youtube.Video
	videoErr  error
	payload   string
	streamErr error
	gotFormat *youtube.Format
}

func (f *fakeClient) GetVideoContext(_ context.Context, _ string) (*youtube.Video, error) {
	return f.video, f.videoErr
}

func (f *fakeClient) GetStreamContext(_ context.Context, _ *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	f.gotFormat = format
	if f.streamErr != nil {
		return nil, 0, f.streamErr
	}
	return io.NopCloser(strings.NewReader(f.payload)), int64(len(f.payload)), nil
}

type fakeTranscoder struct {
	input, output, bitrate string
	err                    error
}

func (f *fakeTranscoder) Transcode(_ context.Context, in, out, bitrate string) error {
	f.input, f.output, f.bitrate = in, out, bitrate
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

type stubSearcher struct{ plugin.MusicPlugin }

func (stubSearcher) Search(context.Context, string, int) ([]model.Candidate, error) {
	return []model.Candidate{{Title: "found"}}, nil
}

func testVideo() *youtube.Video {
	return &youtube.Video{
		ID:    "a1",
		Title: "Song",
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1"`, Bitrate: 500000, AudioChannels: 2},
			{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, AudioChannels: 2},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
		},
	}
}

func TestFetchPicksBestAudioAndTranscodes(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{video: testVideo(), payload: "opus-bytes"}
	tc := &fakeTranscoder{}
	p := &Plugin{client: client, transcoder: tc}

	var progressed int64
	err := p.Fetch(context.Background(), plugin.FetchRequest{
		Locator:        "https://www.youtube.com/watch?v=a1",
		OutputTemplate: filepath.Join(dir, "Song_1234abcd.%(ext)s"),
		Bitrate:        "192k",
		Progress:       func(done, _ int64) { progressed = done },
	})
	require.NoError(t, err)

	assert.Equal(t, 251, client.gotFormat.ItagNo)
	assert.Equal(t, filepath.Join(dir, "Song_1234abcd.mp3"), tc.output)
	assert.Equal(t, "192k", tc.bitrate)
	assert.EqualValues(t, len("opus-bytes"), progressed)

	_, err = os.Stat(tc.input)
	assert.True(t, os.IsNotExist(err), "intermediate file must be removed")
	data, err := os.ReadFile(tc.output)
	require.NoError(t, err)
	assert.Equal(t, "opus-bytes", string(data))
}

func TestFetchNoAudioFormats(t *testing.T) {
	v := testVideo()
	v.Formats = v.Formats[:1]
	p := &Plugin{client: &fakeClient{video: v}, transcoder: &fakeTranscoder{}}

	err := p.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: t.TempDir() + "/a.%(ext)s"})
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestFetchClassifiesClientErrors(t *testing.T) {
	p := &Plugin{client: &fakeClient{videoErr: errors.New("this video is private")}, transcoder: &fakeTranscoder{}}
	err := p.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: "/nonexistent/a.%(ext)s"})
	assert.ErrorIs(t, err, plugin.ErrNotFound)

	p.client = &fakeClient{video: testVideo(), streamErr: errors.New("unexpected status code: 429")}
	err = p.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: "/nonexistent/a.%(ext)s"})
	assert.ErrorIs(t, err, plugin.ErrRateLimited)
}

func TestFetchTranscodeFailureIsExtraction(t *testing.T) {
	dir := t.TempDir()
	p := &Plugin{
		client:     &fakeClient{video: testVideo(), payload: "x"},
		transcoder: &fakeTranscoder{err: errors.New("ffmpeg exploded")},
	}
	err := p.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: filepath.Join(dir, "a.%(ext)s")})
	assert.ErrorIs(t, err, plugin.ErrExtraction)
	assert.True(t, plugin.IsTransient(err))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFetchLocalWriteFailureIsLocalIO(t *testing.T) {
	p := &Plugin{client: &fakeClient{video: testVideo(), payload: "x"}, transcoder: &fakeTranscoder{}}
	missing := filepath.Join(t.TempDir(), "gone", "a.%(ext)s")

	err := p.Fetch(context.Background(), plugin.FetchRequest{Locator: "x", OutputTemplate: missing})
	assert.ErrorIs(t, err, plugin.ErrLocalIO)
	assert.False(t, plugin.IsTransient(err))

	err = classify(context.Background(), &os.PathError{Op: "write", Path: "a.src.part", Err: errors.New("no space left on device")})
	assert.ErrorIs(t, err, plugin.ErrLocalIO)
}

func TestSearchDelegates(t *testing.T) {
	p := New(stubSearcher{}, &fakeTranscoder{})
	got, err := p.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, Source, p.GetSource())

	_, err = (&Plugin{}).Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, plugin.ErrProviderUnavailable)
}
