package ytdlp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"VKMBot/model"
)

const (
	watchURL     = "https://www.youtube.com/watch?v="
	maxLineBytes = 16 << 20
)

// searchEntry is the subset of a yt-dlp info dict used for candidates.
type searchEntry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	WebpageURL string   `json:"webpage_url"`
	URL        string   `json:"url"`
	Duration   *float64 `json:"duration"`
	Uploader   string   `json:"uploader"`
	Channel    string   `json:"channel"`
	ViewCount  *float64 `json:"view_count"`
}

func (e *searchEntry) locator() string {
	switch {
	case strings.HasPrefix(e.WebpageURL, "http"):
		return e.WebpageURL
	case strings.HasPrefix(e.URL, "http"):
		return e.URL
	case e.ID != "":
		return watchURL + e.ID
	}
	return ""
}

// parseSearchOutput turns one-JSON-object-per-line output into candidates.
// Malformed lines are skipped and counted.
func parseSearchOutput(stdout string, limit int) ([]model.Candidate, int) {
	candidates := make([]model.Candidate, 0, limit)
	skipped := 0

	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() && len(candidates) < limit {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		c, ok := parseEntry(line)
		if !ok {
			skipped++
			continue
		}
		candidates = append(candidates, c)
	}
	if sc.Err() != nil {
		skipped++
	}
	return candidates, skipped
}

func parseEntry(line []byte) (model.Candidate, bool) {
	var e searchEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return model.Candidate{}, false
	}
	title := strings.TrimSpace(e.Title)
	locator := e.locator()
	if title == "" || locator == "" {
		return model.Candidate{}, false
	}

	c := model.Candidate{
		Title:    title,
		Locator:  locator,
		Duration: model.UnknownDuration,
		Uploader: "Unknown",
	}
	if e.Duration != nil {
		c.Duration = model.SecondsToDuration(*e.Duration)
	}
	if u := strings.TrimSpace(e.Uploader); u != "" {
		c.Uploader = u
	} else if ch := strings.TrimSpace(e.Channel); ch != "" {
		c.Uploader = ch
	}
	if e.ViewCount != nil && *e.ViewCount > 0 {
		c.Popularity = int64(*e.ViewCount)
	}
	return c, true
}
