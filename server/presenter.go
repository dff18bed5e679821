package server

import (
	"context"
	"fmt"

	"VKMBot/model"
	"VKMBot/pipeline"
)

// ArtifactPublisher makes a local artifact downloadable and returns its URL.
type ArtifactPublisher interface {
	Publish(ctx context.Context, userID int64, artifact *model.Artifact) (string, error)
}

// ArtifactView is the payload of an artifact message.
type ArtifactView struct {
	Title    string `json:"title"`
	Uploader string `json:"uploader"`
	Duration string `json:"duration"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// WSPresenter pushes pipeline output to the user's WebSocket.
type WSPresenter struct {
	hub       *Hub
	publisher ArtifactPublisher
}

var (
	_ pipeline.Presenter         = (*WSPresenter)(nil)
	_ pipeline.ProgressPresenter = (*WSPresenter)(nil)
)

func NewWSPresenter(hub *Hub, publisher ArtifactPublisher) *WSPresenter {
	return &WSPresenter{hub: hub, publisher: publisher}
}

func (p *WSPresenter) PresentCandidates(_ context.Context, userID int64, candidates []pipeline.CandidateView) error {
	if candidates == nil {
		candidates = []pipeline.CandidateView{}
	}
	return p.hub.SendToUser(userID, MsgTypeCandidates, candidates)
}

func (p *WSPresenter) PresentStatus(_ context.Context, userID int64, status pipeline.Status) error {
	return p.hub.SendToUser(userID, MsgTypeStatus, status)
}

func (p *WSPresenter) PresentProgress(_ context.Context, userID int64, progress pipeline.Progress) error {
	return p.hub.SendToUser(userID, MsgTypeProgress, progress)
}

// PresentArtifact uploads the file and sends its link. Without an open
// connection there is nobody to deliver to, so nothing is uploaded.
func (p *WSPresenter) PresentArtifact(ctx context.Context, userID int64, artifact *model.Artifact) error {
	if !p.hub.Connected(userID) {
		return ErrNotConnected
	}
	url, err := p.publisher.Publish(ctx, userID, artifact)
	if err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return p.hub.SendToUser(userID, MsgTypeArtifact, ArtifactView{
		Title:    artifact.Title,
		Uploader: artifact.Uploader,
		Duration: model.FormatDuration(artifact.Duration),
		Size:     artifact.Size,
		URL:      url,
	})
}
