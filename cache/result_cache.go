package cache

import (
	"context"
	"errors"

	"VKMBot/model"
)

// ErrExpiredOrInvalid is returned when a user has no live result set or
// the requested index is outside it.
var ErrExpiredOrInvalid = errors.New("search results expired or selection invalid")

// ResultCache holds each user's latest search result set.
type ResultCache interface {
	// Put replaces the user's result set in one step.
	Put(ctx context.Context, userID int64, results []model.Candidate) error
	// Resolve returns the candidate at a zero-based index.
	Resolve(ctx context.Context, userID int64, index int) (model.Candidate, error)
	Drop(ctx context.Context, userID int64) error
}

func pick(results []model.Candidate, index int) (model.Candidate, error) {
	if index < 0 || index >= len(results) {
		return model.Candidate{}, ErrExpiredOrInvalid
	}
	return results[index], nil
}
