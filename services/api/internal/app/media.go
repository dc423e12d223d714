package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"afggram/internal/util"
	"afggram/pkg/storage"
)

// UploadMedia stores a user file and returns its public URL and resource type.
func (a *App) UploadMedia(ctx context.Context, userID string, r io.Reader, size int64) (storage.Media, error) {
	if a.media == nil {
		return storage.Media{}, ErrMediaUnavailable
	}
	media, err := a.media.Upload(ctx, userID, r, size)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrEmptyFile):
			return storage.Media{}, err
		}
		return storage.Media{}, fmt.Errorf("store media: %w", err)
	}
	util.LoggerFromContext(ctx).Info("media_uploaded", "user_id", userID, "key", media.Key, "content_type", media.ContentType)
	return media, nil
}
