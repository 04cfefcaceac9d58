package mongodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/pilab-dev/datelink/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PhotoStore keeps profile images in a GridFS bucket.
type PhotoStore struct {
	bucket  *mongo.GridFSBucket
	baseURL string
}

// NewPhotoStore creates a store whose URLs are baseURL + "/photos/" + name.
func NewPhotoStore(db *mongo.Database, baseURL string) *PhotoStore {
	return &PhotoStore{
		bucket:  db.GridFSBucket(options.GridFSBucket().SetName(PhotosBucket)),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PutPhoto uploads data under name and returns its public URL.
func (s *PhotoStore) PutPhoto(ctx context.Context, name, contentType string, data io.Reader) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "content_type", Value: contentType}})
	if _, err := s.bucket.UploadFromStream(ctx, name, data, opts); err != nil {
		log.Error().Err(err).Str("name", name).Msg("Error uploading photo to GridFS")
		return "", classify(err, "upload photo")
	}
	return s.baseURL + "/photos/" + url.PathEscape(name), nil
}

// OpenPhoto opens the newest revision of name.
func (s *PhotoStore) OpenPhoto(ctx context.Context, name string) (io.ReadCloser, error) {
	stream, err := s.bucket.OpenDownloadStreamByName(ctx, name)
	if err != nil {
		if errors.Is(err, mongo.ErrFileNotFound) {
			return nil, fmt.Errorf("open photo %s: %w", name, domain.ErrNotFound)
		}
		return nil, classify(err, "open photo")
	}
	return stream, nil
}

var _ domain.PhotoStore = (*PhotoStore)(nil)
