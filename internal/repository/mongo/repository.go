package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediastream/internal/domain"
)

// MediaRepository resolves catalog file ids to on-disk paths and stores the
// codec facts discovered by probing. The library scanner that inserts the
// documents runs in a separate service.
type MediaRepository struct {
	collection *mongo.Collection
}

type mediaFileDoc struct {
	ID         string `bson:"_id"`
	ItemID     string `bson:"itemId"`
	Path       string `bson:"path"`
	Size       int64  `bson:"size,omitempty"`
	Container  string `bson:"container,omitempty"`
	VideoCodec string `bson:"videoCodec,omitempty"`
	AudioCodec string `bson:"audioCodec,omitempty"`
	Width      int    `bson:"width,omitempty"`
	Height     int    `bson:"height,omitempty"`
	UpdatedAt  int64  `bson:"updatedAt,omitempty"`
}

func NewMediaRepository(client *mongo.Client, dbName string) *MediaRepository {
	return &MediaRepository{collection: client.Database(dbName).Collection("media_files")}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *MediaRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "itemId", Value: 1}}},
		{Keys: bson.D{{Key: "path", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Resolve maps a file id to its catalog record.
func (r *MediaRepository) Resolve(ctx context.Context, fileID string) (domain.MediaFile, error) {
	var doc mediaFileDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": fileID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MediaFile{}, err
	}
	return domain.MediaFile{
		ID:     doc.ID,
		ItemID: doc.ItemID,
		Path:   doc.Path,
		Size:   doc.Size,
	}, nil
}

// SaveProbeFacts writes discovered codec metadata back onto the file record.
// The prober calls this best-effort; a write failure never fails a playback
// request.
func (r *MediaRepository) SaveProbeFacts(ctx context.Context, fileID string, probe domain.ProbeResult, size int64) error {
	update := bson.M{
		"videoCodec": probe.VideoCodec,
		"audioCodec": probe.AudioCodec,
		"width":      probe.Width,
		"height":     probe.Height,
		"updatedAt":  time.Now().Unix(),
	}
	if size > 0 {
		update["size"] = size
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": fileID}, bson.M{"$set": update})
	return err
}
