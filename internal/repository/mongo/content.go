package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hypertube/internal/domain"
)

type ContentRepository struct {
	collection *mongo.Collection
}

type contentDoc struct {
	ID           string `bson:"_id"`
	ImdbID       string `bson:"imdbId,omitempty"`
	Title        string `bson:"title,omitempty"`
	Year         int    `bson:"year,omitempty"`
	MagnetLink   string `bson:"magnetLink,omitempty"`
	Status       string `bson:"status"`
	VideoPath    string `bson:"videoPath,omitempty"`
	LastAccessed int64  `bson:"lastAccessed"`
	CreatedAt    int64  `bson:"createdAt"`
	UpdatedAt    int64  `bson:"updatedAt"`
}

func NewContentRepository(client *mongo.Client, dbName, collectionName string) *ContentRepository {
	return &ContentRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *ContentRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "lastAccessed", Value: 1}}},
		{Keys: bson.D{{Key: "imdbId", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *ContentRepository) Create(ctx context.Context, c domain.ContentRecord) error {
	_, err := r.collection.InsertOne(ctx, toContentDoc(c))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *ContentRepository) Get(ctx context.Context, id domain.ContentID) (domain.ContentRecord, error) {
	var doc contentDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ContentRecord{}, domain.ErrNotFound
		}
		return domain.ContentRecord{}, err
	}
	return fromContentDoc(doc), nil
}

func (r *ContentRepository) List(ctx context.Context, filter domain.ContentFilter) ([]domain.ContentRecord, error) {
	query := bson.M{}
	if filter.Status != nil {
		query["status"] = string(*filter.Status)
	}
	if filter.AccessedBefore != nil {
		query["lastAccessed"] = bson.M{"$lt": filter.AccessedBefore.Unix()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "lastAccessed", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []contentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.ContentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromContentDoc(doc))
	}
	return records, nil
}

func (r *ContentRepository) SetStatus(ctx context.Context, id domain.ContentID, status domain.ContentStatus) error {
	return r.update(ctx, id, bson.M{
		"status":    string(status),
		"updatedAt": time.Now().UTC().Unix(),
	})
}

func (r *ContentRepository) SetReady(ctx context.Context, id domain.ContentID, videoPath string) error {
	now := time.Now().UTC().Unix()
	return r.update(ctx, id, bson.M{
		"status":       string(domain.StatusReady),
		"videoPath":    videoPath,
		"lastAccessed": now,
		"updatedAt":    now,
	})
}

func (r *ContentRepository) SetDownloading(ctx context.Context, id domain.ContentID, magnetLink string) error {
	return r.update(ctx, id, bson.M{
		"status":     string(domain.StatusDownloading),
		"magnetLink": magnetLink,
		"updatedAt":  time.Now().UTC().Unix(),
	})
}

// Reclaim resets a record to pending and detaches its video file reference.
func (r *ContentRepository) Reclaim(ctx context.Context, id domain.ContentID) error {
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(id)},
		bson.M{
			"$set": bson.M{
				"status":    string(domain.StatusPending),
				"updatedAt": time.Now().UTC().Unix(),
			},
			"$unset": bson.M{"videoPath": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ContentRepository) TouchLastAccessed(ctx context.Context, id domain.ContentID) error {
	return r.update(ctx, id, bson.M{"lastAccessed": time.Now().UTC().Unix()})
}

func (r *ContentRepository) update(ctx context.Context, id domain.ContentID, set bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": string(id)}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toContentDoc(c domain.ContentRecord) contentDoc {
	return contentDoc{
		ID:           string(c.ID),
		ImdbID:       c.ImdbID,
		Title:        c.Title,
		Year:         c.Year,
		MagnetLink:   c.MagnetLink,
		Status:       string(c.Status),
		VideoPath:    c.VideoPath,
		LastAccessed: c.LastAccessed.Unix(),
		CreatedAt:    c.CreatedAt.Unix(),
		UpdatedAt:    c.UpdatedAt.Unix(),
	}
}

func fromContentDoc(doc contentDoc) domain.ContentRecord {
	return domain.ContentRecord{
		ID:           domain.ContentID(doc.ID),
		ImdbID:       doc.ImdbID,
		Title:        doc.Title,
		Year:         doc.Year,
		MagnetLink:   doc.MagnetLink,
		Status:       domain.ContentStatus(doc.Status),
		VideoPath:    doc.VideoPath,
		LastAccessed: timeFromUnix(doc.LastAccessed),
		CreatedAt:    timeFromUnix(doc.CreatedAt),
		UpdatedAt:    timeFromUnix(doc.UpdatedAt),
	}
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}
