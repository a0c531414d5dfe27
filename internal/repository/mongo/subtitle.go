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

type SubtitleRepository struct {
	collection *mongo.Collection
}

type subtitleDoc struct {
	ContentID string `bson:"contentId"`
	Language  string `bson:"language"`
	FilePath  string `bson:"filePath"`
	CreatedAt int64  `bson:"createdAt"`
}

func NewSubtitleRepository(client *mongo.Client, dbName, collectionName string) *SubtitleRepository {
	return &SubtitleRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func (r *SubtitleRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "contentId", Value: 1}, {Key: "language", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *SubtitleRepository) Upsert(ctx context.Context, s domain.SubtitleRecord) error {
	filter := bson.M{"contentId": string(s.ContentID), "language": s.Language}
	update := bson.M{"$set": toSubtitleDoc(s)}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *SubtitleRepository) Get(ctx context.Context, id domain.ContentID, language string) (domain.SubtitleRecord, error) {
	var doc subtitleDoc
	filter := bson.M{"contentId": string(id), "language": language}
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SubtitleRecord{}, domain.ErrNotFound
		}
		return domain.SubtitleRecord{}, err
	}
	return fromSubtitleDoc(doc), nil
}

func (r *SubtitleRepository) ListByContent(ctx context.Context, id domain.ContentID) ([]domain.SubtitleRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"contentId": string(id)})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []subtitleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromSubtitleDocs(docs), nil
}

func (r *SubtitleRepository) DeleteByContent(ctx context.Context, id domain.ContentID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"contentId": string(id)})
	return err
}

// DeleteOlderThan removes subtitle rows created before cutoff and returns
// the removed records so the caller can delete their files.
func (r *SubtitleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]domain.SubtitleRecord, error) {
	filter := bson.M{"createdAt": bson.M{"$lt": cutoff.Unix()}}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []subtitleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	if _, err := r.collection.DeleteMany(ctx, filter); err != nil {
		return nil, err
	}
	return fromSubtitleDocs(docs), nil
}

func toSubtitleDoc(s domain.SubtitleRecord) subtitleDoc {
	return subtitleDoc{
		ContentID: string(s.ContentID),
		Language:  s.Language,
		FilePath:  s.FilePath,
		CreatedAt: s.CreatedAt.Unix(),
	}
}

func fromSubtitleDoc(doc subtitleDoc) domain.SubtitleRecord {
	return domain.SubtitleRecord{
		ContentID: domain.ContentID(doc.ContentID),
		Language:  doc.Language,
		FilePath:  doc.FilePath,
		CreatedAt: timeFromUnix(doc.CreatedAt),
	}
}

func fromSubtitleDocs(docs []subtitleDoc) []domain.SubtitleRecord {
	records := make([]domain.SubtitleRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromSubtitleDoc(doc))
	}
	return records
}
