package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bitfinder/internal/domain"
)

const DefaultCollection = "sessions"

// Repository mirrors the persisted session set into a collection, one
// document per infohash. It satisfies ports.StateStore.
type Repository struct {
	collection *mongo.Collection
	now        func() time.Time
}

type metadataDoc struct {
	Title    string `bson:"title"`
	Provider string `bson:"provider"`
	Size     string `bson:"size"`
}

type sessionDoc struct {
	ID        string       `bson:"_id"`
	MagnetURI string       `bson:"magnetURI"`
	Paused    bool         `bson:"paused"`
	Done      bool         `bson:"done"`
	AddedAt   int64        `bson:"addedAt"`
	Metadata  *metadataDoc `bson:"metadata,omitempty"`
	UpdatedAt int64        `bson:"updatedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	if strings.TrimSpace(collectionName) == "" {
		collectionName = DefaultCollection
	}
	return &Repository{
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "addedAt", Value: 1}}},
		{Keys: bson.D{{Key: "metadata.title", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Save replaces the mirrored set with state. Documents for sessions no
// longer present are deleted.
func (r *Repository) Save(ctx context.Context, state domain.PersistedState) error {
	now := r.now().UTC().UnixMilli()
	ids := make([]string, 0, len(state.Torrents))
	models := make([]mongo.WriteModel, 0, len(state.Torrents))
	for hash, record := range state.Torrents {
		ids = append(ids, hash)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": hash}).
			SetReplacement(toDoc(hash, record, now)).
			SetUpsert(true))
	}

	if len(models) > 0 {
		if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("upsert sessions: %w", err)
		}
	}
	if _, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$nin": ids}}); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	return nil
}

func (r *Repository) Load(ctx context.Context) (domain.PersistedState, error) {
	opts := options.Find().SetSort(bson.D{{Key: "addedAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return domain.PersistedState{}, err
	}
	defer cursor.Close(ctx)

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.PersistedState{}, err
	}
	return fromDocs(docs), nil
}

func toDoc(hash string, r domain.PersistedRecord, updatedAt int64) sessionDoc {
	doc := sessionDoc{
		ID:        strings.ToLower(hash),
		MagnetURI: r.MagnetURI,
		Paused:    r.Paused,
		Done:      r.Done,
		AddedAt:   r.AddedAt,
		UpdatedAt: updatedAt,
	}
	if r.Metadata != nil && !r.Metadata.IsZero() {
		doc.Metadata = &metadataDoc{
			Title:    r.Metadata.Title,
			Provider: r.Metadata.Provider,
			Size:     r.Metadata.Size,
		}
	}
	return doc
}

func fromDoc(doc sessionDoc) domain.PersistedRecord {
	record := domain.PersistedRecord{
		MagnetURI: doc.MagnetURI,
		Paused:    doc.Paused,
		Done:      doc.Done,
		AddedAt:   doc.AddedAt,
	}
	if doc.Metadata != nil {
		record.Metadata = &domain.SessionMetadata{
			Title:    doc.Metadata.Title,
			Provider: doc.Metadata.Provider,
			Size:     doc.Metadata.Size,
		}
	}
	return record
}

func fromDocs(docs []sessionDoc) domain.PersistedState {
	state := domain.NewPersistedState()
	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}
		state.Torrents[doc.ID] = fromDoc(doc)
	}
	return state
}
