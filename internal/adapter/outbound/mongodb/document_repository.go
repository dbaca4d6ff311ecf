package mongodb

import (
	"context"
	"fmt"
	"time"

	"embeddingjob/internal/domain/entity"
	"embeddingjob/internal/port/outbound"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// articleRecord is the stored shape of an article. Metadata fields other than
// headline, state and displayDate land in Extra so absent fields stay absent.
type articleRecord struct {
	ID          any        `bson:"_id"`
	Headline    *string    `bson:"headline"`
	Standfirst  *string    `bson:"standfirst"`
	Body        *bodyDoc   `bson:"body"`
	DisplayDate *time.Time `bson:"displayDate"`
	State       *string    `bson:"state"`
	Extra       bson.M     `bson:",inline"`
}

type bodyDoc struct {
	Widgets []widgetDoc `bson:"widgets"`
}

type widgetDoc struct {
	Type string `bson:"type"`
	HTML string `bson:"html"`
}

// articleProjection limits reads to the fields a job uses.
var articleProjection = bson.D{ //nolint:gochecknoglobals // read-only projection
	{Key: "headline", Value: 1},
	{Key: "standfirst", Value: 1},
	{Key: "body.widgets", Value: 1},
	{Key: "displayDate", Value: 1},
	{Key: "state", Value: 1},
	{Key: entity.MetadataTags, Value: 1},
	{Key: entity.MetadataCategory, Value: 1},
	{Key: entity.MetadataContentType, Value: 1},
	{Key: entity.MetadataSubContentType, Value: 1},
	{Key: entity.MetadataInstance, Value: 1},
	{Key: entity.MetadataAuthor, Value: 1},
}

// DocumentRepository reads articles. It never writes them.
type DocumentRepository struct {
	collection *mongo.Collection
}

// NewDocumentRepository creates a document repository on the articles collection.
func NewDocumentRepository(conn *Connection) *DocumentRepository {
	return &DocumentRepository{collection: conn.collection(conn.collections.Articles)}
}

// EnsureIndexes creates the ascending display date index.
func (r *DocumentRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "displayDate", Value: 1}},
	})
	return wrapError(err, "create displayDate index")
}

// CountPublished counts the documents matching query, honouring its limit.
func (r *DocumentRepository) CountPublished(ctx context.Context, query outbound.DocumentQuery) (int, error) {
	opts := options.Count()
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	n, err := r.collection.CountDocuments(ctx, publishedFilter(query), opts)
	if err != nil {
		return 0, wrapError(err, "count published articles")
	}
	return int(n), nil
}

// FindPublished returns one page of documents matching query ordered by
// display date descending, then _id descending.
func (r *DocumentRepository) FindPublished(
	ctx context.Context,
	query outbound.DocumentQuery,
	skip, limit int,
) ([]*entity.Document, error) {
	if query.Limit > 0 {
		if skip >= query.Limit {
			return nil, nil
		}
		if limit <= 0 || skip+limit > query.Limit {
			limit = query.Limit - skip
		}
	}

	opts := options.Find().
		SetProjection(articleProjection).
		SetSort(bson.D{{Key: "displayDate", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, publishedFilter(query), opts)
	if err != nil {
		return nil, wrapError(err, "find published articles")
	}
	docs, err := decodeArticles(ctx, cursor)
	if err != nil {
		return nil, wrapError(err, "decode published articles")
	}
	return docs, nil
}

// FindByIDs looks up documents by ID in one query. IDs that are valid
// ObjectID hex strings match both ObjectID and string keys.
func (r *DocumentRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*entity.Document, error) {
	found := make(map[string]*entity.Document, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make(bson.A, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			keys = append(keys, oid)
		}
	}

	cursor, err := r.collection.Find(ctx,
		bson.M{"_id": bson.M{"$in": keys}},
		options.Find().SetProjection(articleProjection),
	)
	if err != nil {
		return nil, wrapError(err, "find articles by id")
	}
	docs, err := decodeArticles(ctx, cursor)
	if err != nil {
		return nil, wrapError(err, "decode articles")
	}
	for _, d := range docs {
		found[d.ID] = d
	}
	return found, nil
}

func publishedFilter(query outbound.DocumentQuery) bson.M {
	return bson.M{
		"displayDate": bson.M{"$gte": query.DisplayedSince},
		"state":       query.State,
	}
}

func decodeArticles(ctx context.Context, cursor *mongo.Cursor) ([]*entity.Document, error) {
	defer func() { _ = cursor.Close(ctx) }()

	var docs []*entity.Document
	for cursor.Next(ctx) {
		var record articleRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, err
		}
		doc, err := record.toEntity()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cursor.Err()
}

func (a articleRecord) toEntity() (*entity.Document, error) {
	id, err := documentID(a.ID)
	if err != nil {
		return nil, err
	}

	doc := &entity.Document{ID: id, Fields: make(map[string]any)}
	if a.Headline != nil {
		doc.Headline = *a.Headline
		doc.Fields[entity.MetadataHeadline] = *a.Headline
	}
	if a.Standfirst != nil {
		doc.Standfirst = *a.Standfirst
	}
	if a.State != nil {
		doc.State = *a.State
		doc.Fields[entity.MetadataState] = *a.State
	}
	if a.DisplayDate != nil {
		doc.DisplayDate = a.DisplayDate.UTC()
		doc.Fields[entity.MetadataDisplayDate] = doc.DisplayDate
	}
	if a.Body != nil {
		for _, w := range a.Body.Widgets {
			doc.Body = append(doc.Body, entity.ContentBlock{Type: w.Type, HTML: w.HTML})
		}
	}
	for _, key := range entity.VectorMetadataKeys {
		if value, ok := a.Extra[key]; ok && value != nil {
			doc.Fields[key] = plainValue(value)
		}
	}
	return doc, nil
}

func documentID(raw any) (string, error) {
	switch id := raw.(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	case string:
		return id, nil
	default:
		return "", fmt.Errorf("unsupported article _id type %T", raw)
	}
}

// plainValue converts driver types into JSON friendly Go values.
func plainValue(v any) any {
	switch value := v.(type) {
	case primitive.A:
		out := make([]any, 0, len(value))
		for _, item := range value {
			out = append(out, plainValue(item))
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(value))
		for _, e := range value {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = plainValue(item)
		}
		return out
	case primitive.DateTime:
		return value.Time().UTC()
	case primitive.ObjectID:
		return value.Hex()
	default:
		return v
	}
}
