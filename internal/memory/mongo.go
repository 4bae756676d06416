package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "agent_memory"

// MongoStore keeps transcripts in the "conversations" collection and
// profiles in "user_profiles". Both writes are single-document pipeline
// updates, which MongoDB applies atomically.
type MongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	profiles      *mongo.Collection
	now           func() time.Time
}

type mongoConversation struct {
	SessionID    string    `bson:"session_id"`
	UserID       string    `bson:"user_id"`
	Conversation string    `bson:"conversation"`
	LastUpdated  time.Time `bson:"last_updated"`
}

// OpenMongo connects to uri and opens database (DefaultMongoDatabase
// when empty).
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		conversations: db.Collection("conversations"),
		profiles:      db.Collection("user_profiles"),
		now:           time.Now,
	}

	_, err = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create session index: %w", err)
	}
	_, err = s.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create profile index: %w", err)
	}
	return s, nil
}

// Transcript implements Store.
func (s *MongoStore) Transcript(ctx context.Context, sessionID string) (string, error) {
	var doc mongoConversation
	err := s.conversations.FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", sessionID, err)
	}
	return doc.Conversation, nil
}

// AppendTranscript implements Store.
func (s *MongoStore) AppendTranscript(ctx context.Context, sessionID, userID, text string) error {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "session_id", Value: sessionID},
			{Key: "user_id", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$user_id", literal(userID)}}}},
			{Key: "conversation", Value: bson.D{{Key: "$concat", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$conversation", ""}}},
				literal(text),
			}}}},
			{Key: "last_updated", Value: s.now().UTC()},
		}}},
	}
	_, err := s.conversations.UpdateOne(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append transcript %s: %w", sessionID, err)
	}
	return nil
}

// Profile implements Store.
func (s *MongoStore) Profile(ctx context.Context, userID string) (map[string]any, error) {
	var doc struct {
		Profile bson.M `bson:"profile"`
	}
	err := s.profiles.FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", userID, err)
	}
	out := make(map[string]any, len(doc.Profile))
	for k, v := range doc.Profile {
		out[k] = fromBSON(v)
	}
	return out, nil
}

// MergeProfile implements Store.
func (s *MongoStore) MergeProfile(ctx context.Context, userID string, info map[string]any) error {
	if len(info) == 0 {
		return nil
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "user_id", Value: userID},
			{Key: "profile", Value: bson.D{{Key: "$mergeObjects", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$profile", bson.D{}}}},
				literal(info),
			}}}},
			{Key: "last_updated", Value: s.now().UTC()},
		}}},
	}
	_, err := s.profiles.UpdateOne(ctx,
		bson.D{{Key: "user_id", Value: userID}},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("merge profile %s: %w", userID, err)
	}
	return nil
}

// ListSessions implements Store.
func (s *MongoStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	cur, err := s.conversations.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "last_updated", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var out []SessionInfo
	for cur.Next(ctx) {
		var doc mongoConversation
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, SessionInfo{
			SessionID:   doc.SessionID,
			UserID:      doc.UserID,
			Title:       Title(doc.Conversation),
			LastUpdated: doc.LastUpdated.UTC(),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

// DeleteSession implements Store.
func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.D{{Key: "session_id", Value: sessionID}})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks that the server answers.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from the server.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// literal keeps user text such as "$100" from being read as a field
// path inside an aggregation pipeline.
func literal(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

// fromBSON converts decoded BSON containers to plain Go values.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	default:
		return v
	}
}
