package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// MongoStore implements Store on a MongoDB collection. Expired documents are
// also removed by the server through a TTL index on expires_at.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a MongoDB-backed session store. Call EnsureIndexes
// once before use.
func NewMongoStore(coll *mongo.Collection, opts ...Option) *MongoStore {
	o := buildOptions(opts)
	return &MongoStore{coll: coll, now: o.now}
}

// EnsureIndexes creates the lookup indexes and the TTL index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "refresh_token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("creating session indexes: %w", err)
	}
	return nil
}

// Create inserts a new valid session.
func (s *MongoStore) Create(ctx context.Context, p CreateParams) (*Session, error) {
	sess, err := newSession(p, s.now())
	if err != nil {
		return nil, err
	}
	// BSON dates have millisecond precision.
	sess.CreatedAt = sess.CreatedAt.Truncate(time.Millisecond)
	sess.ExpiresAt = sess.ExpiresAt.Truncate(time.Millisecond)

	if _, err := s.coll.InsertOne(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// FindValid returns the valid, unexpired session for a raw refresh token.
func (s *MongoStore) FindValid(ctx context.Context, refreshToken string) (*Session, error) {
	return s.findOne(ctx, bson.M{
		"refresh_token_hash": HashToken(refreshToken),
		"is_valid":           true,
		"expires_at":         bson.M{"$gt": s.now().UTC()},
	})
}

// GetByID returns a session in any state.
func (s *MongoStore) GetByID(ctx context.Context, id string) (*Session, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Session, error) {
	var sess Session
	if err := s.coll.FindOne(ctx, filter).Decode(&sess); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return &sess, nil
}

// Invalidate marks the session for a raw refresh token invalid. Idempotent.
func (s *MongoStore) Invalidate(ctx context.Context, refreshToken string, reason Reason) error {
	_, err := s.invalidate(ctx, bson.M{"refresh_token_hash": HashToken(refreshToken)}, reason)
	return err
}

// InvalidateByID marks a session invalid by id. Idempotent.
func (s *MongoStore) InvalidateByID(ctx context.Context, id string, reason Reason) error {
	_, err := s.invalidate(ctx, bson.M{"_id": id}, reason)
	return err
}

// InvalidateAllForUser invalidates every valid session of a user.
func (s *MongoStore) InvalidateAllForUser(ctx context.Context, userID string, reason Reason) (int64, error) {
	return s.invalidate(ctx, bson.M{"user_id": userID}, reason)
}

// InvalidateAllForUserExcept invalidates every valid session of a user but keepID.
func (s *MongoStore) InvalidateAllForUserExcept(ctx context.Context, userID, keepID string, reason Reason) (int64, error) {
	return s.invalidate(ctx, bson.M{"user_id": userID, "_id": bson.M{"$ne": keepID}}, reason)
}

func (s *MongoStore) invalidate(ctx context.Context, filter bson.M, reason Reason) (int64, error) {
	filter["is_valid"] = true
	update := bson.M{"$set": bson.M{
		"is_valid":       false,
		"invalidated_at": s.now().UTC(),
		"invalid_reason": reason,
	}}

	result, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("invalidating sessions: %w", err)
	}
	return result.ModifiedCount, nil
}

// ListActive returns a user's valid, unexpired sessions, newest first.
func (s *MongoStore) ListActive(ctx context.Context, userID string) ([]Session, error) {
	return s.List(ctx, auth.Query{auth.OwnerKey: userID})
}

// List returns valid, unexpired sessions matching the query, newest first.
func (s *MongoStore) List(ctx context.Context, q auth.Query) ([]Session, error) {
	userID, scoped, err := ownerFilter(q)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"is_valid":   true,
		"expires_at": bson.M{"$gt": s.now().UTC()},
	}
	if scoped {
		filter["user_id"] = userID
	}

	cursor, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := []Session{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decoding sessions: %w", err)
	}
	return sessions, nil
}

// DeleteStale removes invalid sessions and any expired ones the TTL monitor
// has not reached yet.
func (s *MongoStore) DeleteStale(ctx context.Context) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"is_valid": false},
		bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}},
	}})
	if err != nil {
		return 0, fmt.Errorf("deleting stale sessions: %w", err)
	}
	return result.DeletedCount, nil
}
