package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rendez/signal-server/internal/core/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionsCollection = "sessions"

// SessionRepository is the Mongo-backed ports.SessionRepository. Sessions
// are write-once/read-many: one document per issued token, retired by a
// TTL index on expires_at rather than an explicit delete path.
type SessionRepository struct {
	coll *mongo.Collection
}

func NewSessionRepository(db *mongo.Database) *SessionRepository {
	return &SessionRepository{coll: db.Collection(sessionsCollection)}
}

// EnsureIndexes creates the lookup index on user_id and the TTL index
// that expires sessions at their recorded expires_at.
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

type mongoSession struct {
	UserID    string    `bson:"user_id"`
	MachineID string    `bson:"machine_id,omitempty"`
	TokenHash string    `bson:"token_hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	doc := mongoSession{
		UserID:    session.UserID,
		MachineID: session.MachineID,
		TokenHash: session.TokenHash,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}
