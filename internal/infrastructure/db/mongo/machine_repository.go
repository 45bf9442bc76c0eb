package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rendez/signal-server/internal/core/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const machinesCollection = "machines"

// MachineRepository is the Mongo-backed ports.MachineRepository (spec
// §4.A, §4.C). Invariant: (user_id, name) is unique — enforced by a
// compound unique index, standing in for the SQL unique constraint the
// data model describes.
type MachineRepository struct {
	coll *mongo.Collection
}

func NewMachineRepository(db *mongo.Database) *MachineRepository {
	return &MachineRepository{coll: db.Collection(machinesCollection)}
}

// EnsureIndexes creates the compound unique index and the is_online
// index used by the stale sweep. Call once at startup.
func (r *MachineRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "is_online", Value: 1}}},
	})
	return err
}

type mongoMachine struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UserID       string             `bson:"user_id"`
	Name         string             `bson:"name"`
	Platform     string             `bson:"platform"`
	Capabilities mongoCapabilities  `bson:"capabilities"`
	LastSeen     int64              `bson:"last_seen"`
	IsOnline     bool               `bson:"is_online"`
	CreatedAt    int64              `bson:"created_at"`
}

type mongoCapabilities struct {
	HasGit    bool `bson:"has_git"`
	HasNode   bool `bson:"has_node"`
	HasRust   bool `bson:"has_rust"`
	HasPython bool `bson:"has_python"`
}

// Upsert implements the spec §3 invariant: re-registering (user_id, name)
// flips platform/capabilities/is_online/last_seen on the existing row
// rather than inserting a duplicate.
func (r *MachineRepository) Upsert(ctx context.Context, reg domain.MachineRegistration) (*domain.Machine, error) {
	now := time.Now().UTC()
	filter := bson.M{"user_id": reg.UserID, "name": reg.Name}
	update := bson.M{
		"$set": bson.M{
			"platform":     string(reg.Platform),
			"capabilities": toMongoCapabilities(reg.Capabilities),
			"is_online":    true,
			"last_seen":    now.Unix(),
		},
		"$setOnInsert": bson.M{
			"user_id":    reg.UserID,
			"name":       reg.Name,
			"created_at": now.Unix(),
		},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var mm mongoMachine
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mm); err != nil {
		return nil, fmt.Errorf("upsert machine: %w", err)
	}
	return toDomainMachine(mm), nil
}

func (r *MachineRepository) SetOnline(ctx context.Context, id string, online bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrMachineNotFound
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"is_online": online, "last_seen": time.Now().UTC().Unix()},
	})
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrMachineNotFound
	}
	return nil
}

func (r *MachineRepository) Heartbeat(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrMachineNotFound
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"last_seen": time.Now().UTC().Unix()},
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrMachineNotFound
	}
	return nil
}

func (r *MachineRepository) ListByUser(ctx context.Context, userID string) ([]domain.Machine, error) {
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Machine
	for cur.Next(ctx) {
		var mm mongoMachine
		if err := cur.Decode(&mm); err != nil {
			return nil, fmt.Errorf("decode machine: %w", err)
		}
		out = append(out, *toDomainMachine(mm))
	}
	return out, cur.Err()
}

func (r *MachineRepository) GetByID(ctx context.Context, id string) (*domain.Machine, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrMachineNotFound
	}
	var mm mongoMachine
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&mm); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrMachineNotFound
		}
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return toDomainMachine(mm), nil
}

// SweepStale atomically sets is_online=false on every machine currently
// online whose last_seen predates now-timeout, returning their ids.
func (r *MachineRepository) SweepStale(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-timeout).Unix()
	filter := bson.M{"is_online": true, "last_seen": bson.M{"$lt": cutoff}}

	cur, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("sweep find: %w", err)
	}
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return nil, fmt.Errorf("sweep decode: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := r.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_online": false}}); err != nil {
		return nil, fmt.Errorf("sweep update: %w", err)
	}
	return ids, nil
}

func (r *MachineRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid, "user_id": userID})
	if err != nil {
		return false, fmt.Errorf("delete machine: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *MachineRepository) Rename(ctx context.Context, userID, id, newName string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid, "user_id": userID}, bson.M{
		"$set": bson.M{"name": newName},
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, domain.ErrMachineNameTaken
		}
		return false, fmt.Errorf("rename machine: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func toMongoCapabilities(c domain.Capabilities) mongoCapabilities {
	return mongoCapabilities{HasGit: c.HasGit, HasNode: c.HasNode, HasRust: c.HasRust, HasPython: c.HasPython}
}

func toDomainMachine(mm mongoMachine) *domain.Machine {
	return &domain.Machine{
		ID:       mm.ID.Hex(),
		UserID:   mm.UserID,
		Name:     mm.Name,
		Platform: domain.Platform(mm.Platform),
		Capabilities: domain.Capabilities{
			HasGit:    mm.Capabilities.HasGit,
			HasNode:   mm.Capabilities.HasNode,
			HasRust:   mm.Capabilities.HasRust,
			HasPython: mm.Capabilities.HasPython,
		},
		LastSeen:  unixToTime(mm.LastSeen),
		IsOnline:  mm.IsOnline,
		CreatedAt: unixToTime(mm.CreatedAt),
	}
}
