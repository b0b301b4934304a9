package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "sketchbot"

const countersID = "counters"

// MongoStore keeps users in the "users" collection (one document per user,
// _id is the Telegram ID) and the image counter in the "meta" collection.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	meta   *mongo.Collection
	Clock  Clock
}

// NewMongoStore connects to uri and uses the given database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	return &MongoStore{
		client: client,
		users:  db.Collection("users"),
		meta:   db.Collection("meta"),
	}, nil
}

func (s *MongoStore) Track(ctx context.Context, id int64, username string) error {
	now := s.Clock.now().UTC()
	update := bson.M{
		"$set":         bson.M{"username": username, "last_active": now},
		"$setOnInsert": bson.M{"first_seen": now, "images_processed": int64(0)},
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("track user %d: %w", id, err)
	}
	return nil
}

func (s *MongoStore) IncrementImages(ctx context.Context, id int64) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"images_processed": int64(1)}})
	if err != nil {
		return fmt.Errorf("increment images for %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	_, err = s.meta.UpdateOne(ctx,
		bson.M{"_id": countersID},
		bson.M{"$inc": bson.M{"total_images": int64(1)}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("increment total images: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *MongoStore) List(ctx context.Context) ([]User, error) {
	cur, err := s.users.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var list []User
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return list, nil
}

func (s *MongoStore) TotalImages(ctx context.Context) (int64, error) {
	var doc struct {
		TotalImages int64 `bson:"total_images"`
	}
	err := s.meta.FindOne(ctx, bson.M{"_id": countersID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("total images: %w", err)
	}
	return doc.TotalImages, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
