// Package mongodb is the document store: user profiles, tasks and
// subscription records. Task completions update the task and the user's reps
// in one multi-document transaction, so the server must be a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

var (
	UserCollection         string = "users"
	TaskCollection         string = "tasks"
	SubscriptionCollection string = "subscriptions"
	MongoClient            *mongo.Client
)

func InitMongoDB(mongoURI string) error {
	if mongoURI == "" {
		return fmt.Errorf("MONGO_URI environment variable not set")
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(mongoURI).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		logger.Get().Error("failed to connect to MongoDB", zap.Error(err))
		return fmt.Errorf("error connecting to MongoDB: %w", err)
	}

	MongoClient = client
	logger.Get().Info("successfully connected to MongoDB")
	return nil
}

func CloseMongoDB() {
	if MongoClient != nil {
		if err := MongoClient.Disconnect(context.TODO()); err != nil {
			logger.Get().Error("failed to disconnect from MongoDB",
				zap.Error(err))
			return
		}
		logger.Get().Info("successfully disconnected from MongoDB")
	}
}

// Store implements the task repository and the subscription store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewStore(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

func (s *Store) users() *mongo.Collection         { return s.db.Collection(UserCollection) }
func (s *Store) tasks() *mongo.Collection         { return s.db.Collection(TaskCollection) }
func (s *Store) subscriptions() *mongo.Collection { return s.db.Collection(SubscriptionCollection) }

// EnsureIndexes creates the secondary indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.tasks().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date_created", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("error creating task index: %w", err)
	}
	return nil
}

// withTransaction runs fn in a transaction. fn may be retried on transient
// errors and must not have side effects outside the database.
func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	return err
}
