package mongodb

import (
	"context"
	"fmt"

	"github.com/XeroHax/accountability-app/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) InsertTasks(ctx context.Context, ts []models.Task) error {
	if len(ts) == 0 {
		return nil
	}
	if _, err := s.tasks().InsertMany(ctx, ts); err != nil {
		return fmt.Errorf("error inserting tasks: %w", err)
	}
	return nil
}

// ListTasks returns every task owned by userID, soft-deleted ones included,
// oldest first.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date_created", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.tasks().Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var ts []models.Task
	for cursor.Next(ctx) {
		var t models.Task
		if err := cursor.Decode(&t); err != nil {
			return nil, fmt.Errorf("error decoding task: %w", err)
		}
		ts = append(ts, t)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return ts, nil
}

func (s *Store) getTask(ctx context.Context, userID, taskID string) (*models.Task, error) {
	var t models.Task
	if err := s.tasks().FindOne(ctx, bson.M{"_id": taskID, "user_id": userID}).Decode(&t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) replaceTask(ctx context.Context, t *models.Task) error {
	if _, err := s.tasks().ReplaceOne(ctx, bson.M{"_id": t.ID, "user_id": t.UserID}, t); err != nil {
		return fmt.Errorf("error replacing task: %w", err)
	}
	return nil
}

func (s *Store) MutateTask(ctx context.Context, userID, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	var out *models.Task
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		t, err := s.getTask(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		if err := s.replaceTask(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MutateTaskAndUser applies fn to a task and its owner and writes both in one
// transaction.
func (s *Store) MutateTaskAndUser(ctx context.Context, userID, taskID string, fn func(*models.Task, *models.User) error) (*models.Task, *models.User, error) {
	var (
		outTask *models.Task
		outUser *models.User
	)
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		t, err := s.getTask(ctx, userID, taskID)
		if err != nil {
			return err
		}
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(t, u); err != nil {
			return err
		}
		if err := s.replaceTask(ctx, t); err != nil {
			return err
		}
		if _, err := s.users().ReplaceOne(ctx, bson.M{"_id": userID}, u); err != nil {
			return fmt.Errorf("error replacing user: %w", err)
		}
		outTask, outUser = t, u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outTask, outUser, nil
}
