package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/XeroHax/accountability-app/billing"
	"github.com/XeroHax/accountability-app/models"
	"github.com/XeroHax/accountability-app/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	_ tasks.Repository          = (*Store)(nil)
	_ billing.SubscriptionStore = (*Store)(nil)
)

// testStore connects to MONGO_TEST_URI, which must point at a replica set.
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	name := "accountability_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		ctx := context.Background()
		client.Database(name).Drop(ctx)
		client.Disconnect(ctx)
	})
	s := NewStore(client, name)
	require.NoError(t, s.EnsureIndexes(context.Background()))
	return s
}

func TestStoreUsersAndTasks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	created, err := s.CreateUser(ctx, &models.User{ID: "u1", Email: "a@b.c", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateUser(ctx, &models.User{ID: "u1", Email: "x@y.z"})
	require.NoError(t, err)
	assert.False(t, created)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.Email)

	task, err := tasks.New("u1", "read", 1, 1, now)
	require.NoError(t, err)
	require.NoError(t, s.InsertTasks(ctx, []models.Task{*task}))

	gotTask, gotUser, err := s.MutateTaskAndUser(ctx, "u1", task.ID, func(t *models.Task, u *models.User) error {
		tasks.Policy{}.Complete(t, u)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gotTask.CompletionsCount)
	assert.Equal(t, 1, gotUser.Reps)

	_, err = s.MutateTask(ctx, "someone-else", task.ID, func(*models.Task) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)

	ts, err := s.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, 1, ts[0].CompletionsCount)
}

func TestStoreSubscriptions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{StripeSubscriptionID: "sub_1"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{UserID: "u1", StripeSubscriptionID: "sub_1", Status: "active", PricePerDay: "3", DiscountProcessed: true}))
	end := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{StripeSubscriptionID: "sub_2", CurrentPeriodEnd: end}))

	sub, err := s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_2", sub.StripeSubscriptionID)
	assert.Equal(t, "active", sub.Status)
	assert.False(t, sub.DiscountProcessed)
	assert.True(t, end.Equal(sub.CurrentPeriodEnd))

	require.NoError(t, s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{StripeSubscriptionID: "sub_3"}))
	sub, err = s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_3", sub.StripeSubscriptionID)
	assert.True(t, end.Equal(sub.CurrentPeriodEnd))
}
