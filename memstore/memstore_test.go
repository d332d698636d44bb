package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XeroHax/accountability-app/billing"
	"github.com/XeroHax/accountability-app/models"
	"github.com/XeroHax/accountability-app/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ tasks.Repository          = (*Store)(nil)
	_ billing.SubscriptionStore = (*Store)(nil)
)

func TestCreateUserOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateUser(ctx, &models.User{ID: "u1", Email: "first"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateUser(ctx, &models.User{ID: "u1", Email: "second"})
	require.NoError(t, err)
	assert.False(t, created)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "first", u.Email)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMutateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, &models.User{ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, s.InsertTasks(ctx, []models.Task{{ID: "t1", UserID: "u1", PeriodFrequency: 2, Status: true}}))

	boom := errors.New("boom")
	_, _, err = s.MutateTaskAndUser(ctx, "u1", "t1", func(t *models.Task, u *models.User) error {
		t.CompletionsCount = 2
		u.Reps = 9
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ts, err := s.ListTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, ts[0].CompletionsCount)
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.Reps)
}

func TestGoalIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, &models.User{ID: "u1", Goal: &models.Goal{Text: "a"}})
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.Goal.Text = "changed"

	again, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Goal.Text)
}

func TestConcurrentCompletions(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateUser(ctx, &models.User{ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, s.InsertTasks(ctx, []models.Task{{ID: "t1", UserID: "u1", PeriodFrequency: 31, Period: 1, Status: true}}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.MutateTaskAndUser(ctx, "u1", "t1", func(t *models.Task, u *models.User) error {
				tasks.Policy{}.Complete(t, u)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, u.Reps)
	ts, err := s.ListTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 31, ts[0].CompletionsCount)
}

func TestSubscriptionPeriodUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{})
	assert.ErrorIs(t, err, models.ErrNotFound)

	start := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{UserID: "u1", Status: "active", CurrentPeriodStart: start, DiscountProcessed: true}))
	require.NoError(t, s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{
		StripeSubscriptionID: "sub_2",
		CurrentPeriodEnd:     start.AddDate(0, 1, 0),
	}))

	sub, err := s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_2", sub.StripeSubscriptionID)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, start, sub.CurrentPeriodStart)
	assert.False(t, sub.DiscountProcessed)
}

func TestSubscriptionPeriodUpdateKeepsMissingDates(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{UserID: "u1", Status: "active", CurrentPeriodStart: start, CurrentPeriodEnd: end}))

	require.NoError(t, s.UpdateSubscriptionPeriod(ctx, "u1", models.SubscriptionPeriodUpdate{StripeSubscriptionID: "sub_1"}))

	sub, err := s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, start, sub.CurrentPeriodStart)
	assert.Equal(t, end, sub.CurrentPeriodEnd)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
}
