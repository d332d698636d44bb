// Package memstore is an in-process document store with the same contract as
// the MongoDB store. It backs standalone mode and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/XeroHax/accountability-app/models"
)

type Store struct {
	mu            sync.RWMutex
	users         map[string]models.User
	tasks         map[string]models.Task
	subscriptions map[string]models.Subscription
}

func New() *Store {
	return &Store{
		users:         make(map[string]models.User),
		tasks:         make(map[string]models.Task),
		subscriptions: make(map[string]models.Subscription),
	}
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	s.users[u.ID] = copyUser(*u)
	return true, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	u = copyUser(u)
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) MutateUser(ctx context.Context, userID string, fn func(*models.User) error) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	u = copyUser(u)
	if err := fn(&u); err != nil {
		return nil, err
	}
	s.users[userID] = copyUser(u)
	return &u, nil
}

func (s *Store) InsertTasks(ctx context.Context, ts []models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		s.tasks[t.ID] = t
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ts []models.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].DateCreated.Equal(ts[j].DateCreated) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].DateCreated.Before(ts[j].DateCreated)
	})
	return ts, nil
}

func (s *Store) MutateTask(ctx context.Context, userID, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, models.ErrNotFound
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	s.tasks[taskID] = t
	return &t, nil
}

func (s *Store) MutateTaskAndUser(ctx context.Context, userID, taskID string, fn func(*models.Task, *models.User) error) (*models.Task, *models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, nil, models.ErrNotFound
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	u = copyUser(u)
	if err := fn(&t, &u); err != nil {
		return nil, nil, err
	}
	s.tasks[taskID] = t
	s.users[userID] = copyUser(u)
	return &t, &u, nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.UserID] = *sub
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) UpdateSubscriptionPeriod(ctx context.Context, userID string, upd models.SubscriptionPeriodUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return models.ErrNotFound
	}
	applyPeriodUpdate(&sub, upd)
	s.subscriptions[userID] = sub
	return nil
}

func applyPeriodUpdate(sub *models.Subscription, upd models.SubscriptionPeriodUpdate) {
	sub.StripeSubscriptionID = upd.StripeSubscriptionID
	sub.DiscountProcessed = false
	if !upd.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = upd.CurrentPeriodEnd
	}
	if !upd.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = upd.CurrentPeriodStart
	}
	if upd.Status != "" {
		sub.Status = upd.Status
	}
}

// copyUser detaches the goal pointer so callers cannot mutate stored state.
func copyUser(u models.User) models.User {
	if u.Goal != nil {
		g := *u.Goal
		u.Goal = &g
	}
	return u
}
