package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/models"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound = fmt.Errorf("task %w", models.ErrNotFound)
	ErrUserNotFound = fmt.Errorf("user %w", models.ErrNotFound)
	ErrEmptyGoal    = errors.New("goal and challenge are required")
	ErrNoValidTasks = errors.New("no valid tasks supplied")
	ErrMissingUser  = errors.New("no authenticated user")

	errUnchanged = errors.New("unchanged")
)

// Repository is the document store the task service persists through.
// Mutate* calls run fn against freshly read records and persist the result
// atomically; an error from fn aborts the write and is returned as is.
type Repository interface {
	CreateUser(ctx context.Context, u *models.User) (bool, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	MutateUser(ctx context.Context, userID string, fn func(*models.User) error) (*models.User, error)

	InsertTasks(ctx context.Context, ts []models.Task) error
	ListTasks(ctx context.Context, userID string) ([]models.Task, error)
	MutateTask(ctx context.Context, userID, taskID string, fn func(*models.Task) error) (*models.Task, error)
	MutateTaskAndUser(ctx context.Context, userID, taskID string, fn func(*models.Task, *models.User) error) (*models.Task, *models.User, error)
}

// Publisher fans task events out to the user's listeners.
type Publisher interface {
	Publish(ctx context.Context, evt models.TaskEvent) error
}

// Input is a task definition as submitted by a client.
type Input struct {
	Task            string `json:"task"`
	PeriodFrequency int    `json:"period_frequency"`
	Period          int    `json:"period"`
}

// Service applies the bookkeeping model to a user's persisted tasks.
type Service struct {
	repo   Repository
	pub    Publisher
	policy Policy
	now    func() time.Time
}

type Option func(*Service)

// WithPolicy sets the completion policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service. pub may be nil, in which case no events are
// published.
func NewService(repo Repository, pub Publisher, opts ...Option) *Service {
	s := &Service{repo: repo, pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureUser creates the profile for a first sign-in. An existing profile is
// left untouched. It returns the stored profile and whether it was created.
func (s *Service) EnsureUser(ctx context.Context, profile models.User) (*models.User, bool, error) {
	if profile.ID == "" {
		return nil, false, ErrMissingUser
	}
	profile.Reps, profile.MonthlyReps = 0, 0
	profile.TotalMonthlyPossibleReps, profile.PotentialDiscount = 0, 0
	profile.Goal = nil
	profile.CreatedAt = s.now().UTC()

	created, err := s.repo.CreateUser(ctx, &profile)
	if err != nil {
		return nil, false, fmt.Errorf("error creating user %s: %w", profile.ID, err)
	}
	u, err := s.Profile(ctx, profile.ID)
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.Get().Info("user created", zap.String("user_id", profile.ID))
	}
	return u, created, nil
}

// Profile returns the user's record.
func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user %s: %w", userID, err)
	}
	return u, nil
}

// SetGoal stores the user's goal statement and obstacle.
func (s *Service) SetGoal(ctx context.Context, userID, text, challenge string) (*models.User, error) {
	text, challenge = strings.TrimSpace(text), strings.TrimSpace(challenge)
	if text == "" || challenge == "" {
		return nil, ErrEmptyGoal
	}
	u, err := s.repo.MutateUser(ctx, userID, func(u *models.User) error {
		u.Goal = &models.Goal{Text: text, Challenge: challenge, UpdatedAt: s.now().UTC()}
		return nil
	})
	if err != nil {
		return nil, s.userErr(userID, err)
	}
	s.publish(ctx, models.TaskEvent{Type: models.ProfileUpdated, UserID: userID, User: u})
	return u, nil
}

// ListTasks returns the user's live tasks.
func (s *Service) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	ts, err := s.repo.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks for user %s: %w", userID, err)
	}
	return Live(ts), nil
}

// Snapshot is the event a new listener receives first.
func (s *Service) Snapshot(ctx context.Context, userID string) (models.TaskEvent, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return models.TaskEvent{}, err
	}
	ts, err := s.ListTasks(ctx, userID)
	if err != nil {
		return models.TaskEvent{}, err
	}
	return models.TaskEvent{
		Type:      models.TasksSnapshot,
		UserID:    userID,
		User:      u,
		Tasks:     ts,
		Timestamp: s.now().Unix(),
	}, nil
}

// CreateTask adds a single task from the dashboard.
func (s *Service) CreateTask(ctx context.Context, userID string, in Input) (*models.Task, error) {
	if _, err := s.Profile(ctx, userID); err != nil {
		return nil, err
	}
	t, err := New(userID, in.Task, in.PeriodFrequency, in.Period, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertTasks(ctx, []models.Task{*t}); err != nil {
		return nil, fmt.Errorf("error inserting task for user %s: %w", userID, err)
	}
	s.publish(ctx, models.TaskEvent{Type: models.TaskCreated, UserID: userID, Task: t})
	s.refreshCeiling(ctx, userID)
	return t, nil
}

// CoerceDraft applies the goal-setup form rules to a draft: the description is
// normalized and numbers are clamped to their maxima. Drafts that still have
// an empty description or a zero value are reported as invalid.
func CoerceDraft(in Input) (Input, bool) {
	in.Task = NormalizeDescription(in.Task)
	in.PeriodFrequency = min(max(in.PeriodFrequency, 0), MaxFrequency)
	in.Period = min(max(in.Period, 0), MaxPeriod)
	return in, in.Task != "" && in.PeriodFrequency > 0 && in.Period > 0
}

// CreateTasks adds the tasks drafted during goal setup. Invalid drafts are
// skipped.
func (s *Service) CreateTasks(ctx context.Context, userID string, drafts []Input) ([]models.Task, error) {
	if _, err := s.Profile(ctx, userID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var ts []models.Task
	for _, d := range drafts {
		d, ok := CoerceDraft(d)
		if !ok {
			continue
		}
		t, err := New(userID, d.Task, d.PeriodFrequency, d.Period, now)
		if err != nil {
			continue
		}
		ts = append(ts, *t)
	}
	if len(ts) == 0 {
		return nil, ErrNoValidTasks
	}
	if err := s.repo.InsertTasks(ctx, ts); err != nil {
		return nil, fmt.Errorf("error inserting tasks for user %s: %w", userID, err)
	}
	for i := range ts {
		s.publish(ctx, models.TaskEvent{Type: models.TaskCreated, UserID: userID, Task: &ts[i]})
	}
	s.refreshCeiling(ctx, userID)
	return ts, nil
}

// EditTask replaces a live task's definition.
func (s *Service) EditTask(ctx context.Context, userID, taskID string, in Input) (*models.Task, error) {
	t, err := s.repo.MutateTask(ctx, userID, taskID, func(t *models.Task) error {
		if !t.Status {
			return ErrTaskNotFound
		}
		return Edit(t, in.Task, in.PeriodFrequency, in.Period)
	})
	if err != nil {
		return nil, s.taskErr(taskID, err)
	}
	s.publish(ctx, models.TaskEvent{Type: models.TaskUpdated, UserID: userID, Task: t})
	s.refreshCeiling(ctx, userID)
	return t, nil
}

// DeleteTask soft-deletes a live task.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	t, err := s.repo.MutateTask(ctx, userID, taskID, func(t *models.Task) error {
		if !t.Status {
			return ErrTaskNotFound
		}
		SoftDelete(t)
		return nil
	})
	if err != nil {
		return s.taskErr(taskID, err)
	}
	s.publish(ctx, models.TaskEvent{Type: models.TaskDeleted, UserID: userID, Task: t})
	s.refreshCeiling(ctx, userID)
	return nil
}

// CompleteTask records a completion and awards reps in one atomic update.
func (s *Service) CompleteTask(ctx context.Context, userID, taskID string) (*models.Task, *models.User, error) {
	t, u, err := s.repo.MutateTaskAndUser(ctx, userID, taskID, func(t *models.Task, u *models.User) error {
		if !t.Status {
			return ErrTaskNotFound
		}
		s.policy.Complete(t, u)
		return nil
	})
	if err != nil {
		return nil, nil, s.taskErr(taskID, err)
	}
	s.publish(ctx, models.TaskEvent{Type: models.TaskCompleted, UserID: userID, Task: t, User: u})
	return t, u, nil
}

// DecrementTask undoes a completion. A task at zero is returned unchanged.
func (s *Service) DecrementTask(ctx context.Context, userID, taskID string) (*models.Task, *models.User, error) {
	changed := false
	t, u, err := s.repo.MutateTaskAndUser(ctx, userID, taskID, func(t *models.Task, u *models.User) error {
		if !t.Status {
			return ErrTaskNotFound
		}
		changed = Decrement(t, u)
		return nil
	})
	if err != nil {
		return nil, nil, s.taskErr(taskID, err)
	}
	if changed {
		s.publish(ctx, models.TaskEvent{Type: models.TaskDecremented, UserID: userID, Task: t, User: u})
	}
	return t, u, nil
}

// ResetMonth starts a new month for every user: monthly reps go back to zero
// and the monthly ceiling is recomputed for the month containing now.
func (s *Service) ResetMonth(ctx context.Context, now time.Time) error {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("error listing users: %w", err)
	}
	days := DaysIn(now)
	var errs []error
	for _, u := range users {
		ts, err := s.repo.ListTasks(ctx, u.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("error listing tasks for user %s: %w", u.ID, err))
			continue
		}
		possible := MonthlyPossibleReps(ts, days)
		_, err = s.repo.MutateUser(ctx, u.ID, func(u *models.User) error {
			u.MonthlyReps = 0
			u.TotalMonthlyPossibleReps = possible
			u.PotentialDiscount = 0
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("error resetting month for user %s: %w", u.ID, err))
		}
	}
	logger.Get().Info("monthly reset finished", zap.Int("users", len(users)), zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// RolloverPeriods clears the completion counters of tasks whose period has
// elapsed. It returns the number of tasks rolled over.
func (s *Service) RolloverPeriods(ctx context.Context, now time.Time) (int, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing users: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, u := range users {
		ts, err := s.repo.ListTasks(ctx, u.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("error listing tasks for user %s: %w", u.ID, err))
			continue
		}
		for _, t := range Live(ts) {
			probe := t
			if !Rollover(&probe, now) {
				continue
			}
			updated, err := s.repo.MutateTask(ctx, u.ID, t.ID, func(t *models.Task) error {
				if !Rollover(t, now) {
					return errUnchanged
				}
				return nil
			})
			if errors.Is(err, errUnchanged) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("error rolling over task %s: %w", t.ID, err))
				continue
			}
			n++
			s.publish(ctx, models.TaskEvent{Type: models.TaskUpdated, UserID: u.ID, Task: updated})
		}
	}
	return n, errors.Join(errs...)
}

// refreshCeiling recomputes the user's monthly ceiling after the task set
// changed. Failures are logged; the task change itself already committed.
func (s *Service) refreshCeiling(ctx context.Context, userID string) {
	ts, err := s.repo.ListTasks(ctx, userID)
	if err != nil {
		logger.Get().Error("error listing tasks for ceiling", zap.String("user_id", userID), zap.Error(err))
		return
	}
	possible := MonthlyPossibleReps(ts, DaysIn(s.now()))
	u, err := s.repo.MutateUser(ctx, userID, func(u *models.User) error {
		u.TotalMonthlyPossibleReps = possible
		u.PotentialDiscount = PotentialDiscount(u.MonthlyReps, possible)
		return nil
	})
	if err != nil {
		logger.Get().Error("error updating monthly ceiling", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.publish(ctx, models.TaskEvent{Type: models.ProfileUpdated, UserID: userID, User: u})
}

func (s *Service) publish(ctx context.Context, evt models.TaskEvent) {
	if s.pub == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = s.now().Unix()
	}
	if err := s.pub.Publish(ctx, evt); err != nil {
		logger.Get().Warn("failed to publish task event",
			zap.String("user_id", evt.UserID),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
	}
}

func (s *Service) taskErr(taskID string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return ErrTaskNotFound
	}
	if errors.Is(err, ErrEmptyDescription) || errors.Is(err, ErrFrequencyOutOfRange) || errors.Is(err, ErrPeriodOutOfRange) {
		return err
	}
	return fmt.Errorf("error updating task %s: %w", taskID, err)
}

func (s *Service) userErr(userID string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("error updating user %s: %w", userID, err)
}
