package tasks

import (
	"strings"
	"testing"
	"time"

	"github.com/XeroHax/accountability-app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTask(t *testing.T, freq, period int) *models.Task {
	t.Helper()
	task, err := New("user-1", "read ten pages", freq, period, epoch)
	require.NoError(t, err)
	return task
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  go for a run ", "Go for a run"},
		{"Already capital", "Already capital"},
		{"", ""},
		{"   ", ""},
		{"émile", "Émile"},
		{strings.Repeat("a", 50), "A" + strings.Repeat("a", 39)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDescription(tt.in), "input %q", tt.in)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New("u", "  ", 1, 1, epoch)
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = New("u", "x", 0, 1, epoch)
	assert.ErrorIs(t, err, ErrFrequencyOutOfRange)
	_, err = New("u", "x", 32, 1, epoch)
	assert.ErrorIs(t, err, ErrFrequencyOutOfRange)

	_, err = New("u", "x", 1, 0, epoch)
	assert.ErrorIs(t, err, ErrPeriodOutOfRange)
	_, err = New("u", "x", 1, 15, epoch)
	assert.ErrorIs(t, err, ErrPeriodOutOfRange)

	task, err := New("u", "stretch", 31, 14, epoch)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Stretch", task.Task)
	assert.True(t, task.Status)
	assert.Zero(t, task.CompletionsCount)
	assert.Equal(t, epoch, task.PeriodStart)
}

func TestCompleteAtCeilingStillAwardsReps(t *testing.T) {
	task := newTask(t, 2, 7)
	u := &models.User{TotalMonthlyPossibleReps: 10}

	for i := 0; i < 3; i++ {
		assert.True(t, Policy{}.Complete(task, u))
	}

	assert.Equal(t, 2, task.CompletionsCount)
	assert.Equal(t, 3, u.Reps)
	assert.Equal(t, 3, u.MonthlyReps)
	assert.Equal(t, 30, u.PotentialDiscount)
}

func TestCompleteCappedPolicy(t *testing.T) {
	task := newTask(t, 1, 1)
	u := &models.User{}
	p := Policy{CapRepsAtCeiling: true}

	assert.True(t, p.Complete(task, u))
	assert.False(t, p.Complete(task, u))

	assert.Equal(t, 1, task.CompletionsCount)
	assert.Equal(t, 1, u.Reps)
	assert.Equal(t, 1, u.MonthlyReps)
}

func TestDecrementAtZeroIsNoop(t *testing.T) {
	task := newTask(t, 3, 7)
	u := &models.User{Reps: 5, MonthlyReps: 2}

	assert.False(t, Decrement(task, u))
	assert.Zero(t, task.CompletionsCount)
	assert.Equal(t, 5, u.Reps)
	assert.Equal(t, 2, u.MonthlyReps)
}

func TestDecrementFloorsReps(t *testing.T) {
	task := newTask(t, 3, 7)
	task.CompletionsCount = 2
	u := &models.User{Reps: 0, MonthlyReps: 1}

	assert.True(t, Decrement(task, u))
	assert.Equal(t, 1, task.CompletionsCount)
	assert.Zero(t, u.Reps)
	assert.Zero(t, u.MonthlyReps)
}

func TestCounterStaysInRange(t *testing.T) {
	task := newTask(t, 3, 7)
	u := &models.User{}
	ops := "ccddcccccdddddcdcdccccd"
	for _, op := range ops {
		if op == 'c' {
			Policy{}.Complete(task, u)
		} else {
			Decrement(task, u)
		}
		assert.GreaterOrEqual(t, task.CompletionsCount, 0)
		assert.LessOrEqual(t, task.CompletionsCount, task.PeriodFrequency)
		assert.GreaterOrEqual(t, u.Reps, 0)
	}
}

func TestEditClampsCounter(t *testing.T) {
	task := newTask(t, 5, 7)
	task.CompletionsCount = 4

	require.NoError(t, Edit(task, "walk", 2, 3))
	assert.Equal(t, "Walk", task.Task)
	assert.Equal(t, 2, task.PeriodFrequency)
	assert.Equal(t, 3, task.Period)
	assert.Equal(t, 2, task.CompletionsCount)

	require.NoError(t, Edit(task, "walk", 6, 3))
	assert.Equal(t, 2, task.CompletionsCount)

	assert.ErrorIs(t, Edit(task, "walk", 40, 3), ErrFrequencyOutOfRange)
	assert.Equal(t, 6, task.PeriodFrequency)
}

func TestLiveHidesSoftDeleted(t *testing.T) {
	a, b := newTask(t, 1, 1), newTask(t, 1, 1)
	SoftDelete(b)

	live := Live([]models.Task{*a, *b})
	require.Len(t, live, 1)
	assert.Equal(t, a.ID, live[0].ID)
}

func TestProgress(t *testing.T) {
	task := newTask(t, 4, 7)
	task.CompletionsCount = 1
	assert.Equal(t, 0.25, Progress(task))
	assert.Zero(t, Progress(&models.Task{}))
}

func TestMonthlyPossibleReps(t *testing.T) {
	daily := newTask(t, 1, 1)
	weekly := newTask(t, 3, 7)
	gone := newTask(t, 5, 1)
	SoftDelete(gone)

	// 1*31/1 + 3*31/7
	assert.Equal(t, 31+13, MonthlyPossibleReps([]models.Task{*daily, *weekly, *gone}, 31))
	assert.Zero(t, MonthlyPossibleReps(nil, 30))
}

func TestPotentialDiscount(t *testing.T) {
	assert.Zero(t, PotentialDiscount(5, 0))
	assert.Zero(t, PotentialDiscount(0, 10))
	assert.Equal(t, 33, PotentialDiscount(1, 3))
	assert.Equal(t, 100, PotentialDiscount(12, 10))
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28, DaysIn(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 31, DaysIn(time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC)))
}

func TestRollover(t *testing.T) {
	task := newTask(t, 3, 7)
	task.CompletionsCount = 2

	assert.False(t, Rollover(task, epoch.Add(6*24*time.Hour)))
	assert.Equal(t, 2, task.CompletionsCount)

	assert.True(t, Rollover(task, epoch.Add(15*24*time.Hour)))
	assert.Zero(t, task.CompletionsCount)
	assert.Equal(t, epoch.Add(14*24*time.Hour), task.PeriodStart)
}

func TestRolloverFallsBackToCreation(t *testing.T) {
	task := newTask(t, 1, 1)
	task.PeriodStart = time.Time{}
	task.CompletionsCount = 1

	assert.True(t, Rollover(task, epoch.Add(36*time.Hour)))
	assert.Equal(t, epoch.Add(24*time.Hour), task.PeriodStart)
	assert.Zero(t, task.CompletionsCount)
}
