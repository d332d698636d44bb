// Package tasks holds the task bookkeeping model: task validation, completion
// counters, reps and the derived monthly figures.
package tasks

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/XeroHax/accountability-app/models"
	"github.com/google/uuid"
)

const (
	MaxDescriptionLength = 40
	MinFrequency         = 1
	MaxFrequency         = 31
	MinPeriod            = 1
	MaxPeriod            = 14
)

var (
	ErrEmptyDescription    = errors.New("task description is required")
	ErrFrequencyOutOfRange = errors.New("period_frequency must be between 1 and 31")
	ErrPeriodOutOfRange    = errors.New("period must be between 1 and 14 days")
)

// NormalizeDescription trims s, cuts it to 40 characters and capitalises the
// first letter.
func NormalizeDescription(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxDescriptionLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxDescriptionLength]))
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Validate checks a task definition. The description is expected to be
// normalized already.
func Validate(description string, frequency, period int) error {
	if description == "" {
		return ErrEmptyDescription
	}
	if frequency < MinFrequency || frequency > MaxFrequency {
		return ErrFrequencyOutOfRange
	}
	if period < MinPeriod || period > MaxPeriod {
		return ErrPeriodOutOfRange
	}
	return nil
}

// New returns a live task for userID with a zero completion counter.
func New(userID, description string, frequency, period int, now time.Time) (*models.Task, error) {
	description = NormalizeDescription(description)
	if err := Validate(description, frequency, period); err != nil {
		return nil, err
	}
	return &models.Task{
		ID:              uuid.NewString(),
		UserID:          userID,
		Task:            description,
		PeriodFrequency: frequency,
		Period:          period,
		Status:          true,
		DateCreated:     now,
		PeriodStart:     now,
	}, nil
}

// Policy controls how completions award reps.
type Policy struct {
	// CapRepsAtCeiling stops a completion on an already-maxed task from
	// awarding reps. When false, every completion awards one rep.
	CapRepsAtCeiling bool
}

// Complete records one completion of t. The counter never passes
// PeriodFrequency. It reports whether reps were awarded.
func (p Policy) Complete(t *models.Task, u *models.User) bool {
	atCeiling := t.CompletionsCount >= t.PeriodFrequency
	t.CompletionsCount = min(t.CompletionsCount+1, t.PeriodFrequency)
	if atCeiling && p.CapRepsAtCeiling {
		return false
	}
	u.Reps++
	u.MonthlyReps++
	u.PotentialDiscount = PotentialDiscount(u.MonthlyReps, u.TotalMonthlyPossibleReps)
	return true
}

// Decrement undoes one completion of t. It is a no-op, returning false, when
// the counter is already zero.
func Decrement(t *models.Task, u *models.User) bool {
	if t.CompletionsCount <= 0 {
		t.CompletionsCount = 0
		return false
	}
	t.CompletionsCount--
	u.Reps = max(u.Reps-1, 0)
	u.MonthlyReps = max(u.MonthlyReps-1, 0)
	u.PotentialDiscount = PotentialDiscount(u.MonthlyReps, u.TotalMonthlyPossibleReps)
	return true
}

// Edit replaces the definition of t. The completion counter is kept, clamped
// to the new frequency.
func Edit(t *models.Task, description string, frequency, period int) error {
	description = NormalizeDescription(description)
	if err := Validate(description, frequency, period); err != nil {
		return err
	}
	t.Task = description
	t.PeriodFrequency = frequency
	t.Period = period
	t.CompletionsCount = min(t.CompletionsCount, frequency)
	return nil
}

// SoftDelete marks t deleted.
func SoftDelete(t *models.Task) {
	t.Status = false
}

// Live returns the tasks that have not been soft-deleted, in order.
func Live(ts []models.Task) []models.Task {
	live := make([]models.Task, 0, len(ts))
	for _, t := range ts {
		if t.Status {
			live = append(live, t)
		}
	}
	return live
}

// Progress is the fraction of the period's target completed so far.
func Progress(t *models.Task) float64 {
	if t.PeriodFrequency < 1 {
		return 0
	}
	return float64(t.CompletionsCount) / float64(t.PeriodFrequency)
}

// MonthlyPossibleReps is the number of completions the live tasks could earn
// in a month of the given length.
func MonthlyPossibleReps(ts []models.Task, daysInMonth int) int {
	total := 0
	for _, t := range ts {
		if !t.Status || t.Period < 1 {
			continue
		}
		total += t.PeriodFrequency * daysInMonth / t.Period
	}
	return total
}

// PotentialDiscount is the whole percentage of possible monthly reps earned,
// clamped to [0, 100].
func PotentialDiscount(monthlyReps, possible int) int {
	if possible <= 0 || monthlyReps <= 0 {
		return 0
	}
	return min(monthlyReps*100/possible, 100)
}

// DaysIn returns the number of days in the month containing t.
func DaysIn(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, -1).Day()
}

// Rollover starts a new period for t when its current one has elapsed,
// clearing the completion counter. It reports whether t changed.
func Rollover(t *models.Task, now time.Time) bool {
	if t.Period < 1 {
		return false
	}
	if t.PeriodStart.IsZero() {
		t.PeriodStart = t.DateCreated
	}
	if t.PeriodStart.IsZero() {
		t.PeriodStart = now
		return true
	}
	length := time.Duration(t.Period) * 24 * time.Hour
	elapsed := now.Sub(t.PeriodStart)
	if elapsed < length {
		return false
	}
	periods := elapsed / length
	t.PeriodStart = t.PeriodStart.Add(periods * length)
	t.CompletionsCount = 0
	return true
}
