package models

import "time"

// Task is a recurring commitment: PeriodFrequency completions every Period days.
type Task struct {
	ID               string    `bson:"_id" json:"id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	Task             string    `bson:"task" json:"task"`
	PeriodFrequency  int       `bson:"period_frequency" json:"period_frequency"`
	Period           int       `bson:"period" json:"period"`
	Status           bool      `bson:"status" json:"status"`
	DateCreated      time.Time `bson:"date_created" json:"date_created"`
	CompletionsCount int       `bson:"completions_count" json:"completions_count"`
	PeriodStart      time.Time `bson:"period_start" json:"period_start"`
}
