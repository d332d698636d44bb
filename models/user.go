package models

import "time"

// User is the per-user profile record, keyed by the identity provider's uid.
type User struct {
	ID                       string    `bson:"_id" json:"id"`
	Email                    string    `bson:"email" json:"email"`
	DisplayName              string    `bson:"display_name" json:"display_name"`
	PhotoURL                 string    `bson:"photo_url" json:"photo_url"`
	Reps                     int       `bson:"reps" json:"reps"`
	MonthlyReps              int       `bson:"monthly_reps" json:"monthly_reps"`
	TotalMonthlyPossibleReps int       `bson:"total_monthly_possible_reps" json:"total_monthly_possible_reps"`
	PotentialDiscount        int       `bson:"potential_discount" json:"potential_discount"`
	Goal                     *Goal     `bson:"goal,omitempty" json:"goal,omitempty"`
	CreatedAt                time.Time `bson:"created_time" json:"created_time"`
}

// Goal is the free-text goal statement and the obstacle standing in its way.
type Goal struct {
	Text      string    `bson:"text" json:"text"`
	Challenge string    `bson:"challenge" json:"challenge"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
