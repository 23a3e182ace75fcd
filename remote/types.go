package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar date format the API uses.
const DateLayout = "2006-01-02"

// Date is a calendar day encoded as "YYYY-MM-DD". null and "" decode to the zero time.
type Date struct {
	time.Time
}

// NewDate returns the given calendar day at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	// some endpoints send full timestamps for given_at
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

type envelope[T any] struct {
	Data *T `json:"data"`
}

type Year struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	From Date   `json:"from"`
	To   Date   `json:"to"`
}

type Interval struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	From               Date   `json:"from"`
	To                 Date   `json:"to"`
	IncludedIntervalID *int   `json:"included_interval_id"`
	YearID             int    `json:"year_id"`
}

type Subject struct {
	ID      int    `json:"id"`
	LocalID string `json:"local_id"`
	Name    string `json:"name"`
}

type Teacher struct {
	ID       int    `json:"id"`
	LocalID  string `json:"local_id"`
	Forename string `json:"forename"`
	Name     string `json:"name"`
}

type Collection struct {
	ID         int      `json:"id"`
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	SubjectID  int      `json:"subject_id"`
	IntervalID int      `json:"interval_id"`
	TeacherID  int      `json:"teacher_id"`
	GivenAt    Date     `json:"given_at"`
	Teacher    *Teacher `json:"teacher,omitempty"`
}

type Grade struct {
	ID         int         `json:"id"`
	Value      *string     `json:"value"`
	IsOptional bool        `json:"is_optional"`
	GivenAt    Date        `json:"given_at"`
	StudentID  int         `json:"student_id"`
	Collection *Collection `json:"collection"`
}

type FinalGrade struct {
	ID              int    `json:"id"`
	CalculationRule string `json:"calculation_rule"`
	SubjectID       int    `json:"subject_id"`
}

// Student is the student data bundle: subjects and intervals of the active year.
type Student struct {
	ID        int        `json:"id"`
	Forename  string     `json:"forename"`
	Name      string     `json:"name"`
	Subjects  []Subject  `json:"subjects"`
	Intervals []Interval `json:"intervals"`
}

// User is the account behind a token.
type User struct {
	ID       int       `json:"id"`
	Username string    `json:"username"`
	Students []Student `json:"students"`
}
