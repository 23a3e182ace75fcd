package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Tristate is a boolean that can also be undecided.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// TristateOf maps a bool onto True or False.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// Entity is a cached row keyed by an integer id.
type Entity[E any] interface {
	EntityID() int
	CacheTime() time.Time
	withCachedAt(time.Time) E
}

type Year struct {
	bun.BaseModel `bun:"table:years"`

	ID       int       `bun:"id,pk" json:"id"`
	Name     string    `bun:"name,notnull" json:"name"`
	From     time.Time `bun:"from_date" json:"from"`
	To       time.Time `bun:"to_date" json:"to"`
	CachedAt time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (y Year) EntityID() int                 { return y.ID }
func (y Year) CacheTime() time.Time          { return y.CachedAt }
func (y Year) withCachedAt(t time.Time) Year { y.CachedAt = t; return y }

// Contains reports whether day falls inside the year, bounds included.
func (y Year) Contains(day time.Time) bool {
	return !day.Before(y.From) && !day.After(y.To)
}

// Interval is a grading period. IncludedIntervalID points at the enclosing
// interval, if any.
type Interval struct {
	bun.BaseModel `bun:"table:intervals"`

	ID                 int       `bun:"id,pk" json:"id"`
	Name               string    `bun:"name,notnull" json:"name"`
	Type               string    `bun:"type" json:"type"`
	From               time.Time `bun:"from_date" json:"from"`
	To                 time.Time `bun:"to_date" json:"to"`
	IncludedIntervalID *int      `bun:"included_interval_id" json:"included_interval_id,omitempty"`
	YearID             int       `bun:"year_id,notnull" json:"year_id"`
	CachedAt           time.Time `bun:"cached_at,notnull" json:"cached_at"`

	// AccountIDs lists the accounts this interval is relevant for. It is
	// stored in interval_accounts and only ever grows on upsert.
	AccountIDs []int `bun:"-" json:"account_ids,omitempty"`
}

func (i Interval) EntityID() int                     { return i.ID }
func (i Interval) CacheTime() time.Time              { return i.CachedAt }
func (i Interval) withCachedAt(t time.Time) Interval { i.CachedAt = t; return i }

func (i Interval) Contains(day time.Time) bool {
	return !day.Before(i.From) && !day.After(i.To)
}

type Subject struct {
	bun.BaseModel `bun:"table:subjects"`

	ID        int       `bun:"id,pk" json:"id"`
	ShortName string    `bun:"short_name,notnull" json:"short_name"`
	FullName  string    `bun:"full_name" json:"full_name"`
	CachedAt  time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (s Subject) EntityID() int                    { return s.ID }
func (s Subject) CacheTime() time.Time             { return s.CachedAt }
func (s Subject) withCachedAt(t time.Time) Subject { s.CachedAt = t; return s }

type Teacher struct {
	bun.BaseModel `bun:"table:teachers"`

	ID       int       `bun:"id,pk" json:"id"`
	LocalID  string    `bun:"local_id" json:"local_id"`
	Forename string    `bun:"forename" json:"forename"`
	Surname  string    `bun:"surname" json:"surname"`
	CachedAt time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (t Teacher) EntityID() int                      { return t.ID }
func (t Teacher) CacheTime() time.Time               { return t.CachedAt }
func (t Teacher) withCachedAt(at time.Time) Teacher { t.CachedAt = at; return t }

// Collection is one gradable assessment batch, e.g. a written exam.
type Collection struct {
	bun.BaseModel `bun:"table:collections"`

	ID         int       `bun:"id,pk" json:"id"`
	Type       string    `bun:"type" json:"type"`
	Name       string    `bun:"name" json:"name"`
	SubjectID  int       `bun:"subject_id,notnull" json:"subject_id"`
	GivenAt    time.Time `bun:"given_at" json:"given_at"`
	IntervalID int       `bun:"interval_id,notnull" json:"interval_id"`
	TeacherID  int       `bun:"teacher_id,notnull" json:"teacher_id"`
	CachedAt   time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (c Collection) EntityID() int                       { return c.ID }
func (c Collection) CacheTime() time.Time                { return c.CachedAt }
func (c Collection) withCachedAt(t time.Time) Collection { c.CachedAt = t; return c }

type Grade struct {
	bun.BaseModel `bun:"table:grades"`

	ID                    int       `bun:"id,pk" json:"id"`
	Value                 *string   `bun:"value" json:"value"`
	IsOptional            bool      `bun:"is_optional,notnull" json:"is_optional"`
	SelectedForFinalGrade Tristate  `bun:"selected_for_final_grade,notnull" json:"selected_for_final_grade"`
	AccountID             int       `bun:"account_id,notnull" json:"account_id"`
	CollectionID          int       `bun:"collection_id,notnull" json:"collection_id"`
	GivenAt               time.Time `bun:"given_at" json:"given_at"`
	CachedAt              time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (g Grade) EntityID() int                  { return g.ID }
func (g Grade) CacheTime() time.Time           { return g.CachedAt }
func (g Grade) withCachedAt(t time.Time) Grade { g.CachedAt = t; return g }

// FinalGrade holds the rule a subject's final grade is computed with.
type FinalGrade struct {
	bun.BaseModel `bun:"table:final_grades"`

	ID              int       `bun:"id,pk" json:"id"`
	CalculationRule string    `bun:"calculation_rule" json:"calculation_rule"`
	SubjectID       int       `bun:"subject_id,notnull" json:"subject_id"`
	CachedAt        time.Time `bun:"cached_at,notnull" json:"cached_at"`
}

func (f FinalGrade) EntityID() int                       { return f.ID }
func (f FinalGrade) CacheTime() time.Time                { return f.CachedAt }
func (f FinalGrade) withCachedAt(t time.Time) FinalGrade { f.CachedAt = t; return f }

// IntervalAccount links an interval to an account it is relevant for.
type IntervalAccount struct {
	bun.BaseModel `bun:"table:interval_accounts"`

	IntervalID int `bun:"interval_id,pk"`
	AccountID  int `bun:"account_id,pk"`
}

// Credential is the bearer token stored for one external account.
type Credential struct {
	bun.BaseModel `bun:"table:credentials"`

	AccountID int       `bun:"account_id,pk" json:"account_id"`
	Token     string    `bun:"token,notnull" json:"-"`
	Valid     Tristate  `bun:"valid,notnull" json:"valid"`
	CheckedAt time.Time `bun:"checked_at,nullzero" json:"checked_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
