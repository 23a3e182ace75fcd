package besteschule

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

func yearFromAPI(y remote.Year, now time.Time) store.Year {
	return store.Year{
		ID:       y.ID,
		Name:     y.Name,
		From:     y.From.Time,
		To:       y.To.Time,
		CachedAt: now,
	}
}

func intervalFromAPI(i remote.Interval, now time.Time, accountIDs ...int) store.Interval {
	return store.Interval{
		ID:                 i.ID,
		Name:               i.Name,
		Type:               i.Type,
		From:               i.From.Time,
		To:                 i.To.Time,
		IncludedIntervalID: i.IncludedIntervalID,
		YearID:             i.YearID,
		CachedAt:           now,
		AccountIDs:         accountIDs,
	}
}

func subjectFromAPI(s remote.Subject, now time.Time) store.Subject {
	return store.Subject{
		ID:        s.ID,
		ShortName: s.LocalID,
		FullName:  s.Name,
		CachedAt:  now,
	}
}

func teacherFromAPI(t remote.Teacher, now time.Time) store.Teacher {
	return store.Teacher{
		ID:       t.ID,
		LocalID:  t.LocalID,
		Forename: t.Forename,
		Surname:  t.Name,
		CachedAt: now,
	}
}

func collectionFromAPI(c remote.Collection, now time.Time) store.Collection {
	teacherID := c.TeacherID
	if teacherID == 0 && c.Teacher != nil {
		teacherID = c.Teacher.ID
	}
	return store.Collection{
		ID:         c.ID,
		Type:       c.Type,
		Name:       c.Name,
		SubjectID:  c.SubjectID,
		GivenAt:    c.GivenAt.Time,
		IntervalID: c.IntervalID,
		TeacherID:  teacherID,
		CachedAt:   now,
	}
}

// gradeFromAPI maps a grade for accountID, or for the payload's student when
// accountID is 0. The final grade selection is left Unknown for the merge step.
func gradeFromAPI(g remote.Grade, accountID int, now time.Time) store.Grade {
	if accountID == 0 {
		accountID = g.StudentID
	}
	var collectionID int
	if g.Collection != nil {
		collectionID = g.Collection.ID
	}
	return store.Grade{
		ID:                    g.ID,
		Value:                 g.Value,
		IsOptional:            g.IsOptional,
		SelectedForFinalGrade: store.Unknown,
		AccountID:             accountID,
		CollectionID:          collectionID,
		GivenAt:               g.GivenAt.Time,
		CachedAt:              now,
	}
}

func finalGradeFromAPI(f remote.FinalGrade, now time.Time) store.FinalGrade {
	return store.FinalGrade{
		ID:              f.ID,
		CalculationRule: f.CalculationRule,
		SubjectID:       f.SubjectID,
		CachedAt:        now,
	}
}

// teachersFromGrades collects the embedded teachers, first occurrence wins.
func teachersFromGrades(grades []remote.Grade, now time.Time) []store.Teacher {
	seen := map[int]bool{}
	var out []store.Teacher
	for _, g := range grades {
		if g.Collection == nil || g.Collection.Teacher == nil {
			continue
		}
		t := g.Collection.Teacher
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, teacherFromAPI(*t, now))
	}
	return out
}

// collectionsFromGrades collects the embedded collections, first occurrence wins.
func collectionsFromGrades(grades []remote.Grade, now time.Time) []store.Collection {
	seen := map[int]bool{}
	var out []store.Collection
	for _, g := range grades {
		if g.Collection == nil || seen[g.Collection.ID] {
			continue
		}
		seen[g.Collection.ID] = true
		out = append(out, collectionFromAPI(*g.Collection, now))
	}
	return out
}

func validateYear(y store.Year) error {
	return validation.ValidateStruct(&y,
		validation.Field(&y.ID, validation.Required),
		validation.Field(&y.Name, validation.Required),
	)
}

func validateInterval(i store.Interval) error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ID, validation.Required),
		validation.Field(&i.YearID, validation.Required),
		validation.Field(&i.IncludedIntervalID, validation.NotIn(i.ID).Error("must not reference itself")),
	)
}

func validateSubject(s store.Subject) error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ID, validation.Required),
		validation.Field(&s.ShortName, validation.Required),
	)
}

func validateTeacher(t store.Teacher) error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ID, validation.Required),
	)
}

func validateCollection(c store.Collection) error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.SubjectID, validation.Required),
		validation.Field(&c.IntervalID, validation.Required),
		validation.Field(&c.TeacherID, validation.Required),
	)
}

func validateGrade(g store.Grade) error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.ID, validation.Required),
		validation.Field(&g.AccountID, validation.Required),
		validation.Field(&g.CollectionID, validation.Required),
	)
}

func validateFinalGrade(f store.FinalGrade) error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.SubjectID, validation.Required),
	)
}
