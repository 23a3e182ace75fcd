package besteschule

import (
	"context"
	"errors"

	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// errAbsent marks an id missing from a list payload on endpoints without a
// single-item route. It reads like a 404.
var errAbsent = errors.New("besteschule: item absent from payload")

func findByID[E store.Entity[E]](items []E, id int) (E, error) {
	for _, item := range items {
		if item.EntityID() == id {
			return item, nil
		}
	}
	var zero E
	return zero, errAbsent
}

// YearRepository reads school years.
type YearRepository struct {
	*entityRepo[store.Year]
}

func NewYearRepository(d Deps) *YearRepository {
	r := &YearRepository{newEntityRepo(d, "years", d.Store.Years)}
	r.validate = validateYear
	r.fetchAll = func(ctx context.Context, token string) ([]store.Year, error) {
		years, err := d.Client.Years(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(years, func(y remote.Year) store.Year { return yearFromAPI(y, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Year, error) {
		years, err := r.fetchAll(ctx, token)
		if err != nil {
			return store.Year{}, err
		}
		return findByID(years, id)
	}
	return r
}

// SubjectRepository reads subjects.
type SubjectRepository struct {
	*entityRepo[store.Subject]
}

func NewSubjectRepository(d Deps) *SubjectRepository {
	r := &SubjectRepository{newEntityRepo(d, "subjects", d.Store.Subjects)}
	r.validate = validateSubject
	r.fetchAll = func(ctx context.Context, token string) ([]store.Subject, error) {
		subjects, err := d.Client.Subjects(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(subjects, func(s remote.Subject) store.Subject { return subjectFromAPI(s, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Subject, error) {
		s, err := d.Client.Subject(ctx, token, id)
		if err != nil {
			return store.Subject{}, err
		}
		return subjectFromAPI(s, r.now()), nil
	}
	return r
}

// TeacherRepository reads teachers.
type TeacherRepository struct {
	*entityRepo[store.Teacher]
}

func NewTeacherRepository(d Deps) *TeacherRepository {
	r := &TeacherRepository{newEntityRepo(d, "teachers", d.Store.Teachers)}
	r.validate = validateTeacher
	r.fetchAll = func(ctx context.Context, token string) ([]store.Teacher, error) {
		teachers, err := d.Client.Teachers(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(teachers, func(t remote.Teacher) store.Teacher { return teacherFromAPI(t, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Teacher, error) {
		t, err := d.Client.Teacher(ctx, token, id)
		if err != nil {
			return store.Teacher{}, err
		}
		return teacherFromAPI(t, r.now()), nil
	}
	return r
}

// CollectionRepository reads collections. A collection is only cached once
// its subject, teacher and interval are.
type CollectionRepository struct {
	*entityRepo[store.Collection]
}

func NewCollectionRepository(d Deps) *CollectionRepository {
	r := &CollectionRepository{newEntityRepo(d, "collections", d.Store.Collections)}
	r.validate = validateCollection
	r.prefilter = func(ctx context.Context, items []store.Collection) ([]store.Collection, []drop, error) {
		subjects, err := d.Store.Subjects.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(c store.Collection) int { return c.SubjectID }))...)
		if err != nil {
			return nil, nil, err
		}
		teachers, err := d.Store.Teachers.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(c store.Collection) int { return c.TeacherID }))...)
		if err != nil {
			return nil, nil, err
		}
		intervals, err := d.Store.Intervals.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(c store.Collection) int { return c.IntervalID }))...)
		if err != nil {
			return nil, nil, err
		}

		var kept []store.Collection
		var dropped []drop
		for _, c := range items {
			switch {
			case !subjects[c.SubjectID]:
				dropped = append(dropped, drop{c.ID, "missing_subject"})
			case !teachers[c.TeacherID]:
				dropped = append(dropped, drop{c.ID, "missing_teacher"})
			case !intervals[c.IntervalID]:
				dropped = append(dropped, drop{c.ID, "missing_interval"})
			default:
				kept = append(kept, c)
			}
		}
		return kept, dropped, nil
	}
	r.fetchAll = func(ctx context.Context, token string) ([]store.Collection, error) {
		collections, err := d.Client.Collections(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(collections, func(c remote.Collection) store.Collection { return collectionFromAPI(c, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Collection, error) {
		c, err := d.Client.Collection(ctx, token, id)
		if err != nil {
			return store.Collection{}, err
		}
		return collectionFromAPI(c, r.now()), nil
	}
	return r
}

// ForSubject streams the cached collections of one subject under pref.
func (r *CollectionRepository) ForSubject(ctx context.Context, subjectID int, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[[]store.Collection], error) {
	var refresh freshness.RefreshFn[[]store.Collection]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) ([]store.Collection, error) {
			items, err := r.fetchAll(ctx, token)
			if err != nil {
				return nil, err
			}
			if _, err := r.AddToCache(ctx, items); err != nil {
				return nil, err
			}
			return r.table.List(ctx, store.BySubject(subjectID))
		}
	}
	return r.readList(ctx, pref, r.keys.SerializeKey(r.kind, "subject", subjectID), refresh, store.BySubject(subjectID))
}

// FinalGradeRepository reads final grade rules.
type FinalGradeRepository struct {
	*entityRepo[store.FinalGrade]
}

func NewFinalGradeRepository(d Deps) *FinalGradeRepository {
	r := &FinalGradeRepository{newEntityRepo(d, "final_grades", d.Store.FinalGrades)}
	r.validate = validateFinalGrade
	r.prefilter = func(ctx context.Context, items []store.FinalGrade) ([]store.FinalGrade, []drop, error) {
		subjects, err := d.Store.Subjects.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(f store.FinalGrade) int { return f.SubjectID }))...)
		if err != nil {
			return nil, nil, err
		}
		var kept []store.FinalGrade
		var dropped []drop
		for _, f := range items {
			if !subjects[f.SubjectID] {
				dropped = append(dropped, drop{f.ID, "missing_subject"})
				continue
			}
			kept = append(kept, f)
		}
		return kept, dropped, nil
	}
	r.fetchAll = func(ctx context.Context, token string) ([]store.FinalGrade, error) {
		finals, err := d.Client.FinalGrades(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(finals, func(f remote.FinalGrade) store.FinalGrade { return finalGradeFromAPI(f, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.FinalGrade, error) {
		finals, err := r.fetchAll(ctx, token)
		if err != nil {
			return store.FinalGrade{}, err
		}
		return findByID(finals, id)
	}
	return r
}

// ForSubject returns the cached rule of one subject, or nil.
func (r *FinalGradeRepository) ForSubject(ctx context.Context, subjectID int) (*store.FinalGrade, error) {
	finals, err := r.table.List(ctx, store.BySubject(subjectID))
	if err != nil || len(finals) == 0 {
		return nil, err
	}
	return &finals[0], nil
}
