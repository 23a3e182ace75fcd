package besteschule

import (
	"context"
	"time"

	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// GradeRepository reads grades. The final grade selection is owned locally:
// a refresh keeps the cached flag and new grades start selected.
type GradeRepository struct {
	*entityRepo[store.Grade]
	client      *remote.Client
	store       *store.Store
	teachers    *TeacherRepository
	collections *CollectionRepository
}

func NewGradeRepository(d Deps, teachers *TeacherRepository, collections *CollectionRepository) *GradeRepository {
	r := &GradeRepository{
		entityRepo:  newEntityRepo(d, "grades", d.Store.Grades),
		client:      d.Client,
		store:       d.Store,
		teachers:    teachers,
		collections: collections,
	}
	r.validate = validateGrade
	r.prefilter = r.requireCollections
	r.merge = r.keepSelection
	r.fetchAll = func(ctx context.Context, token string) ([]store.Grade, error) {
		grades, err := d.Client.Grades(ctx, token)
		if err != nil {
			return nil, err
		}
		now := r.now()
		return mapSlice(grades, func(g remote.Grade) store.Grade { return gradeFromAPI(g, 0, now) }), nil
	}
	r.fetchOne = func(ctx context.Context, token string, id int) (store.Grade, error) {
		g, err := d.Client.Grade(ctx, token, id)
		if err != nil {
			return store.Grade{}, err
		}
		return gradeFromAPI(g, 0, r.now()), nil
	}
	return r
}

func (r *GradeRepository) requireCollections(ctx context.Context, items []store.Grade) ([]store.Grade, []drop, error) {
	cached, err := r.store.Collections.ExistingIDs(ctx, uniqueInts(mapSlice(items, func(g store.Grade) int { return g.CollectionID }))...)
	if err != nil {
		return nil, nil, err
	}
	var kept []store.Grade
	var dropped []drop
	for _, g := range items {
		if !cached[g.CollectionID] {
			dropped = append(dropped, drop{g.ID, "missing_collection"})
			continue
		}
		kept = append(kept, g)
	}
	return kept, dropped, nil
}

// keepSelection starts new grades selected. The store never overwrites the
// flag of a cached grade, so for those it only reports the stored value.
func (r *GradeRepository) keepSelection(ctx context.Context, items []store.Grade) ([]store.Grade, error) {
	existing, err := r.table.List(ctx, store.ByIDs(mapSlice(items, func(g store.Grade) int { return g.ID })...))
	if err != nil {
		return nil, err
	}
	selected := make(map[int]store.Tristate, len(existing))
	for _, g := range existing {
		selected[g.ID] = g.SelectedForFinalGrade
	}

	out := make([]store.Grade, len(items))
	for i, g := range items {
		if prev, ok := selected[g.ID]; ok {
			g.SelectedForFinalGrade = prev
		} else if g.SelectedForFinalGrade == store.Unknown {
			g.SelectedForFinalGrade = store.True
		}
		out[i] = g
	}
	return out, nil
}

// FromAPIForAccount fetches the grade bundle of accountID. The embedded
// teachers and collections are returned alongside so callers can cache the
// parents first.
func (r *GradeRepository) FromAPIForAccount(ctx context.Context, token string, accountID int) (GradeBundle, error) {
	grades, err := r.client.Grades(ctx, token)
	if err != nil {
		return GradeBundle{}, err
	}
	return bundleGrades(grades, accountID, r.now()), nil
}

// GradeBundle is a grade payload split into the entities it embeds.
type GradeBundle struct {
	Teachers    []store.Teacher
	Collections []store.Collection
	Grades      []store.Grade
}

func bundleGrades(grades []remote.Grade, accountID int, now time.Time) GradeBundle {
	return GradeBundle{
		Teachers:    teachersFromGrades(grades, now),
		Collections: collectionsFromGrades(grades, now),
		Grades:      mapSlice(grades, func(g remote.Grade) store.Grade { return gradeFromAPI(g, accountID, now) }),
	}
}

// addBundle caches teachers, then collections, then grades.
func (r *GradeRepository) addBundle(ctx context.Context, b GradeBundle) ([]store.Grade, error) {
	if _, err := r.teachers.AddToCache(ctx, b.Teachers); err != nil {
		return nil, err
	}
	if _, err := r.collections.AddToCache(ctx, b.Collections); err != nil {
		return nil, err
	}
	return r.AddToCache(ctx, b.Grades)
}

// ForAccount streams the grades of accountID under pref. A refresh also
// caches the teachers and collections embedded in the payload.
func (r *GradeRepository) ForAccount(ctx context.Context, accountID int, pref freshness.Preference, cred *store.Credential) (<-chan freshness.Response[[]store.Grade], error) {
	var refresh freshness.RefreshFn[[]store.Grade]
	if cred != nil {
		token := cred.Token
		refresh = func(ctx context.Context) ([]store.Grade, error) {
			bundle, err := r.FromAPIForAccount(ctx, token, accountID)
			if err != nil {
				return nil, err
			}
			if _, err := r.addBundle(ctx, bundle); err != nil {
				return nil, err
			}
			return r.table.List(ctx, store.ForAccount(accountID))
		}
	}
	key := r.keys.SerializeKey(r.kind, "account", accountID)
	return r.readList(ctx, pref, key, refresh, store.ForAccount(accountID))
}

// SetSelectedForFinalGrade stores the user's choice for one grade. Later
// refreshes keep it.
func (r *GradeRepository) SetSelectedForFinalGrade(ctx context.Context, gradeID int, selected store.Tristate) error {
	return r.store.SetGradeSelection(ctx, gradeID, selected)
}
