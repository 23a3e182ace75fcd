package besteschule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// Repositories groups every repository built from one Deps.
type Repositories struct {
	Accounts    *AccountRepository
	Years       *YearRepository
	Intervals   *IntervalRepository
	Subjects    *SubjectRepository
	Teachers    *TeacherRepository
	Collections *CollectionRepository
	Grades      *GradeRepository
	FinalGrades *FinalGradeRepository
}

func NewRepositories(d Deps) *Repositories {
	teachers := NewTeacherRepository(d)
	collections := NewCollectionRepository(d)
	return &Repositories{
		Accounts:    NewAccountRepository(d),
		Years:       NewYearRepository(d),
		Intervals:   NewIntervalRepository(d),
		Subjects:    NewSubjectRepository(d),
		Teachers:    teachers,
		Collections: collections,
		Grades:      NewGradeRepository(d, teachers, collections),
		FinalGrades: NewFinalGradeRepository(d),
	}
}

// Close disposes every shared subscription.
func (r *Repositories) Close() {
	r.Years.Close()
	r.Intervals.Close()
	r.Subjects.Close()
	r.Teachers.Close()
	r.Collections.Close()
	r.Grades.Close()
	r.FinalGrades.Close()
}

// Coordinator runs full catch-up syncs for one account, writing parents
// before children. A failed step aborts the sync; steps already written stay.
type Coordinator struct {
	repos  *Repositories
	client *remote.Client
	now    func() time.Time
	log    zerolog.Logger
}

func NewCoordinator(d Deps, repos *Repositories) *Coordinator {
	return &Coordinator{
		repos:  repos,
		client: d.Client,
		now:    d.Engine.Now,
		log:    d.logger("coordinator"),
	}
}

// SyncYears fetches and caches the years visible to accountID.
func (c *Coordinator) SyncYears(ctx context.Context, accountID int) ([]store.Year, error) {
	cred, err := c.repos.Accounts.Credential(ctx, accountID)
	if err != nil {
		return nil, err
	}
	years, err := c.repos.Years.FromAPI(ctx, cred.Token)
	if err != nil {
		return nil, fmt.Errorf("fetch years: %w", err)
	}
	kept, err := c.repos.Years.AddToCache(ctx, years)
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("account", accountID).Int("years", len(kept)).Msg("years synced")
	return kept, nil
}

// SyncAll makes yearID the active year of accountID and caches its subjects,
// final grade rules, teachers, intervals, collections and grades in that
// order. It returns the ids of grades that were not cached for the account
// before.
func (c *Coordinator) SyncAll(ctx context.Context, accountID, yearID int) ([]int, error) {
	cred, err := c.repos.Accounts.Credential(ctx, accountID)
	if err != nil {
		return nil, err
	}
	log := c.log.With().Int("account", accountID).Int("year", yearID).Logger()

	if err := c.client.SetCurrentYear(ctx, cred.Token, yearID); err != nil {
		return nil, fmt.Errorf("set current year: %w", err)
	}
	log.Info().Msg("active year set")

	var (
		student remote.Student
		grades  []remote.Grade
		finals  []store.FinalGrade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		student, err = c.client.Student(gctx, cred.Token, accountID)
		if err != nil {
			return fmt.Errorf("fetch student data: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		grades, err = c.client.Grades(gctx, cred.Token)
		if err != nil {
			return fmt.Errorf("fetch grade data: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		finals, err = c.repos.FinalGrades.FromAPI(gctx, cred.Token)
		if err != nil {
			return fmt.Errorf("fetch final grade rules: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info().Int("subjects", len(student.Subjects)).Int("intervals", len(student.Intervals)).Int("grades", len(grades)).Msg("remote data fetched")

	before, err := c.cachedGradeIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	bundle := bundleGrades(grades, accountID, now)

	subjects, err := c.repos.Subjects.AddToCache(ctx, mapSlice(student.Subjects, func(s remote.Subject) store.Subject { return subjectFromAPI(s, now) }))
	if err != nil {
		return nil, fmt.Errorf("cache subjects: %w", err)
	}
	log.Info().Int("count", len(subjects)).Msg("subjects cached")

	rules, err := c.repos.FinalGrades.AddToCache(ctx, finals)
	if err != nil {
		return nil, fmt.Errorf("cache final grade rules: %w", err)
	}
	log.Info().Int("count", len(rules)).Msg("final grade rules cached")

	teachers, err := c.repos.Teachers.AddToCache(ctx, bundle.Teachers)
	if err != nil {
		return nil, fmt.Errorf("cache teachers: %w", err)
	}
	log.Info().Int("count", len(teachers)).Msg("teachers cached")

	intervals, err := c.repos.Intervals.AddToCache(ctx, mapSlice(student.Intervals, func(i remote.Interval) store.Interval { return intervalFromAPI(i, now, accountID) }))
	if err != nil {
		return nil, fmt.Errorf("cache intervals: %w", err)
	}
	log.Info().Int("count", len(intervals)).Msg("intervals cached")

	collections, err := c.repos.Collections.AddToCache(ctx, bundle.Collections)
	if err != nil {
		return nil, fmt.Errorf("cache collections: %w", err)
	}
	log.Info().Int("count", len(collections)).Msg("collections cached")

	kept, err := c.repos.Grades.AddToCache(ctx, bundle.Grades)
	if err != nil {
		return nil, fmt.Errorf("cache grades: %w", err)
	}

	added := []int{}
	for _, grade := range kept {
		if !before[grade.ID] {
			added = append(added, grade.ID)
		}
	}
	log.Info().Int("count", len(kept)).Int("new", len(added)).Msg("grades cached")
	return added, nil
}

func (c *Coordinator) cachedGradeIDs(ctx context.Context, accountID int) (map[int]bool, error) {
	grades, err := c.repos.Grades.table.List(ctx, store.ForAccount(accountID))
	if err != nil {
		return nil, err
	}
	ids := make(map[int]bool, len(grades))
	for _, g := range grades {
		ids[g.ID] = true
	}
	return ids, nil
}
