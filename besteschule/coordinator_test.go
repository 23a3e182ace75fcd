package besteschule

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"

	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

func TestSyncYearsRequiresLinkedAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.coord.SyncYears(context.Background(), 99)
	if !errors.Is(err, ErrAccountNotLinked) {
		t.Fatalf("expected ErrAccountNotLinked, got %v", err)
	}
	if env.api.count("/api/years") != 0 {
		t.Error("expected no remote call for an unlinked account")
	}
}

func TestSyncYears(t *testing.T) {
	env, _ := linked(t)

	if got := count(t, env.store.Years); got != 2 {
		t.Fatalf("expected two cached years, got %d", got)
	}
	year, err := env.store.Years.Get(context.Background(), testYear)
	if err != nil || year == nil {
		t.Fatalf("expected year %d cached, got %v (%v)", testYear, year, err)
	}
	if !year.CachedAt.Equal(testNow) {
		t.Errorf("expected cachedAt from the engine clock, got %v", year.CachedAt)
	}
}

func TestSyncAll(t *testing.T) {
	env, _ := linked(t)
	ctx := context.Background()

	added, err := env.coord.SyncAll(ctx, testAccount, testYear)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	sort.Ints(added)
	if len(added) != 2 || added[0] != 100 || added[1] != 101 {
		t.Errorf("expected grades 100 and 101 to be new, got %v", added)
	}
	if env.api.count("/api/years/current") != 1 {
		t.Error("expected the active year to be set once")
	}

	counts := map[string]int{
		"subjects":    count(t, env.store.Subjects),
		"teachers":    count(t, env.store.Teachers),
		"intervals":   count(t, env.store.Intervals),
		"collections": count(t, env.store.Collections),
		"grades":      count(t, env.store.Grades),
	}
	for kind, n := range counts {
		if n != 2 {
			t.Errorf("expected two cached %s, got %d", kind, n)
		}
	}

	intervals, err := env.store.Intervals.List(ctx, store.IntervalsForAccount(testAccount))
	if err != nil || len(intervals) != 2 {
		t.Fatalf("expected both intervals linked to the account, got %v (%v)", intervals, err)
	}

	rule, err := env.repos.FinalGrades.ForSubject(ctx, 10)
	if err != nil || rule == nil || rule.CalculationRule != "(avg(KA)*2 + avg(MDL)) / 3" {
		t.Fatalf("expected the final grade rule of subject 10 cached, got %+v (%v)", rule, err)
	}
	if n := count(t, env.store.FinalGrades); n != 1 {
		t.Errorf("expected the rule of an unknown subject to be dropped, got %d rules", n)
	}

	grade, _ := env.store.Grades.Get(ctx, 100)
	if grade.AccountID != testAccount || grade.CollectionID != 50 {
		t.Errorf("unexpected grade %+v", grade)
	}
	if grade.SelectedForFinalGrade != store.True {
		t.Errorf("expected a new grade to be selected, got %s", grade.SelectedForFinalGrade)
	}
}

func TestSyncAllIsIdempotent(t *testing.T) {
	env, _ := linked(t)
	ctx := context.Background()

	if _, err := env.coord.SyncAll(ctx, testAccount, testYear); err != nil {
		t.Fatalf("first SyncAll failed: %v", err)
	}
	before := []int{
		count(t, env.store.Subjects), count(t, env.store.Teachers), count(t, env.store.Intervals),
		count(t, env.store.Collections), count(t, env.store.Grades),
	}

	added, err := env.coord.SyncAll(ctx, testAccount, testYear)
	if err != nil {
		t.Fatalf("second SyncAll failed: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected no new grades on an unchanged backend, got %v", added)
	}
	after := []int{
		count(t, env.store.Subjects), count(t, env.store.Teachers), count(t, env.store.Intervals),
		count(t, env.store.Collections), count(t, env.store.Grades),
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("row counts changed: before %v, after %v", before, after)
			break
		}
	}
}

func TestSyncAllKeepsFinalGradeSelection(t *testing.T) {
	env, _ := linked(t)
	ctx := context.Background()

	if _, err := env.coord.SyncAll(ctx, testAccount, testYear); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if err := env.repos.Grades.SetSelectedForFinalGrade(ctx, 100, store.False); err != nil {
		t.Fatalf("SetSelectedForFinalGrade failed: %v", err)
	}

	if _, err := env.coord.SyncAll(ctx, testAccount, testYear); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	deselected, _ := env.store.Grades.Get(ctx, 100)
	if deselected.SelectedForFinalGrade != store.False {
		t.Errorf("expected grade 100 to stay deselected, got %s", deselected.SelectedForFinalGrade)
	}
	other, _ := env.store.Grades.Get(ctx, 101)
	if other.SelectedForFinalGrade != store.True {
		t.Errorf("expected grade 101 to stay selected, got %s", other.SelectedForFinalGrade)
	}
}

func TestToggleDuringSyncIsKept(t *testing.T) {
	env, _ := linked(t)
	ctx := context.Background()

	if _, err := env.coord.SyncAll(ctx, testAccount, testYear); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	// the user deselects grade 100 after the sync read the cached flags
	merge := env.repos.Grades.merge
	env.repos.Grades.merge = func(ctx context.Context, items []store.Grade) ([]store.Grade, error) {
		out, err := merge(ctx, items)
		if err != nil {
			return nil, err
		}
		if err := env.repos.Grades.SetSelectedForFinalGrade(ctx, 100, store.False); err != nil {
			return nil, err
		}
		return out, nil
	}

	if _, err := env.coord.SyncAll(ctx, testAccount, testYear); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	grade, _ := env.store.Grades.Get(ctx, 100)
	if grade.SelectedForFinalGrade != store.False {
		t.Errorf("expected the toggle made during the sync to win, got %s", grade.SelectedForFinalGrade)
	}
}

func TestSetSelectedForFinalGradeUnknownGrade(t *testing.T) {
	env := newTestEnv(t)

	err := env.repos.Grades.SetSelectedForFinalGrade(context.Background(), 404, store.False)
	if !errors.Is(err, store.ErrNoGrade) {
		t.Fatalf("expected ErrNoGrade, got %v", err)
	}
}

func TestSyncAllAbortsOnRemoteFailure(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		status       int
		skipsBundles bool
	}{
		{name: "active year", path: "/api/years/current", status: http.StatusInternalServerError, skipsBundles: true},
		{name: "grade bundle", path: "/api/grades", status: http.StatusBadGateway},
		{name: "student bundle", path: "/api/students/7", status: http.StatusUnauthorized},
		{name: "final grade rules", path: "/api/finalgrades", status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _ := linked(t)
			env.api.fail(tt.path, tt.status)

			_, err := env.coord.SyncAll(context.Background(), testAccount, testYear)
			if err == nil {
				t.Fatal("expected SyncAll to fail")
			}
			if remote.StatusCode(err) != tt.status {
				t.Errorf("expected status %d to propagate, got %d (%v)", tt.status, remote.StatusCode(err), err)
			}
			if tt.skipsBundles && env.api.count("/api/students/7")+env.api.count("/api/grades") != 0 {
				t.Error("expected no bundle fetch after the active year failed")
			}
			if n := count(t, env.store.Subjects) + count(t, env.store.FinalGrades); n != 0 {
				t.Errorf("expected nothing cached after a failed fetch, got %d rows", n)
			}
		})
	}
}

func TestSyncAllWithoutYearsDropsIntervals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.repos.Accounts.Link(ctx, testAccount, testToken); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	added, err := env.coord.SyncAll(ctx, testAccount, testYear)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected no grades without their intervals, got %v", added)
	}
	if n := count(t, env.store.Intervals); n != 0 {
		t.Errorf("expected intervals to be dropped without their year, got %d", n)
	}
	if n := count(t, env.store.Subjects); n != 2 {
		t.Errorf("expected subjects to be cached regardless, got %d", n)
	}
}
