package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoGrade is returned when a grade to update is not cached.
var ErrNoGrade = errors.New("store: grade not cached")

// SetGradeSelection records whether a grade counts towards the final grade.
// cached_at is left alone; this is a local decision, not a refresh.
func (s *Store) SetGradeSelection(ctx context.Context, gradeID int, selected Tristate) error {
	res, err := s.db.NewUpdate().
		Model((*Grade)(nil)).
		Set("selected_for_final_grade = ?", int(selected)).
		Where("id = ?", gradeID).
		Exec(ctx)
	if err != nil {
		return s.dbError("update grade selection", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w %d", ErrNoGrade, gradeID)
	}
	s.publish(s.Grades.Topic())
	return nil
}
