package targets

import (
	"fmt"

	"github.com/use-agent/harvest/models"
)

// Iterator yields targets in list order. It is one-shot: build a fresh
// one for every run.
type Iterator struct {
	list []models.Target
	pos  int
}

// New returns an iterator over everything strictly after startAfter, or
// over the whole list when startAfter is nil. An id that is not in the
// list is an error rather than a silent restart from the top.
func New(list []models.Target, startAfter *models.TargetID) (*Iterator, error) {
	it := &Iterator{list: list}
	if startAfter == nil {
		return it, nil
	}
	for i, t := range list {
		if t.ID == *startAfter {
			it.pos = i + 1
			return it, nil
		}
	}
	return nil, models.NewHarvestError(models.ErrCodeInvalidInput,
		fmt.Sprintf("resume point %q is not in the target list", *startAfter), nil)
}

// Next returns the next target, or false when the list is exhausted.
func (it *Iterator) Next() (models.Target, bool) {
	if it.pos >= len(it.list) {
		return models.Target{}, false
	}
	t := it.list[it.pos]
	it.pos++
	return t, true
}

// Remaining is the number of targets Next has yet to return.
func (it *Iterator) Remaining() int { return len(it.list) - it.pos }
