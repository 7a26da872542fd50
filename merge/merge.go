// Package merge joins independently produced entry streams into one
// entity per primary record, keyed by locator.
package merge

import (
	"maps"
	"sort"

	"github.com/antzucaro/matchr"
	"github.com/use-agent/harvest/models"
)

// Keyed is a primary record and the locator it was extracted from.
type Keyed struct {
	Target models.Target
	Record models.Record
}

// Secondary is one joined source, indexed by locator.
type Secondary struct {
	Name    string
	Records map[string]models.Record
	// Field, when set, attaches only that field of the record.
	Field string
}

// Result of a merge. Unmatched lists, per source, the primary locators
// that source had no record for, in primary order.
type Result struct {
	Entities  []models.Record     `json:"entities"`
	Unmatched map[string][]string `json:"unmatched"`
}

// Merge attaches each secondary's record to every primary record with
// the same locator. A missing secondary record is reported, never fatal.
func Merge(primary []Keyed, secondaries []Secondary) Result {
	m := NewMerger(secondaries)
	res := Result{Entities: make([]models.Record, 0, len(primary))}
	for _, p := range primary {
		res.Entities = append(res.Entities, m.Add(p))
	}
	res.Unmatched = m.Unmatched()
	return res
}

// Merger is the streaming form of Merge: primary records are added one
// at a time so the primary stream never has to fit in memory.
type Merger struct {
	secondaries []Secondary
	unmatched   map[string][]string
	used        map[string]map[string]bool
}

// NewMerger prepares a merger over secondaries.
func NewMerger(secondaries []Secondary) *Merger {
	m := &Merger{
		secondaries: secondaries,
		unmatched:   make(map[string][]string, len(secondaries)),
		used:        make(map[string]map[string]bool, len(secondaries)),
	}
	for _, s := range secondaries {
		m.unmatched[s.Name] = []string{}
		m.used[s.Name] = make(map[string]bool)
	}
	return m
}

// Add returns the merged entity for p: p's record plus "id" and "url",
// with each secondary attached under its name (nil when absent).
func (m *Merger) Add(p Keyed) models.Record {
	ent := make(models.Record, len(p.Record)+2+len(m.secondaries))
	maps.Copy(ent, p.Record)
	ent["id"] = p.Target.ID
	ent["url"] = p.Target.Locator

	for _, s := range m.secondaries {
		rec, ok := s.Records[p.Target.Locator]
		if !ok {
			m.unmatched[s.Name] = append(m.unmatched[s.Name], p.Target.Locator)
			ent[s.Name] = nil
			continue
		}
		m.used[s.Name][p.Target.Locator] = true
		if s.Field != "" {
			ent[s.Name] = rec[s.Field]
		} else {
			ent[s.Name] = rec
		}
	}
	return ent
}

// Unmatched returns the primary locators each source lacked so far.
func (m *Merger) Unmatched() map[string][]string { return m.unmatched }

// Orphans returns, per source, the locators no primary record claimed,
// sorted.
func (m *Merger) Orphans() map[string][]string {
	out := make(map[string][]string, len(m.secondaries))
	for _, s := range m.secondaries {
		var keys []string
		for k := range s.Records {
			if !m.used[s.Name][k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		out[s.Name] = keys
	}
	return out
}

// Hint pairs an unmatched primary locator with the most similar orphan
// locator of the same source.
type Hint struct {
	Locator    string  `json:"locator"`
	Candidate  string  `json:"candidate"`
	Similarity float64 `json:"similarity"`
}

// Suggest proposes, for each unmatched locator, the closest orphan by
// Jaro-Winkler similarity when it scores at least threshold. Each orphan
// is proposed at most once.
func Suggest(unmatched, orphans []string, threshold float64) []Hint {
	taken := make(map[string]bool, len(orphans))
	var out []Hint
	for _, u := range unmatched {
		var best Hint
		for _, o := range orphans {
			if taken[o] {
				continue
			}
			if sim := matchr.JaroWinkler(u, o, false); sim > best.Similarity {
				best = Hint{Locator: u, Candidate: o, Similarity: sim}
			}
		}
		if best.Candidate != "" && best.Similarity >= threshold {
			taken[best.Candidate] = true
			out = append(out, best)
		}
	}
	return out
}

// Index keys the succeeded entries of a stream by locator. With several
// entries for one locator the first wins.
func Index(name, field string, entries []models.Entry) Secondary {
	s := Secondary{Name: name, Field: field, Records: make(map[string]models.Record, len(entries))}
	for _, e := range entries {
		if e.Status != models.StatusSucceeded {
			continue
		}
		if _, ok := s.Records[e.Target.Locator]; ok {
			continue
		}
		s.Records[e.Target.Locator] = e.Record
	}
	return s
}
