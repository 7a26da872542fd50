package targets

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/use-agent/harvest/models"
)

// Derive appends to existing the targets of succeeded entries whose
// locator is not listed yet. It returns the combined list and how many
// targets were added.
func Derive(existing []models.Target, entries []models.Entry) ([]models.Target, int) {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Locator] = true
	}
	out := append([]models.Target(nil), existing...)
	added := 0
	for _, e := range entries {
		if e.Status != models.StatusSucceeded || e.Target.Locator == "" || seen[e.Target.Locator] {
			continue
		}
		seen[e.Target.Locator] = true
		out = append(out, e.Target)
		added++
	}
	return out, added
}

// Missing returns the targets that have no entry in the output stream,
// in list order. Failed entries count as present; rerun them with a fresh
// output file.
func Missing(list []models.Target, entries []models.Entry) []models.Target {
	done := make(map[string]bool, len(entries))
	for _, e := range entries {
		done[e.Target.Locator] = true
	}
	var out []models.Target
	for _, t := range list {
		if !done[t.Locator] {
			out = append(out, t)
		}
	}
	return out
}

// Comparison is the locator set difference of two sources.
type Comparison struct {
	OnlyLeft  []string `json:"only_left"`
	OnlyRight []string `json:"only_right"`
	Common    []string `json:"common"`
}

// Compare diffs two locator sets. Each slice in the result is sorted.
func Compare(left, right []string) Comparison {
	l := make(map[string]bool, len(left))
	for _, s := range left {
		l[s] = true
	}
	r := make(map[string]bool, len(right))
	for _, s := range right {
		r[s] = true
	}
	var c Comparison
	for s := range l {
		if r[s] {
			c.Common = append(c.Common, s)
		} else {
			c.OnlyLeft = append(c.OnlyLeft, s)
		}
	}
	for s := range r {
		if !l[s] {
			c.OnlyRight = append(c.OnlyRight, s)
		}
	}
	sort.Strings(c.OnlyLeft)
	sort.Strings(c.OnlyRight)
	sort.Strings(c.Common)
	return c
}

// Save writes list as an indented JSON array readable by Load.
func Save(path string, list []models.Target) error {
	if list == nil {
		list = []models.Target{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
