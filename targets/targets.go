// Package targets loads the ordered work list and iterates it from a
// resume point.
package targets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/titanous/json5"
	"github.com/use-agent/harvest/models"
)

// rawTarget accepts both the short and the long field spellings found in
// hand-maintained lists.
type rawTarget struct {
	ID      any    `json:"id"`
	URL     string `json:"url"`
	Locator string `json:"locator"`
	Name    string `json:"name"`
	Label   string `json:"label"`
}

// Load reads a JSON or JSON5 array of targets. A leading byte order mark
// is ignored.
func Load(path string) ([]models.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "open target list", err)
	}
	defer f.Close()

	b, err := io.ReadAll(utfbom.SkipOnly(f))
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "read target list", err)
	}
	list, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, d := range Audit(list) {
		slog.Warn("duplicate locator in target list", "locator", d.Locator, "ids", d.IDs)
	}
	return list, nil
}

// Parse decodes and validates a target list. Ids must be present and
// unique; locators must be non-empty.
func Parse(b []byte) ([]models.Target, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "target list is empty", nil)
	}
	var raw []rawTarget
	if err := json5.Unmarshal(b, &raw); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "decode target list", err)
	}

	var errs []error
	out := make([]models.Target, 0, len(raw))
	seen := make(map[models.TargetID]int, len(raw))
	for i, r := range raw {
		id, err := parseID(r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d: %w", i, err))
			continue
		}
		loc := strings.TrimSpace(firstNonEmpty(r.URL, r.Locator))
		if loc == "" {
			errs = append(errs, fmt.Errorf("target %d (id %s): locator is required", i, id))
			continue
		}
		if j, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("target %d: id %s already used by target %d", i, id, j))
			continue
		}
		seen[id] = i
		out = append(out, models.Target{
			ID:      id,
			Locator: loc,
			Label:   strings.TrimSpace(firstNonEmpty(r.Name, r.Label)),
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "invalid target list", err)
	}
	return out, nil
}

// maxExactID is the largest magnitude below which every JSON number id
// decodes to itself. Past it, neighbouring ids collapse onto one float64.
const maxExactID = 1<<53 - 1

func parseID(v any) (models.TargetID, error) {
	switch t := v.(type) {
	case nil:
		return "", errors.New("id is required")
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", errors.New("id is empty")
		}
		return models.TargetID(s), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return "", fmt.Errorf("id %v is not an integer", t)
		}
		if math.Abs(t) > maxExactID {
			return "", fmt.Errorf("id %.0f is outside the exact integer range; quote it as a string", t)
		}
		return models.TargetID(strconv.FormatInt(int64(t), 10)), nil
	}
	return "", fmt.Errorf("id has unsupported type %T", v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Duplicate is a locator shared by several targets.
type Duplicate struct {
	Locator string
	IDs     []models.TargetID
}

// Audit reports locators that appear more than once, in first-seen order.
func Audit(list []models.Target) []Duplicate {
	byLoc := make(map[string][]models.TargetID, len(list))
	var order []string
	for _, t := range list {
		if _, ok := byLoc[t.Locator]; !ok {
			order = append(order, t.Locator)
		}
		byLoc[t.Locator] = append(byLoc[t.Locator], t.ID)
	}
	var out []Duplicate
	for _, loc := range order {
		if ids := byLoc[loc]; len(ids) > 1 {
			out = append(out, Duplicate{Locator: loc, IDs: ids})
		}
	}
	return out
}
