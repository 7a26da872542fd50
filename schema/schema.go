// Package schema holds the declarative description of what to extract from
// one record-kind: an ordered tree of fields, each with fallback locators.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Cardinality of a field.
type Cardinality string

const (
	Single Cardinality = "single"
	List   Cardinality = "list"
	Record Cardinality = "record"
	Map    Cardinality = "map"
	Grid   Cardinality = "grid"
)

// Output formats for single and list values.
const (
	FormatText     = "text"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Schema describes one record-kind.
type Schema struct {
	Kind string `yaml:"kind"`

	// Ready is a selector that must be present after navigation before
	// anything else happens.
	Ready string `yaml:"ready"`

	// Activate switches the page to the view holding the fields (a tab).
	Activate *Activation `yaml:"activate"`

	// Root scopes all fields to the first node matching this selector.
	Root string `yaml:"root"`

	// Discriminator names a top-level field whose value is appended to the
	// target locator to form the output identity key.
	Discriminator string `yaml:"discriminator"`

	Fields []Field `yaml:"fields"`
}

// Field is one node of the schema tree.
type Field struct {
	Name string      `yaml:"name"`
	Type Cardinality `yaml:"type"`

	// Locators are tried in order; the first that yields a non-empty value wins.
	Locators []Locator `yaml:"locators"`

	Optional bool   `yaml:"optional"`
	Format   string `yaml:"format"`

	// Activate is clicked before the field's sub-tree is queried.
	Activate *Activation `yaml:"activate"`

	// Paginate reveals every item before a list is read.
	Paginate *Pagination `yaml:"paginate"`

	// Fields are the sub-fields of a record, or of each item of a list.
	Fields []Field `yaml:"fields"`

	// Key and Value read the pairs of a map field from each located block.
	// Without Key, the key is the block text minus the value.
	Key   *Locator  `yaml:"key"`
	Value []Locator `yaml:"value"`

	// Headers and Cells are the flat header and data cell lists of a grid.
	Headers *Locator `yaml:"headers"`
	Cells   *Locator `yaml:"cells"`
}

// Locator is one fallback strategy. In YAML a bare string is a selector.
type Locator struct {
	// Selector is relative to the enclosing scope; empty means the scope itself.
	Selector string `yaml:"selector"`

	// Attr reads an attribute instead of text.
	Attr string `yaml:"attr"`

	// Pattern keeps the first capture group (or the whole match).
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// UnmarshalYAML accepts either a selector string or a mapping.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Selector = node.Value
		return nil
	}
	type plain Locator
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Locator(p)
	return nil
}

// Regexp is the compiled Pattern, nil when none is set. Valid after Validate.
func (l *Locator) Regexp() *regexp.Regexp { return l.re }

// Activation clicks a control before a sub-tree is queried.
type Activation struct {
	Selector string `yaml:"selector"`

	// Text picks, among the nodes matching Selector, the one whose text
	// contains it (case-insensitive).
	Text string `yaml:"text"`

	// Wait is a selector that must become visible after the click.
	Wait string `yaml:"wait"`
}

// Pagination lists reveal strategies in the order they are tried.
type Pagination struct {
	Reveal []Reveal `yaml:"reveal"`
}

// Reveal is one way of making more items appear. Exactly one of its
// fields is set.
type Reveal struct {
	// Click is a selector for a "load more" control.
	Click string `yaml:"click"`

	// Scroll is "window" or the selector of a scrollable container.
	Scroll string `yaml:"scroll"`

	// Key is a key name such as "PageDown".
	Key string `yaml:"key"`
}

// Load reads and validates a YAML schema file.
func Load(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML schema.
func Parse(b []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate applies defaults, compiles every selector and pattern, and
// reports all problems at once.
func (s *Schema) Validate() error {
	var errs []error
	if s.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	for _, sel := range []string{s.Ready, s.Root} {
		if err := checkSelector(sel); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Activate != nil {
		errs = append(errs, checkActivation("activate", s.Activate)...)
	}
	if len(s.Fields) == 0 {
		errs = append(errs, errors.New("at least one field is required"))
	}
	errs = append(errs, validateFields("", s.Fields)...)

	if s.Discriminator != "" {
		found := false
		for _, f := range s.Fields {
			if f.Name == s.Discriminator {
				found = f.Type == Single
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("discriminator %q must name a top-level single field", s.Discriminator))
		}
	}
	return errors.Join(errs...)
}

func validateFields(prefix string, fields []Field) []error {
	var errs []error
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		path := prefix + f.Name
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("%sfield %d has no name", prefix, i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate field name", path))
		}
		seen[f.Name] = true

		if f.Type == "" {
			f.Type = Single
			if len(f.Fields) > 0 {
				f.Type = Record
			}
		}
		if f.Format == "" {
			f.Format = FormatText
		}
		switch f.Format {
		case FormatText, FormatHTML, FormatMarkdown:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown format %q", path, f.Format))
		}

		for j := range f.Locators {
			errs = append(errs, compileLocator(path, &f.Locators[j])...)
		}

		switch f.Type {
		case Single:
			if len(f.Locators) == 0 {
				errs = append(errs, fmt.Errorf("%s: single field needs a locator", path))
			}
			if len(f.Fields) > 0 {
				errs = append(errs, fmt.Errorf("%s: single field cannot have sub-fields", path))
			}
		case List:
			if len(f.Locators) == 0 {
				errs = append(errs, fmt.Errorf("%s: list field needs a locator", path))
			}
		case Record:
			if len(f.Fields) == 0 {
				errs = append(errs, fmt.Errorf("%s: record field needs sub-fields", path))
			}
		case Map:
			if len(f.Locators) == 0 {
				errs = append(errs, fmt.Errorf("%s: map field needs a block locator", path))
			}
			if len(f.Value) == 0 {
				errs = append(errs, fmt.Errorf("%s: map field needs a value locator", path))
			}
			if f.Key != nil {
				errs = append(errs, compileLocator(path+".key", f.Key)...)
			}
			for j := range f.Value {
				errs = append(errs, compileLocator(path+".value", &f.Value[j])...)
			}
		case Grid:
			if f.Headers == nil || f.Cells == nil {
				errs = append(errs, fmt.Errorf("%s: grid field needs headers and cells", path))
			} else {
				errs = append(errs, compileLocator(path+".headers", f.Headers)...)
				errs = append(errs, compileLocator(path+".cells", f.Cells)...)
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown type %q", path, f.Type))
		}

		if f.Activate != nil {
			errs = append(errs, checkActivation(path+".activate", f.Activate)...)
		}
		if f.Paginate != nil {
			if f.Type != List {
				errs = append(errs, fmt.Errorf("%s: paginate applies to list fields only", path))
			}
			errs = append(errs, checkPagination(path, f.Paginate)...)
		}
		if len(f.Fields) > 0 {
			errs = append(errs, validateFields(path+".", f.Fields)...)
		}
	}
	return errs
}

func compileLocator(path string, l *Locator) []error {
	var errs []error
	if err := checkSelector(l.Selector); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	if l.Pattern != "" {
		re, err := regexp.Compile(l.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: pattern: %w", path, err))
		} else {
			l.re = re
		}
	}
	return errs
}

func checkActivation(path string, a *Activation) []error {
	var errs []error
	if a.Selector == "" {
		errs = append(errs, fmt.Errorf("%s: selector is required", path))
	}
	for _, sel := range []string{a.Selector, a.Wait} {
		if err := checkSelector(sel); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errs
}

func checkPagination(path string, p *Pagination) []error {
	var errs []error
	if len(p.Reveal) == 0 {
		errs = append(errs, fmt.Errorf("%s.paginate: at least one reveal strategy is required", path))
	}
	for i, r := range p.Reveal {
		set := 0
		for _, v := range []string{r.Click, r.Scroll, r.Key} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			errs = append(errs, fmt.Errorf("%s.paginate.reveal[%d]: exactly one of click, scroll, key must be set", path, i))
			continue
		}
		if err := checkSelector(r.Click); err != nil {
			errs = append(errs, fmt.Errorf("%s.paginate.reveal[%d]: %w", path, i, err))
		}
		if r.Scroll != "" && r.Scroll != "window" {
			if err := checkSelector(r.Scroll); err != nil {
				errs = append(errs, fmt.Errorf("%s.paginate.reveal[%d]: %w", path, i, err))
			}
		}
	}
	return errs
}

// checkSelector compiles a CSS selector group. Empty is allowed.
func checkSelector(sel string) error {
	if sel == "" {
		return nil
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}
