// Package catalog holds the static registry of document sources.
package catalog

import (
	"sort"
	"strings"
	"time"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// builtins returns the four known portals. URL templates and pacing may be
// overridden through configuration; identity and access method may not.
func builtins() []harvest.SourceDescriptor {
	return []harvest.SourceDescriptor{
		{
			ID:                 "comptroller",
			Name:               "Office of the Comptroller annual reports",
			URLTemplate:        "https://comptroller.newessex.gov/transparency/reports/{year}/",
			AccessMethod:       harvest.AccessDirect,
			MinRequestInterval: time.Second,
			StripQuery:         true,
		},
		{
			ID:                 "treasury",
			Name:               "Treasury debt schedules",
			URLTemplate:        "https://treasury.newessex.gov/debt/schedules/{year}.html",
			AccessMethod:       harvest.AccessDirect,
			MinRequestInterval: time.Second,
			StripQuery:         true,
		},
		{
			ID:                 "pensions",
			Name:               "Pension board actuarial workbooks",
			URLTemplate:        "https://pensions.newessex.gov/actuarial/valuations?fy={year}",
			AccessMethod:       harvest.AccessBrowser,
			MinRequestInterval: 2 * time.Second,
			StripQuery:         true,
			ExpandSelector:     "button.year-accordion-toggle",
		},
		{
			ID:                 "procurement",
			Name:               "Procurement award archives",
			URLTemplate:        "https://procurement.newessex.gov/awards/archive/{year}",
			AccessMethod:       harvest.AccessBrowser,
			MinRequestInterval: 3 * time.Second,
			// The award portal versions documents through query strings;
			// collapsing them would merge distinct revisions.
			StripQuery: false,
		},
	}
}

// Catalog is the process-wide, read-only source registry.
type Catalog struct {
	ordered []harvest.SourceDescriptor
	byID    map[string]harvest.SourceDescriptor
}

// Overrides carries the per-source settings configuration may change.
// Identity and access method are fixed at build time.
type Overrides struct {
	// URLTemplates replaces a source's listing template. Replacements must
	// keep the {year} token.
	URLTemplates map[string]string
	// Delays replaces a source's built-in request interval.
	Delays map[string]time.Duration
}

// New builds the catalog from the built-in descriptors with the overrides
// applied. Any invalid descriptor or override is a fatal configuration error.
func New(o Overrides) (*Catalog, error) {
	sources := builtins()
	byID := make(map[string]harvest.SourceDescriptor, len(sources))
	for i := range sources {
		if tpl, ok := o.URLTemplates[sources[i].ID]; ok {
			sources[i].URLTemplate = tpl
		}
		if delay, ok := o.Delays[sources[i].ID]; ok {
			sources[i].MinRequestInterval = delay
		}
		if err := validate(sources[i]); err != nil {
			return nil, err
		}
		byID[sources[i].ID] = sources[i]
	}
	for id := range o.URLTemplates {
		if _, ok := byID[id]; !ok {
			return nil, &harvest.ConfigError{
				Field:  "run.url_overrides",
				Reason: "unknown source " + id,
			}
		}
	}
	for id := range o.Delays {
		if _, ok := byID[id]; !ok {
			return nil, &harvest.ConfigError{
				Field:  "run.delay_overrides_ms",
				Reason: "unknown source " + id,
			}
		}
	}
	return &Catalog{ordered: sources, byID: byID}, nil
}

// All returns the configured sources in catalog order.
func (c *Catalog) All() []harvest.SourceDescriptor {
	out := make([]harvest.SourceDescriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Get looks up one source by ID.
func (c *Catalog) Get(id string) (harvest.SourceDescriptor, bool) {
	desc, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	return desc, ok
}

// Select resolves a list of source IDs into descriptors, preserving catalog
// order and rejecting unknown names. An empty selection means all sources.
func (c *Catalog) Select(ids []string) ([]harvest.SourceDescriptor, error) {
	if len(ids) == 0 {
		return c.All(), nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := strings.ToLower(strings.TrimSpace(id))
		if _, ok := c.byID[key]; !ok {
			known := make([]string, 0, len(c.byID))
			for k := range c.byID {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, &harvest.ConfigError{
				Field:  "run.sources",
				Reason: "unknown source " + id + " (known: " + strings.Join(known, ", ") + ")",
			}
		}
		wanted[key] = struct{}{}
	}
	out := make([]harvest.SourceDescriptor, 0, len(wanted))
	for _, desc := range c.ordered {
		if _, ok := wanted[desc.ID]; ok {
			out = append(out, desc)
		}
	}
	return out, nil
}

func validate(desc harvest.SourceDescriptor) error {
	if strings.TrimSpace(desc.ID) == "" {
		return &harvest.ConfigError{Field: "source.id", Reason: "must not be empty"}
	}
	if !strings.Contains(desc.URLTemplate, harvest.YearToken) {
		return &harvest.ConfigError{
			Field:  "source." + desc.ID + ".url_template",
			Reason: "missing " + harvest.YearToken + " token",
		}
	}
	if !desc.AccessMethod.Valid() {
		return &harvest.ConfigError{
			Field:  "source." + desc.ID + ".access_method",
			Reason: "unknown method " + string(desc.AccessMethod),
		}
	}
	if desc.MinRequestInterval <= 0 {
		return &harvest.ConfigError{
			Field:  "source." + desc.ID + ".min_request_interval",
			Reason: "must be positive",
		}
	}
	return nil
}
