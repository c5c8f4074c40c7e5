// Package catalog loads the product catalog: the features recommendations
// may target and the plan tiers upsell gating reasons about.
package catalog

import (
	"embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultFS embed.FS

// Feature is one product capability a recommendation can target.
type Feature struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	MinPlan     string   `yaml:"min_plan"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Plan is a purchasable tier. Level orders plans so a tier jump can be
// computed as a level difference.
type Plan struct {
	Name         string  `yaml:"name"`
	Level        int     `yaml:"level"`
	MonthlyPrice float64 `yaml:"monthly_price"`
}

// Catalog is the parsed product catalog.
type Catalog struct {
	Features []Feature `yaml:"features"`
	Plans    []Plan    `yaml:"plans"`

	featureIndex map[string]Feature
	planIndex    map[string]Plan
}

// Load reads a catalog from a YAML file. An empty path loads the embedded
// default catalog.
func Load(path string) (*Catalog, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = defaultFS.ReadFile("catalog.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	c := &wrapper.Catalog
	if len(c.Plans) == 0 {
		return nil, eris.New("catalog: no plans defined")
	}
	c.featureIndex = make(map[string]Feature, len(c.Features))
	for _, f := range c.Features {
		c.featureIndex[normalize(f.Name)] = f
	}
	c.planIndex = make(map[string]Plan, len(c.Plans))
	for _, p := range c.Plans {
		c.planIndex[normalize(p.Name)] = p
	}
	sort.Slice(c.Plans, func(i, j int) bool { return c.Plans[i].Level < c.Plans[j].Level })
	return c, nil
}

// Feature looks up a feature by name, case-insensitively.
func (c *Catalog) Feature(name string) (Feature, bool) {
	f, ok := c.featureIndex[normalize(name)]
	return f, ok
}

// Plan looks up a plan by name, case-insensitively.
func (c *Catalog) Plan(name string) (Plan, bool) {
	p, ok := c.planIndex[normalize(name)]
	return p, ok
}

// PlanForFeature returns the cheapest plan that includes the feature.
func (c *Catalog) PlanForFeature(f Feature) (Plan, bool) {
	return c.Plan(f.MinPlan)
}

// PriceDelta returns the monthly price difference of moving a customer from
// their current plan to the cheapest plan that includes feature. Zero when
// either lookup fails or the feature is already included.
func (c *Catalog) PriceDelta(currentPlan, feature string) float64 {
	cur, ok := c.Plan(currentPlan)
	if !ok {
		return 0
	}
	f, ok := c.Feature(feature)
	if !ok {
		return 0
	}
	target, ok := c.PlanForFeature(f)
	if !ok || target.Level <= cur.Level {
		return 0
	}
	return target.MonthlyPrice - cur.MonthlyPrice
}

// TierJump returns how many plan levels up the customer would move to get
// the feature. Zero when already included or unknown.
func (c *Catalog) TierJump(currentPlan, feature string) int {
	cur, ok := c.Plan(currentPlan)
	if !ok {
		return 0
	}
	f, ok := c.Feature(feature)
	if !ok {
		return 0
	}
	target, ok := c.PlanForFeature(f)
	if !ok || target.Level <= cur.Level {
		return 0
	}
	return target.Level - cur.Level
}

// Included reports whether the customer's current plan already covers the
// feature. Unknown features report false.
func (c *Catalog) Included(currentPlan, feature string) bool {
	cur, ok := c.Plan(currentPlan)
	if !ok {
		return false
	}
	f, ok := c.Feature(feature)
	if !ok {
		return false
	}
	target, ok := c.PlanForFeature(f)
	return ok && target.Level <= cur.Level
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
