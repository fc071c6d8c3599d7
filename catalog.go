package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var defaultCatalogYAML []byte

// EffectKind is the closed set of ability effect tags. Anything else in the
// catalog file is a load error, not a silent no-op.
type EffectKind string

const (
	EffectProductionPercent  EffectKind = "production_percent"
	EffectProductionMultiply EffectKind = "production_multiply"
	EffectProductionAdd      EffectKind = "production_add"
	EffectClickBonus         EffectKind = "click_bonus"
	EffectClickValueAdd      EffectKind = "click_value_add"
	EffectClickGainsMultiply EffectKind = "click_gains_multiply"
	EffectGlobalBonus        EffectKind = "global_bonus"
	EffectSellBonus          EffectKind = "sell_bonus"
	EffectUnlockAutoReport   EffectKind = "unlock_autoreport"
)

var knownEffects = map[EffectKind]bool{
	EffectProductionPercent:  true,
	EffectProductionMultiply: true,
	EffectProductionAdd:      true,
	EffectClickBonus:         true,
	EffectClickValueAdd:      true,
	EffectClickGainsMultiply: true,
	EffectGlobalBonus:        true,
	EffectSellBonus:          true,
	EffectUnlockAutoReport:   true,
}

type IngredientKind string

const (
	IngredientResource IngredientKind = "resource"
	IngredientCraft    IngredientKind = "craft"
	IngredientSpecial  IngredientKind = "special"
)

// RecipeKind distinguishes the three recipe families that share the workshop.
type RecipeKind string

const (
	RecipeCraft    RecipeKind = "craft"
	RecipeMonument RecipeKind = "monument"
	RecipeRose     RecipeKind = "rose"
)

type Effect struct {
	Type  EffectKind `yaml:"type"`
	Value float64    `yaml:"value"`
	// Resource is flavor only: sell bonuses apply to every resource even
	// when the catalog names one.
	Resource string `yaml:"resource,omitempty"`
}

type Ability struct {
	Level       int     `yaml:"level"`
	Cost        float64 `yaml:"cost"`
	Effect      Effect  `yaml:"effect"`
	Description string  `yaml:"description"`
}

type ResourceYield struct {
	Name     string  `yaml:"name"`
	Quantity float64 `yaml:"quantity"`
	Price    float64 `yaml:"price"`
}

type BuildingDef struct {
	ID             int             `yaml:"id"`
	Name           string          `yaml:"name"`
	BaseCost       float64         `yaml:"base_cost"`
	BaseProduction float64         `yaml:"base_production"`
	Schedule       []string        `yaml:"schedule"`
	Description    string          `yaml:"description"`
	Variable       bool            `yaml:"variable"`
	Resources      []ResourceYield `yaml:"resources"`
	Abilities      []Ability       `yaml:"abilities"`
}

// ProducesResource reports whether the building yields inventory items
// instead of money.
func (b *BuildingDef) ProducesResource() bool { return len(b.Resources) > 0 }

func (b *BuildingDef) AbilityAt(level int) *Ability {
	for i := range b.Abilities {
		if b.Abilities[i].Level == level {
			return &b.Abilities[i]
		}
	}
	return nil
}

type Ingredient struct {
	Kind     IngredientKind `yaml:"kind"`
	Name     string         `yaml:"name"`
	Quantity float64        `yaml:"quantity"`
}

type CraftDef struct {
	ID          int          `yaml:"id"`
	Name        string       `yaml:"name"`
	Tier        int          `yaml:"tier"`
	Days        int          `yaml:"days"`
	Multiplier  float64      `yaml:"multiplier"`
	Ingredients []Ingredient `yaml:"ingredients"`
}

type MonumentDef struct {
	ID          int          `yaml:"id"`
	Name        string       `yaml:"name"`
	Tier        int          `yaml:"tier"`
	Days        int          `yaml:"days"`
	Bonus       string       `yaml:"bonus"`
	Ingredients []Ingredient `yaml:"ingredients"`
}

type RoseDef struct {
	ID               int          `yaml:"id"`
	Name             string       `yaml:"name"`
	Tier             int          `yaml:"tier"`
	Days             int          `yaml:"days"`
	Multiplier       float64      `yaml:"multiplier"`
	RequiresMonument int          `yaml:"requires_monument"`
	Final            bool         `yaml:"final"`
	Ingredients      []Ingredient `yaml:"ingredients"`
}

type SpecialItemDef struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	PrestigeRequired int    `yaml:"prestige_required"`
}

type AffinityDef struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	Buildings []int  `yaml:"buildings"`
}

// Recipe is the uniform view the workshop works with, materialized from
// whichever family table the id points into.
type Recipe struct {
	ID          int
	Kind        RecipeKind
	Name        string
	Days        int
	Multiplier  float64
	Ingredients []Ingredient
}

type Catalog struct {
	Buildings    []BuildingDef    `yaml:"buildings"`
	Crafts       []CraftDef       `yaml:"crafts"`
	Monuments    []MonumentDef    `yaml:"monuments"`
	Roses        []RoseDef        `yaml:"roses"`
	SpecialItems []SpecialItemDef `yaml:"special_items"`
	Affinities   []AffinityDef    `yaml:"affinities"`
	ChildNames   []string         `yaml:"child_names"`

	craftsByName   map[string]*CraftDef
	rosesByName    map[string]*RoseDef
	specialsByName map[string]*SpecialItemDef
	resourcePrices map[string]float64
	craftCosts     map[string]float64
}

// loadCatalog parses and validates the content tables. When path is empty the
// embedded default is used.
func loadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalogYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = b
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Buildings) == 0 {
		return fmt.Errorf("no buildings")
	}
	c.craftsByName = make(map[string]*CraftDef, len(c.Crafts))
	c.rosesByName = make(map[string]*RoseDef, len(c.Roses))
	c.specialsByName = make(map[string]*SpecialItemDef, len(c.SpecialItems))
	c.resourcePrices = make(map[string]float64)

	for i := range c.Buildings {
		b := &c.Buildings[i]
		if b.ID != i {
			return fmt.Errorf("building %q: id %d at index %d", b.Name, b.ID, i)
		}
		for _, r := range b.Resources {
			if _, dup := c.resourcePrices[r.Name]; dup {
				return fmt.Errorf("resource %q produced by more than one building", r.Name)
			}
			c.resourcePrices[r.Name] = r.Price
		}
		for _, a := range b.Abilities {
			if !knownEffects[a.Effect.Type] {
				return fmt.Errorf("building %q level %d: unknown effect %q", b.Name, a.Level, a.Effect.Type)
			}
		}
	}
	for i := range c.Crafts {
		cd := &c.Crafts[i]
		if cd.ID != i {
			return fmt.Errorf("craft %q: id %d at index %d", cd.Name, cd.ID, i)
		}
		c.craftsByName[cd.Name] = cd
	}
	for i := range c.Roses {
		r := &c.Roses[i]
		if r.ID != i {
			return fmt.Errorf("rose %q: id %d at index %d", r.Name, r.ID, i)
		}
		if r.RequiresMonument < 0 || r.RequiresMonument >= len(c.Monuments) {
			return fmt.Errorf("rose %q: unknown monument %d", r.Name, r.RequiresMonument)
		}
		c.rosesByName[r.Name] = r
	}
	for i := range c.SpecialItems {
		s := &c.SpecialItems[i]
		c.specialsByName[s.Name] = s
	}
	for i := range c.Monuments {
		if c.Monuments[i].ID != i {
			return fmt.Errorf("monument %q: id %d at index %d", c.Monuments[i].Name, c.Monuments[i].ID, i)
		}
	}

	check := func(owner string, ings []Ingredient) error {
		for _, ing := range ings {
			switch ing.Kind {
			case IngredientResource:
				if _, ok := c.resourcePrices[ing.Name]; !ok {
					return fmt.Errorf("%s: unknown resource %q", owner, ing.Name)
				}
			case IngredientCraft:
				_, isCraft := c.craftsByName[ing.Name]
				_, isRose := c.rosesByName[ing.Name]
				if !isCraft && !isRose {
					return fmt.Errorf("%s: unknown craft %q", owner, ing.Name)
				}
			case IngredientSpecial:
				if _, ok := c.specialsByName[ing.Name]; !ok {
					return fmt.Errorf("%s: unknown special item %q", owner, ing.Name)
				}
			default:
				return fmt.Errorf("%s: unknown ingredient kind %q", owner, ing.Kind)
			}
			if ing.Quantity <= 0 {
				return fmt.Errorf("%s: non-positive quantity for %q", owner, ing.Name)
			}
		}
		return nil
	}
	for i := range c.Crafts {
		if err := check("craft "+c.Crafts[i].Name, c.Crafts[i].Ingredients); err != nil {
			return err
		}
	}
	for i := range c.Monuments {
		if err := check("monument "+c.Monuments[i].Name, c.Monuments[i].Ingredients); err != nil {
			return err
		}
	}
	for i := range c.Roses {
		if err := check("rose "+c.Roses[i].Name, c.Roses[i].Ingredients); err != nil {
			return err
		}
	}
	for _, a := range c.Affinities {
		for _, id := range a.Buildings {
			if id < 0 || id >= len(c.Buildings) {
				return fmt.Errorf("affinity %q: unknown building %d", a.Key, id)
			}
		}
	}
	if len(c.ChildNames) == 0 {
		return fmt.Errorf("no child names")
	}

	// Walking every craft cost up front rejects recipe cycles at load time.
	c.craftCosts = make(map[string]float64, len(c.Crafts))
	for i := range c.Crafts {
		if _, err := c.craftCost(c.Crafts[i].Name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// craftCost values a craft recipe: resources at catalog price plus nested
// crafts at their cost times their sale multiplier. Memoized; visiting guards
// against ingredient cycles.
func (c *Catalog) craftCost(name string, visiting map[string]bool) (float64, error) {
	if cost, ok := c.craftCosts[name]; ok {
		return cost, nil
	}
	if visiting[name] {
		return 0, fmt.Errorf("craft %q: ingredient cycle", name)
	}
	cd, ok := c.craftsByName[name]
	if !ok {
		// Rose ingredients price at zero, same as special items.
		return 0, nil
	}
	visiting[name] = true
	defer delete(visiting, name)

	total := 0.0
	for _, ing := range cd.Ingredients {
		switch ing.Kind {
		case IngredientResource:
			total += c.resourcePrices[ing.Name] * ing.Quantity
		case IngredientCraft:
			sub, err := c.craftCost(ing.Name, visiting)
			if err != nil {
				return 0, err
			}
			var mult float64
			if sc, ok := c.craftsByName[ing.Name]; ok {
				mult = sc.Multiplier
			}
			total += sub * mult * ing.Quantity
		}
	}
	c.craftCosts[name] = total
	return total, nil
}

// CraftValue is the sale price of one finished craft before sell bonuses.
func (c *Catalog) CraftValue(name string) float64 {
	cd, ok := c.craftsByName[name]
	if !ok {
		return 0
	}
	return c.craftCosts[name] * cd.Multiplier
}

func (c *Catalog) Recipe(kind RecipeKind, id int) (Recipe, bool) {
	switch kind {
	case RecipeCraft:
		if id < 0 || id >= len(c.Crafts) {
			return Recipe{}, false
		}
		cd := &c.Crafts[id]
		return Recipe{ID: cd.ID, Kind: kind, Name: cd.Name, Days: cd.Days, Multiplier: cd.Multiplier, Ingredients: cd.Ingredients}, true
	case RecipeMonument:
		if id < 0 || id >= len(c.Monuments) {
			return Recipe{}, false
		}
		m := &c.Monuments[id]
		return Recipe{ID: m.ID, Kind: kind, Name: m.Name, Days: m.Days, Ingredients: m.Ingredients}, true
	case RecipeRose:
		if id < 0 || id >= len(c.Roses) {
			return Recipe{}, false
		}
		r := &c.Roses[id]
		return Recipe{ID: r.ID, Kind: kind, Name: r.Name, Days: r.Days, Multiplier: r.Multiplier, Ingredients: r.Ingredients}, true
	}
	return Recipe{}, false
}

func (c *Catalog) Building(id int) (*BuildingDef, bool) {
	if id < 0 || id >= len(c.Buildings) {
		return nil, false
	}
	return &c.Buildings[id], true
}

func (c *Catalog) ResourcePrice(name string) (float64, bool) {
	p, ok := c.resourcePrices[name]
	return p, ok
}

func (c *Catalog) CraftByName(name string) (*CraftDef, bool) {
	cd, ok := c.craftsByName[name]
	return cd, ok
}

func (c *Catalog) SpecialItem(name string) (*SpecialItemDef, bool) {
	s, ok := c.specialsByName[name]
	return s, ok
}

func (c *Catalog) Affinity(key string) (AffinityDef, bool) {
	for _, a := range c.Affinities {
		if a.Key == key {
			return a, true
		}
	}
	return AffinityDef{}, false
}

func (c *Catalog) AffinityKeys() []string {
	keys := make([]string, len(c.Affinities))
	for i, a := range c.Affinities {
		keys[i] = a.Key
	}
	return keys
}
