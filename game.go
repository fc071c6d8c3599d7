package main

import (
	"fmt"
	"math"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
)

const (
	maxEvents     = 300
	maxDayReports = 100

	dayLength = 24.0 // in-game hours per day
	tickStep  = 0.1  // hours added per scheduler tick

	clickBaseValue      = 0.01
	clickValuePerLevel  = 0.01
	clickFrenzyMinimum  = 100 // strictly more clicks than this triggers the bonus
	clickFrenzyMultiple = 4.0

	buildingCostGrowth = 1.2
)

// Currency denominations, all expressed in pc (copper).
const (
	currencyPC         = 1.0
	currencyPA         = 100.0
	currencyPO         = 10000.0
	currencyPP         = 1000000.0
	currencyDiamond    = 1e9
	currencyEssence    = 1e12
	currencyFragment   = 1e15
	currencyMultiverse = 1e18
	currencyOrigin     = 1e21
)

// randSource is the randomness the engine consumes. *math/rand.Rand satisfies
// it; tests substitute scripted sequences.
type randSource interface {
	Float64() float64
	Intn(n int) int
}

type ActiveCraft struct {
	CraftID  int        `json:"craftId"`
	Kind     RecipeKind `json:"type"`
	StartDay int        `json:"startDay"`
	Duration int        `json:"duration"`
	Name     string     `json:"name"`
}

type QueuedCraft struct {
	CraftID int        `json:"craftId"`
	Kind    RecipeKind `json:"type"`
	Name    string     `json:"name"`
}

type WorkshopState struct {
	Unlocked           bool               `json:"unlocked"`
	Slots              int                `json:"slots"`
	QueueSize          int                `json:"queueSize"`
	ActiveSlots        []ActiveCraft      `json:"activeSlots"`
	Queue              []QueuedCraft      `json:"queue"`
	CompletedMonuments []int              `json:"completedMonuments"`
	CraftedItems       map[string]float64 `json:"craftedItems"`
	RosesCompleted     []int              `json:"roseEtherCompleted"`
	FirstRoseMade      bool               `json:"firstRoseMade"`
}

type Child struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Rarity   string `json:"rarity"`
	Affinity string `json:"affinity"`
	BirthDay int    `json:"birthDay"`
}

type AssignedChild struct {
	BuildingID int     `json:"buildingId"`
	Rarity     string  `json:"rarity"`
	Bonus      float64 `json:"bonus"`
	Name       string  `json:"name"`
}

type OrphanageState struct {
	Unlocked         bool            `json:"unlocked"`
	Children         []Child         `json:"children"`
	AssignedChildren []AssignedChild `json:"assignedChildren"`
	NextChildDay     int             `json:"nextChildDay"`
}

// GameState is the whole mutable progression of one playthrough. Field tags
// match the save document format, so a state marshals directly into a save.
type GameState struct {
	Money               float64            `json:"money"`
	Buildings           []int              `json:"buildings"`
	ClicksToday         int                `json:"-"`
	TimeElapsed         float64            `json:"-"`
	DayCount            int                `json:"dayCount"`
	Inventory           map[string]float64 `json:"inventory"`
	Abilities           map[string]bool    `json:"abilities"`
	Prestige            int                `json:"prestige"`
	PrestigeTotalCumule int                `json:"prestigeTotalCumule"`
	PrestigeUnlocked    bool               `json:"prestigeUnlocked"`
	AutoReport          bool               `json:"autoReport"`
	Workshop            WorkshopState      `json:"workshop"`
	Orphanage           OrphanageState     `json:"orphanage"`
}

type ReportLine struct {
	Kind     string  `json:"type"` // "money" or "resource"
	Source   string  `json:"source"`
	Amount   float64 `json:"amount,omitempty"`
	Resource string  `json:"resourceName,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

type DayReport struct {
	Day        int          `json:"day"`
	TotalMoney float64      `json:"totalMoney"`
	Lines      []ReportLine `json:"details"`
}

type Event struct {
	ID   int64     `json:"id"`
	Day  int       `json:"day"`
	Type string    `json:"type"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Store struct {
	mu sync.Mutex

	catalog *Catalog
	repo    *SQLRepository

	Game GameState

	// PendingReport blocks time from advancing until acknowledged.
	PendingReport *DayReport
	LastReport    *DayReport

	Events      []Event
	NextEventID int64

	rng randSource
}

func newStore(catalog *Catalog) *Store {
	return &Store{
		catalog: catalog,
		Game:    newGameState(catalog),
		Events:  []Event{},
		rng:     mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func newGameState(catalog *Catalog) GameState {
	return GameState{
		Buildings: make([]int, len(catalog.Buildings)),
		Inventory: map[string]float64{},
		Abilities: map[string]bool{},
		Workshop:  newWorkshopState(),
		Orphanage: newOrphanageState(),
	}
}

func newWorkshopState() WorkshopState {
	return WorkshopState{
		Slots:              1,
		QueueSize:          1,
		ActiveSlots:        []ActiveCraft{},
		Queue:              []QueuedCraft{},
		CompletedMonuments: []int{},
		CraftedItems:       map[string]float64{},
		RosesCompleted:     []int{},
	}
}

func newOrphanageState() OrphanageState {
	return OrphanageState{
		Children:         []Child{},
		AssignedChildren: []AssignedChild{},
		NextChildDay:     10,
	}
}

// abilityKey is the save-format key for one unlocked ability.
func abilityKey(buildingID, level int) string {
	return fmt.Sprintf("%d-%d", buildingID, level)
}

func buildingCost(base float64, level int) float64 {
	return base * math.Pow(buildingCostGrowth, float64(level))
}

func handleClickLocked(s *Store) {
	s.Game.ClicksToday++
}

func buyBuildingLocked(s *Store, buildingID int) error {
	b, ok := s.catalog.Building(buildingID)
	if !ok {
		return fmt.Errorf("unknown building %d", buildingID)
	}
	cost := buildingCost(b.BaseCost, s.Game.Buildings[buildingID])
	if s.Game.Money < cost {
		return fmt.Errorf("not enough money: need %s", formatMoney(cost))
	}
	s.Game.Money -= cost
	s.Game.Buildings[buildingID]++
	return nil
}

func buyAbilityLocked(s *Store, buildingID, level int) error {
	b, ok := s.catalog.Building(buildingID)
	if !ok {
		return fmt.Errorf("unknown building %d", buildingID)
	}
	a := b.AbilityAt(level)
	if a == nil {
		return fmt.Errorf("building %q has no ability at level %d", b.Name, level)
	}
	key := abilityKey(buildingID, level)
	if s.Game.Abilities[key] {
		return fmt.Errorf("ability already unlocked")
	}
	if s.Game.Buildings[buildingID] < level {
		return fmt.Errorf("building level %d required", level)
	}
	if s.Game.Money < a.Cost {
		return fmt.Errorf("not enough money: need %s", formatMoney(a.Cost))
	}
	s.Game.Money -= a.Cost
	s.Game.Abilities[key] = true
	return nil
}

func sellResourceLocked(s *Store, name string, quantity float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}
	price, ok := s.catalog.ResourcePrice(name)
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", name)
	}
	if s.Game.Inventory[name] < quantity {
		return 0, fmt.Errorf("not enough %s", name)
	}
	gained := price * quantity * (1 + sellBonusPercentLocked(s)/100)
	s.Game.Inventory[name] -= quantity
	if s.Game.Inventory[name] == 0 {
		delete(s.Game.Inventory, name)
	}
	s.Game.Money += gained
	checkPrestigeUnlockLocked(s)
	return gained, nil
}

func setAutoReportLocked(s *Store, enabled bool) error {
	// Gated behind the Marchand level 1 ability.
	if enabled && !s.Game.Abilities[abilityKey(7, 1)] {
		return fmt.Errorf("automatic reports are not unlocked")
	}
	s.Game.AutoReport = enabled
	return nil
}

// advanceTimeLocked moves the in-day clock forward. Time freezes while a day
// report waits for acknowledgement.
func advanceTimeLocked(s *Store, dt float64) {
	if s.PendingReport != nil {
		return
	}
	s.Game.TimeElapsed += dt
	if s.Game.TimeElapsed >= dayLength {
		endDayLocked(s)
	}
}

func endDayLocked(s *Store) {
	now := time.Now().UTC()
	s.Game.DayCount++

	processWorkshopCraftsLocked(s)
	processOrphanageAgingLocked(s)

	report := computeDayProductionLocked(s)
	s.Game.Money += report.TotalMoney

	s.Game.ClicksToday = 0
	s.Game.TimeElapsed = 0

	checkPrestigeUnlockLocked(s)

	if s.Game.AutoReport {
		s.LastReport = report
	} else {
		s.PendingReport = report
	}
	addEventLocked(s, Event{Type: "Day", Text: fmt.Sprintf("Jour %d : %s gagnés", report.Day, formatMoney(report.TotalMoney)), At: now})
	persistLocked(s)
	persistReportLocked(s, report)
}

func acknowledgeReportLocked(s *Store) *DayReport {
	r := s.PendingReport
	if r != nil {
		s.LastReport = r
		s.PendingReport = nil
	}
	return r
}

// resetGameLocked wipes the playthrough but keeps prestige currency and every
// permanent unlock, same as a manual reset from the settings panel.
func resetGameLocked(s *Store) {
	g := &s.Game
	kept := struct {
		prestige         int
		prestigeTotal    int
		prestigeUnlocked bool
		workshopUnlocked bool
		orphanUnlocked   bool
		monuments        []int
		firstRoseMade    bool
	}{
		prestige:         g.Prestige,
		prestigeTotal:    g.PrestigeTotalCumule,
		prestigeUnlocked: g.PrestigeUnlocked,
		workshopUnlocked: g.Workshop.Unlocked,
		orphanUnlocked:   g.Orphanage.Unlocked,
		monuments:        append([]int{}, g.Workshop.CompletedMonuments...),
		firstRoseMade:    g.Workshop.FirstRoseMade,
	}

	*g = newGameState(s.catalog)
	g.Prestige = kept.prestige
	g.PrestigeTotalCumule = kept.prestigeTotal
	g.PrestigeUnlocked = kept.prestigeUnlocked
	g.Workshop.Unlocked = kept.workshopUnlocked
	g.Workshop.CompletedMonuments = kept.monuments
	g.Workshop.FirstRoseMade = kept.firstRoseMade
	g.Orphanage.Unlocked = kept.orphanUnlocked

	s.PendingReport = nil
	s.LastReport = nil
	addEventLocked(s, Event{Type: "Reset", Text: "Nouvelle partie (prestige conservé)", At: time.Now().UTC()})
	persistLocked(s)
}

func periodForTime(t float64) string {
	switch {
	case t < 8:
		return "matin"
	case t < 16:
		return "aprem"
	default:
		return "soir"
	}
}

func addEventLocked(s *Store, e Event) {
	s.NextEventID++
	e.ID = s.NextEventID
	e.Day = s.Game.DayCount
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
}

// formatMoney renders an amount in the three largest denominations it spans,
// with a fractional pc remainder when room is left.
func formatMoney(amount float64) string {
	if amount == 0 {
		return "0 pc"
	}
	units := []struct {
		symbol string
		value  float64
	}{
		{"✪", currencyOrigin},
		{"∞", currencyMultiverse},
		{"⟁", currencyFragment},
		{"✦", currencyEssence},
		{"♦", currencyDiamond},
		{"pp", currencyPP},
		{"po", currencyPO},
		{"pa", currencyPA},
	}

	var parts []string
	remaining := amount
	for _, u := range units {
		if remaining >= u.value {
			count := math.Floor(remaining / u.value)
			parts = append(parts, fmt.Sprintf("%.0f %s", count, u.symbol))
			remaining = math.Mod(remaining, u.value)
			if len(parts) >= 3 {
				break
			}
		}
	}
	if remaining > 0 && len(parts) < 3 {
		parts = append(parts, strings.Replace(fmt.Sprintf("%.2f", remaining), ".", ",", 1)+" pc")
	}
	if len(parts) == 0 {
		return "0 pc"
	}
	return strings.Join(parts, " ")
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
