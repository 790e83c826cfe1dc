package fleet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type ShipClass string

const (
	ClassBattleship  ShipClass = "battleship"
	ClassCruiser     ShipClass = "cruiser"
	ClassDestroyer   ShipClass = "destroyer"
	ClassFrigate     ShipClass = "frigate"
	ClassCarrier     ShipClass = "carrier"
	ClassEngineering ShipClass = "engineering"
)

type WeaponType string

const (
	WeaponBeam    WeaponType = "beam"
	WeaponGun     WeaponType = "gun"
	WeaponMissile WeaponType = "missile"
)

type HullSize string

const (
	HullSmall  HullSize = "small"
	HullMedium HullSize = "medium"
	HullLarge  HullSize = "large"
)

// Role selects class-specific behaviour: carriers get a hangar component,
// engineering ships may repair others.
type Role string

const (
	RoleCombat      Role = "combat"
	RoleCarrier     Role = "carrier"
	RoleEngineering Role = "engineering"
)

// ClassSpec is the static catalog entry for a ship class. Values describe one
// ship-group at full strength.
type ClassSpec struct {
	Class        ShipClass  `yaml:"class" json:"class"`
	Role         Role       `yaml:"role" json:"role"`
	Hull         HullSize   `yaml:"hull" json:"hull"`
	Weapon       WeaponType `yaml:"weapon" json:"weapon"`
	MaxSpeed     float64    `yaml:"max_speed" json:"max_speed"`         // units/s
	Acceleration float64    `yaml:"acceleration" json:"acceleration"`   // units/s^2
	TurnRate     float64    `yaml:"turn_rate" json:"turn_rate"`         // rad/s
	Firepower    float64    `yaml:"firepower" json:"firepower"`         // damage per volley
	Range        float64    `yaml:"range" json:"range"`                 // units
	Accuracy     float64    `yaml:"accuracy" json:"accuracy"`           // base hit chance 0..1
	FireInterval int        `yaml:"fire_interval" json:"fire_interval"` // ticks between volleys
	MaxHP        float64    `yaml:"max_hp" json:"max_hp"`
	Armor        float64    `yaml:"armor" json:"armor"`
	Shield       float64    `yaml:"shield" json:"shield"` // per facing
	MaxFuel      float64    `yaml:"max_fuel" json:"max_fuel"`
	MaxAmmo      int        `yaml:"max_ammo" json:"max_ammo"`
}

var (
	ErrUnknownClass   = errors.New("fleet: unknown ship class")
	ErrInvalidClass   = errors.New("fleet: invalid ship class spec")
	ErrDuplicateClass = errors.New("fleet: duplicate ship class")
)

// Validate reports the first malformed field of the spec.
func (c ClassSpec) Validate() error {
	bad := func(field string) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidClass, c.Class, field)
	}
	switch {
	case c.Class == "":
		return fmt.Errorf("%w: missing class name", ErrInvalidClass)
	case c.Role != RoleCombat && c.Role != RoleCarrier && c.Role != RoleEngineering:
		return bad("role")
	case c.Hull != HullSmall && c.Hull != HullMedium && c.Hull != HullLarge:
		return bad("hull")
	case c.Weapon != WeaponBeam && c.Weapon != WeaponGun && c.Weapon != WeaponMissile:
		return bad("weapon")
	case !(c.MaxSpeed > 0):
		return bad("max_speed")
	case !(c.Acceleration > 0):
		return bad("acceleration")
	case !(c.TurnRate > 0):
		return bad("turn_rate")
	case !(c.Firepower >= 0):
		return bad("firepower")
	case !(c.Range > 0):
		return bad("range")
	case !(c.Accuracy > 0 && c.Accuracy <= 1):
		return bad("accuracy")
	case c.FireInterval < 1:
		return bad("fire_interval")
	case !(c.MaxHP > 0):
		return bad("max_hp")
	case !(c.Armor >= 0):
		return bad("armor")
	case !(c.Shield >= 0):
		return bad("shield")
	case !(c.MaxFuel >= 0):
		return bad("max_fuel")
	case c.MaxAmmo < 0:
		return bad("max_ammo")
	}
	return nil
}

// Catalog indexes ship classes. It is read-only after construction and safe to
// share between sessions.
type Catalog struct {
	classes map[ShipClass]ClassSpec
}

func NewCatalog(specs []ClassSpec) (*Catalog, error) {
	c := &Catalog{classes: make(map[ShipClass]ClassSpec, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.classes[spec.Class]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, spec.Class)
		}
		c.classes[spec.Class] = spec
	}
	if len(c.classes) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", ErrInvalidClass)
	}
	return c, nil
}

func (c *Catalog) Lookup(class ShipClass) (ClassSpec, error) {
	if c == nil {
		return ClassSpec{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	spec, ok := c.classes[class]
	if !ok {
		return ClassSpec{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return spec, nil
}

// Classes returns the catalog entries sorted by class name.
func (c *Catalog) Classes() []ClassSpec {
	out := make([]ClassSpec, 0, len(c.classes))
	for _, spec := range c.classes {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func DefaultClassSpecs() []ClassSpec {
	return []ClassSpec{
		{Class: ClassBattleship, Role: RoleCombat, Hull: HullLarge, Weapon: WeaponBeam,
			MaxSpeed: 40, Acceleration: 10, TurnRate: 0.35, Firepower: 120, Range: 400, Accuracy: 0.7,
			FireInterval: 10, MaxHP: 1000, Armor: 70, Shield: 50, MaxFuel: 1000, MaxAmmo: 200},
		{Class: ClassCruiser, Role: RoleCombat, Hull: HullMedium, Weapon: WeaponGun,
			MaxSpeed: 55, Acceleration: 15, TurnRate: 0.6, Firepower: 70, Range: 350, Accuracy: 0.72,
			FireInterval: 8, MaxHP: 600, Armor: 50, Shield: 40, MaxFuel: 800, MaxAmmo: 240},
		{Class: ClassDestroyer, Role: RoleCombat, Hull: HullSmall, Weapon: WeaponGun,
			MaxSpeed: 75, Acceleration: 22, TurnRate: 0.9, Firepower: 40, Range: 300, Accuracy: 0.75,
			FireInterval: 6, MaxHP: 350, Armor: 30, Shield: 25, MaxFuel: 600, MaxAmmo: 300},
		{Class: ClassFrigate, Role: RoleCombat, Hull: HullSmall, Weapon: WeaponMissile,
			MaxSpeed: 90, Acceleration: 28, TurnRate: 1.1, Firepower: 25, Range: 250, Accuracy: 0.78,
			FireInterval: 5, MaxHP: 200, Armor: 20, Shield: 15, MaxFuel: 500, MaxAmmo: 120},
		{Class: ClassCarrier, Role: RoleCarrier, Hull: HullLarge, Weapon: WeaponMissile,
			MaxSpeed: 40, Acceleration: 10, TurnRate: 0.35, Firepower: 50, Range: 500, Accuracy: 0.65,
			FireInterval: 12, MaxHP: 800, Armor: 50, Shield: 45, MaxFuel: 1000, MaxAmmo: 160},
		{Class: ClassEngineering, Role: RoleEngineering, Hull: HullMedium, Weapon: WeaponGun,
			MaxSpeed: 50, Acceleration: 12, TurnRate: 0.5, Firepower: 10, Range: 200, Accuracy: 0.5,
			FireInterval: 15, MaxHP: 400, Armor: 40, Shield: 30, MaxFuel: 900, MaxAmmo: 60},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultClassSpecs())
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Classes []ClassSpec `yaml:"classes"`
}

// LoadCatalog reads a YAML ship catalog. A missing file yields the built-in
// catalog; a malformed one is an error.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read ship catalog %q: %w", cleanPath, err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ship catalog: %w", err)
	}
	return NewCatalog(file.Classes)
}
