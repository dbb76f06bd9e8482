// Package entity defines the canonical model of the home-automation
// entities PanelSense relays between Home Assistant and its panels.
//
// Entity is a closed set: Light, Cover and Switch are the only
// implementations. Every attribute apart from the identity is optional and
// is represented by a pointer or slice so that "absent" survives encoding.
package entity

import "strings"

// Domain names the Home Assistant domain an entity belongs to.
type Domain string

// Supported domains.
const (
	DomainLight  Domain = "light"
	DomainCover  Domain = "cover"
	DomainSwitch Domain = "switch"
)

// Entity is implemented by Light, Cover and Switch.
type Entity interface {
	// ID returns the entity identity, e.g. "light.kitchen".
	ID() string

	// Domain returns the domain of the entity.
	Domain() Domain

	sealed()
}

// Light is the state of, or command for, a dimmable/colour light.
type Light struct {
	EntityID string

	On                  *bool
	Brightness          *int
	ColorMode           *string
	ColorTempKelvin     *int
	MinColorTempKelvin  *int
	MaxColorTempKelvin  *int
	MinMireds           *int
	MaxMireds           *int
	HSColor             []float64
	RGBColor            []int
	Effect              *string
	EffectList          []string
	SupportedColorModes []string
	SupportedFeatures   *int
	FriendlyName        *string
	Icon                *string
}

// ID implements Entity.
func (l Light) ID() string { return l.EntityID }

// Domain implements Entity.
func (Light) Domain() Domain { return DomainLight }

func (Light) sealed() {}

// CoverState is the motion/position state of a cover.
type CoverState string

// Cover states. CoverStop is only meaningful as a command.
const (
	CoverOpen    CoverState = "open"
	CoverClosed  CoverState = "closed"
	CoverOpening CoverState = "opening"
	CoverClosing CoverState = "closing"
	CoverStop    CoverState = "stop"
)

// Cover is the state of, or command for, a blind, shutter or garage door.
type Cover struct {
	EntityID string

	State             *CoverState
	Position          *int
	TiltPosition      *int
	SupportedFeatures *int
	FriendlyName      *string
	Icon              *string
}

// ID implements Entity.
func (c Cover) ID() string { return c.EntityID }

// Domain implements Entity.
func (Cover) Domain() Domain { return DomainCover }

func (Cover) sealed() {}

// Switch is the state of, or command for, an on/off switch.
type Switch struct {
	EntityID string

	On           *bool
	FriendlyName *string
	Icon         *string
}

// ID implements Entity.
func (s Switch) ID() string { return s.EntityID }

// Domain implements Entity.
func (Switch) Domain() Domain { return DomainSwitch }

func (Switch) sealed() {}

// DomainOf extracts the domain prefix of an entity id ("light.kitchen" -> "light").
// The second result is false when the id has no domain prefix.
func DomainOf(entityID string) (Domain, bool) {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" {
		return "", false
	}
	return Domain(domain), true
}

// Supported reports whether the gateway relays entities of domain d.
func Supported(d Domain) bool {
	switch d {
	case DomainLight, DomainCover, DomainSwitch:
		return true
	default:
		return false
	}
}

// Ptr returns a pointer to v. It keeps literal construction of optional
// attributes short.
func Ptr[T any](v T) *T {
	return &v
}
