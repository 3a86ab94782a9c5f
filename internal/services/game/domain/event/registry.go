package event

import (
	"fmt"
	"strings"
)

// Definition declares an event type the journal will accept.
type Definition struct {
	Type Type
	// RequiresActor marks events that must carry a player actor.
	RequiresActor bool
	// RequiresPayload marks events that must carry a JSON payload.
	RequiresPayload bool
}

// Registry holds the set of event types a journal accepts. Appending an
// unregistered type fails loudly so a typo cannot silently fork history.
type Registry struct {
	defs map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]Definition)}
}

// Register adds a definition to the registry.
func (r *Registry) Register(def Definition) error {
	if !def.Type.IsValid() {
		return fmt.Errorf("event type is required")
	}
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("event type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Definition returns the definition for a type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	def, ok := r.defs[t]
	return def, ok
}

// ValidateForAppend normalizes and validates an event before it is appended.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt.TableID = strings.TrimSpace(evt.TableID)
	if evt.TableID == "" {
		return Event{}, fmt.Errorf("event table id is required")
	}
	def, ok := r.defs[evt.Type]
	if !ok {
		return Event{}, fmt.Errorf("event type %q is not registered", evt.Type)
	}
	if evt.ActorType == "" {
		evt.ActorType = ActorTypeSystem
	}
	if def.RequiresActor && (evt.ActorType != ActorTypePlayer || strings.TrimSpace(evt.ActorID) == "") {
		return Event{}, fmt.Errorf("event type %q requires a player actor", evt.Type)
	}
	if def.RequiresPayload && len(evt.PayloadJSON) == 0 {
		return Event{}, fmt.Errorf("event type %q requires a payload", evt.Type)
	}
	return evt, nil
}

// GameRegistry returns a registry with every game event type registered.
func GameRegistry() *Registry {
	registry := NewRegistry()
	defs := []Definition{
		{Type: TypeCreated, RequiresPayload: true},
		{Type: TypeJoined, RequiresActor: true, RequiresPayload: true},
		{Type: TypeBet, RequiresActor: true, RequiresPayload: true},
		{Type: TypeStarted, RequiresPayload: true},
		{Type: TypeEnded, RequiresPayload: true},
		{Type: TypeNewDeck, RequiresPayload: true},
		{Type: TypeDraw, RequiresPayload: true},
		{Type: TypeDrawDealer, RequiresPayload: true},
		{Type: TypeSplit, RequiresActor: true, RequiresPayload: true},
		{Type: TypeTurn, RequiresPayload: true},
		{Type: TypeBust, RequiresPayload: true},
		{Type: TypeBustDealer, RequiresPayload: true},
		{Type: TypeShowDealer, RequiresPayload: true},
		{Type: TypeWin, RequiresPayload: true},
		{Type: TypeTie, RequiresPayload: true},
		{Type: TypeLose, RequiresPayload: true},
		{Type: TypeSpin, RequiresPayload: true},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			// Definitions above are static; a failure here is a programmer error.
			panic(err)
		}
	}
	return registry
}
