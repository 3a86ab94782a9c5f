package event

import (
	"testing"
	"time"

	"github.com/greenfelt/croupier/internal/services/game/domain/card"
)

func TestGameRegistryAcceptsKnownTypes(t *testing.T) {
	registry := GameRegistry()
	payload, err := MarshalPayload(TurnPayload{PlayerID: "dealer"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	validated, err := registry.ValidateForAppend(Event{
		TableID:     "blackjack:main",
		Type:        TypeTurn,
		Timestamp:   time.Now(),
		PayloadJSON: payload,
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.ActorType != ActorTypeSystem {
		t.Fatalf("actor type = %q, want system default", validated.ActorType)
	}
}

func TestValidateRejectsUnregisteredType(t *testing.T) {
	registry := GameRegistry()
	_, err := registry.ValidateForAppend(Event{
		TableID: "blackjack:main",
		Type:    Type("draw.sideways"),
	})
	if err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

func TestValidateRejectsMissingTableID(t *testing.T) {
	registry := GameRegistry()
	_, err := registry.ValidateForAppend(Event{Type: TypeEnded})
	if err == nil {
		t.Fatal("expected error for missing table id")
	}
}

func TestValidateRequiresPlayerActor(t *testing.T) {
	registry := GameRegistry()
	payload, _ := MarshalPayload(JoinedPayload{PlayerID: "p1", Seat: 0})
	_, err := registry.ValidateForAppend(Event{
		TableID:     "blackjack:main",
		Type:        TypeJoined,
		PayloadJSON: payload,
	})
	if err == nil {
		t.Fatal("expected error for joined event without player actor")
	}

	_, err = registry.ValidateForAppend(Event{
		TableID:     "blackjack:main",
		Type:        TypeJoined,
		ActorType:   ActorTypePlayer,
		ActorID:     "p1",
		PayloadJSON: payload,
	})
	if err != nil {
		t.Fatalf("validate with actor: %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := MarshalPayload(DrawPayload{
		Seat: 1,
		Hand: 0,
		Card: card.New(card.RankAce, card.SuitSpades),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded DrawPayload
	if err := UnmarshalPayload(Event{Type: TypeDraw, PayloadJSON: payload}, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Seat != 1 || decoded.Card.Code != "AS" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestIsOutcome(t *testing.T) {
	for _, outcome := range []Type{TypeWin, TypeTie, TypeLose} {
		if !outcome.IsOutcome() {
			t.Errorf("%s should be an outcome", outcome)
		}
	}
	if TypeDraw.IsOutcome() {
		t.Error("draw is not an outcome")
	}
}
