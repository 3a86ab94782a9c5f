// Package card models playing cards and blackjack hand scoring.
//
// The card shape mirrors the remote deck service wire format: a rank
// ("2".."10", "JACK", "QUEEN", "KING", "ACE"), a suit, and a two-character
// code such as "AS" or "0D" ("0" stands for ten).
package card

import (
	"fmt"
	"strings"
)

// Suit identifies one of the four French suits.
type Suit string

const (
	SuitSpades   Suit = "SPADES"
	SuitDiamonds Suit = "DIAMONDS"
	SuitClubs    Suit = "CLUBS"
	SuitHearts   Suit = "HEARTS"
)

// Suits lists all suits in new-deck order.
var Suits = []Suit{SuitSpades, SuitDiamonds, SuitClubs, SuitHearts}

// Rank identifies a card rank.
type Rank string

const (
	Rank2     Rank = "2"
	Rank3     Rank = "3"
	Rank4     Rank = "4"
	Rank5     Rank = "5"
	Rank6     Rank = "6"
	Rank7     Rank = "7"
	Rank8     Rank = "8"
	Rank9     Rank = "9"
	Rank10    Rank = "10"
	RankJack  Rank = "JACK"
	RankQueen Rank = "QUEEN"
	RankKing  Rank = "KING"
	RankAce   Rank = "ACE"
)

// Ranks lists all ranks in ascending order, ace high.
var Ranks = []Rank{
	Rank2, Rank3, Rank4, Rank5, Rank6, Rank7,
	Rank8, Rank9, Rank10, RankJack, RankQueen, RankKing, RankAce,
}

// Card is an immutable playing card as drawn from a deck.
type Card struct {
	Rank Rank   `json:"value"`
	Suit Suit   `json:"suit"`
	Code string `json:"code"`
}

// New builds a card with its canonical two-character code.
func New(rank Rank, suit Suit) Card {
	return Card{Rank: rank, Suit: suit, Code: codeOf(rank, suit)}
}

func codeOf(rank Rank, suit Suit) string {
	r := string(rank)
	switch rank {
	case Rank10:
		r = "0"
	case RankJack, RankQueen, RankKing, RankAce:
		r = string(rank[0])
	}
	return r + string(suit[0])
}

// IsValid reports whether the rank is one of the thirteen playable ranks.
func (r Rank) IsValid() bool {
	for _, known := range Ranks {
		if known == r {
			return true
		}
	}
	return false
}

// hardPoints returns the rank's fixed point value. Aces are handled by Score
// and are reported here at their low value.
func (r Rank) hardPoints() int {
	switch r {
	case RankAce:
		return 1
	case RankJack, RankQueen, RankKing, Rank10:
		return 10
	default:
		var n int
		_, err := fmt.Sscanf(string(r), "%d", &n)
		if err != nil {
			return 0
		}
		return n
	}
}

// Score returns the blackjack value of a hand. Face cards count ten. Aces
// are scored last and count eleven unless that would push the running total
// over twenty-one, in which case they count one.
func Score(cards []Card) int {
	total, _ := scoreDetail(cards)
	return total
}

// IsSoft reports whether the hand counts an ace as eleven.
func IsSoft(cards []Card) bool {
	_, soft := scoreDetail(cards)
	return soft
}

// IsNatural reports whether the hand is a two-card twenty-one.
func IsNatural(cards []Card) bool {
	return len(cards) == 2 && Score(cards) == 21
}

// IsBust reports whether the hand exceeds twenty-one.
func IsBust(cards []Card) bool {
	return Score(cards) > 21
}

func scoreDetail(cards []Card) (int, bool) {
	total := 0
	aces := 0
	for _, c := range cards {
		if c.Rank == RankAce {
			aces++
			continue
		}
		total += c.Rank.hardPoints()
	}
	soft := false
	for i := 0; i < aces; i++ {
		if total+11 > 21 {
			total++
			continue
		}
		total += 11
		soft = true
	}
	return total, soft
}

// Shoe returns deckCount standard 52-card decks in new-deck order.
func Shoe(deckCount int) []Card {
	if deckCount < 1 {
		deckCount = 1
	}
	cards := make([]Card, 0, deckCount*52)
	for i := 0; i < deckCount; i++ {
		for _, suit := range Suits {
			for _, rank := range Ranks {
				cards = append(cards, New(rank, suit))
			}
		}
	}
	return cards
}

// Parse converts a two-character code back into a card.
func Parse(code string) (Card, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return Card{}, fmt.Errorf("invalid card code %q", code)
	}
	var rank Rank
	switch code[0] {
	case '0':
		rank = Rank10
	case 'J':
		rank = RankJack
	case 'Q':
		rank = RankQueen
	case 'K':
		rank = RankKing
	case 'A':
		rank = RankAce
	default:
		rank = Rank(code[:1])
	}
	if !rank.IsValid() {
		return Card{}, fmt.Errorf("invalid card rank in code %q", code)
	}
	var suit Suit
	for _, known := range Suits {
		if known[0] == code[1] {
			suit = known
		}
	}
	if suit == "" {
		return Card{}, fmt.Errorf("invalid card suit in code %q", code)
	}
	return New(rank, suit), nil
}
