package game

import "fmt"

// Card strength bounds
const (
	MinStrength = 1
	MaxStrength = 10
)

// Element is an optional elemental tag printed on a card
type Element string

const (
	ElementNone    Element = ""
	ElementFire    Element = "fire"
	ElementIce     Element = "ice"
	ElementThunder Element = "thunder"
	ElementEarth   Element = "earth"
	ElementPoison  Element = "poison"
	ElementWind    Element = "wind"
	ElementWater   Element = "water"
	ElementHoly    Element = "holy"
)

// AssetRef points at an externally owned token (NFT contract + token id)
type AssetRef struct {
	Contract string `json:"nft_contract_id"`
	TokenID  string `json:"token_id"`
}

// IsZero reports whether the reference is empty
func (a AssetRef) IsZero() bool {
	return a.Contract == "" && a.TokenID == ""
}

// Key returns a stable identifier used for de-duplication
func (a AssetRef) Key() string {
	return a.Contract + "/" + a.TokenID
}

func (a AssetRef) String() string {
	return a.Key()
}

// Card represents a playing card. Values are copied, never mutated after creation.
type Card struct {
	Name    string    `json:"name"`
	Top     int       `json:"top"`
	Right   int       `json:"right"`
	Bottom  int       `json:"bottom"`
	Left    int       `json:"left"`
	Element Element   `json:"element,omitempty"`
	Asset   *AssetRef `json:"asset,omitempty"`
}

// NewCard creates a validated card
func NewCard(name string, top, right, bottom, left int) (Card, error) {
	c := Card{Name: name, Top: top, Right: right, Bottom: bottom, Left: left}
	if err := c.Validate(); err != nil {
		return Card{}, err
	}
	return c, nil
}

// Validate checks that every side strength is within bounds
func (c Card) Validate() error {
	for _, v := range []int{c.Top, c.Right, c.Bottom, c.Left} {
		if v < MinStrength || v > MaxStrength {
			return ErrInvalidCard
		}
	}
	return nil
}

// String returns a compact representation like "Bunny[5 3 4 2]"
func (c Card) String() string {
	return fmt.Sprintf("%s[%d %d %d %d]", c.Name, c.Top, c.Right, c.Bottom, c.Left)
}

// Direction names one edge of a card
type Direction int

const (
	DirTop Direction = iota
	DirRight
	DirBottom
	DirLeft
)

// Opposite returns the edge facing this one on an adjacent card
func (d Direction) Opposite() Direction {
	return (d + 2) % 4
}

// Strength returns the card's value on the given edge
func (c Card) Strength(d Direction) int {
	switch d {
	case DirTop:
		return c.Top
	case DirRight:
		return c.Right
	case DirBottom:
		return c.Bottom
	case DirLeft:
		return c.Left
	default:
		return 0
	}
}
