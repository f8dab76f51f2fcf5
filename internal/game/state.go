package game

// MatchStatus represents the lifecycle stage of a match
type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"
	StatusActive   MatchStatus = "active"
	StatusFinished MatchStatus = "finished"
)

// Finish reasons reported with game_end
const (
	ReasonBoardFull = "board_full"
	ReasonSurrender = "surrender"
	ReasonReported  = "reported"
)

// Durability tells the caller whether a state change reached durable storage
// or only lives in process memory.
type Durability int

const (
	Durable Durability = iota
	DegradedMemoryOnly
)

func (d Durability) String() string {
	if d == Durable {
		return "durable"
	}
	return "memory_only"
}
