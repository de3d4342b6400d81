package venue

// Mode selects which account balance the venue trades against.
type Mode string

const (
	ModePractice Mode = "PRACTICE"
	ModeReal     Mode = "REAL"
)

// Direction is the side of a directional contract.
type Direction string

const (
	Call Direction = "call"
	Put  Direction = "put"
)

// Outcome is the settlement result of a placed trade.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeTie     Outcome = "TIE"
	OutcomePending Outcome = "PENDING"
)

// Candle is a single OHLC bar as returned by the venue.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Credentials identify one venue account.
type Credentials struct {
	Identifier string
	Secret     string
}
