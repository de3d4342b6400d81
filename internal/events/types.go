package events

// Event enumerates high-level topics inside the orchestration core.
type Event string

const (
	EventSessionUpdate Event = "session.update"
	EventSignalRaised  Event = "signal.raised"
	EventTradePlaced   Event = "trade.placed"
	EventTradeSettled  Event = "trade.settled"
	EventRiskAlert     Event = "risk.alert"
	EventSessionLog    Event = "session.log"
)

// SessionUpdatePayload accompanies EventSessionUpdate.
type SessionUpdatePayload struct {
	Account string `json:"account"`
	State   string `json:"state"`
}

func (p SessionUpdatePayload) AccountKey() string { return p.Account }

// TradePlacedPayload accompanies EventTradePlaced once a contract is
// open at the venue.
type TradePlacedPayload struct {
	Account    string  `json:"account"`
	SignalID   string  `json:"signal_id"`
	TradeID    string  `json:"trade_id"`
	Instrument string  `json:"instrument"`
	Direction  string  `json:"direction"`
	Amount     float64 `json:"amount"`
}

func (p TradePlacedPayload) AccountKey() string { return p.Account }

// TradeSettledPayload accompanies EventTradeSettled.
type TradeSettledPayload struct {
	Account    string  `json:"account"`
	SignalID   string  `json:"signal_id"`
	Instrument string  `json:"instrument"`
	Outcome    string  `json:"outcome"`
	Profit     float64 `json:"profit"`
	Simulated  bool    `json:"simulated"`
}

func (p TradeSettledPayload) AccountKey() string { return p.Account }

// RiskAlertPayload accompanies EventRiskAlert when a limit trips.
type RiskAlertPayload struct {
	Account string `json:"account"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail"`
}

func (p RiskAlertPayload) AccountKey() string { return p.Account }

// LogPayload accompanies EventSessionLog for streaming consumers.
type LogPayload struct {
	Account string `json:"account"`
	Line    string `json:"line"`
}

func (p LogPayload) AccountKey() string { return p.Account }
