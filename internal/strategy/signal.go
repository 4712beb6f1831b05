package strategy

import "time"

// Action is the trading action a signal requests
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// EventKind tags what produced a signal
type EventKind string

const (
	EventEntry      EventKind = "entry"
	EventCrashExit  EventKind = "crash_exit"
	EventNormalExit EventKind = "normal_exit"
	EventRebuy      EventKind = "rebuy"
)

// ExitReason distinguishes the normal exit paths
type ExitReason string

const (
	ExitBollinger  ExitReason = "bollinger_upper"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// RebuyMode selects how an armed rebuy fires
type RebuyMode string

const (
	// RebuyConfirmation waits for the price to recover above the rebuy level
	RebuyConfirmation RebuyMode = "confirmation"
	// RebuyKnife buys into a continued fall below the rebuy level
	RebuyKnife RebuyMode = "knife"
)

// Event describes why a signal fired. Kind selects which extra fields are
// meaningful: Confirmations for entries, Reason for normal exits, Mode for
// rebuys, Drawdown for crash exits.
type Event struct {
	Kind          EventKind  `json:"kind"`
	Confirmations int        `json:"confirmations,omitempty"`
	Reason        ExitReason `json:"reason,omitempty"`
	Mode          RebuyMode  `json:"mode,omitempty"`
	Drawdown      float64    `json:"drawdown,omitempty"`
}

// Signal is an immutable trade recommendation produced by one evaluation
// cycle. A nil *Signal from the generator means "no action".
type Signal struct {
	Action     Action    `json:"action"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Size       float64   `json:"size"`       // fraction of equity committed, (0, 1]
	Confidence float64   `json:"confidence"` // (0, 1]
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Event      Event     `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
}
