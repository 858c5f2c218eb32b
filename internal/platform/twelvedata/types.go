package twelvedata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradefeed/internal/domain"
)

// EventKind classifies every inbound websocket frame. Frames that do not
// match a known kind parse as EventUnknown and are never fatal to the
// connection.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPrice
	EventSubscribeStatus
	EventStatus
	EventHeartbeat
	EventRateLimit
)

func (k EventKind) String() string {
	switch k {
	case EventPrice:
		return "price"
	case EventSubscribeStatus:
		return "subscribe-status"
	case EventStatus:
		return "status"
	case EventHeartbeat:
		return "heartbeat"
	case EventRateLimit:
		return "rate-limit"
	default:
		return "unknown"
	}
}

// ControlMessage is the outbound frame format. Symbols travel as a
// comma-joined list inside params.
type ControlMessage struct {
	Action string         `json:"action"`
	Params *ControlParams `json:"params,omitempty"`
}

type ControlParams struct {
	Symbols string `json:"symbols"`
}

func SubscribeMessage(symbols ...string) ControlMessage {
	return ControlMessage{Action: "subscribe", Params: &ControlParams{Symbols: strings.Join(symbols, ",")}}
}

func UnsubscribeMessage(symbols ...string) ControlMessage {
	return ControlMessage{Action: "unsubscribe", Params: &ControlParams{Symbols: strings.Join(symbols, ",")}}
}

func ResetMessage() ControlMessage {
	return ControlMessage{Action: "reset"}
}

func HeartbeatMessage() ControlMessage {
	return ControlMessage{Action: "heartbeat"}
}

// PriceEvent is a live tick for one symbol. Timestamp is unix seconds.
type PriceEvent struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Timestamp     int64           `json:"timestamp"`
	DayVolume     int64           `json:"day_volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// SymbolStatus is one entry in a subscribe-status success or fails list.
type SymbolStatus struct {
	Symbol string `json:"symbol"`
}

// SubscribeStatusEvent acknowledges a subscribe request per symbol.
type SubscribeStatusEvent struct {
	Status  string         `json:"status"`
	Success []SymbolStatus `json:"success"`
	Fails   []SymbolStatus `json:"fails"`
}

// StatusEvent reports the outcome of other control actions.
type StatusEvent struct {
	Action  string `json:"action"`
	Status  string `json:"status"`
	Symbols string `json:"symbols"`
	Message string `json:"message"`
}

// Event is the decoded form of one inbound frame. Exactly the field matching
// Kind is populated.
type Event struct {
	Kind            EventKind
	Price           *PriceEvent
	SubscribeStatus *SubscribeStatusEvent
	Status          *StatusEvent
	Messages        []string
}

type envelope struct {
	Event    string          `json:"event"`
	Messages json.RawMessage `json:"messages"`
}

// rateLimitPhrase appears in message-processing frames when the upstream
// throttles outbound control traffic.
const rateLimitPhrase = "events per minute"

// ParseEvent decodes one inbound frame. Unrecognized event names yield
// EventUnknown with a nil error so callers can log and move on.
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("twelvedata: decode event envelope: %w", err)
	}

	switch env.Event {
	case "price":
		var pe PriceEvent
		if err := json.Unmarshal(raw, &pe); err != nil {
			return Event{}, fmt.Errorf("twelvedata: decode price event: %w", err)
		}
		return Event{Kind: EventPrice, Price: &pe}, nil
	case "subscribe-status":
		var se SubscribeStatusEvent
		if err := json.Unmarshal(raw, &se); err != nil {
			return Event{}, fmt.Errorf("twelvedata: decode subscribe-status event: %w", err)
		}
		return Event{Kind: EventSubscribeStatus, SubscribeStatus: &se}, nil
	case "status":
		var st StatusEvent
		if err := json.Unmarshal(raw, &st); err != nil {
			return Event{}, fmt.Errorf("twelvedata: decode status event: %w", err)
		}
		return Event{Kind: EventStatus, Status: &st}, nil
	case "heartbeat":
		return Event{Kind: EventHeartbeat}, nil
	case "message-processing":
		ev := Event{Kind: EventRateLimit}
		if len(env.Messages) > 0 {
			// messages arrives as either a single string or a list.
			var many []string
			if err := json.Unmarshal(env.Messages, &many); err == nil {
				ev.Messages = many
			} else {
				var one string
				if err := json.Unmarshal(env.Messages, &one); err == nil {
					ev.Messages = []string{one}
				}
			}
		}
		return ev, nil
	default:
		return Event{Kind: EventUnknown}, nil
	}
}

// IsRateLimitNotice reports whether any message text carries the upstream
// throttle phrase.
func IsRateLimitNotice(messages []string) bool {
	for _, m := range messages {
		if strings.Contains(m, rateLimitPhrase) {
			return true
		}
	}
	return false
}

// BarValue is one raw row from a time_series response. Numeric fields stay
// as pointers so a missing field is distinguishable from zero.
type BarValue struct {
	Datetime string           `json:"datetime"`
	Open     *decimal.Decimal `json:"open"`
	High     *decimal.Decimal `json:"high"`
	Low      *decimal.Decimal `json:"low"`
	Close    *decimal.Decimal `json:"close"`
	Volume   *decimal.Decimal `json:"volume"`
}

// Bar validates the raw row and converts it. Rows missing any of the date or
// OHLC fields fail validation and are skipped by the caller.
func (v BarValue) Bar(symbol string) (domain.OHLCBar, error) {
	if v.Datetime == "" {
		return domain.OHLCBar{}, fmt.Errorf("twelvedata: bar for %s missing datetime", symbol)
	}
	if v.Open == nil || v.High == nil || v.Low == nil || v.Close == nil {
		return domain.OHLCBar{}, fmt.Errorf("twelvedata: bar for %s at %s missing ohlc fields", symbol, v.Datetime)
	}
	date, err := parseBarDate(v.Datetime)
	if err != nil {
		return domain.OHLCBar{}, fmt.Errorf("twelvedata: bar for %s: %w", symbol, err)
	}

	bar := domain.OHLCBar{
		Symbol:        strings.ToUpper(symbol),
		Date:          date,
		Open:          *v.Open,
		High:          *v.High,
		Low:           *v.Low,
		Close:         *v.Close,
		AdjustedClose: *v.Close,
	}
	if v.Volume != nil {
		bar.Volume = v.Volume.IntPart()
	}
	return bar, nil
}
