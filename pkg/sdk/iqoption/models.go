package iqoption

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "" {
		return fmt.Errorf("empty integer")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(int64(v))
	return nil
}

// flexString accepts both JSON strings and numbers, keeping the textual form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Balance is one account balance.
type Balance struct {
	ID         int64           `json:"id"`
	Type       int             `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	IsFiat     bool            `json:"is_fiat"`
	IsMarginal bool            `json:"is_marginal"`
}

// TypeName maps the balance type onto practice, real, tournament or other.
func (b Balance) TypeName() string {
	switch b.Type {
	case BalanceTypePractice:
		return "practice"
	case BalanceTypeReal:
		return "real"
	case BalanceTypeTournament:
		return "tournament"
	default:
		return "other"
	}
}

type balanceRecord struct {
	ID         *flexInt         `json:"id"`
	Type       *flexInt         `json:"type"`
	Amount     *decimal.Decimal `json:"amount"`
	Currency   *string          `json:"currency"`
	IsFiat     bool             `json:"is_fiat"`
	IsMarginal bool             `json:"is_marginal"`
}

// ParseBalance decodes one balance record; id, type, amount and currency are required.
func ParseBalance(raw json.RawMessage) (Balance, error) {
	var r balanceRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return Balance{}, fmt.Errorf("%w: balance: %v", ErrParse, err)
	}
	switch {
	case r.ID == nil:
		return Balance{}, fmt.Errorf("%w: balance: missing id", ErrParse)
	case r.Type == nil:
		return Balance{}, fmt.Errorf("%w: balance: missing type", ErrParse)
	case r.Amount == nil:
		return Balance{}, fmt.Errorf("%w: balance: missing amount", ErrParse)
	case r.Currency == nil:
		return Balance{}, fmt.Errorf("%w: balance: missing currency", ErrParse)
	}
	return Balance{
		ID:         int64(*r.ID),
		Type:       int(*r.Type),
		Amount:     *r.Amount,
		Currency:   *r.Currency,
		IsFiat:     r.IsFiat,
		IsMarginal: r.IsMarginal,
	}, nil
}

// Candle is one OHLC interval. From and To are unix seconds.
type Candle struct {
	ID     int64   `json:"id"`
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	Low    float64 `json:"min"`
	High   float64 `json:"max"`
	Volume float64 `json:"volume"`
}

// FromTime returns the interval start.
func (c Candle) FromTime() time.Time { return time.Unix(c.From, 0) }

// ToTime returns the interval end.
func (c Candle) ToTime() time.Time { return time.Unix(c.To, 0) }

type candleRecord struct {
	ID     *flexInt `json:"id"`
	From   *flexInt `json:"from"`
	To     *flexInt `json:"to"`
	Open   *float64 `json:"open"`
	Close  *float64 `json:"close"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Volume *float64 `json:"volume"`
}

// ParseCandle decodes one historical candle; every field is required.
func ParseCandle(raw json.RawMessage) (Candle, error) {
	var r candleRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return Candle{}, fmt.Errorf("%w: candle: %v", ErrParse, err)
	}
	if r.ID == nil || r.From == nil || r.To == nil || r.Open == nil || r.Close == nil ||
		r.Min == nil || r.Max == nil || r.Volume == nil {
		return Candle{}, fmt.Errorf("%w: candle: missing field in %s", ErrParse, truncate(string(raw), 120))
	}
	return Candle{
		ID:     int64(*r.ID),
		From:   int64(*r.From),
		To:     int64(*r.To),
		Open:   *r.Open,
		Close:  *r.Close,
		Low:    *r.Min,
		High:   *r.Max,
		Volume: *r.Volume,
	}, nil
}

// CandleTick is the decoded form of a candle-generated push.
type CandleTick struct {
	ActiveID int64   `json:"active_id"`
	Size     int     `json:"size"`
	From     int64   `json:"from"`
	To       int64   `json:"to"`
	Open     float64 `json:"open"`
	Close    float64 `json:"close"`
	Low      float64 `json:"min"`
	High     float64 `json:"max"`
	Volume   float64 `json:"volume"`
}

// ParseCandleTick decodes the raw payload handed to candle stream handlers.
func ParseCandleTick(raw json.RawMessage) (CandleTick, error) {
	var r struct {
		ActiveID flexInt `json:"active_id"`
		Size     flexInt `json:"size"`
		From     flexInt `json:"from"`
		To       flexInt `json:"to"`
		Open     float64 `json:"open"`
		Close    float64 `json:"close"`
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
		Volume   float64 `json:"volume"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return CandleTick{}, fmt.Errorf("%w: candle tick: %v", ErrParse, err)
	}
	return CandleTick{
		ActiveID: int64(r.ActiveID),
		Size:     int(r.Size),
		From:     int64(r.From),
		To:       int64(r.To),
		Open:     r.Open,
		Close:    r.Close,
		Low:      r.Min,
		High:     r.Max,
		Volume:   r.Volume,
	}, nil
}

// candleRoute holds the routing fields of a candle-generated push.
type candleRoute struct {
	ActiveID flexInt `json:"active_id"`
	Size     flexInt `json:"size"`
}

// positionChanged is the subset of a position-changed push the trade flow reads.
type positionChanged struct {
	ID       flexString       `json:"id"`
	Status   string           `json:"status"`
	PnL      *decimal.Decimal `json:"pnl"`
	RawEvent struct {
		Option *optionChanged `json:"binary_options_option_changed1"`
	} `json:"raw_event"`
}

type optionChanged struct {
	ActiveID          flexInt         `json:"active_id"`
	Direction         string          `json:"direction"`
	Result            string          `json:"result"`
	Amount            decimal.Decimal `json:"amount"`
	WinEnrolledAmount decimal.Decimal `json:"win_enrolled_amount"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
