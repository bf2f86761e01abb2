package iqoption

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/iqblitz/pkg/sdk/stream"
)

// Direction is the side of a blitz option.
type Direction string

const (
	Call Direction = "call"
	Put  Direction = "put"
)

// ParseDirection accepts call or put in any case.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", errors.Wrapf(ErrValidation, "direction %q must be call or put", s)
	}
	return d, nil
}

// Valid reports whether d is call or put.
func (d Direction) Valid() bool { return d == Call || d == Put }

// TradeState is the lifecycle position of one trade execution.
type TradeState int

const (
	StateIdle TradeState = iota
	StateSent
	StateAwaitingOpenAck
	StateSubscribed
	StateAwaitingSettlement
	StateSettled
	StateTimedOut
	StateError
)

var tradeStateNames = map[TradeState]string{
	StateIdle:               "idle",
	StateSent:               "sent",
	StateAwaitingOpenAck:    "awaiting_open_ack",
	StateSubscribed:         "subscribed",
	StateAwaitingSettlement: "awaiting_settlement",
	StateSettled:            "settled",
	StateTimedOut:           "timed_out",
	StateError:              "error",
}

func (s TradeState) String() string {
	if name, ok := tradeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s TradeState) Terminal() bool {
	return s == StateSettled || s == StateTimedOut || s == StateError
}

// ResultKind is the outcome reported for a trade. "loose" is the server's spelling.
type ResultKind string

const (
	ResultWin       ResultKind = "win"
	ResultLoose     ResultKind = "loose"
	ResultEqual     ResultKind = "equal"
	ResultTimeout   ResultKind = "timeout"
	ResultUnknown   ResultKind = "unknown"
	ResultCancelled ResultKind = "cancelled"
	ResultFailed    ResultKind = "failed"
)

// TradeOrder is the state of one in-flight trade. It is owned by a single
// execution and copied into the Settlement on exit.
type TradeOrder struct {
	LocalID    string          `json:"local_id"`
	ActiveID   int64           `json:"active_id"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Duration   int             `json:"duration"`
	Expired    int64           `json:"expired"`
	PositionID string          `json:"position_id,omitempty"`
	State      TradeState      `json:"state"`
	PnL        decimal.Decimal `json:"pnl"`
	Result     ResultKind      `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// advance moves the order forward. Backward moves and moves out of a
// terminal state are refused.
func (o *TradeOrder) advance(next TradeState) bool {
	if o.State.Terminal() || next <= o.State {
		return false
	}
	o.State = next
	return true
}

// Settlement is what PlaceTrade returns.
type Settlement struct {
	State      TradeState      `json:"state"`
	Result     ResultKind      `json:"result"`
	PnL        decimal.Decimal `json:"pnl"`
	ServerPnL  decimal.Decimal `json:"server_pnl"`
	PositionID string          `json:"position_id,omitempty"`
	Order      TradeOrder      `json:"order"`
}

// Status is "completed" for a settled trade and "error" otherwise.
func (s *Settlement) Status() string {
	if s.State == StateSettled {
		return "completed"
	}
	return "error"
}

// execution drives one PlaceTrade call. Listeners only push into its
// buffered channels.
type execution struct {
	client *Client
	order  *TradeOrder
	log    *logrus.Entry

	positionID string
	opened     chan string
	settled    chan positionChanged

	openSub   *stream.Subscription
	settleSub *stream.Subscription
	serverPnL decimal.Decimal
}

func newExecution(c *Client, order *TradeOrder) *execution {
	return &execution{
		client:  c,
		order:   order,
		log:     log.WithFields(logrus.Fields{"trade": order.LocalID, "active_id": order.ActiveID}),
		opened:  make(chan string, 1),
		settled: make(chan positionChanged, 1),
	}
}

func (e *execution) onOpen(f stream.Frame) error {
	var p positionChanged
	if err := json.Unmarshal(f.Msg, &p); err != nil {
		return fmt.Errorf("%w: position-changed: %v", ErrParse, err)
	}
	opt := p.RawEvent.Option
	if opt == nil || int64(opt.ActiveID) != e.order.ActiveID || opt.Result != optionResultOpened || p.ID == "" {
		return nil
	}
	select {
	case e.opened <- string(p.ID):
	default:
	}
	return nil
}

func (e *execution) onSettle(f stream.Frame) error {
	var p positionChanged
	if err := json.Unmarshal(f.Msg, &p); err != nil {
		return fmt.Errorf("%w: position-changed: %v", ErrParse, err)
	}
	if string(p.ID) != e.positionID {
		return nil
	}
	result := ""
	if p.RawEvent.Option != nil {
		result = p.RawEvent.Option.Result
	}
	if p.Status != positionStatusClosed && !isTerminalResult(result) {
		return nil
	}
	select {
	case e.settled <- p:
	default:
	}
	return nil
}

func isTerminalResult(r string) bool {
	switch ResultKind(r) {
	case ResultWin, ResultLoose, ResultEqual:
		return true
	}
	return false
}

func (e *execution) cleanup() {
	e.openSub.Remove()
	e.settleSub.Remove()
}

func (e *execution) finish(state TradeState, result ResultKind, pnl decimal.Decimal) *Settlement {
	// terminal states are reachable from any non-terminal one
	if !e.order.State.Terminal() {
		e.order.State = state
	}
	e.order.Result = result
	e.order.PnL = pnl
	e.log.WithFields(logrus.Fields{
		"state":       e.order.State.String(),
		"result":      string(result),
		"pnl":         pnl.String(),
		"position_id": e.order.PositionID,
	}).Info("trade finished")
	return &Settlement{
		State:      e.order.State,
		Result:     result,
		PnL:        pnl,
		ServerPnL:  e.serverPnL,
		PositionID: e.order.PositionID,
		Order:      *e.order,
	}
}

// settle computes the local pnl from a terminal position push.
func (e *execution) settle(p positionChanged) *Settlement {
	if p.PnL != nil {
		e.serverPnL = *p.PnL
	}
	e.order.advance(StateSettled)
	opt := p.RawEvent.Option
	if opt == nil {
		return e.finish(StateSettled, ResultUnknown, decimal.Zero)
	}
	amount := opt.Amount
	if amount.IsZero() {
		amount = e.order.Amount
	}
	switch ResultKind(opt.Result) {
	case ResultWin:
		return e.finish(StateSettled, ResultWin, opt.WinEnrolledAmount.Sub(amount))
	case ResultLoose:
		return e.finish(StateSettled, ResultLoose, amount.Neg())
	case ResultEqual:
		return e.finish(StateSettled, ResultEqual, decimal.Zero)
	default:
		return e.finish(StateSettled, ResultUnknown, decimal.Zero)
	}
}

func (e *execution) run(ctx context.Context, balanceID int64) (*Settlement, error) {
	c := e.client
	o := e.order

	o.Expired = c.ServerTimestamp() + int64(o.Duration)
	e.openSub = c.dispatcher.AddListener(EventPositionChanged, e.onOpen)

	body := map[string]interface{}{
		"user_balance_id": balanceID,
		"active_id":       o.ActiveID,
		"option_type_id":  OptionTypeBlitz,
		"direction":       string(o.Direction),
		"expired":         o.Expired,
		"expiration_size": o.Duration,
		"refund_value":    0,
		"price":           o.Amount.InexactFloat64(),
		"value":           0,
		"profit_percent":  c.cfg.ProfitPercent,
	}
	e.log.WithFields(logrus.Fields{"direction": o.Direction, "amount": o.Amount.String(), "expired": o.Expired}).Info("sending order")
	c.tradesPlaced.Add(1)
	err := c.send(ctx, OpSendMessage, o.LocalID, stream.Message{Name: OpOpenOption, Version: "2.0", Body: body})
	if err != nil {
		c.tradesFailed.Add(1)
		return e.finish(StateError, ResultFailed, decimal.Zero), errors.WithMessage(err, "open option")
	}
	o.advance(StateSent)
	o.advance(StateAwaitingOpenAck)

	openTimer := time.NewTimer(c.cfg.OpenAckTimeout)
	defer openTimer.Stop()
	select {
	case pid := <-e.opened:
		e.openSub.Remove()
		o.PositionID = pid
		e.positionID = pid
	case <-openTimer.C:
		e.log.Warnf("no open acknowledgement within %s", c.cfg.OpenAckTimeout)
		c.tradesTimedOut.Add(1)
		return e.finish(StateError, ResultTimeout, decimal.Zero), nil
	case <-ctx.Done():
		c.tradesFailed.Add(1)
		return e.finish(StateError, ResultCancelled, decimal.Zero), ctx.Err()
	}

	// installed before subscribe-positions goes out so an early close is seen
	e.settleSub = c.dispatcher.AddListener(EventPositionChanged, e.onSettle)
	err = c.send(ctx, OpSendMessage, c.ids.Next(), stream.Message{
		Name:    OpSubscribePositions,
		Version: "1.0",
		Body:    map[string]interface{}{"frequency": "frequent", "ids": []string{e.positionID}},
	})
	if err != nil {
		e.log.Warnf("subscribe-positions failed: %v", err)
	}
	o.advance(StateSubscribed)
	o.advance(StateAwaitingSettlement)

	wait := time.Duration(o.Duration)*c.cfg.DurationUnit + c.cfg.SettlementGrace
	settleTimer := time.NewTimer(wait)
	defer settleTimer.Stop()
	select {
	case p := <-e.settled:
		c.tradesSettled.Add(1)
		return e.settle(p), nil
	case <-settleTimer.C:
		e.log.Warnf("position %s not settled within %s", e.positionID, wait)
		c.tradesTimedOut.Add(1)
		return e.finish(StateTimedOut, ResultTimeout, decimal.Zero), nil
	case <-ctx.Done():
		c.tradesFailed.Add(1)
		return e.finish(StateError, ResultCancelled, decimal.Zero), ctx.Err()
	}
}

// PlaceTrade opens a blitz option on the selected balance and blocks until it
// settles, times out or ctx is cancelled. Timeouts come back as a Settlement
// with a nil error; send failures and cancellation return both.
//
// The open acknowledgement carries no request id, so it is matched by active
// id alone. Concurrent trades on the same active all claim the first
// "opened" push and follow that one position. Serialise trades per active
// when that matters.
func (c *Client) PlaceTrade(ctx context.Context, activeID int64, dir Direction, amount decimal.Decimal, duration int) (*Settlement, error) {
	balanceID := c.ActiveBalanceID()
	switch {
	case balanceID == 0:
		return nil, errors.Wrap(ErrValidation, "no active balance selected")
	case !dir.Valid():
		return nil, errors.Wrapf(ErrValidation, "direction %q must be call or put", dir)
	case !amount.IsPositive():
		return nil, errors.Wrapf(ErrValidation, "amount %s must be positive", amount)
	case duration <= 0:
		return nil, errors.Wrapf(ErrValidation, "duration %d must be positive", duration)
	}

	order := &TradeOrder{
		LocalID:   c.ids.Next(),
		ActiveID:  activeID,
		Direction: dir,
		Amount:    amount,
		Duration:  duration,
		State:     StateIdle,
		CreatedAt: c.now(),
	}
	e := newExecution(c, order)
	defer e.cleanup()
	return e.run(ctx, balanceID)
}
