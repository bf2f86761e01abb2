package iqoption

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Decision is a trade signal. Confidence is in [0, 1].
type Decision struct {
	Side       Direction `json:"side"`
	Confidence float64   `json:"confidence"`
}

// Decider turns recent candles into a Decision. A nil Decision means no trade.
type Decider interface {
	Decide(ctx context.Context, candles []Candle) (*Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, candles []Candle) (*Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, candles []Candle) (*Decision, error) {
	return f(ctx, candles)
}

// Momentum picks the side the window moved in, from the first open to the
// last close. Confidence is that move relative to the window's high-low range.
// A flat window yields no decision.
func Momentum() Decider {
	return DeciderFunc(func(_ context.Context, candles []Candle) (*Decision, error) {
		if len(candles) == 0 {
			return nil, nil
		}
		move := candles[len(candles)-1].Close - candles[0].Open
		if move == 0 {
			return nil, nil
		}
		low, high := candles[0].Low, candles[0].High
		for _, c := range candles[1:] {
			low = math.Min(low, c.Low)
			high = math.Max(high, c.High)
		}
		d := &Decision{Side: Call}
		if move < 0 {
			d.Side = Put
		}
		if span := high - low; span > 0 {
			d.Confidence = math.Min(1, math.Abs(move)/span)
		}
		return d, nil
	})
}

// Decide fetches the newest count candles of activeID and asks d for a side.
// It returns a nil Decision when there is nothing to trade.
func (c *Client) Decide(ctx context.Context, d Decider, activeID int64, interval, count int) (*Decision, error) {
	if d == nil {
		return nil, errors.Wrap(ErrValidation, "nil decider")
	}
	candles, err := c.GetCandles(ctx, activeID, interval, count, 0)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	decision, err := d.Decide(ctx, candles)
	if err != nil {
		return nil, errors.WithMessage(err, "decide")
	}
	if decision != nil && !decision.Side.Valid() {
		return nil, errors.Wrapf(ErrValidation, "decider returned side %q", decision.Side)
	}
	return decision, nil
}
