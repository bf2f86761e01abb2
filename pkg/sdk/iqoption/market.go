package iqoption

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/betbot/iqblitz/pkg/sdk/stream"
)

// GetBalances fetches every balance of the configured types. Records that
// fail to parse are skipped.
func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	resp, err := c.sendMessage(ctx, OpGetBalances, "1.0", map[string]interface{}{
		"types_ids": c.cfg.BalanceTypes,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "get balances")
	}

	var records []json.RawMessage
	if err := json.Unmarshal(resp.Msg, &records); err != nil {
		return nil, fmt.Errorf("%w: balances: %v", ErrParse, err)
	}
	balances := make([]Balance, 0, len(records))
	for _, raw := range records {
		b, err := ParseBalance(raw)
		if err != nil {
			log.WithField("raw", truncate(string(raw), 200)).Warnf("skipping balance: %v", err)
			continue
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// GetCandles fetches up to count candles of interval seconds ending at to
// (unix seconds; 0 means now on the server clock). The result is ascending by
// From with duplicates removed.
func (c *Client) GetCandles(ctx context.Context, activeID int64, interval, count int, to int64) ([]Candle, error) {
	if interval <= 0 || count <= 0 {
		return nil, errors.Wrapf(ErrValidation, "interval %d and count %d must be positive", interval, count)
	}
	if to == 0 {
		to = c.ServerTimestamp()
	}
	resp, err := c.sendMessage(ctx, OpGetCandles, "2.0", map[string]interface{}{
		"active_id": activeID,
		"size":      interval,
		"to":        to,
		"count":     count,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "get candles for active %d", activeID)
	}

	var body struct {
		Candles []json.RawMessage `json:"candles"`
	}
	if err := json.Unmarshal(resp.Msg, &body); err != nil {
		return nil, fmt.Errorf("%w: candles: %v", ErrParse, err)
	}

	candles := make([]Candle, 0, len(body.Candles))
	for _, raw := range body.Candles {
		candle, err := ParseCandle(raw)
		if err != nil {
			log.WithField("active_id", activeID).Warnf("skipping candle: %v", err)
			continue
		}
		candles = append(candles, candle)
	}
	return normalizeCandles(candles, count), nil
}

// normalizeCandles sorts by From, keeps the first candle per From and trims
// to the newest limit entries.
func normalizeCandles(candles []Candle, limit int) []Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].From < candles[j].From })
	out := candles[:0]
	for i, cd := range candles {
		if i > 0 && cd.From == out[len(out)-1].From {
			continue
		}
		out = append(out, cd)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func candleFilters(activeID int64, interval int) map[string]interface{} {
	return map[string]interface{}{
		"routingFilters": map[string]interface{}{
			"active_id": activeID,
			"size":      interval,
		},
	}
}

// StartCandleStream subscribes to live candles for (activeID, interval) and
// calls handler with each raw tick payload. handler runs on the receive
// goroutine and must not block. Each call adds an independent listener.
func (c *Client) StartCandleStream(ctx context.Context, activeID int64, interval int, handler func(json.RawMessage)) (*stream.Subscription, error) {
	if handler == nil {
		return nil, errors.Wrap(ErrValidation, "nil candle handler")
	}
	err := c.send(ctx, OpSubscribeMessage, c.ids.NextSub(), stream.SubscribeMessage{
		Name:   EventCandleGenerated,
		Params: candleFilters(activeID, interval),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "subscribe candles %d/%ds", activeID, interval)
	}

	wantActive := strconv.FormatInt(activeID, 10)
	wantSize := strconv.Itoa(interval)
	sub := c.dispatcher.AddListener(EventCandleGenerated, func(f stream.Frame) error {
		var route candleRoute
		if err := json.Unmarshal(f.Msg, &route); err != nil {
			return fmt.Errorf("%w: candle route: %v", ErrParse, err)
		}
		if strconv.FormatInt(int64(route.ActiveID), 10) != wantActive || strconv.Itoa(int(route.Size)) != wantSize {
			return nil
		}
		handler(f.Msg)
		return nil
	})
	log.WithField("active_id", activeID).Infof("candle stream started (%ds)", interval)
	return sub, nil
}

// StopCandleStream removes sub and asks the server to stop the feed.
func (c *Client) StopCandleStream(ctx context.Context, activeID int64, interval int, sub *stream.Subscription) error {
	sub.Remove()
	err := c.send(ctx, OpUnsubscribeMessage, c.ids.NextSub(), stream.SubscribeMessage{
		Name:   EventCandleGenerated,
		Params: candleFilters(activeID, interval),
	})
	if err != nil {
		return errors.WithMessagef(err, "unsubscribe candles %d/%ds", activeID, interval)
	}
	return nil
}
