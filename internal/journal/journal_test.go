package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
)

func settlement(localID string, result iqoption.ResultKind, pnl string) *iqoption.Settlement {
	return &iqoption.Settlement{
		State:      iqoption.StateSettled,
		Result:     result,
		PnL:        decimal.RequireFromString(pnl),
		ServerPnL:  decimal.RequireFromString(pnl),
		PositionID: "pos-" + localID,
		Order: iqoption.TradeOrder{
			LocalID:   localID,
			ActiveID:  76,
			Direction: iqoption.Call,
			Amount:    decimal.RequireFromString("100.10"),
			Duration:  30,
			CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, settlement("a_1", iqoption.ResultWin, "85.085")))
	require.NoError(t, j.Record(ctx, settlement("a_2", iqoption.ResultLoose, "-100.10")))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	newest := entries[0]
	assert.Equal(t, "a_2", newest.LocalID)
	assert.Equal(t, "pos-a_2", newest.PositionID)
	assert.Equal(t, int64(76), newest.ActiveID)
	assert.Equal(t, "call", newest.Direction)
	assert.Equal(t, "settled", newest.State)
	assert.Equal(t, "loose", newest.Result)
	assert.True(t, newest.PnL.Equal(decimal.RequireFromString("-100.1")))
	assert.True(t, newest.Amount.Equal(decimal.RequireFromString("100.10")))
	assert.Equal(t, 30, newest.Duration)
	assert.True(t, newest.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	assert.True(t, entries[1].PnL.Equal(decimal.RequireFromString("85.085")))

	one, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestJournal_TimedOutWithoutPosition(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	s := settlement("b_1", iqoption.ResultTimeout, "0")
	s.State = iqoption.StateError
	s.PositionID = ""
	require.NoError(t, j.Record(context.Background(), s))

	entries, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].State)
	assert.Equal(t, "timeout", entries[0].Result)
	assert.Empty(t, entries[0].PositionID)
}

func TestJournal_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), settlement("c_1", iqoption.ResultEqual, "0")))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	entries, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_RecordNil(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()
	assert.Error(t, j.Record(context.Background(), nil))
}
