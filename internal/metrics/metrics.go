package metrics

import (
	"expvar"
	"sync/atomic"

	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
)

var (
	JournalWrites = expvar.NewInt("journal_writes")
	JournalErrors = expvar.NewInt("journal_errors")
)

// Source is anything that can snapshot client counters; *iqoption.Client does.
type Source interface {
	Stats() iqoption.Stats
}

var source atomic.Pointer[Source]

// Bind makes src the provider behind the published client counters.
// Binding again replaces the previous source.
func Bind(src Source) {
	if src == nil {
		source.Store(nil)
		return
	}
	source.Store(&src)
}

func snapshot() (iqoption.Stats, bool) {
	p := source.Load()
	if p == nil {
		return iqoption.Stats{}, false
	}
	return (*p).Stats(), true
}

func counter(read func(iqoption.Stats) uint64) expvar.Func {
	return func() any {
		s, ok := snapshot()
		if !ok {
			return uint64(0)
		}
		return read(s)
	}
}

func init() {
	expvar.Publish("frames_in", counter(func(s iqoption.Stats) uint64 {
		if s.Transport == nil {
			return 0
		}
		return s.Transport.FramesIn
	}))
	expvar.Publish("frames_out", counter(func(s iqoption.Stats) uint64 {
		if s.Transport == nil {
			return 0
		}
		return s.Transport.FramesOut
	}))
	expvar.Publish("frames_dropped", counter(func(s iqoption.Stats) uint64 {
		if s.Transport == nil {
			return 0
		}
		return s.Transport.FramesDropped
	}))
	expvar.Publish("pending_timeouts", counter(func(s iqoption.Stats) uint64 { return s.Dispatcher.Timeouts }))
	expvar.Publish("listener_errors", counter(func(s iqoption.Stats) uint64 { return s.Dispatcher.ListenerErrors }))
	expvar.Publish("trades_placed", counter(func(s iqoption.Stats) uint64 { return s.TradesPlaced }))
	expvar.Publish("trades_settled", counter(func(s iqoption.Stats) uint64 { return s.TradesSettled }))
	expvar.Publish("trades_timed_out", counter(func(s iqoption.Stats) uint64 { return s.TradesTimedOut }))
	expvar.Publish("trades_failed", counter(func(s iqoption.Stats) uint64 { return s.TradesFailed }))
	expvar.Publish("client", expvar.Func(func() any {
		s, ok := snapshot()
		if !ok {
			return nil
		}
		return s
	}))
}
