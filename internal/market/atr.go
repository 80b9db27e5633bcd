package market

import (
	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// DefaultAtrPeriod is the lookback used for volatility based grid spacing.
const DefaultAtrPeriod = 14

// Window keeps the most recent candles for one symbol, bounded to the ATR
// lookback plus one so the oldest candle still supplies a previous close.
type Window struct {
	period  int
	candles []core.Candle
}

func NewWindow(period int) *Window {
	if period <= 0 {
		period = DefaultAtrPeriod
	}
	return &Window{period: period}
}

// Push appends a candle, evicting the oldest once the window holds
// period+1 entries.
func (w *Window) Push(candle core.Candle) {
	w.candles = append(w.candles, candle)
	if max := w.period + 1; len(w.candles) > max {
		w.candles = w.candles[len(w.candles)-max:]
	}
}

func (w *Window) Len() int {
	return len(w.candles)
}

// ATR computes the average true range over the window. With fewer than
// period+1 candles it falls back to the mean of whatever true ranges are
// available, and returns zero when no range can be formed yet.
func (w *Window) ATR() decimal.Decimal {
	return ATR(w.candles, w.period)
}

// Spacing converts the current ATR to a grid step via the multiplier.
func (w *Window) Spacing(multiplier decimal.Decimal) decimal.Decimal {
	return w.ATR().Mul(multiplier)
}

// ATR computes the average true range of the trailing candles. The true range
// of each candle uses the previous candle's close, so n candles yield n-1
// ranges; the result averages the most recent `period` of them.
func ATR(candles []core.Candle, period int) decimal.Decimal {
	if len(candles) < 2 || period <= 0 {
		return decimal.Zero
	}

	ranges := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		ranges = append(ranges, trueRange(candles[i], candles[i-1].Close))
	}
	if len(ranges) > period {
		ranges = ranges[len(ranges)-period:]
	}

	sum := decimal.Zero
	for _, r := range ranges {
		sum = sum.Add(r)
	}
	return sum.Div(decimal.NewFromInt(int64(len(ranges))))
}

func trueRange(candle core.Candle, prevClose decimal.Decimal) decimal.Decimal {
	tr := candle.High.Sub(candle.Low)
	if hc := candle.High.Sub(prevClose).Abs(); hc.Cmp(tr) > 0 {
		tr = hc
	}
	if lc := candle.Low.Sub(prevClose).Abs(); lc.Cmp(tr) > 0 {
		tr = lc
	}
	return tr
}
