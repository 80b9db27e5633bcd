package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	OrdersCanceled  Counter
	Fills           Counter
	TakeProfitFills Counter
	Recenters       Counter
	TrendFlips      Counter
	StaleExpiries   Counter
	FeedReconnects  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		OrdersCanceled:  n,
		Fills:           n,
		TakeProfitFills: n,
		Recenters:       n,
		TrendFlips:      n,
		StaleExpiries:   n,
		FeedReconnects:  n,
	}
}
