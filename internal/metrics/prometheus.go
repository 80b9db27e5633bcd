package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "tidytapbit"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	ordersPlaced := newCounter("orders_placed_total", "Total number of rung orders placed.")
	ordersFailed := newCounter("orders_failed_total", "Total number of order placement failures.")
	ordersCanceled := newCounter("orders_canceled_total", "Total number of orders canceled.")
	fills := newCounter("fills_total", "Total number of order fills observed.")
	tpFills := newCounter("take_profit_fills_total", "Total number of fills matching the recorded take-profit price.")
	recenters := newCounter("recenters_total", "Total number of ladder recenters.")
	trendFlips := newCounter("trend_flips_total", "Total number of trend-driven side flips.")
	staleExpiries := newCounter("stale_expiries_total", "Total number of stale orders expired.")
	feedReconnects := newCounter("feed_reconnects_total", "Total number of feed reconnects.")

	m := &Metrics{
		OrdersPlaced:    promCounter{ordersPlaced},
		OrdersFailed:    promCounter{ordersFailed},
		OrdersCanceled:  promCounter{ordersCanceled},
		Fills:           promCounter{fills},
		TakeProfitFills: promCounter{tpFills},
		Recenters:       promCounter{recenters},
		TrendFlips:      promCounter{trendFlips},
		StaleExpiries:   promCounter{staleExpiries},
		FeedReconnects:  promCounter{feedReconnects},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
