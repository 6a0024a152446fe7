// Package metrics exposes ledger activity as Prometheus metrics. Collector
// implements harvest.Observer so the ledger feeds it after every commit.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/warp/harvest-ledger/harvest"
)

type Collector struct {
	WeighEntries       *prometheus.CounterVec
	WeighKg            *prometheus.CounterVec
	WalletBalance      *prometheus.GaugeVec
	PayoutsTotal       *prometheus.CounterVec
	PayoutAmount       *prometheus.CounterVec
	PayoutsRejected    *prometheus.CounterVec
	CollectionsSettled *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collector and registers it on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		WeighEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_weigh_entries_total",
			Help: "Weigh entries recorded.",
		}, []string{"company_id"}),
		WeighKg: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_weighed_kg_total",
			Help: "Kilograms recorded across all weigh entries.",
		}, []string{"company_id"}),
		WalletBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_wallet_balance",
			Help: "Current balance of each harvest wallet.",
		}, []string{"wallet_id"}),
		PayoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_payouts_total",
			Help: "Committed wallet draws.",
		}, []string{"wallet_id"}),
		PayoutAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_payout_amount_total",
			Help: "Cash drawn from wallets.",
		}, []string{"wallet_id"}),
		PayoutsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_payouts_rejected_total",
			Help: "Wallet draws rejected, by reason.",
		}, []string{"wallet_id", "reason"}),
		CollectionsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_collections_settled_total",
			Help: "Collections closed against a buyer payment.",
		}, []string{"crop_type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, m := range []prometheus.Collector{
		c.WeighEntries, c.WeighKg, c.WalletBalance, c.PayoutsTotal, c.PayoutAmount,
		c.PayoutsRejected, c.CollectionsSettled, c.HTTPRequests, c.HTTPDuration,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// =============================================================================
// harvest.Observer
// =============================================================================

func (c *Collector) WeighRecorded(_ context.Context, e harvest.WeighEntry) {
	c.WeighEntries.WithLabelValues(e.CompanyID).Inc()
	c.WeighKg.WithLabelValues(e.CompanyID).Add(e.WeightKg.InexactFloat64())
}

func (c *Collector) WalletChanged(_ context.Context, w harvest.Wallet) {
	c.WalletBalance.WithLabelValues(string(w.ID)).Set(w.CurrentBalance.InexactFloat64())
}

func (c *Collector) PayoutCommitted(_ context.Context, scope harvest.Scope, _ harvest.CollectionID, amount decimal.Decimal, _ int) {
	walletID := string(scope.WalletID())
	c.PayoutsTotal.WithLabelValues(walletID).Inc()
	c.PayoutAmount.WithLabelValues(walletID).Add(amount.InexactFloat64())
}

func (c *Collector) PayoutRejected(_ context.Context, scope harvest.Scope, err error) {
	c.PayoutsRejected.WithLabelValues(string(scope.WalletID()), rejectReason(err)).Inc()
}

func (c *Collector) CollectionSettled(_ context.Context, col harvest.Collection) {
	c.CollectionsSettled.WithLabelValues(col.CropType).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, harvest.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, harvest.ErrWalletNotFound):
		return "wallet_not_found"
	}
	return "other"
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

// Middleware records request counts and latency. route labels the request;
// pass a function returning the matched route pattern to keep cardinality low.
func (c *Collector) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			pattern := route(r)
			c.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
			c.HTTPDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
