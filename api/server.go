/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     zap request log (method, route, status, duration, request id)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request count and latency, when enabled
  6. CORS:       Cross-origin requests for a browser client
  7. Auth:       Caller identity on /api routes (auth.go)

ROUTE GROUPS:
  /api/collections/*    Collections, pickers, weigh-ins, payouts, settlement
  /api/pickers/*        Per-picker reads and payouts
  /api/wallets/*        Shared wallet
  /api/sales            Emitted sale records
  /api/scenarios/*      Demo scenarios (resets the store)
  /api/admin/*          Sweep status and trigger
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/harvest-ledger/metrics"
)

// RouterOptions carries the optional pieces of the router. Nil fields are
// left out of the stack.
type RouterOptions struct {
	Auth        *Authenticator
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer
	Sweeper     *Sweeper
	CorsOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware(routePattern))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Company-ID", "X-Actor-ID", "X-Actor-Name"},
		ExposedHeaders:   []string{"X-Cache", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		// Collection routes
		r.Route("/collections", func(r chi.Router) {
			r.Get("/", h.ListCollections)
			r.Post("/", h.CreateCollection)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCollection)
				r.Get("/pickers", h.ListPickers)
				r.Post("/pickers", h.AddPicker)
				r.Post("/weigh", h.RecordWeigh)
				r.Post("/recompute", h.Recompute)
				r.Put("/picker-price", h.CorrectPickerPrice)
				r.Get("/payouts", h.ListPayouts)
				r.Post("/payouts", h.PayPickers)
				r.Get("/cash-pool", h.GetCashPool)
				r.Put("/cash-pool", h.RegisterCash)
				r.Post("/settlement", h.Settle)
				r.Post("/status", h.RefreshStatus)
			})
		})

		// Picker routes
		r.Route("/pickers/{id}", func(r chi.Router) {
			r.Get("/weigh-entries", h.ListWeighEntries)
			r.Post("/pay", h.PayPicker)
			r.Post("/mark-paid", h.MarkPickerPaid)
		})

		// Wallet routes
		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/usage", h.GetWalletUsage)
			r.Post("/top-up", h.TopUpWallet)
			r.Post("/payments", h.ApplyCashPayment)
		})

		r.Get("/sales", h.ListSales)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		// Admin routes
		if opts.Sweeper != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/sweep", opts.Sweeper.GetSweep)
				r.Post("/sweep", opts.Sweeper.TriggerSweep)
			})
		}
	})

	return r
}

// routePattern labels metrics by chi route pattern, not raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", routePattern(r)),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
