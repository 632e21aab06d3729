package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/academy-automation/internal/console/handler"
	"github.com/xela07ax/academy-automation/internal/engine"
	"github.com/xela07ax/academy-automation/internal/infra/auth"
	"go.uber.org/zap"
)

type Options struct {
	RequestTimeout time.Duration
	// Gatherer для /metrics; nil: глобальный реестр
	Gatherer prometheus.Gatherer
}

type AutomationServer struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	// Проверка RS256 токенов
	authValidator auth.TokenValidator

	automationHandler *handler.AutomationHandler // /v1/automation
}

// NewAutomationServer собирает HTTP API вызова автоматизаций
func NewAutomationServer(opts Options, logger *zap.Logger, validator auth.TokenValidator, automationH *handler.AutomationHandler) *AutomationServer {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &AutomationServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("automation-http"),
		opts:              opts,
		authValidator:     validator,
		automationHandler: automationH,
	}

	s.routes()
	return s
}

func (s *AutomationServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	})

	// --- 3. Защищённый периметр (RS256) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		if s.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
		}

		r.Post("/v1/automation", s.automationHandler.Invoke)
	})
}

// accessLog пишет запрос в zap вместе с trace_id
func (s *AutomationServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", engine.TraceIDFrom(r.Context())))
	})
}

// ServeHTTP позволяет использовать AutomationServer как стандартный http.Handler
func (s *AutomationServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
