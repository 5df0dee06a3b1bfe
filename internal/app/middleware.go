package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/eduai/schoolledger/internal/observability"
	"github.com/eduai/schoolledger/internal/platform/httpx"
)

// MiddlewareConfig carries what the stack reads. Config may be nil in tests,
// in which case development defaults apply.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack returns the API chain, outermost first. Metrics run last so
// they see the chi route pattern of the matched handler.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(cfg.requestTimeout()),
		cfg.secureHeaders(),
		middleware.Compress(5),
		cfg.rateLimit(),
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

func (cfg MiddlewareConfig) production() bool {
	return cfg.Config != nil && cfg.Config.IsProduction()
}

func (cfg MiddlewareConfig) requestTimeout() time.Duration {
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		return cfg.Config.AppRequestTimeout
	}
	return 30 * time.Second
}

// secureHeaders sets the API header policy: JSON only, never framed, no
// referrer. Production also redirects plain HTTP behind the proxy.
func (cfg MiddlewareConfig) secureHeaders() func(http.Handler) http.Handler {
	policy := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.production(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.production(),
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := policy.Process(w, r); err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusBadRequest, "Request Blocked", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (cfg MiddlewareConfig) rateLimit() func(http.Handler) http.Handler {
	perMinute := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMin > 0 {
		perMinute = cfg.Config.RateLimitPerMin
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded, retry later")
		}),
	)
}
