package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"innerhue-gateway/middleware/ratelimit"
	"innerhue-gateway/middleware/ratelimit/application"
	"innerhue-gateway/middleware/ratelimit/domain"
	"innerhue-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// gateway concentra as dependências do servidor. Os limiters são independentes:
// chat e rotas públicas nunca dividem cache nem configuração.
type gateway struct {
	cfg      config
	log      logrus.FieldLogger
	limiters map[string]*application.Limiter
	memStats *infra.MemoryStatsStore
	stats    domain.StatsStore
	registry *prometheus.Registry
	// nil quando CONCURRENCY_MAX=0
	inflight *infra.ChanPool

	githubProxy http.Handler
	chatProxy   http.Handler
}

// newGateway monta limiters, destinos de estatística e proxies.
// extraStats (ex: Redis) entra junto com memória e Prometheus.
func newGateway(cfg config, log logrus.FieldLogger, extraStats ...domain.StatsStore) (*gateway, error) {
	githubTarget, err := url.Parse(cfg.GitHubUpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GITHUB_UPSTREAM_URL: %w", err)
	}
	chatTarget, err := url.Parse(cfg.ChatUpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAT_UPSTREAM_URL: %w", err)
	}

	var keyGen domain.KeyGenerator
	if cfg.RateKeyHeader != "" {
		keyGen = application.HeaderKeyGenerator(cfg.RateKeyHeader)
	}

	g := &gateway{
		cfg: cfg,
		log: log,
		limiters: map[string]*application.Limiter{
			"chat": ratelimit.NewLimiter("chat", application.Config{
				MaxRequests:  cfg.ChatRateMax,
				Window:       cfg.ChatRateWindow,
				KeyGenerator: keyGen,
				Capacity:     cfg.RateCacheSize,
			}),
			"public": ratelimit.NewLimiter("public", application.Config{
				MaxRequests:  cfg.PublicRateMax,
				Window:       cfg.PublicRateWindow,
				KeyGenerator: keyGen,
				Capacity:     cfg.RateCacheSize,
			}),
		},
		memStats: infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.RateStatsTrackKeys)),
		registry: prometheus.NewRegistry(),
	}

	if cfg.ConcurrencyMax > 0 {
		g.inflight = infra.NewChanPool(cfg.ConcurrencyMax)
	}

	sinks := infra.MultiStats{g.memStats}
	if cfg.MetricsEnabled {
		sinks = append(sinks, infra.NewPrometheusStats(g.registry))
	}
	sinks = append(sinks, extraStats...)
	g.stats = sinks

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.UpstreamTimeout,
	}

	githubPath := "/repos/" + strings.Trim(cfg.GitHubRepo, "/") + "/contributors"
	g.githubProxy = newProxy(githubTarget, githubPath, transport, func(h http.Header) {
		h.Set("Accept", "application/vnd.github+json")
		if cfg.GitHubToken != "" {
			h.Set("Authorization", "Bearer "+cfg.GitHubToken)
		}
	})
	g.chatProxy = newProxy(chatTarget, chatTarget.Path, transport, func(h http.Header) {
		if cfg.ChatAPIKey != "" {
			h.Set("Authorization", "Bearer "+cfg.ChatAPIKey)
		}
	})
	return g, nil
}

func (g *gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(g.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	if g.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}
	if g.cfg.DebugEndpoints {
		r.Get("/debug/ratelimit", g.handleStats)
		r.Post("/debug/ratelimit/{limiter}/reset", g.handleReset)
	}

	concurrency := ratelimit.ConcurrencyOptions{
		Max:            g.cfg.ConcurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: g.cfg.ConcurrencyTimeout,
		Logger:         g.log,
	}
	if g.inflight != nil {
		concurrency.Pool = g.inflight
	}
	inflight := ratelimit.ConcurrencyMiddleware(concurrency)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/contributors", ratelimit.Wrap(
			proxyHandler(inflight(g.githubProxy)),
			g.limitOptions("public"),
		))
		r.Method(http.MethodPost, "/chat", ratelimit.Wrap(
			proxyHandler(inflight(g.chatProxy)),
			g.limitOptions("chat"),
		))
	})
	return r
}

func (g *gateway) limitOptions(name string) ratelimit.Options {
	return ratelimit.Options{
		Limiter: g.limiters[name],
		Stats:   g.stats,
		Logger:  g.log,
	}
}

type inflightView struct {
	InUse int `json:"inUse"`
	Max   int `json:"max"`
}

type limiterView struct {
	Size     int            `json:"size"`
	Capacity int            `json:"capacity"`
	Limit    int            `json:"limit"`
	WindowMs int64          `json:"windowMs"`
	Counters infra.Counters `json:"counters"`
}

func (g *gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	byLimiter := g.memStats.ByLimiter()
	out := struct {
		Limiters map[string]limiterView `json:"limiters"`
		Total    infra.Counters         `json:"total"`
		Inflight *inflightView          `json:"inflight,omitempty"`
	}{
		Limiters: make(map[string]limiterView, len(g.limiters)),
		Total:    g.memStats.Total(),
	}
	for name, l := range g.limiters {
		st := l.Stats()
		out.Limiters[name] = limiterView{
			Size:     st.Size,
			Capacity: st.Capacity,
			Limit:    st.Limit,
			WindowMs: st.Window.Milliseconds(),
			Counters: byLimiter[name],
		}
	}
	if g.inflight != nil {
		out.Inflight = &inflightView{InUse: g.inflight.InUse(), Max: g.inflight.Cap()}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleReset limpa uma chave (?key=) ou o limiter inteiro.
// A chave aceita o valor cru (ex: 1.2.3.4) ou já com o prefixo "ratelimit:".
func (g *gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "limiter")
	l, ok := g.limiters[name]
	if !ok {
		http.Error(w, "unknown limiter", http.StatusNotFound)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		l.Reset()
	} else {
		if !strings.HasPrefix(key, application.KeyPrefix) {
			key = application.KeyPrefix + key
		}
		l.Reset(domain.Key(key))
	}
	g.log.WithFields(logrus.Fields{"limiter": name, "key": key}).Info("rate limit reset")
	w.WriteHeader(http.StatusNoContent)
}

// newProxy aponta todas as requisições para target+path, aplicando os headers de autenticação.
func newProxy(target *url.URL, path string, transport http.RoundTripper, setHeaders func(http.Header)) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
			setHeaders(pr.Out.Header)
		},
		Transport:      transport,
		ModifyResponse: stripUpstreamQuota,
		ErrorHandler:   captureProxyError,
	}
}

// stripUpstreamQuota remove os X-RateLimit-* do upstream (o GitHub manda os dele),
// para que o cliente só veja a quota deste gateway.
func stripUpstreamQuota(resp *http.Response) error {
	for _, h := range []string{ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset, "X-RateLimit-Used", "X-RateLimit-Resource"} {
		resp.Header.Del(h)
	}
	return nil
}

type proxyErrorKey struct{}

type proxyError struct{ err error }

func captureProxyError(w http.ResponseWriter, r *http.Request, err error) {
	if holder, ok := r.Context().Value(proxyErrorKey{}).(*proxyError); ok {
		holder.err = fmt.Errorf("upstream request failed: %w", err)
		return
	}
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// proxyHandler adapta o proxy para ratelimit.HandlerFunc: erro de upstream vira o
// retorno do handler (500 com headers de quota), em vez de um 502 escrito pelo proxy.
func proxyHandler(next http.Handler) ratelimit.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		holder := &proxyError{}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), proxyErrorKey{}, holder)))
		if holder.err != nil && errors.Is(holder.err, context.Canceled) {
			// cliente desistiu; nada a responder
			return nil
		}
		return holder.err
	}
}
