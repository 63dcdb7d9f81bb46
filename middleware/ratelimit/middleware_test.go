package ratelimit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"innerhue-gateway/middleware/ratelimit/application"
	"innerhue-gateway/middleware/ratelimit/infra"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestLimiter(max int, window time.Duration) (*application.Limiter, *testClock) {
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	l := NewLimiter("test", application.Config{MaxRequests: max, Window: window}, application.WithClock(clock.Now))
	return l, clock
}

func newRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/contributors", nil)
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	return r
}

// forms monta o mesmo handler nas duas formas de composição.
func forms(opts Options, fn HandlerFunc) map[string]http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			panic(err)
		}
	})
	return map[string]http.Handler{
		"middleware": Middleware(opts)(next),
		"wrap":       Wrap(fn, opts),
	}
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	for name := range forms(Options{}, nil) {
		t.Run(name, func(t *testing.T) {
			l, clock := newTestLimiter(1, time.Minute)
			calls := 0
			h := forms(Options{Limiter: l, Logger: quietLogger()}, func(w http.ResponseWriter, r *http.Request) error {
				calls++
				_, _ = io.WriteString(w, "ok")
				return nil
			})[name]

			w1 := httptest.NewRecorder()
			h.ServeHTTP(w1, newRequest("10.0.0.1"))
			if w1.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w1.Code)
			}
			if got := w1.Header().Get(HeaderLimit); got != "1" {
				t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
			}
			if got := w1.Header().Get(HeaderRemaining); got != "0" {
				t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
			}
			wantReset := strconv.FormatInt(clock.t.Add(time.Minute).UnixMilli(), 10)
			if got := w1.Header().Get(HeaderReset); got != wantReset {
				t.Fatalf("expected X-RateLimit-Reset=%s, got %q", wantReset, got)
			}

			clock.t = clock.t.Add(20 * time.Second)
			w2 := httptest.NewRecorder()
			h.ServeHTTP(w2, newRequest("10.0.0.1"))
			if w2.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", w2.Code)
			}
			if got := w2.Header().Get(HeaderRetryAfter); got != "40" {
				t.Fatalf("expected Retry-After=40, got %q", got)
			}
			if got := w2.Header().Get(HeaderRemaining); got != "0" {
				t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
			}
			if got := w2.Header().Get(HeaderReset); got != wantReset {
				t.Fatalf("expected X-RateLimit-Reset=%s, got %q", wantReset, got)
			}

			var body deniedBody
			if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
				t.Fatalf("decode 429 body: %v", err)
			}
			if body.Error != "Too many requests" {
				t.Fatalf("unexpected error kind %q", body.Error)
			}
			if body.Message != "Rate limit exceeded. Try again in 40 seconds" {
				t.Fatalf("unexpected message %q", body.Message)
			}
			if strconv.FormatInt(body.RetryAfter, 10) != wantReset {
				t.Fatalf("expected retryAfter=%s, got %d", wantReset, body.RetryAfter)
			}

			if calls != 1 {
				t.Fatalf("expected handler to be called once, got %d", calls)
			}
		})
	}
}

func TestMiddleware_RetryAfterRoundsUp(t *testing.T) {
	l, clock := newTestLimiter(1, 2500*time.Millisecond)
	h := Wrap(func(w http.ResponseWriter, r *http.Request) error { return nil }, Options{Limiter: l, Logger: quietLogger()})

	h.ServeHTTP(httptest.NewRecorder(), newRequest("10.0.0.1"))

	clock.t = clock.t.Add(100 * time.Millisecond)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("10.0.0.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// 2.4s restantes => 3
	if got := w.Header().Get(HeaderRetryAfter); got != "3" {
		t.Fatalf("expected Retry-After=3, got %q", got)
	}
}

func TestMiddleware_HandlerErrorBecomes500WithQuotaHeaders(t *testing.T) {
	for name := range forms(Options{}, nil) {
		t.Run(name, func(t *testing.T) {
			l, clock := newTestLimiter(3, time.Minute)
			h := forms(Options{Limiter: l, Logger: quietLogger()}, func(w http.ResponseWriter, r *http.Request) error {
				return errors.New("upstream exploded")
			})[name]

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newRequest("10.0.0.1"))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", w.Code)
			}
			if got := w.Header().Get(HeaderLimit); got != "3" {
				t.Fatalf("expected X-RateLimit-Limit=3, got %q", got)
			}
			if got := w.Header().Get(HeaderRemaining); got != "2" {
				t.Fatalf("expected X-RateLimit-Remaining=2, got %q", got)
			}
			if got := w.Header().Get(HeaderReset); got != strconv.FormatInt(clock.t.Add(time.Minute).UnixMilli(), 10) {
				t.Fatalf("unexpected X-RateLimit-Reset %q", got)
			}

			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode 500 body: %v", err)
			}
			if body.Error != "Internal server error" || body.Message != "upstream exploded" {
				t.Fatalf("unexpected body %+v", body)
			}

			// a requisição que falhou continua contada
			if res := l.Check(l.Key(newRequest("10.0.0.1").Header)); res.Current != 2 {
				t.Fatalf("expected failed request to spend quota, got current=%d", res.Current)
			}
		})
	}
}

func TestMiddleware_HandlerErrorDropsHandlerHeaders(t *testing.T) {
	for name := range forms(Options{}, nil) {
		t.Run(name, func(t *testing.T) {
			l, _ := newTestLimiter(3, time.Minute)
			h := forms(Options{Limiter: l, Logger: quietLogger()}, func(w http.ResponseWriter, r *http.Request) error {
				w.Header().Set("Content-Encoding", "gzip")
				w.Header().Set("ETag", `"v1"`)
				w.Header().Set(HeaderRemaining, "999")
				return errors.New("boom")
			})[name]

			w := httptest.NewRecorder()
			w.Header().Set("Access-Control-Allow-Origin", "*")
			h.ServeHTTP(w, newRequest("10.0.0.1"))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", w.Code)
			}
			for _, k := range []string{"Content-Encoding", "ETag"} {
				if got := w.Header().Get(k); got != "" {
					t.Fatalf("expected %s to be dropped, got %q", k, got)
				}
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Fatalf("expected headers set before the middleware to survive, got %q", got)
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Fatalf("expected JSON content type, got %q", got)
			}
			if got := w.Header().Get(HeaderRemaining); got != "2" {
				t.Fatalf("expected X-RateLimit-Remaining=2, got %q", got)
			}

			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode 500 body: %v", err)
			}
			if body.Message != "boom" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestMiddleware_HandlerCannotOverrideQuotaHeaders(t *testing.T) {
	writes := map[string]func(w http.ResponseWriter){
		"write-header": func(w http.ResponseWriter) { w.WriteHeader(http.StatusOK) },
		"write-body":   func(w http.ResponseWriter) { _, _ = io.WriteString(w, "ok") },
		"flush":        func(w http.ResponseWriter) { w.(http.Flusher).Flush() },
		"no-write":     func(w http.ResponseWriter) {},
	}
	for name := range forms(Options{}, nil) {
		for wname, write := range writes {
			t.Run(name+"/"+wname, func(t *testing.T) {
				l, clock := newTestLimiter(3, time.Minute)
				h := forms(Options{Limiter: l, Logger: quietLogger()}, func(w http.ResponseWriter, r *http.Request) error {
					w.Header().Set(HeaderLimit, "5000")
					w.Header().Set(HeaderRemaining, "4999")
					w.Header().Set(HeaderReset, "1")
					write(w)
					return nil
				})[name]

				w := httptest.NewRecorder()
				h.ServeHTTP(w, newRequest("10.0.0.1"))

				if w.Code != http.StatusOK {
					t.Fatalf("expected 200, got %d", w.Code)
				}
				if got := w.Header().Get(HeaderLimit); got != "3" {
					t.Fatalf("expected X-RateLimit-Limit=3, got %q", got)
				}
				if got := w.Header().Get(HeaderRemaining); got != "2" {
					t.Fatalf("expected X-RateLimit-Remaining=2, got %q", got)
				}
				if got := w.Header().Get(HeaderReset); got != strconv.FormatInt(clock.t.Add(time.Minute).UnixMilli(), 10) {
					t.Fatalf("unexpected X-RateLimit-Reset %q", got)
				}
			})
		}
	}
}

func TestMiddleware_EmptyErrorMessageUsesFallback(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	h := Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("")
	}, Options{Limiter: l, Logger: quietLogger()})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("10.0.0.1"))

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != fallbackErrorMessage {
		t.Fatalf("expected fallback message, got %q", body.Message)
	}
}

func TestMiddleware_ErrorAfterWriteKeepsHandlerStatus(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	h := Wrap(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusAccepted)
		return errors.New("late failure")
	}, Options{Limiter: l, Logger: quietLogger()})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("10.0.0.1"))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected committed status 202 to stay, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderLimit); got != "3" {
		t.Fatalf("expected quota headers on committed response, got %q", got)
	}
}

func TestMiddleware_AbortHandlerPanicIsPropagated(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	h := Middleware(Options{Limiter: l, Logger: quietLogger()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to be re-panicked, got %v", p)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), newRequest("10.0.0.1"))
}

func TestMiddleware_BothFormsProduceIdenticalDecisions(t *testing.T) {
	run := func(form string) []string {
		l, clock := newTestLimiter(2, time.Second)
		h := forms(Options{Limiter: l, Logger: quietLogger()}, func(w http.ResponseWriter, r *http.Request) error {
			if r.URL.Query().Get("fail") != "" {
				return errors.New("fail")
			}
			return nil
		})[form]

		var out []string
		for i, target := range []string{"/a", "/a?fail=1", "/a", "/a"} {
			clock.t = clock.t.Add(time.Duration(i) * 300 * time.Millisecond)
			r := httptest.NewRequest(http.MethodGet, "http://example"+target, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			out = append(out, strconv.Itoa(w.Code)+"|"+
				w.Header().Get(HeaderLimit)+"|"+
				w.Header().Get(HeaderRemaining)+"|"+
				w.Header().Get(HeaderReset)+"|"+
				w.Header().Get(HeaderRetryAfter))
		}
		return out
	}

	a, b := run("middleware"), run("wrap")
	if len(a) != len(b) {
		t.Fatalf("length mismatch %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d differs: middleware=%q wrap=%q", i, a[i], b[i])
		}
	}
}

func TestMiddleware_KeysAreIndependentAndUnknownIsShared(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	h := Wrap(func(w http.ResponseWriter, r *http.Request) error { return nil }, Options{Limiter: l, Logger: quietLogger()})

	codes := func(r *http.Request) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if c := codes(newRequest("1.1.1.1")); c != http.StatusOK {
		t.Fatalf("expected 200 for first key, got %d", c)
	}
	if c := codes(newRequest("2.2.2.2")); c != http.StatusOK {
		t.Fatalf("expected 200 for second key, got %d", c)
	}
	if c := codes(newRequest("")); c != http.StatusOK {
		t.Fatalf("expected 200 for first anonymous request, got %d", c)
	}
	if c := codes(newRequest("")); c != http.StatusTooManyRequests {
		t.Fatalf("expected anonymous requests to share one bucket, got %d", c)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	stats := infra.NewMemoryStatsStore()
	h := Wrap(func(w http.ResponseWriter, r *http.Request) error { return nil }, Options{
		Limiter: l,
		Stats:   stats,
		Logger:  quietLogger(),
	})

	h.ServeHTTP(httptest.NewRecorder(), newRequest("1.1.1.1"))
	h.ServeHTTP(httptest.NewRecorder(), newRequest("1.1.1.1"))

	if got := stats.ByLimiter()["test"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected limiter counters %+v", got)
	}
	if got := stats.ByRoute()["GET /api/contributors"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected route counters %+v", got)
	}
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{Logger: quietLogger()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest("1.1.1.1"))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Header().Get(HeaderLimit) != "" {
			t.Fatalf("expected no quota headers without limiter")
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestNewLimiter_InstancesDoNotShareState(t *testing.T) {
	chat := NewLimiter("chat", application.ChatConfig())
	public := NewLimiter("public", application.PublicConfig())

	chat.Check("ratelimit:1.1.1.1")
	if public.Stats().Size != 0 {
		t.Fatalf("expected public limiter cache to be untouched")
	}
	if chat.Stats().Capacity != infra.DefaultCacheSize {
		t.Fatalf("expected default capacity, got %d", chat.Stats().Capacity)
	}
	if chat.Name() != "chat" || public.Name() != "public" {
		t.Fatalf("unexpected names %q %q", chat.Name(), public.Name())
	}
}
