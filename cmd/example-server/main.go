package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"innerhue-gateway/middleware/ratelimit"
	"innerhue-gateway/middleware/ratelimit/application"

	"github.com/sirupsen/logrus"
)

// Exemplo: o middleware direto no seu webserver (sem proxy), nas duas formas.
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	chat := ratelimit.NewLimiter("chat", application.ChatConfig())
	public := ratelimit.NewLimiter("public", application.PublicConfig())

	mux := http.NewServeMux()

	// forma cadeia: qualquer http.Handler
	mux.Handle("GET /api/quote", ratelimit.Middleware(ratelimit.Options{Limiter: public, Logger: log})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"quote": "Feelings are visitors. Let them come and go."})
		}),
	))

	// forma decorator: o handler devolve error e o middleware responde 500 com os headers de quota
	mux.Handle("POST /api/chat", ratelimit.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Mood string `json:"mood"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return err
		}
		if req.Mood == "" {
			return errors.New("mood is required")
		}
		prompts := []string{
			"What made you feel " + req.Mood + " today?",
			"Where in your body do you notice feeling " + req.Mood + "?",
		}
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]string{"prompt": prompts[rand.Intn(len(prompts))]})
	}, ratelimit.Options{Limiter: chat, Logger: log}))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}
