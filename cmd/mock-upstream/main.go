// Servidor falso de upstream para testar o gateway localmente.
//
//	GITHUB_UPSTREAM_URL=http://localhost:8081 CHAT_UPSTREAM_URL=http://localhost:8081/v1/chat/completions
package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contributors", func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(logrus.Fields{"owner": r.PathValue("owner"), "repo": r.PathValue("repo")}).Info("contributors requested")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"login": "octocat", "contributions": 42},
			{"login": "hubot", "contributions": 7},
		})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		log.WithField("bytes", len(body)).Info("chat completion requested")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Take a slow breath and name one thing you are grateful for."}},
			},
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.WithField("addr", addr).Info("mock upstream listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Fatal("mock upstream stopped")
	}
}
