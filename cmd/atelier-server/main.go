package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"atelier/internal/artifact"
	"atelier/internal/chat"
	"atelier/internal/config"
	"atelier/internal/deepthink"
	"atelier/internal/ledger"
	"atelier/internal/llm"
	"atelier/internal/server"
	"atelier/internal/session"
	"atelier/internal/stage"
)

func main() {
	port := flag.String("port", "", "server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	addr := cfg.Port
	if *port != "" {
		addr = *port
	}

	ctx := context.Background()
	text, err := llm.NewGeminiText(ctx, cfg.TextModel)
	if err != nil {
		log.Fatalf("text client: %v", err)
	}
	defer text.Close()
	image, err := llm.NewGeminiImage(ctx, cfg.ImageModel)
	if err != nil {
		log.Fatalf("image client: %v", err)
	}
	defer image.Close()

	newStore := func() artifact.Store {
		if cfg.Artifact.Enabled {
			s3, err := artifact.NewS3Store(artifact.S3Config{
				Endpoint:  cfg.Artifact.Endpoint,
				Region:    cfg.Artifact.Region,
				AccessKey: cfg.Artifact.AccessKey,
				SecretKey: cfg.Artifact.SecretKey,
				Bucket:    cfg.Artifact.Bucket,
				UseSSL:    cfg.Artifact.UseSSL,
			})
			if err != nil {
				log.Printf("s3 store unavailable, falling back to memory: %v", err)
				return artifact.NewMemoryStore()
			}
			return s3
		}
		return artifact.NewMemoryStore()
	}

	handler := &server.Handler{
		NewAssistant: func(notify func(deepthink.Event)) *chat.Assistant {
			st := session.NewState()
			store := newStore()
			led := ledger.New()
			gen := &stage.Generation{Text: text, Image: image, Store: store, Ledger: led, Session: st}
			loop := &deepthink.Controller{
				Capture:  &stage.Capture{LLM: text},
				Generate: gen,
				Review:   &stage.Review{LLM: text, Store: store},
				Control:  &stage.Control{LLM: text},
				Session:  st,
				Notify:   notify,
			}
			return &chat.Assistant{
				Session:    st,
				Store:      store,
				Ledger:     led,
				Generation: gen,
				Loop:       loop,
			}
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", handler.HandleChatWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, h2s),
	}
	log.Printf("atelier server listening on %s (env=%s)", addr, cfg.Env)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
