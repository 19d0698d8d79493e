package main

import (
	"log"
	"net/http"

	"mce-assistant-backend/internal/config"
	"mce-assistant-backend/internal/server"
)

func main() {
	cfg := config.Load()
	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	addr := ":" + cfg.Port
	log.Printf("MCE assistant server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
