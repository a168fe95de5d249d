package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"mulldb/config"
	"mulldb/repl"
	"mulldb/storage"
)

func main() {
	cfg := config.Parse()

	eng, err := storage.Open(cfg.DataDir, cfg.Migrate)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down...", sig)
		if err := eng.Close(); err != nil {
			log.Printf("close: %v", err)
		}
		os.Exit(0)
	}()

	in := os.Stdin
	if cfg.Script != "" {
		f, err := os.Open(cfg.Script)
		if err != nil {
			log.Fatalf("open script: %v", err)
		}
		defer f.Close()
		in = f
	}

	r := repl.New(eng, in, os.Stdout)
	r.Trace = cfg.LogLevel > 0
	if err := r.Run(); err != nil {
		log.Printf("repl: %v", err)
	}

	if err := eng.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
}
