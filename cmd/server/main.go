package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rush_engine/internal/config"
	"rush_engine/internal/engine"
	"rush_engine/internal/httpapi"
	"rush_engine/internal/input"
	"rush_engine/internal/input/browser"
	"rush_engine/internal/logbus"
	"rush_engine/internal/notify"
	"rush_engine/internal/store/sqlite"
	"rush_engine/internal/vision/remote"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, using defaults", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	bus.SetMirror(func(d logbus.LogData) {
		if len(d.Fields) == 0 {
			log.Printf("[%s] %s", d.Level, d.Msg)
			return
		}
		log.Printf("[%s] %s %v", d.Level, d.Msg, d.Fields)
	})
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	session := browser.New(cfg.Browser, bus)
	ocr := remote.New(cfg.Vision, bus)
	notifier := notify.NewEmailNotifier(store, bus)

	eng := engine.New(engine.Options{
		Store:    store,
		Vision:   ocr,
		Actuator: input.NewPaced(session, cfg.Limits.ActionsPerSecond, cfg.Limits.ActionBurst),
		Screen:   session,
		Window:   session,
		Bus:      bus,
		Notifier: notifier,
		Rush:     cfg.Rush,
	})

	api := httpapi.New(httpapi.Options{
		Cfg:    cfg,
		Bus:    bus,
		Store:  store,
		Engine: eng,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = eng.Stop(shutdownCtx)
	_ = notifier.Close(shutdownCtx)
	if err := session.Close(); err != nil {
		bus.Log("warn", "browser close failed", map[string]any{"error": err.Error()})
	}
	_ = server.Shutdown(shutdownCtx)
	bus.Log("info", "server stopped", nil)
	bus.Close()
}
