package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tkowalczyk/wabridge/internal/export"
	"github.com/tkowalczyk/wabridge/internal/feed"
	"github.com/tkowalczyk/wabridge/internal/gateway"
	"github.com/tkowalczyk/wabridge/internal/history"
	"github.com/tkowalczyk/wabridge/internal/httpapi"
	"github.com/tkowalczyk/wabridge/internal/hub"
	"github.com/tkowalczyk/wabridge/internal/responder"
	"github.com/tkowalczyk/wabridge/internal/sched"
	"github.com/tkowalczyk/wabridge/internal/telemetry"
)

// consoleGateway is the stand-in transport used when no real channel
// session is wired up: always connected, sends go to the log.
type consoleGateway struct{}

func (consoleGateway) SendText(_ context.Context, destination, body string) (string, error) {
	log.Printf("console send to=%s body=%q", destination, body)
	return uuid.NewString(), nil
}

func (consoleGateway) ConnectionState() gateway.Status {
	return gateway.StatusConnected
}

func main() {
	_ = godotenv.Load()

	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	intervalFlag := flag.Duration("tick", 60*time.Second, "delivery scheduler tick interval")
	flag.Parse()

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "wabridge")
	if err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}

	var store sched.API
	var hist history.API
	if dbPath != "" {
		ss, err := sched.NewSQLiteStore(dbPath, sched.Config{})
		if err != nil {
			log.Fatalf("failed to initialize sqlite store (%s): %v", dbPath, err)
		}
		defer ss.Close()
		store = ss

		hm, err := history.NewSQLiteManager(dbPath, history.Config{})
		if err != nil {
			log.Fatalf("failed to initialize sqlite history (%s): %v", dbPath, err)
		}
		defer hm.Close()
		hist = hm
		log.Printf("using sqlite store at %s", dbPath)
	} else {
		store = sched.NewStore(sched.Config{})
		hist = history.NewManager(history.Config{})
		log.Printf("using in-memory stores; state will not survive a restart")
	}

	gw := consoleGateway{}
	feedLog := feed.NewLog(feed.Config{})

	broadcaster := hub.New(hub.Config{}, func() []hub.Event {
		return []hub.Event{
			{Type: hub.EventInboxData, Data: feedLog.Recent()},
			{Type: hub.EventConnectionStatus, Data: gw.ConnectionState()},
		}
	})
	go broadcaster.Run(ctx)

	var caller responder.LLMCaller
	if c, err := responder.NewAnthropicCallerFromEnv(); err == nil {
		caller = c
	} else {
		log.Printf("auto-reply disabled: %v", err)
	}
	rsp := responder.New(caller, gw, hist, feedLog, broadcaster)

	dispatcher := sched.NewDispatcher(store, gw, gw, broadcaster, sched.DispatcherConfig{
		Interval: *intervalFlag,
	})
	go dispatcher.Run(ctx)

	h := httpapi.NewServer(httpapi.Deps{
		Store:     store,
		History:   hist,
		Hub:       broadcaster,
		Status:    gw,
		Inbound:   rsp,
		Renderer:  export.NewTranscriptRenderer(),
		AutoReply: caller != nil,
	})

	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("wabridge listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
