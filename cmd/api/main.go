package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kilit.org/internal/audit"
	"kilit.org/internal/auth"
	"kilit.org/internal/httpapi"
	"kilit.org/internal/obs"
	"kilit.org/internal/store/memory"
	"kilit.org/internal/store/pg"
	"kilit.org/internal/stream"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("KILIT_AUTH_SECRET")
	if secret == "" {
		log.Fatal("KILIT_AUTH_SECRET is required")
	}

	store, closeStore, err := openStore()
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	opts := []auth.ServiceOption{}
	if key := os.Getenv("KILIT_SETUP_KEY"); key != "" {
		opts = append(opts, auth.WithSetupKey(key))
	}
	if ttl := envDuration("KILIT_OAUTH_CODE_TTL", 0); ttl > 0 {
		opts = append(opts, auth.WithCodeTTL(ttl))
	}

	svc, err := auth.NewService(store, secret, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{Store: store}, version)
	events := stream.NewHub()
	audit.SetFeed(events)
	api.Events = events
	if rps := envInt("KILIT_RATE_RPS", 0); rps > 0 {
		api.RateRPS = rps
	}
	if burst := envInt("KILIT_RATE_BURST", 0); burst > 0 {
		api.RateBurst = burst
	}
	if origins := os.Getenv("KILIT_CORS_ORIGINS"); origins != "" {
		api.CORSOrigins = strings.Split(origins, ",")
	}

	srv := &http.Server{
		Addr:              envString("KILIT_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPCServer()
	grpcAddr := envString("KILIT_GRPC_ADDR", ":9090")
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	log.Printf("Starting kilit-api %s on %s (grpc %s)", version, srv.Addr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()

	// Expired authorization codes are unredeemable either way; the sweep
	// just keeps the table from growing.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepCodes(sweepCtx, svc)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	grpcSrv.SetNotServing()
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if closeStore != nil {
		_ = closeStore()
	}
	log.Println("Stopped")
}

// openStore picks the backend: PostgreSQL by default, the in-memory store
// when KILIT_STORE=memory is set for local runs and demos.
func openStore() (auth.Store, func() error, error) {
	if os.Getenv("KILIT_STORE") == "memory" {
		log.Println("Using in-memory store; all data is lost on restart")
		return memory.New(), nil, nil
	}
	dsn := os.Getenv("KILIT_PG_DSN")
	if dsn == "" {
		return nil, nil, errors.New("KILIT_PG_DSN is required (or set KILIT_STORE=memory)")
	}
	st, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func sweepCodes(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepExpiredCodes(ctx)
			if err != nil {
				log.Printf("sweep codes: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep codes: removed %d", n)
			}
		}
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
