package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"crispintel.org/internal/anonymize"
	"crispintel.org/internal/auth"
	"crispintel.org/internal/intel"
	"crispintel.org/internal/obs"
	"crispintel.org/internal/store/pg"
	"crispintel.org/internal/stream"
	"crispintel.org/internal/taxii"
	"crispintel.org/internal/trust"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		orgs       auth.OrganizationStore
		trustStore trust.Store
		objects    intel.Store
		probe      taxii.ReadyProbe
		closeStore func() error
	)

	// Postgres when a DSN is configured, in-memory otherwise. The memory
	// stores cover local development and tests only.
	if dsn := os.Getenv("CRISP_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		orgs = store
		trustStore = store
		objects = store
		probe = taxii.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	} else {
		log.Printf("CRISP_PG_DSN not set, using in-memory stores")
		orgs = auth.NewMemoryOrganizations()
		trustStore = trust.NewMemory()
		objects = intel.NewMemory()
	}

	api := taxii.New(probe, version, orgs, trustStore, objects, stream.New(), thresholdsFromEnv())

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: /v1/events holds connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting crisp-exchange %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeStore != nil {
		_ = closeStore()
	}
	log.Println("Stopped")
}

func listenAddr() string {
	if addr := os.Getenv("CRISP_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

// thresholdsFromEnv reads the anonymization cutoffs, falling back to the
// standard 0.8/0.4 ladder on absent or malformed values.
func thresholdsFromEnv() anonymize.Thresholds {
	t := anonymize.DefaultThresholds()
	if raw := os.Getenv("CRISP_TRUST_NONE_MIN"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			t.NoneMin = v
		}
	}
	if raw := os.Getenv("CRISP_TRUST_PARTIAL_MIN"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			t.PartialMin = v
		}
	}
	return t
}
