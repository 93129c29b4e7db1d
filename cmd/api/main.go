package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"careloop.org/internal/access"
	"careloop.org/internal/child"
	"careloop.org/internal/events"
	"careloop.org/internal/httpapi"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
	"careloop.org/internal/obs"
	"careloop.org/internal/storage"
	"careloop.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envDefault("CARELOOP_ADDR", ":8080")
	grpcAddr := os.Getenv("CARELOOP_GRPC_ADDR")
	storageDir := envDefault("CARELOOP_STORAGE_DIR", "data/photos")
	authSecret := os.Getenv("CARELOOP_AUTH_SECRET")
	if authSecret == "" {
		log.Println("CARELOOP_AUTH_SECRET not set: running in dev mode, identity comes from headers")
	}

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db           *sql.DB
		grantStore   access.Store
		childStore   child.Store
		noteStore    note.Store
		missionStore mission.Store
	)
	if dsn := os.Getenv("CARELOOP_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		grantStore = store.Grants()
		childStore = store.Children()
		noteStore = store.Notes()
		missionStore = store.Missions()
	} else {
		log.Println("CARELOOP_PG_DSN not set: using in-memory stores")
		grantStore = access.NewInMemory()
		childStore = child.NewInMemory()
		noteStore = note.NewInMemory()
		missionStore = mission.NewInMemory()
	}

	blobs, err := storage.NewLocal(storageDir)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	ledger, err := access.NewLedger(grantStore)
	if err != nil {
		log.Fatalf("access ledger: %v", err)
	}
	notes, err := note.NewService(noteStore, ledger, note.WithAssetStorage(blobs))
	if err != nil {
		log.Fatalf("note service: %v", err)
	}
	catalog, err := mission.NewCatalog(missionStore)
	if err != nil {
		log.Fatalf("mission catalog: %v", err)
	}
	stream := events.NewStream()
	engine, err := mission.NewEngine(missionStore, catalog, ledger, note.SystemLog{Service: notes}, blobs, stream)
	if err != nil {
		log.Fatalf("mission engine: %v", err)
	}
	children, err := child.NewService(childStore, ledger, notes, engine)
	if err != nil {
		log.Fatalf("child service: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(httpapi.Config{
		Version:    version,
		AuthSecret: authSecret,
		Probe:      probe,
		Children:   children,
		Ledger:     ledger,
		Notes:      notes,
		Missions:   engine,
		Catalog:    catalog,
		Stream:     stream,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE holds the response open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting careloop-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grpcHealth *httpapi.GRPCHealth
	if grpcAddr != "" {
		grpcHealth = httpapi.NewGRPCHealth(probe)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go grpcHealth.Watch(rootCtx, 10*time.Second)
		go func() {
			log.Printf("gRPC health on %s", grpcAddr)
			if err := grpcHealth.Server().Serve(lis); err != nil {
				log.Printf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(ctx)
	if grpcHealth != nil {
		grpcHealth.Server().GracefulStop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
