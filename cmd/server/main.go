package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/tchatapp/tchat/internal/api"
	"github.com/tchatapp/tchat/internal/blob"
	"github.com/tchatapp/tchat/internal/config"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/presence"
	"github.com/tchatapp/tchat/internal/server"
	"github.com/tchatapp/tchat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	dsn            string
	signingKey     string
	blobDir        string
	publicBaseURL  string
	redisURL       string
	allowedOrigins stringSliceFlag
)

func main() {
	// a missing .env file is fine, flags and real env take over
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("TCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("TCHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("TCHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&blobDir, "blob-dir", envOr("TCHAT_BLOB_DIR", "uploads"), "directory for uploaded media")
	flag.StringVar(&publicBaseURL, "public-base-url", envOr("TCHAT_PUBLIC_BASE_URL", "http://localhost:8000/media"), "public base URL for uploaded media")
	flag.StringVar(&redisURL, "redis-url", envOr("TCHAT_REDIS_URL", ""), "redis URL for the typing store, in-memory when empty")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[tchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, blobDir, publicBaseURL, redisURL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgTchatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	var typingStore presence.TypingStore
	if cfg.RedisURL != "" {
		rdb, err := presence.NewRedisClient(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer rdb.Close()
		typingStore = presence.NewRedisTypingStore(rdb)
	} else {
		typingStore = presence.NewMemoryTypingStore()
	}

	blobStore, err := blob.NewDiskStore(cfg.BlobDir, cfg.PublicBaseURL)
	if err != nil {
		logger.Fatal("blob store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(logger, mux)

	channelServer, err := server.NewChannelServer(logger, dbConn, typingStore, statsUpdater)
	if err != nil {
		logger.Fatal("new channel server:", err)
	}

	srv := api.NewTchatApp(mux, logger, channelServer, dbConn, blobStore, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go channelServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down channel server...")
	if err := channelServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("channel server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
