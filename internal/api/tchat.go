package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/tchatapp/tchat/internal/blob"
	"github.com/tchatapp/tchat/internal/config"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/server"
	"github.com/tchatapp/tchat/internal/stats"
	"github.com/teris-io/shortid"
)

const MetricUploads = "Uploads"

type TchatApp struct {
	log            *log.Logger
	db             database.TchatRepository
	mux            *http.Server
	cs             *server.ChannelServer
	blobs          blob.Store
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string

	generateShortId func() (string, error)
}

func NewTchatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChannelServer, db database.TchatRepository, blobs blob.Store, su stats.StatsProvider, cfg *config.Config) *TchatApp {
	s := &TchatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		blobs:           blobs,
		stats:           su,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	su.RegisterMetric(MetricUploads)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/profile", s.authMiddleware(s.profile))
	mux.Handle("DELETE /api/account", s.authMiddleware(s.deleteAccount))
	mux.Handle("GET /api/contacts", s.authMiddleware(s.contacts))
	mux.Handle("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.Handle("GET /api/groups", s.authMiddleware(s.listGroups))
	mux.Handle("DELETE /api/groups/{id}", s.authMiddleware(s.deleteGroup))
	mux.Handle("GET /api/groups/{id}/members", s.authMiddleware(s.listGroupMembers))
	mux.Handle("POST /api/groups/{id}/members", s.authMiddleware(s.addGroupMember))
	mux.Handle("DELETE /api/groups/{id}/members/{userId}", s.authMiddleware(s.removeGroupMember))
	mux.Handle("GET /api/groups/{id}/nonmembers", s.authMiddleware(s.listGroupNonMembers))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/uploads", s.authMiddleware(s.upload))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.BlobDir))))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *TchatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TchatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
