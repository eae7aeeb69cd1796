package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/Iemontine/microblog/cache"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/Iemontine/microblog/config"
	"github.com/Iemontine/microblog/messaging"
	"github.com/Iemontine/microblog/service/auth"
	"github.com/Iemontine/microblog/service/avatar"
	"github.com/Iemontine/microblog/service/forum"
	"github.com/Iemontine/microblog/service/user"
	"github.com/Iemontine/microblog/service/ws"
	"github.com/Iemontine/microblog/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address  string
	cfg      *config.Config
	db       *gorm.DB
	provider auth.Provider
}

func NewApiServer(cfg *config.Config, db *gorm.DB) *APIServer {
	return &APIServer{
		address: ":" + cfg.Port,
		cfg:     cfg,
		db:      db,
	}
}

// WithProvider replaces the Google identity provider.
func (s *APIServer) WithProvider(p auth.Provider) *APIServer {
	s.provider = p
	return s
}

// Handler wires every service and returns the root handler. The returned
// cleanup closes the optional Redis and NATS connections.
func (s *APIServer) Handler(ctx context.Context) (http.Handler, func(), error) {
	cfg := s.cfg
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	gormStore := store.NewGorm(s.db)
	accounts, posts := gormStore.Accounts(), gormStore.Posts()

	avatars, err := avatar.NewGenerator(cfg.AvatarDir(), "/images", avatar.DefaultSize)
	if err != nil {
		return nil, cleanup, err
	}
	mailer := utils.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	users := user.NewService(accounts, posts, avatars, mailer)

	var feed forum.FeedCache = cache.Noop{}
	if addr := cfg.RedisAddr(); addr != "" {
		redisCache, err := cache.NewRedis(ctx, addr, cfg.RedisPassword)
		if err != nil {
			log.Printf("Feed cache disabled: %v", err)
		} else {
			feed = redisCache
			closers = append(closers, func() { redisCache.Close() })
		}
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	// With NATS, events go through the bus so every instance's hub sees
	// them; without it the local hub is notified directly.
	var notifier forum.Notifier = hub
	if cfg.NatsURL != "" {
		bus, err := messaging.Connect(cfg.NatsURL)
		if err != nil {
			log.Printf("Event bus disabled: %v", err)
		} else {
			if _, err := bus.Subscribe(func(e models.PostEvent) {
				if err := hub.Publish(ctx, e); err != nil {
					log.Printf("Relaying %s to live clients failed: %v", e.Type, err)
				}
			}); err != nil {
				bus.Close()
				return nil, cleanup, err
			}
			notifier = bus
			closers = append(closers, func() { bus.Close() })
		}
	}

	images := utils.NewImageStore(cfg.UploadDir(), "/uploads")
	posting := forum.NewService(accounts, posts, images, feed, notifier)

	sessions := utils.NewSessionManager(cfg.SecretKey, cfg.SessionTTL, cfg.CookieSecure)
	provider := s.provider
	if provider == nil {
		if cfg.GoogleClientID == "" {
			log.Println("GOOGLE_CLIENT_ID not set, sign-in will fail")
		}
		provider = auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()
	subrouter.Use(sessions.Middleware)

	auth.NewHandler(sessions, provider, users).RegisterRoutes(subrouter)
	user.NewHandler(users).RegisterRoutes(subrouter)
	forum.NewPostHandler(posting).RegisterRoutes(subrouter)
	ws.NewHandler(hub).RegisterRoutes(subrouter)

	router.PathPrefix("/images/").Handler(http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.AvatarDir()))))
	router.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir()))))

	var h http.Handler = handlers.CombinedLoggingHandler(os.Stdout, router)
	if len(cfg.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
			handlers.AllowCredentials(),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)

	return h, cleanup, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler, cleanup, err := s.Handler(ctx)
	defer cleanup()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Println("Server running at", s.address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
