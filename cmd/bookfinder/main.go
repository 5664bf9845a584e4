package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	firebase "firebase.google.com/go/v4"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/home"
	"finitefield.org/bookfinder/internal/httpserver"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/live"
	"finitefield.org/bookfinder/internal/platform/config"
	"finitefield.org/bookfinder/internal/platform/events"
	pfirestore "finitefield.org/bookfinder/internal/platform/firestore"
	"finitefield.org/bookfinder/internal/platform/observability"
	"finitefield.org/bookfinder/internal/platform/secrets"
	appsession "finitefield.org/bookfinder/internal/session"
	"finitefield.org/bookfinder/internal/wishlist"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("bookfinder")
	ctx = observability.WithLogger(ctx, logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("bookfinder exited", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	lookup, err := config.Lookup()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	sessions, err := newSessionManager(logger, cfg)
	if err != nil {
		return err
	}

	searcher, err := catalog.NewClient(catalog.Config{
		SearchEndpoint: cfg.Catalog.SearchEndpoint,
		ImageHost:      cfg.Catalog.ImageHost,
		Timeout:        cfg.Catalog.Timeout,
		UserAgent:      cfg.Catalog.UserAgent,
	})
	if err != nil {
		return err
	}

	var (
		provider identity.Provider
		store    home.Wishlist
	)
	if cfg.LocalMode() {
		logger.Warn("no firebase project configured; using in-memory identity and wishlist")
		secret, err := localSecret(cfg.Session.HashKey)
		if err != nil {
			return err
		}
		provider = identity.NewMemoryProvider(secret)
		store, err = wishlist.NewStore(wishlist.NewMemoryRepository())
		if err != nil {
			return err
		}
	} else {
		backends, closeBackends, err := newFirebaseBackends(ctx, logger, cfg)
		if err != nil {
			return err
		}
		defer closeBackends()
		provider = backends.identity
		store = backends.wishlist
	}

	server, err := httpserver.New(httpserver.Config{
		Address:      net.JoinHostPort("", cfg.Server.Port),
		Logger:       logger.Named("http"),
		Sessions:     sessions,
		Identity:     provider,
		Catalog:      searcher,
		Wishlist:     store,
		Hub:          live.NewHub(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	if err != nil {
		return err
	}
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bookfinder listening",
			zap.String("addr", server.Addr),
			zap.Bool("local_mode", cfg.LocalMode()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	value := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	project := value("BOOKFINDER_SECRET_PROJECT_ID")
	if project == "" {
		project = value("BOOKFINDER_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path := value("BOOKFINDER_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := value("BOOKFINDER_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func newSessionManager(logger *zap.Logger, cfg config.Config) (*appsession.Manager, error) {
	hashKey := []byte(cfg.Session.HashKey)
	blockKey := []byte(cfg.Session.BlockKey)
	if len(hashKey) == 0 {
		logger.Warn("session keys not configured; generating ephemeral keys, sessions end on restart")
		hashKey = securecookie.GenerateRandomKey(32)
		blockKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil || blockKey == nil {
			return nil, errors.New("generate session keys")
		}
	}
	return appsession.NewManager(appsession.Config{
		CookieName:     cfg.Session.CookieName,
		HashKey:        hashKey,
		BlockKey:       blockKey,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieSameSite: http.SameSiteLaxMode,
		Lifetime:       cfg.Session.Lifetime,
	})
}

func localSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return nil, errors.New("generate local token secret")
	}
	return key, nil
}

type firebaseBackends struct {
	identity identity.Provider
	wishlist home.Wishlist
}

func newFirebaseBackends(ctx context.Context, logger *zap.Logger, cfg config.Config) (firebaseBackends, func(), error) {
	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, clientOpts...)
	if err != nil {
		return firebaseBackends{}, closeAll, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return firebaseBackends{}, closeAll, fmt.Errorf("initialise firebase auth: %w", err)
	}
	toolkit, err := identity.NewIdentityToolkit(ctx, cfg.Firebase.WebAPIKey)
	if err != nil {
		return firebaseBackends{}, closeAll, err
	}
	secureToken, err := identity.NewSecureToken(ctx, cfg.Firebase.WebAPIKey)
	if err != nil {
		return firebaseBackends{}, closeAll, err
	}
	provider, err := identity.NewFirebaseProvider(authClient, toolkit, identity.WithTokenRefresher(secureToken))
	if err != nil {
		return firebaseBackends{}, closeAll, err
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	closers = append(closers, func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	})

	storeOpts := []wishlist.Option{}
	if topicID := cfg.Events.WishlistTopic; topicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, clientOpts...)
		if err != nil {
			return firebaseBackends{}, closeAll, fmt.Errorf("initialise pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(psClient.Topic(topicID))
		if err != nil {
			_ = psClient.Close()
			return firebaseBackends{}, closeAll, err
		}
		closers = append(closers, func() {
			publisher.Stop()
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		storeOpts = append(storeOpts, wishlist.WithPublisher(publisher))
		logger.Info("publishing wishlist events", zap.String("topic", topicID))
	}

	store, err := wishlist.NewStore(
		wishlist.NewFirestoreRepository(firestoreProvider, cfg.Firestore.WishlistCollection),
		storeOpts...,
	)
	if err != nil {
		return firebaseBackends{}, closeAll, err
	}

	return firebaseBackends{identity: provider, wishlist: store}, closeAll, nil
}
