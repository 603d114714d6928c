package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/activitymap"
	"github.com/goliatone/go-authstate/provider/gotrue"
	"github.com/goliatone/go-authstate/query"
	"github.com/goliatone/go-authstate/repository"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config   *authstate.EnvConfig
	bunDB    *bun.DB
	client   *gotrue.Client
	store    *authstate.Store
	queries  *authstate.Queries
	verifier authstate.TokenVerifier
	srv      router.Server[*fiber.App]
	logger   *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("authshell"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := authstate.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybePrettyJSON(cfg))
	fmt.Println("============")

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		log.Fatal(err)
	}

	if err := WithSession(ctx, app); err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	if err := WithVerifier(ctx, app); err != nil {
		log.Fatal(err)
	}

	WithHTTPServer(app)
	AuthRoutes(app)
	ProtectedRoutes(app)

	if !authstate.IsLoopbackAddr(cfg.HTTPAddr) {
		lgr.Warn("listening on %s: not loopback, every client shares one session", cfg.HTTPAddr)
	}

	app.srv.Serve(cfg.HTTPAddr)

	WaitExitSignal()
}

// WithPersistence opens the session database when AUTH_SESSION_DB is set.
// Without it the session lives in memory.
func WithPersistence(ctx context.Context, app *App) error {
	dsn := app.config.SessionDB
	if dsn == "" {
		return nil
	}

	db, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return err
	}

	app.bunDB = bun.NewDB(db, sqlitedialect.New())
	return nil
}

func WithSession(ctx context.Context, app *App) error {
	gcfg := gotrue.ConfigFrom(app.config)
	gcfg.Logger = app.GetLogger("auth:gotrue")

	if app.bunDB != nil {
		sessions := repository.NewSessionRepository(app.bunDB)
		if err := sessions.CreateTable(ctx); err != nil {
			return err
		}
		gcfg.Storage = sessions
	}

	client, err := gotrue.New(gcfg)
	if err != nil {
		return err
	}
	client.Start(ctx)
	app.client = client

	store := authstate.NewStore(client,
		authstate.WithStoreLoggerProvider(authstate.LoggerProviderFunc(func(name string) authstate.Logger {
			return app.GetLogger(name)
		})),
		authstate.WithStoreActivitySink(activitymap.LogSink(app.GetLogger("auth:activity"))),
	)
	if err := store.Start(ctx); err != nil {
		return err
	}
	app.store = store

	cache, err := query.NewClient(query.WithSize(app.config.GetQueryCacheSize()))
	if err != nil {
		return err
	}

	app.queries = authstate.NewQueries(store, cache,
		authstate.WithQueriesStaleTime(app.config),
		authstate.WithQueriesLogger(app.GetLogger("auth:queries")),
	)

	return nil
}

// WithVerifier checks tokens locally when a secret or key set is
// configured and falls back to asking the backend.
func WithVerifier(ctx context.Context, app *App) error {
	remote := authstate.NewRemoteVerifier(app.client)

	if app.config.GetJWTSecret() == "" && app.config.GetJWKSURL() == "" {
		app.verifier = remote
		return nil
	}

	local, err := authstate.NewJWTVerifier(authstate.JWTVerifierConfig{
		Secret:   app.config.GetJWTSecret(),
		JWKSURL:  app.config.GetJWKSURL(),
		Audience: app.config.GetAudience(),
		Logger:   app.GetLogger("auth:verifier"),
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		local.Close()
	}()

	app.verifier = authstate.NewMultiVerifier(local, remote)
	return nil
}

func WithHTTPServer(app *App) {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	app.srv = srv
}

func AuthRoutes(app *App) {
	authstate.RegisterAuthRoutes(app.srv.Router(),
		authstate.WithQueries(app.queries),
		authstate.WithVerifier(app.verifier),
		authstate.WithControllerLogger(app.GetLogger("auth:http")),
	)
}

func ProtectedRoutes(app *App) {
	p := app.srv.Router()

	guard := authstate.NewGuard()
	guard.LoginRoute = app.config.GetLoginRoute()

	protected := authstate.NewRouteGuard(guard, app.store).
		WithLogger(app.GetLogger("auth:guard")).
		ProtectedRoute()

	for _, path := range authstate.GuardedRoutes {
		p.Get(path, ViewShow(app, path), protected)
	}

	for _, path := range guard.Public {
		p.Get(path, ViewShow(app, path), protected)
	}

	apiAuth := authstate.APIMiddleware(app.verifier, app.config, app.GetLogger("auth:api"))
	p.Get("/api/me", MeShow(app), apiAuth)
}

// ViewShow answers the view name with the session state the view renders.
func ViewShow(app *App, view string) router.HandlerFunc {
	return func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, router.ViewContext{
			"view":  view,
			"state": app.store.State(),
		})
	}
}

func MeShow(app *App) router.HandlerFunc {
	return func(ctx router.Context) error {
		claims, ok := authstate.GetRouterClaims(ctx, app.config.GetContextKey())
		if !ok {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		}
		return ctx.JSON(router.StatusOK, authstate.UserInfoFromClaims(claims))
	}
}

func (a *App) Close() {
	if a.queries != nil {
		a.queries.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.bunDB != nil {
		a.bunDB.Close()
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
