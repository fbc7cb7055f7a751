package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/auth"
	"github.com/tallerpinturas/go-gallery-gateway/broker/oidcbroker"
	"github.com/tallerpinturas/go-gallery-gateway/internal/config"
	"github.com/tallerpinturas/go-gallery-gateway/profile"
	"github.com/tallerpinturas/go-gallery-gateway/server"
	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/session/redisstore"
	"github.com/tallerpinturas/go-gallery-gateway/session/sqlitestore"
	"github.com/tallerpinturas/go-gallery-gateway/sessionwatch"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return fmt.Errorf("config.New: %w", err)
	}
	displayAppname(c.AppName)

	logger := newLogger(c)

	store, err := newSessionStore(c, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	idp, err := oidcbroker.New(oidcbroker.Config{
		Issuer:        c.OIDCIssuer,
		ClientID:      c.OIDCClientID,
		ClientSecret:  c.OIDCClientSecret,
		RedirectURL:   c.RedirectURL(),
		PostLogoutURL: c.PostLogoutURL(),
	}, store, logger)
	if err != nil {
		return fmt.Errorf("oidcbroker.New: %w", err)
	}
	defer idp.Close()

	backend, err := profile.NewClient(c.APIBaseURL, store, logger)
	if err != nil {
		return fmt.Errorf("profile.NewClient: %w", err)
	}

	service, err := auth.NewService(auth.Deps{
		Broker:  idp,
		Backend: backend,
		Store:   store,
	}, logger)
	if err != nil {
		return fmt.Errorf("auth.NewService: %w", err)
	}

	routes := make(chan sessionwatch.RouteEvent, 16)
	watcher, err := sessionwatch.New(context.Background(), idp, routes, logger)
	if err != nil {
		return fmt.Errorf("sessionwatch.New: %w", err)
	}
	defer watcher.Close()

	srv, err := server.New(c, server.Deps{
		Broker:  idp,
		Service: service,
		Store:   store,
		Watcher: watcher,
		Routes:  routes,
	}, logger)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.Addr(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newLogger(c config.Config) zerolog.Logger {
	if c.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newSessionStore picks Redis when an address is configured, a local SQLite
// file otherwise.
func newSessionStore(c config.Config, logger zerolog.Logger) (session.Store, error) {
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client, "", logger), nil
	}
	return sqlitestore.Open(c.SessionDBPath, logger)
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
