package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/jrsteele09/neuroscan-portal/internal/config"
	"github.com/jrsteele09/neuroscan-portal/restapi"
	"github.com/jrsteele09/neuroscan-portal/server"
	"github.com/jrsteele09/neuroscan-portal/tokenstore"
	"github.com/jrsteele09/neuroscan-portal/tokenstore/filerepo"
	"github.com/jrsteele09/neuroscan-portal/tokenstore/redisrepo"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running portal")
	}
	log.Info().Msg("Portal stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := newRepo(c)
	if err != nil {
		return err
	}
	defer closeRepo()

	store := tokenstore.New(repo)
	provider := baas.NewHTTPClient(ctx, c.GetBaaSURL(), c.GetBaaSAnonKey(),
		baas.WithSessionStorage(repo),
		baas.WithTimeout(c.GetBaaSTimeout()),
		baas.WithExpiryMargin(c.GetSessionExpiryMargin()),
	)
	api := restapi.New(c.GetAPIURL(), store.TokenSource(), restapi.WithTimeout(c.GetAPITimeout()))

	portal, err := server.New(c, provider, store, api)
	if err != nil {
		return err
	}
	state := portal.Controller().Start(ctx)
	defer portal.Controller().Close()
	log.Info().Str("phase", string(state.Phase)).Msg("Initial auth state")

	httpServer := &http.Server{Addr: c.GetPort(), Handler: portal}
	go func() {
		if err := listenAndServe(httpServer); err != nil {
			log.Err(err).Msg("Server stopped unexpectedly")
		}
	}()
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// newRepo opens the configured token storage and returns a func releasing it.
func newRepo(c config.Config) (tokenstore.Repo, func(), error) {
	switch c.GetStorageBackend() {
	case config.StorageBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		return redisrepo.New(client, c.GetStorageNamespace()), func() { _ = client.Close() }, nil
	case config.StorageBackendFile:
		var opts []filerepo.Option
		if encoded := c.GetStorageSealKey(); encoded != "" {
			key, err := filerepo.ParseSealKey(encoded)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, filerepo.WithSealKey(key))
		}
		repo, err := filerepo.New(c.GetDataFolder(), c.GetStorageNamespace(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
	return nil, nil, fmt.Errorf("[main newRepo] unknown storage backend %q", c.GetStorageBackend())
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Portal listening on %s", server.Addr)
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
