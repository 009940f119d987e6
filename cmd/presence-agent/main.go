package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-presence/internal/apiclient"
	"github.com/npezzotti/go-presence/internal/config"
	"github.com/npezzotti/go-presence/internal/connection"
	"github.com/npezzotti/go-presence/internal/journal"
	"github.com/npezzotti/go-presence/internal/lifecycle"
	"github.com/npezzotti/go-presence/internal/presence"
	"github.com/npezzotti/go-presence/internal/session"
	"github.com/npezzotti/go-presence/internal/stats"
	"github.com/npezzotti/go-presence/internal/types"
)

const journalRetention = 7 * 24 * time.Hour

type stringSliceFlag []string

func (f *stringSliceFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

var (
	configPath  = flag.String("config", "", "path to a TOML config file")
	serverURL   = flag.String("server-url", "ws://localhost:8000/ws", "realtime channel endpoint")
	apiURL      = flag.String("api-url", "http://localhost:8000", "REST backend base URL")
	journalPath = flag.String("journal", "", "presence journal file (empty disables)")
	debugAddr   = flag.String("debug-addr", "", "address for the /debug/vars server (empty disables)")
	token       = flag.String("token", "", "session token (defaults to PRESENCE_TOKEN)")
	watch       = flag.String("watch", "", "comma-separated user ids to watch")

	allowedOrigins stringSliceFlag
)

func parseWatchList(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}

	var userIds []int
	for _, field := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", field, err)
		}
		userIds = append(userIds, id)
	}
	return userIds, nil
}

func loadConfig(logger *log.Logger) *config.Config {
	if *configPath != "" {
		cfg, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Fatalln("load config:", err)
		}
		return cfg
	}

	cfg, err := config.NewConfig(*serverURL, *apiURL, *journalPath, *debugAddr, allowedOrigins)
	if err != nil {
		logger.Fatalln("config:", err)
	}
	return cfg
}

func main() {
	logger := log.New(os.Stderr, "", 0)
	flag.Var(&allowedOrigins, "allowed-origin", "debug server CORS origin (repeatable)")
	flag.Parse()

	cfg := loadConfig(logger)

	sessionToken := *token
	if sessionToken == "" {
		sessionToken = os.Getenv("PRESENCE_TOKEN")
	}
	if sessionToken == "" {
		logger.Fatalln("no session token: pass -token or set PRESENCE_TOKEN")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	conn, err := connection.NewManager(cfg.ServerURL, logger, statsUpdater)
	if err != nil {
		logger.Fatalln("connection manager:", err)
	}

	store := presence.NewStore(logger, statsUpdater)
	resolver := presence.NewResolver(store)
	api := apiclient.NewClient(cfg.APIBaseURL, logger)

	controller := lifecycle.NewController(logger, conn, store)

	watchedIds, err := parseWatchList(*watch)
	if err != nil {
		logger.Fatalln("watch list:", err)
	}

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			logger.Fatalln("open journal:", err)
		}
		defer jnl.Close()

		if err := jnl.Prune(journalRetention); err != nil {
			logger.Println("prune journal:", err)
		}

		// Seed last-known values through the REST path so live data
		// from this run always wins over journaled history.
		known, err := jnl.LastKnown()
		if err != nil {
			logger.Fatalln("load journal:", err)
		}
		for userId, data := range known {
			store.UpdateFromRest(userId, data)
		}

		unwatch := store.Watch(func(userId int) {
			if userId == 0 {
				return
			}
			rec, ok := store.GetPresence(userId)
			if !ok || rec.Source != types.SourceRealtime {
				return
			}
			if err := jnl.Record(rec); err != nil {
				logger.Println("journal record:", err)
			}
		})
		defer unwatch()
	}

	sessions := session.NewStore(logger)
	unsubscribe := sessions.OnChange(controller.SessionChanged)
	defer unsubscribe()
	sessions.SetToken(sessionToken)

	for _, userId := range watchedIds {
		var fallback *types.RestPresence
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if data, err := api.UserPresence(ctx, sessionToken, userId); err != nil {
			logger.Printf("rest presence for user %d: %s\n", userId, err)
		} else {
			fallback = &data
		}
		cancel()

		sub := resolver.Subscribe(userId, fallback, func(res presence.Resolution) {
			logger.Printf("user %d: online=%t status=%s last_seen=%q source=%s\n",
				userId, res.IsOnline, res.Status, res.LastSeenDisplay, res.Source)
		})
		defer sub.Cancel()
	}
	if len(watchedIds) > 0 {
		conn.RequestPresence(watchedIds)
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.DebugAddr != "" {
		h := handlers.CORS(
			handlers.MaxAge(3600),
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		)(handlers.LoggingHandler(os.Stderr, mux))

		srv = &http.Server{
			Addr:    cfg.DebugAddr,
			Handler: h,
		}

		go func() {
			logger.Printf("starting debug server on %s\n", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				// Treat SIGHUP as a foreground transition: reconnect
				// the channel if it is down.
				logger.Println("received SIGHUP, checking channel")
				controller.AppStateChanged(true)
				continue
			}
			logger.Printf("received signal: %s\n", sig)
		case err := <-errCh:
			logger.Println("debug server:", err)
		}
		break
	}

	logger.Println("shutting down")
	sessions.Clear()

	if srv != nil {
		shutDownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		if err := srv.Shutdown(shutDownCtx); err != nil {
			logger.Fatalln("shutdown:", err)
		}
	}

	logger.Println("shutdown complete")
}
