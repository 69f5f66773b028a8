// Command patrold runs the patrol engine as a standalone daemon: an in-memory
// host runtime, SQLite-backed persistence, and a websocket relay that keeps
// any number of connected engine instances in sync. It exists for local
// development and soak testing; inside a VTT host the engine is embedded
// instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"nightwatch/engine"
	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/host/memhost"
	"nightwatch/engine/internal/store"
	"nightwatch/engine/internal/wire"
	"nightwatch/engine/internal/wire/ws"
	"nightwatch/engine/logging"
	"nightwatch/engine/logging/sinks"
)

type config struct {
	Addr     string `env:"PATROLD_ADDR" envDefault:":8383"`
	RelayURL string `env:"PATROLD_RELAY_URL"`
	DBPath   string `env:"PATROLD_DB" envDefault:"patrold.db"`
	UserID   string `env:"PATROLD_USER_ID" envDefault:"gm-local"`
	GM       bool   `env:"PATROLD_GM" envDefault:"true"`

	TickInterval time.Duration `env:"PATROLD_TICK" envDefault:"100ms"`

	SceneWidth  float64 `env:"PATROLD_SCENE_WIDTH" envDefault:"3000"`
	SceneHeight float64 `env:"PATROLD_SCENE_HEIGHT" envDefault:"2000"`
	GridSize    float64 `env:"PATROLD_GRID" envDefault:"100"`

	Demo    bool   `env:"PATROLD_DEMO"`
	LogJSON string `env:"PATROLD_LOG_JSON"`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("patrold: %v", err)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := newLogRouter(cfg)
	if err != nil {
		return err
	}
	defer router.Close(context.Background())

	settings, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer settings.Close()

	mem := memhost.New(host.ClockFunc(time.Now))
	mem.SetPeers(
		host.Peer{UserID: cfg.UserID, IsGM: cfg.GM},
		[]host.Peer{{UserID: cfg.UserID, IsGM: cfg.GM}},
	)
	rt := mem.Bundle()
	rt.Settings = settings

	sceneID := mem.AddScene(host.SceneInfo{
		Name:     "Patrol Grounds",
		Width:    cfg.SceneWidth,
		Height:   cfg.SceneHeight,
		Padding:  cfg.GridSize,
		GridSize: cfg.GridSize,
	}, nil)

	logger := log.New(os.Stderr, "patrold ", log.LstdFlags)

	relayErr := make(chan error, 1)
	relayURL := cfg.RelayURL
	if relayURL == "" {
		relay := ws.NewRelay(logger)
		mux := http.NewServeMux()
		mux.Handle("/ws", relay)
		server := &http.Server{Addr: cfg.Addr, Handler: mux}
		go func() {
			logger.Printf("relay listening on %s", cfg.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				relayErr <- err
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		relayURL = "ws://127.0.0.1" + cfg.Addr + "/ws"
	}

	session, err := dialWithRetry(ctx, relayURL, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	bus := wire.NewBus(rt.Peers, session, logger)
	m := engine.NewManager(rt, engine.ManagerOptions{
		Config: engine.DefaultConfig(),
		Bus:    bus,
		Events: router,
		Logger: logger,
	})
	m.RestorePersisted()
	if err := m.LoadScenePatrols(sceneID); err != nil {
		return err
	}
	if cfg.Demo {
		seedDemo(mem, m, sceneID, cfg.GridSize)
	}
	m.RequestSync()

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- session.Run(ctx, bus) }()
	go m.Run(ctx, cfg.TickInterval)

	select {
	case <-ctx.Done():
		m.SaveSceneState(sceneID)
		m.Cleanup()
		return nil
	case err := <-relayErr:
		return fmt.Errorf("relay: %w", err)
	case err := <-sessionErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("relay session: %w", err)
	}
}

func newLogRouter(cfg config) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	named := []logging.NamedSink{
		{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console)},
	}
	if cfg.LogJSON != "" {
		f, err := os.OpenFile(cfg.LogJSON, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log: %w", err)
		}
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, "json")
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: sinks.NewJSON(f, logCfg.JSON.FlushInterval),
		})
	}
	return logging.NewRouter(logging.SystemClock{}, logCfg, named)
}

// dialWithRetry keeps trying the relay until it answers, covering the startup
// race against the embedded relay's listener.
func dialWithRetry(ctx context.Context, url string, logger *log.Logger) (*ws.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 20; attempt++ {
		session, err := ws.Dial(ctx, url, nil, logger)
		if err == nil {
			return session, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("dial relay %s: %w", url, lastErr)
}

// seedDemo stands up a small harbor watch so a fresh daemon has something to
// animate: one guard on a four-stop blink route plus a walking partner.
func seedDemo(mem *memhost.Runtime, m *engine.Manager, sceneID string, grid float64) {
	if st := m.Stats(); st.Total > 0 {
		return
	}
	half := grid / 2
	corners := []geom.Vec2{
		{X: 3*grid + half, Y: 3*grid + half},
		{X: 9*grid + half, Y: 3*grid + half},
		{X: 9*grid + half, Y: 9*grid + half},
		{X: 3*grid + half, Y: 9*grid + half},
	}
	route := make([]string, 0, len(corners))
	for _, pos := range corners {
		w := engine.NewWaypoint("", sceneID, pos)
		created, err := m.CreateWaypoint(w)
		if err != nil {
			return
		}
		route = append(route, created.ID)
	}

	blinker := mem.AddToken(host.TokenSnapshot{
		Name:        "Harbor Sentry",
		Position:    corners[0],
		Hidden:      true,
		Disposition: host.DispositionHostile,
	}, sceneID)
	p := engine.NewPatrol("", sceneID)
	p.Name = "Harbor Watch"
	p.TokenID = blinker
	p.WaypointIDs = route
	if _, err := m.CreatePatrol(p); err != nil {
		return
	}

	walker := mem.AddToken(host.TokenSnapshot{
		Name:        "Dock Rounds",
		Position:    corners[2],
		Hidden:      true,
		Disposition: host.DispositionHostile,
	}, sceneID)
	q := engine.NewPatrol("", sceneID)
	q.Name = "Dock Rounds"
	q.TokenID = walker
	q.WaypointIDs = []string{route[2], route[3], route[0]}
	q.Mode = engine.ModeWalk
	q.Pattern = engine.PatternPingPong
	if _, err := m.CreatePatrol(q); err != nil {
		return
	}

	m.StartAll()
}
