// Package meter parses meter command flags and runs the telemetry
// ingestion loop that drives transition detection and session tracking.
package meter

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/louisbranch/riftmeter/internal/detector"
	"github.com/louisbranch/riftmeter/internal/entities"
	"github.com/louisbranch/riftmeter/internal/mapnames"
	entrypoint "github.com/louisbranch/riftmeter/internal/platform/cmd"
	"github.com/louisbranch/riftmeter/internal/session"
	"github.com/louisbranch/riftmeter/internal/stats"
	"github.com/louisbranch/riftmeter/internal/storage"
	"github.com/louisbranch/riftmeter/internal/storage/jsonfile"
	"github.com/louisbranch/riftmeter/internal/storage/sqlite"
)

// Config holds meter command configuration.
type Config struct {
	StoreBackend        string `env:"RIFTMETER_STORE_BACKEND" envDefault:"json"`
	StorePath           string `env:"RIFTMETER_STORE_PATH" envDefault:"sessions.json"`
	MapNamesPath        string `env:"RIFTMETER_MAP_NAMES_PATH"`
	DebounceMs          int    `env:"RIFTMETER_DEBOUNCE_MS" envDefault:"500"`
	IdentityDebounceMs  int    `env:"RIFTMETER_IDENTITY_DEBOUNCE_MS" envDefault:"1000"`
	BroadcastIntervalMs int    `env:"RIFTMETER_BROADCAST_INTERVAL_MS" envDefault:"1000"`
	VerboseIdentityLog  bool   `env:"RIFTMETER_VERBOSE_IDENTITY_LOG" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.StoreBackend, "store-backend", cfg.StoreBackend, "Session store backend (json or sqlite)")
	fs.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "Session store file path")
	fs.StringVar(&cfg.MapNamesPath, "map-names", cfg.MapNamesPath, "Map name lookup table path")
	fs.IntVar(&cfg.DebounceMs, "debounce-ms", cfg.DebounceMs, "Instance change debounce window in milliseconds")
	fs.BoolVar(&cfg.VerboseIdentityLog, "verbose-identity-log", cfg.VerboseIdentityLog, "Log every identity evaluation")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OpenStore builds the configured session store backend.
func OpenStore(cfg Config) (storage.SessionStore, error) {
	switch cfg.StoreBackend {
	case "json", "":
		return jsonfile.Open(cfg.StorePath)
	case "sqlite":
		return sqlite.Open(cfg.StorePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Run starts the meter, consuming telemetry events from stdin until the
// context is canceled or the producer closes the stream.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMeter, func(ctx context.Context) error {
		return runLoop(ctx, cfg, os.Stdin)
	})
}

func runLoop(ctx context.Context, cfg Config, input io.Reader) error {
	store, err := OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close session store: %v", err)
		}
	}()

	recorder := stats.NewRecorder()
	cache := entities.NewCache()
	manager := session.NewManager(store, recorder, mapnames.Load(cfg.MapNamesPath))
	manager.AddResetter(recorder)
	manager.AddResetter(cache)
	manager.AddObserver(logObserver{})

	det := detector.New(manager, detector.Config{
		Debounce:               time.Duration(cfg.DebounceMs) * time.Millisecond,
		VerboseIdentityLogging: cfg.VerboseIdentityLog,
	})

	ingest := &ingestor{
		cfg:      cfg,
		detector: det,
		recorder: recorder,
		cache:    cache,
	}

	broadcastCtx, stopBroadcast := context.WithCancel(ctx)
	defer stopBroadcast()
	go broadcast(broadcastCtx, recorder, time.Duration(cfg.BroadcastIntervalMs)*time.Millisecond)

	// A single consumer serializes all detector calls.
	events := make(chan Event)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		errc <- decodeStream(ctx, input, events)
	}()

	for {
		select {
		case <-ctx.Done():
			manager.Shutdown(context.Background())
			return nil
		case ev, ok := <-events:
			if !ok {
				manager.Shutdown(context.Background())
				if err := <-errc; err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("telemetry stream: %w", err)
				}
				return nil
			}
			ingest.dispatch(ev)
		}
	}
}

// broadcast periodically logs the current aggregate totals.
func broadcast(ctx context.Context, provider stats.Provider, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := provider.Snapshot()
			if len(snap.Players) == 0 {
				continue
			}
			log.Printf("aggregate: players=%d damage=%d healing=%d",
				len(snap.Players), snap.Total.Damage, snap.Total.Healing)
		}
	}
}

// logObserver is the default UI stand-in when no overlay is attached.
type logObserver struct{}

func (logObserver) SessionStarted(s session.Session) {
	log.Printf("ui: session_started id=%s name=%q instance=%v", s.ID, s.Name, s.InstanceID)
}

func (logObserver) SessionChanged(sequence uint64, reason detector.Reason, extra detector.Extra) {
	log.Printf("ui: session_changed seq=%d reason=%s", sequence, reason)
}

func (logObserver) CountersReset() {
	log.Printf("ui: counters_reset")
}
