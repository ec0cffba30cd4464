package meter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/louisbranch/riftmeter/internal/detector"
	"github.com/louisbranch/riftmeter/internal/entities"
	"github.com/louisbranch/riftmeter/internal/scene"
	"github.com/louisbranch/riftmeter/internal/stats"
)

// Event is one JSON-encoded telemetry record from the capture producer.
// Unknown fields and unknown types are tolerated and skipped.
type Event struct {
	Type       string         `json:"type"`
	Identity   uint64         `json:"identity,omitempty"`
	DebounceMs int64          `json:"debounceMs,omitempty"`
	Record     map[string]any `json:"record,omitempty"`
	Count      int            `json:"count,omitempty"`
	Delta      int            `json:"delta,omitempty"`
	UID        int64          `json:"uid,omitempty"`
	Name       string         `json:"name,omitempty"`
	Damage     uint64         `json:"damage,omitempty"`
	Healing    uint64         `json:"healing,omitempty"`
	EntityID   int64          `json:"entityId,omitempty"`
	HP         int64          `json:"hp,omitempty"`
}

// Event type values accepted from the producer.
const (
	EventIdentity        = "identity"
	EventScene           = "scene"
	EventSnapshot        = "snapshot"
	EventAOIWipe         = "aoi-wipe"
	EventSelfAppeared    = "self-appeared"
	EventSelfDisappeared = "self-disappeared"
	EventPopulation      = "population-delta"
	EventCombat          = "combat"
	EventEntity          = "entity"
)

// decodeStream reads newline-delimited JSON events from input until EOF or
// cancellation. Undecodable lines are logged and skipped; the producer is
// noisy by nature.
func decodeStream(ctx context.Context, input io.Reader, out chan<- Event) error {
	dec := json.NewDecoder(input)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ingestor routes decoded events into the detector and the per-instance
// collaborators.
type ingestor struct {
	cfg      Config
	detector *detector.Detector
	recorder *stats.Recorder
	cache    *entities.Cache
}

func (in *ingestor) dispatch(ev Event) {
	switch ev.Type {
	case EventIdentity:
		window := time.Duration(ev.DebounceMs) * time.Millisecond
		if window <= 0 {
			window = time.Duration(in.cfg.IdentityDebounceMs) * time.Millisecond
		}
		in.detector.SetPlayerIdentity(ev.Identity, window)
	case EventScene:
		if desc, ok := scene.FromRecord(ev.Record); ok {
			in.detector.IngestSceneDescriptor(desc)
		}
	case EventSnapshot:
		in.detector.IngestIdentitySnapshot(ev.Record)
	case EventAOIWipe:
		in.detector.OnAreaPopulationWipe(ev.Count)
	case EventSelfAppeared:
		in.detector.OnSelfAppeared(ev.Identity)
	case EventSelfDisappeared:
		in.detector.OnSelfDisappeared(ev.Identity)
	case EventPopulation:
		in.detector.OnPopulationDelta(ev.Delta)
	case EventCombat:
		in.recorder.Add(ev.UID, ev.Name, ev.Damage, ev.Healing)
	case EventEntity:
		in.cache.Set(ev.EntityID, ev.Name, ev.HP)
	default:
		log.Printf("skipping unknown telemetry event type %q", ev.Type)
	}
}
