package runtime

import (
	"fmt"
	"sync"

	"github.com/acdtunes/fleetd/internal/application/common"
	contractTypes "github.com/acdtunes/fleetd/internal/application/contract/types"
	scoutingCmd "github.com/acdtunes/fleetd/internal/application/scouting/commands"
	"github.com/acdtunes/fleetd/internal/application/ship"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// Runnable is what a factory builds for a container: the source of the
// mediator request the runner dispatches each iteration. Command containers
// return the same request every time and rely on the iteration limit; worker
// containers return one request per dequeued work item and report drained
// when the queue empties.
type Runnable interface {
	// Next returns the request for the given (zero-based) iteration. ok is
	// false when there is no more work (the worker's queue drained).
	Next(iteration int) (request common.Request, ok bool, err error)
}

// Factory builds a Runnable from a persisted container spec. Factories must
// be pure: no I/O, no side effects - recovery calls them again after a
// daemon restart with the same params.
type Factory func(spec container.Spec, playerID int) (Runnable, error)

// Registry maps command names to factories, the runtime's answer to
// resolving workflow classes by name string: one table, consulted at both
// create and recovery time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	kind    container.Kind
	factory Factory
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds a factory under a command name. Registering the same name
// twice is a programming error.
func (r *Registry) Register(command string, kind container.Kind, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[command]; exists {
		return fmt.Errorf("factory already registered for command %q", command)
	}
	r.entries[command] = registryEntry{kind: kind, factory: factory}
	return nil
}

// Kind reports the container kind a command runs as.
func (r *Registry) Kind(command string) (container.Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[command]
	return entry.kind, ok
}

// Build resolves the factory for spec.Command and constructs its Runnable.
func (r *Registry) Build(spec container.Spec, playerID int) (Runnable, error) {
	r.mu.RLock()
	entry, ok := r.entries[spec.Command]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, spec.Command)
	}
	return entry.factory(spec, playerID)
}

// commandRunnable dispatches one fixed request per iteration.
type commandRunnable struct {
	request common.Request
}

func (c commandRunnable) Next(int) (common.Request, bool, error) {
	return c.request, true, nil
}

// workerRunnable dequeues one work item per iteration and builds the
// per-item request; drained queue ends the container.
type workerRunnable struct {
	queue *WorkQueue
	build func(item string) (common.Request, error)
}

// SkipCompleted fast-forwards past items a recovered worker already
// finished, keyed off the persisted iteration counter.
func (w workerRunnable) SkipCompleted(n int) {
	w.queue.Skip(n)
}

func (w workerRunnable) Next(int) (common.Request, bool, error) {
	item, ok := w.queue.Dequeue()
	if !ok {
		return nil, false, nil
	}
	req, err := w.build(item)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// RegisterBuiltins installs the factories for the command and worker kinds
// the daemon ships with.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register("navigate", container.KindCommand, navigateFactory); err != nil {
		return err
	}
	if err := r.Register("scout-tour", container.KindCommand, scoutTourFactory); err != nil {
		return err
	}
	if err := r.Register("batch-contract-workflow", container.KindCommand, batchContractFactory); err != nil {
		return err
	}
	if err := r.Register("market-worker", container.KindWorker, marketWorkerFactory); err != nil {
		return err
	}
	return nil
}

func navigateFactory(spec container.Spec, playerID int) (Runnable, error) {
	shipSymbol, err := stringParam(spec.Params, "ship_symbol")
	if err != nil {
		return nil, err
	}
	destination, err := stringParam(spec.Params, "destination")
	if err != nil {
		return nil, err
	}
	preferCruise, _ := spec.Params["prefer_cruise"].(bool)

	return commandRunnable{request: &ship.NavigateShipCommand{
		ShipSymbol:   shipSymbol,
		Destination:  destination,
		PlayerID:     shared.MustNewPlayerID(playerID),
		PreferCruise: preferCruise,
	}}, nil
}

func scoutTourFactory(spec container.Spec, playerID int) (Runnable, error) {
	shipSymbol, err := stringParam(spec.Params, "ship_symbol")
	if err != nil {
		return nil, err
	}
	markets, err := stringSliceParam(spec.Params, "markets")
	if err != nil {
		return nil, err
	}

	return commandRunnable{request: &scoutingCmd.ScoutTourCommand{
		PlayerID:   shared.MustNewPlayerID(playerID),
		ShipSymbol: shipSymbol,
		Markets:    markets,
		Iterations: 1, // one tour per container iteration; the runner owns looping
	}}, nil
}

func batchContractFactory(spec container.Spec, playerID int) (Runnable, error) {
	shipSymbol, err := stringParam(spec.Params, "ship_symbol")
	if err != nil {
		return nil, err
	}
	maxContracts := intParam(spec.Params, "max_contracts", 1)

	return commandRunnable{request: &contractTypes.BatchContractWorkflowCommand{
		ShipSymbol:   shipSymbol,
		PlayerID:     shared.MustNewPlayerID(playerID),
		MaxContracts: maxContracts,
	}}, nil
}

func marketWorkerFactory(spec container.Spec, playerID int) (Runnable, error) {
	shipSymbol, err := stringParam(spec.Params, "ship_symbol")
	if err != nil {
		return nil, err
	}
	markets, err := stringSliceParam(spec.Params, "markets")
	if err != nil {
		return nil, err
	}

	pid := shared.MustNewPlayerID(playerID)
	return workerRunnable{
		queue: NewWorkQueue(markets),
		build: func(item string) (common.Request, error) {
			return &scoutingCmd.ScanMarketCommand{
				PlayerID:   pid,
				ShipSymbol: shipSymbol,
				Waypoint:   item,
			}, nil
		},
	}, nil
}

// Param coercion. Params round-trip through JSON, so numbers arrive as
// float64 and string lists as []interface{}.

func stringParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing or invalid %s", key)
	}
	return value, nil
}

func stringSliceParam(params map[string]interface{}, key string) ([]string, error) {
	switch raw := params[key].(type) {
	case []string:
		return raw, nil
	case []interface{}:
		values := make([]string, len(raw))
		for i, item := range raw {
			value, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s entry at index %d", key, i)
			}
			values[i] = value
		}
		return values, nil
	default:
		return nil, fmt.Errorf("missing or invalid %s", key)
	}
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch value := params[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return fallback
	}
}
