package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"sync"
)

// KindSpec is the coordinator-side half of a task kind: how its parameters are
// checked on submit and which interim keys its progress reports may carry.
type KindSpec struct {
	Kind             types.TaskKind
	Validate         func(params json.RawMessage) error
	ProgressKeys     []string
	RequiresApproval func(params json.RawMessage) bool
}

// KindRegistry holds the KindSpec of every kind the coordinator accepts.
type KindRegistry struct {
	kinds map[types.TaskKind]KindSpec
	mutex sync.RWMutex
}

func NewKindRegistry() *KindRegistry {
	return &KindRegistry{
		kinds: make(map[types.TaskKind]KindSpec),
	}
}

// Register adds a new kind.
func (r *KindRegistry) Register(spec KindSpec) error {
	if spec.Kind == "" || spec.Validate == nil {
		return errors.New("kind spec must have a kind and a validator")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.kinds[spec.Kind]; exists {
		return fmt.Errorf("kind '%s' already registered", spec.Kind)
	}
	r.kinds[spec.Kind] = spec
	return nil
}

func (r *KindRegistry) Get(kind types.TaskKind) (KindSpec, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	spec, ok := r.kinds[kind]
	return spec, ok
}

// Validate checks params against the kind's validator.
func (r *KindRegistry) Validate(kind types.TaskKind, params json.RawMessage) error {
	spec, ok := r.Get(kind)
	if !ok {
		return fmt.Errorf("%w: %s", custom_errors.ErrUnknownKind, kind)
	}
	if err := spec.Validate(params); err != nil {
		return fmt.Errorf("%w: %v", custom_errors.ErrInvalidParameters, err)
	}
	return nil
}

// FilterProgress keeps only the interim keys recognized for kind.
func (r *KindRegistry) FilterProgress(kind types.TaskKind, fields map[string]any) (kept map[string]any, dropped []string) {
	spec, ok := r.Get(kind)
	kept = make(map[string]any, len(fields))
	if !ok {
		for k := range fields {
			dropped = append(dropped, k)
		}
		sort.Strings(dropped)
		return kept, dropped
	}
	allowed := make(map[string]struct{}, len(spec.ProgressKeys))
	for _, k := range spec.ProgressKeys {
		allowed[k] = struct{}{}
	}
	for k, v := range fields {
		if _, ok := allowed[k]; ok {
			kept[k] = v
			continue
		}
		dropped = append(dropped, k)
	}
	sort.Strings(dropped)
	return kept, dropped
}

func (r *KindRegistry) List() []types.TaskKind {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	kinds := make([]types.TaskKind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
