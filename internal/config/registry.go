package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/wernicke/pkg/capability/align"
	"github.com/MrWong99/wernicke/pkg/capability/asr"
	"github.com/MrWong99/wernicke/pkg/capability/correct"
	"github.com/MrWong99/wernicke/pkg/capability/diarize"
	"github.com/MrWong99/wernicke/pkg/capability/vad"
)

// ErrCapabilityNotRegistered is returned by Create* methods when no factory
// has been registered under the requested capability name.
var ErrCapabilityNotRegistered = errors.New("config: capability not registered")

// Registry maps capability names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	vad        map[string]func(CapabilityEntry) (vad.Detector, error)
	recognizer map[string]func(CapabilityEntry) (asr.Recognizer, error)
	aligner    map[string]func(CapabilityEntry) (align.Aligner, error)
	diarizer   map[string]func(CapabilityEntry) (diarize.Diarizer, error)
	corrector  map[string]func(CapabilityEntry) (correct.Corrector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:        make(map[string]func(CapabilityEntry) (vad.Detector, error)),
		recognizer: make(map[string]func(CapabilityEntry) (asr.Recognizer, error)),
		aligner:    make(map[string]func(CapabilityEntry) (align.Aligner, error)),
		diarizer:   make(map[string]func(CapabilityEntry) (diarize.Diarizer, error)),
		corrector:  make(map[string]func(CapabilityEntry) (correct.Corrector, error)),
	}
}

// RegisterVAD registers a voice activity detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(CapabilityEntry) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterRecognizer registers a speech recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(CapabilityEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterAligner registers an aligner factory under name.
func (r *Registry) RegisterAligner(name string, factory func(CapabilityEntry) (align.Aligner, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aligner[name] = factory
}

// RegisterDiarizer registers a diarizer factory under name.
func (r *Registry) RegisterDiarizer(name string, factory func(CapabilityEntry) (diarize.Diarizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarizer[name] = factory
}

// RegisterCorrector registers a transcript corrector factory under name.
func (r *Registry) RegisterCorrector(name string, factory func(CapabilityEntry) (correct.Corrector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrector[name] = factory
}

// CreateVAD instantiates a detector using the factory registered under entry.Name.
// Returns [ErrCapabilityNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry CapabilityEntry) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrCapabilityNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRecognizer instantiates a recognizer using the factory registered under entry.Name.
func (r *Registry) CreateRecognizer(entry CapabilityEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrCapabilityNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAligner instantiates an aligner using the factory registered under entry.Name.
func (r *Registry) CreateAligner(entry CapabilityEntry) (align.Aligner, error) {
	r.mu.RLock()
	factory, ok := r.aligner[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: aligner/%q", ErrCapabilityNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarizer instantiates a diarizer using the factory registered under entry.Name.
func (r *Registry) CreateDiarizer(entry CapabilityEntry) (diarize.Diarizer, error) {
	r.mu.RLock()
	factory, ok := r.diarizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarizer/%q", ErrCapabilityNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCorrector instantiates a corrector using the factory registered under entry.Name.
func (r *Registry) CreateCorrector(entry CapabilityEntry) (correct.Corrector, error) {
	r.mu.RLock()
	factory, ok := r.corrector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: corrector/%q", ErrCapabilityNotRegistered, entry.Name)
	}
	return factory(entry)
}
