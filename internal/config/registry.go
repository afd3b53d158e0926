package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openparley/parley/pkg/provider/embedding"
	"github.com/openparley/parley/pkg/provider/llm"
	"github.com/openparley/parley/pkg/provider/stt"
	"github.com/openparley/parley/pkg/provider/tts"
	"github.com/openparley/parley/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	classifiers  map[string]func(ProviderEntry) (vad.Classifier, error)
	recognizers  map[string]func(ProviderEntry) (stt.Recognizer, error)
	responders   map[string]func(ProviderEntry) (llm.Responder, error)
	synthesizers map[string]func(ProviderEntry) (tts.Synthesizer, error)
	embedders    map[string]func(ProviderEntry) (embedding.Embedder, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifiers:  make(map[string]func(ProviderEntry) (vad.Classifier, error)),
		recognizers:  make(map[string]func(ProviderEntry) (stt.Recognizer, error)),
		responders:   make(map[string]func(ProviderEntry) (llm.Responder, error)),
		synthesizers: make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		embedders:    make(map[string]func(ProviderEntry) (embedding.Embedder, error)),
	}
}

// RegisterClassifier registers a speech classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (vad.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// RegisterRecognizer registers a recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterResponder registers a responder factory under name.
func (r *Registry) RegisterResponder(name string, factory func(ProviderEntry) (llm.Responder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responders[name] = factory
}

// RegisterSynthesizer registers a synthesizer factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizers[name] = factory
}

// RegisterEmbedder registers an embedder factory under name.
func (r *Registry) RegisterEmbedder(name string, factory func(ProviderEntry) (embedding.Embedder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = factory
}

// CreateClassifier instantiates a speech classifier using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (vad.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateResponder instantiates a responder using the factory registered
// under entry.Name.
func (r *Registry) CreateResponder(entry ProviderEntry) (llm.Responder, error) {
	r.mu.RLock()
	factory, ok := r.responders[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: responder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a synthesizer using the factory registered
// under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.synthesizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbedder instantiates an embedder using the factory registered under
// entry.Name.
func (r *Registry) CreateEmbedder(entry ProviderEntry) (embedding.Embedder, error) {
	r.mu.RLock()
	factory, ok := r.embedders[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
