package feed

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// SourceCache loads and holds the configured feed sources. Sources are read
// once at startup and served as copies; scrape order is the file order.
type SourceCache struct {
	path    string
	sources []Source
	mu      sync.RWMutex
}

func NewSourceCache(path string) *SourceCache {
	return &SourceCache{path: path}
}

func (sc *SourceCache) Run() error {
	data, err := os.ReadFile(sc.path)
	if err != nil {
		return fmt.Errorf("failed to read sources file: %w", err)
	}

	var parsed sourcesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse sources YAML: %w", err)
	}

	for i := range parsed.Sources {
		parsed.Sources[i].Index = i
		if err := validateSource(parsed.Sources[i]); err != nil {
			return fmt.Errorf("invalid source at index %d: %w", i, err)
		}
	}

	sc.mu.Lock()
	sc.sources = parsed.Sources
	sc.mu.Unlock()

	for _, s := range parsed.Sources {
		slog.Debug("Source loaded", "index", s.Index, "name", s.Name, "state", s.State, "protocol", string(s.Protocol))
	}

	return nil
}

func (sc *SourceCache) Get(index int) (Source, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if index < 0 || index >= len(sc.sources) {
		return Source{}, fmt.Errorf("source index %d out of range (%d sources configured)", index, len(sc.sources))
	}
	return sc.sources[index], nil
}

func (sc *SourceCache) All() []Source {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	sourcesCopy := make([]Source, len(sc.sources))
	copy(sourcesCopy, sc.sources)
	return sourcesCopy
}

func (sc *SourceCache) Count() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.sources)
}

func validateSource(s Source) error {
	requiredFields := map[string]string{
		"source name": s.Name,
		"source URL":  s.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if s.Protocol != ProtocolA && s.Protocol != ProtocolB {
		return fmt.Errorf("unknown protocol %q (expected %q or %q)", s.Protocol, ProtocolA, ProtocolB)
	}

	return nil
}
