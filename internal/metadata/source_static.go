package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"attest/internal/credential"
	"attest/pkg/sentinel"
)

// StaticSource serves a fixed configuration set. Deployments without the
// external configuration service load their configurations from a JSON file
// at startup; tests construct the set directly.
type StaticSource struct {
	byScope map[string]credential.Metadata
}

func NewStaticSource(metas ...credential.Metadata) *StaticSource {
	s := &StaticSource{byScope: make(map[string]credential.Metadata, len(metas))}
	for _, m := range metas {
		s.byScope[m.Scope] = m
	}
	return s
}

// LoadStaticSource reads a JSON array of configurations from path.
func LoadStaticSource(path string) (*StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}
	var metas []credential.Metadata
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, fmt.Errorf("parse configuration file: %w", err)
	}
	return NewStaticSource(metas...), nil
}

func (s *StaticSource) ByScope(_ context.Context, scope string) (credential.Metadata, error) {
	meta, ok := s.byScope[scope]
	if !ok {
		return credential.Metadata{}, sentinel.ErrNotFound
	}
	return meta, nil
}
