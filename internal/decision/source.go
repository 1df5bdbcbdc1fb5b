package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoProposal is returned by a Source that has nothing new to offer.
var ErrNoProposal = errors.New("no proposal available")

// Source supplies proposals on demand. The model call behind it is external.
type Source interface {
	Next(ctx context.Context) (Proposal, error)
}

// FileSource reads a proposal file dropped by the external decision pipeline
// and consumes it by renaming it to <name>.done.
type FileSource struct {
	Path          string
	DefaultSymbol string
	nowFn         func() time.Time
}

func NewFileSource(path, defaultSymbol string) *FileSource {
	return &FileSource{Path: path, DefaultSymbol: defaultSymbol, nowFn: time.Now}
}

func (s *FileSource) Next(ctx context.Context) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return Proposal{}, ErrNoProposal
	}
	p, err := LoadProposalFile(s.Path, s.DefaultSymbol, s.now())
	if errors.Is(err, os.ErrNotExist) {
		return Proposal{}, ErrNoProposal
	}
	if err != nil {
		return Proposal{}, err
	}
	if err := os.Rename(s.Path, s.Path+".done"); err != nil {
		return Proposal{}, fmt.Errorf("consume proposal file: %w", err)
	}
	return p, nil
}

func (s *FileSource) now() time.Time {
	if s.nowFn == nil {
		return time.Now()
	}
	return s.nowFn()
}

// LoadProposalFile parses a JSON or YAML proposal file.
func LoadProposalFile(path, defaultSymbol string, now time.Time) (Proposal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Proposal{}, err
	}
	if isYAML(path) {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return Proposal{}, fmt.Errorf("%w: yaml: %v", ErrInvalidProposal, err)
		}
	}
	return ParseProposal(raw, defaultSymbol, now)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
