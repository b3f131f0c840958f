// Package toy is a small deterministic backend: a JSON vocabulary plus a
// seeded embedding/projection model. It lets the CLI, the servers and the
// tests run the full generation path without native libraries.
package toy

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// ModelExt is the file extension of toy model manifests.
const ModelExt = ".json"

type Manifest struct {
	Name   string   `json:"name"`
	Vocab  []string `json:"vocab"`
	BOS    int      `json:"bos"`
	EOS    int      `json:"eos"`
	UNK    int      `json:"unk"`
	AddBOS bool     `json:"add_bos"`
	Hidden int      `json:"hidden"`
	Seed   int64    `json:"seed"`

	// MaxContext caps the context size a model accepts. Zero means no cap.
	MaxContext int `json:"max_context"`

	// Bias adds a fixed score to the logits of a piece.
	Bias map[string]float32 `json:"bias,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// WriteManifest stores m at path.
func WriteManifest(path string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (m *Manifest) Validate() error {
	n := len(m.Vocab)
	if n < 2 {
		return fmt.Errorf("vocab needs at least 2 entries, got %d", n)
	}
	if m.Hidden <= 0 {
		return fmt.Errorf("hidden size must be positive, got %d", m.Hidden)
	}
	if m.EOS < 0 || m.EOS >= n {
		return fmt.Errorf("eos id %d out of range", m.EOS)
	}
	if m.BOS < -1 || m.BOS >= n {
		return fmt.Errorf("bos id %d out of range", m.BOS)
	}
	if m.AddBOS && m.BOS < 0 {
		return fmt.Errorf("add_bos requires a bos id")
	}
	if m.UNK < -1 || m.UNK >= n {
		return fmt.Errorf("unk id %d out of range", m.UNK)
	}
	if m.MaxContext < 0 {
		return fmt.Errorf("max_context must be >= 0")
	}
	for piece := range m.Bias {
		if indexOf(m.Vocab, piece) < 0 {
			return fmt.Errorf("bias for unknown piece %q", piece)
		}
	}
	return nil
}

func indexOf(vocab []string, piece string) int {
	for i, p := range vocab {
		if p == piece {
			return i
		}
	}
	return -1
}
