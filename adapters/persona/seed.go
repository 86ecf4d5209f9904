package persona

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/satriahrh/persona-chat/domain"
)

//go:embed seeds/personas.toml
var defaultCatalog []byte

type seedFile struct {
	GlobalPrompt string       `toml:"global_prompt"`
	Personas     []seedRecord `toml:"persona"`
}

type seedRecord struct {
	Key         string   `toml:"key"`
	Name        string   `toml:"name"`
	Types       []string `toml:"types"`
	Categories  []string `toml:"categories"`
	Instruction string   `toml:"instruction"`
}

// DefaultCatalog decodes the embedded seed catalog.
func DefaultCatalog() ([]domain.Persona, string, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a TOML catalog into default personas and an optional
// global prompt.
func ParseCatalog(data []byte) ([]domain.Persona, string, error) {
	var f seedFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, "", fmt.Errorf("failed to parse persona catalog: %w", err)
	}
	personas := make([]domain.Persona, 0, len(f.Personas))
	for _, r := range f.Personas {
		p := normalize(domain.Persona{
			Key:         r.Key,
			Name:        r.Name,
			Instruction: r.Instruction,
			Types:       r.Types,
			Categories:  r.Categories,
			IsDefault:   true,
		})
		if err := validate(p); err != nil {
			return nil, "", fmt.Errorf("seed %q: %w", r.Key, err)
		}
		personas = append(personas, p)
	}
	return personas, f.GlobalPrompt, nil
}

// Seed replaces every default persona with the given ones in one transaction.
// User-created personas are left alone. A non-empty globalPrompt is only
// written when no global prompt exists yet.
func (s *Store) Seed(ctx context.Context, personas []domain.Persona, globalPrompt string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE is_default = 1`); err != nil {
		return 0, fmt.Errorf("failed to clear default personas: %w", err)
	}

	createdAt := s.now().UTC().Truncate(time.Second).Unix()
	for _, p := range personas {
		p = normalize(p)
		types, categories, err := encodeTags(p)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO personas (`+personaColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			uuid.NewString(), p.Key, p.Name, p.Instruction, types, categories, createdAt,
		)
		if err != nil {
			return 0, writeError("seed", p.Key, err)
		}
	}

	if globalPrompt != "" {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
			globalPromptKey, globalPrompt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to seed global prompt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}
	return len(personas), nil
}
