package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/satriahrh/persona-chat/domain"
)

const globalPromptKey = "global_prompt"

// Store keeps the persona catalog and global settings in a local libSQL file.
// It implements domain.PersonaCatalog and domain.GlobalPromptStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT NOT NULL PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			instruction TEXT NOT NULL,
			types TEXT NOT NULL DEFAULT '[]',
			categories TEXT NOT NULL DEFAULT '[]',
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_personas_name ON personas(name)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const personaColumns = `id, key, name, instruction, types, categories, is_default, created_at`

func (s *Store) GetPersona(ctx context.Context, id string) (domain.Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Persona{}, fmt.Errorf("%w: %s", domain.ErrPersonaNotFound, id)
	}
	if err != nil {
		return domain.Persona{}, fmt.Errorf("failed to load persona: %w", err)
	}
	return p, nil
}

// ListPersonas returns personas ordered by name. Type and Category match one
// of the persona's tags exactly; Query is a case-insensitive substring of the
// name or key.
func (s *Store) ListPersonas(ctx context.Context, filter domain.PersonaFilter) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	personas := []domain.Persona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		if matches(p, filter) {
			personas = append(personas, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	return personas, nil
}

func (s *Store) CreatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	p = normalize(p)
	if err := validate(p); err != nil {
		return domain.Persona{}, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC().Truncate(time.Second)

	types, categories, err := encodeTags(p)
	if err != nil {
		return domain.Persona{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (`+personaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Key, p.Name, p.Instruction, types, categories, boolInt(p.IsDefault), p.CreatedAt.Unix(),
	)
	if err != nil {
		return domain.Persona{}, writeError("create", p.Key, err)
	}
	return p, nil
}

// UpdatePersona overwrites the editable fields of an existing persona. ID and
// CreatedAt are kept from the stored record.
func (s *Store) UpdatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	p = normalize(p)
	if err := validate(p); err != nil {
		return domain.Persona{}, err
	}
	existing, err := s.GetPersona(ctx, p.ID)
	if err != nil {
		return domain.Persona{}, err
	}
	p.CreatedAt = existing.CreatedAt

	types, categories, err := encodeTags(p)
	if err != nil {
		return domain.Persona{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE personas SET key = ?, name = ?, instruction = ?, types = ?, categories = ?, is_default = ? WHERE id = ?`,
		p.Key, p.Name, p.Instruction, types, categories, boolInt(p.IsDefault), p.ID,
	)
	if err != nil {
		return domain.Persona{}, writeError("update", p.Key, err)
	}
	return p, nil
}

func (s *Store) DeletePersona(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPersonaNotFound, id)
	}
	return nil
}

// GetGlobalPrompt returns an empty prompt when none was ever saved.
func (s *Store) GetGlobalPrompt(ctx context.Context) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, globalPromptKey).Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load global prompt: %w", err)
	}
	return prompt, nil
}

func (s *Store) SetGlobalPrompt(ctx context.Context, prompt string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		globalPromptKey, prompt,
	)
	if err != nil {
		return fmt.Errorf("failed to save global prompt: %w", err)
	}
	return nil
}

// writeError maps a unique key violation onto ErrInvalidPersona.
func writeError(op, key string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: key %q is already taken", domain.ErrInvalidPersona, key)
	}
	return fmt.Errorf("failed to %s persona: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPersona(row scanner) (domain.Persona, error) {
	var (
		p                 domain.Persona
		types, categories string
		createdAt         int64
	)
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Instruction, &types, &categories, &p.IsDefault, &createdAt); err != nil {
		return domain.Persona{}, err
	}
	if err := json.Unmarshal([]byte(types), &p.Types); err != nil {
		return domain.Persona{}, fmt.Errorf("decode types of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(categories), &p.Categories); err != nil {
		return domain.Persona{}, fmt.Errorf("decode categories of %s: %w", p.ID, err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return p, nil
}

func encodeTags(p domain.Persona) (string, string, error) {
	types, err := json.Marshal(p.Types)
	if err != nil {
		return "", "", fmt.Errorf("encode types: %w", err)
	}
	categories, err := json.Marshal(p.Categories)
	if err != nil {
		return "", "", fmt.Errorf("encode categories: %w", err)
	}
	return string(types), string(categories), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func normalize(p domain.Persona) domain.Persona {
	p.Key = strings.TrimSpace(p.Key)
	p.Name = strings.TrimSpace(p.Name)
	p.Instruction = strings.TrimSpace(p.Instruction)
	p.Types = cleanTags(p.Types)
	p.Categories = cleanTags(p.Categories)
	return p
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func validate(p domain.Persona) error {
	switch {
	case p.Key == "":
		return fmt.Errorf("%w: key is required", domain.ErrInvalidPersona)
	case p.Name == "":
		return fmt.Errorf("%w: name is required", domain.ErrInvalidPersona)
	case p.Instruction == "":
		return fmt.Errorf("%w: instruction is required", domain.ErrInvalidPersona)
	}
	return nil
}

func matches(p domain.Persona, f domain.PersonaFilter) bool {
	if t := strings.ToLower(strings.TrimSpace(f.Type)); t != "" && !slices.Contains(p.Types, t) {
		return false
	}
	if c := strings.ToLower(strings.TrimSpace(f.Category)); c != "" && !slices.Contains(p.Categories, c) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Key), q)
	}
	return true
}
