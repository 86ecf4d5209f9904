package domain

import (
	"context"
	"time"
)

type Persona struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Instruction string    `json:"instruction"`
	Types       []string  `json:"types"`
	Categories  []string  `json:"categories"`
	IsDefault   bool      `json:"isDefault"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PersonaFilter narrows List results. Empty fields match everything.
type PersonaFilter struct {
	Type     string
	Category string
	Query    string
}

// PersonaStore is the read side the chat core depends on.
type PersonaStore interface {
	GetPersona(ctx context.Context, id string) (Persona, error)
}

// PersonaCatalog adds the admin operations on top of PersonaStore.
type PersonaCatalog interface {
	PersonaStore
	ListPersonas(ctx context.Context, filter PersonaFilter) ([]Persona, error)
	CreatePersona(ctx context.Context, p Persona) (Persona, error)
	UpdatePersona(ctx context.Context, p Persona) (Persona, error)
	DeletePersona(ctx context.Context, id string) error
}

// GlobalPromptStore holds the baseline instruction applied under every persona.
type GlobalPromptStore interface {
	GetGlobalPrompt(ctx context.Context) (string, error)
	SetGlobalPrompt(ctx context.Context, prompt string) error
}
