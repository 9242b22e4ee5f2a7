package repository

import (
	"context"
	"time"
)

// Identity representa un usuario provisionado (local o federado).
// Nunca se borra físicamente: Deactivate marca DeactivatedAt.
type Identity struct {
	ID            string
	OrgID         string
	Email         string
	Role          string
	GivenName     string
	FamilyName    string
	Department    string
	Active        bool
	MFAEnabled    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
}

// CreateIdentityInput contiene los datos para provisionar una identidad.
type CreateIdentityInput struct {
	OrgID      string
	Email      string
	Role       string
	GivenName  string
	FamilyName string
	Department string
	Active     bool
}

// UpdateAttributesInput contiene los atributos mutables sincronizables
// desde un provider federado. Campos nil no se tocan.
type UpdateAttributesInput struct {
	GivenName  *string
	FamilyName *string
	Department *string
}

// IdentityRepository define operaciones sobre identidades.
type IdentityRepository interface {
	// Create provisiona una identidad nueva. Retorna ErrConflict si el
	// email ya existe en la organización.
	Create(ctx context.Context, input CreateIdentityInput) (*Identity, error)

	// GetByID obtiene una identidad por su ID. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByEmail busca una identidad por email dentro de una organización.
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, orgID, email string) (*Identity, error)

	// UpdateAttributes sincroniza atributos mutables (nombre, departamento).
	UpdateAttributes(ctx context.Context, id string, input UpdateAttributesInput) error

	// SetRole cambia el rol interno de la identidad.
	SetRole(ctx context.Context, id, role string) error

	// SetMFAEnabled actualiza el flag de MFA habilitado.
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error

	// Deactivate desactiva la identidad (soft delete).
	Deactivate(ctx context.Context, id string) error
}
