// Package storage persists automated rules and stored credentials.
//
// Two backends implement Store: a CouchDB backend built on eve.evalgo.org/db
// for deployments, and an in-memory backend for development and tests.
// Credential passwords are sealed with age before they reach either backend.
package storage

import (
	"fmt"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/models"
)

// RuleStore persists automated rules keyed by name.
type RuleStore interface {
	// CreateRule fails with models.ErrConflict when the name is taken.
	CreateRule(rule *models.Rule) error
	GetRule(name string) (*models.Rule, error)
	UpdateRule(rule *models.Rule) error
	DeleteRule(name string) error
	ListRules() ([]*models.Rule, error)
}

// CredentialStore persists stored credentials keyed by a numeric id.
type CredentialStore interface {
	// CreateCredential assigns cred.ID.
	CreateCredential(cred *models.StoredCredential) error
	GetCredential(id int64) (*models.StoredCredential, error)
	ListCredentials() ([]*models.StoredCredential, error)
	DeleteCredential(id int64) error
}

// Store is the full persistence collaborator.
type Store interface {
	RuleStore
	CredentialStore
	Close() error
}

// New opens the backend selected by cfg.Storage.Backend.
func New(cfg *config.Config, sealer *Sealer, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return NewMemory(sealer), nil
	case config.BackendCouchDB, "":
		s, err := NewCouchDB(cfg.CouchDB, sealer, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func ruleDocID(name string) string {
	return "rule:" + name
}

func credentialDocID(id int64) string {
	return fmt.Sprintf("credential:%d", id)
}

func toDocument(cred *models.StoredCredential, sealer *Sealer) (*models.CredentialDocument, error) {
	encrypted, err := sealer.Seal(cred.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credential password: %w", err)
	}
	return &models.CredentialDocument{
		ID:                credentialDocID(cred.ID),
		Type:              models.CredentialDocType,
		CredentialID:      cred.ID,
		MatchExpression:   cred.MatchExpression,
		Username:          cred.Username,
		EncryptedPassword: encrypted,
	}, nil
}

func fromDocument(doc *models.CredentialDocument, sealer *Sealer) (*models.StoredCredential, error) {
	password, err := sealer.Open(doc.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential %d: %w", doc.CredentialID, err)
	}
	return &models.StoredCredential{
		ID:              doc.CredentialID,
		MatchExpression: doc.MatchExpression,
		Username:        doc.Username,
		Password:        password,
	}, nil
}
