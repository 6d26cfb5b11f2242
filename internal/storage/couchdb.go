package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"eve.evalgo.org/db"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/models"
)

const designName = "flightdeck"

// createAttempts bounds id allocation retries when concurrent writers race
// for the same credential id.
const createAttempts = 5

// CouchDB stores rules and credentials as documents in a single database.
type CouchDB struct {
	service *db.CouchDBService
	sealer  *Sealer
	logger  *zap.Logger
}

// NewCouchDB connects to CouchDB and ensures indexes and views exist.
func NewCouchDB(cfg config.CouchDBConfig, sealer *Sealer, logger *zap.Logger) (*CouchDB, error) {
	couchConfig := db.CouchDBConfig{
		URL:             cfg.URL,
		Database:        cfg.Database,
		Username:        cfg.Username,
		Password:        cfg.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	s := &CouchDB{
		service: service,
		sealer:  sealer,
		logger:  logger,
	}

	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

func (s *CouchDB) initializeSchema() error {
	indexes := []db.Index{
		{
			Name:   "rules-name",
			Fields: []string{"@type", "name"},
			Type:   "json",
		},
		{
			Name:   "rules-enabled",
			Fields: []string{"@type", "enabled"},
			Type:   "json",
		},
		{
			Name:   "credentials-id",
			Fields: []string{"@type", "credentialId"},
			Type:   "json",
		},
	}

	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// Index might already exist
			s.logger.Warn("failed to create index", zap.String("index", index.Name), zap.Error(err))
		}
	}

	designDoc := db.DesignDoc{
		ID:       "_design/" + designName,
		Language: "javascript",
		Views: map[string]db.View{
			"credentials_by_id": {
				Map: `function(doc) {
					if (doc['@type'] === 'StoredCredential') {
						emit(doc.credentialId, null);
					}
				}`,
			},
		},
	}
	if err := s.service.CreateDesignDoc(designDoc); err != nil {
		if !isConflict(err) {
			return fmt.Errorf("failed to create views: %w", err)
		}
	}
	return nil
}

func isConflict(err error) bool {
	couchErr, ok := err.(*db.CouchDBError)
	return ok && couchErr.IsConflict()
}

func isNotFound(err error) bool {
	couchErr, ok := err.(*db.CouchDBError)
	return ok && couchErr.IsNotFound()
}

// Close closes the storage connection.
func (s *CouchDB) Close() error {
	return s.service.Close()
}

func (s *CouchDB) CreateRule(rule *models.Rule) error {
	rule.ID = ruleDocID(rule.Name)
	rule.Type = models.RuleDocType
	rule.Rev = ""

	if _, err := s.service.SaveGenericDocument(rule); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: rule %q already exists", models.ErrConflict, rule.Name)
		}
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *CouchDB) GetRule(name string) (*models.Rule, error) {
	var rule models.Rule
	if err := s.service.GetGenericDocument(ruleDocID(name), &rule); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: rule %q", models.ErrNotFound, name)
		}
		return nil, err
	}
	return &rule, nil
}

func (s *CouchDB) UpdateRule(rule *models.Rule) error {
	existing, err := s.GetRule(rule.Name)
	if err != nil {
		return err
	}
	rule.ID = existing.ID
	rule.Type = models.RuleDocType
	rule.Rev = existing.Rev

	_, err = s.service.SaveGenericDocument(rule)

	// Another writer got in first: retry once on the latest revision
	if err != nil && isConflict(err) {
		if latest, getErr := s.GetRule(rule.Name); getErr == nil {
			rule.Rev = latest.Rev
			_, err = s.service.SaveGenericDocument(rule)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

func (s *CouchDB) DeleteRule(name string) error {
	existing, err := s.GetRule(name)
	if err != nil {
		return err
	}
	if err := s.service.DeleteDocument(existing.ID, existing.Rev); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: rule %q", models.ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// ListRules returns rules sorted by name.
func (s *CouchDB) ListRules() ([]*models.Rule, error) {
	query := db.NewQueryBuilder().
		Where("@type", "$eq", models.RuleDocType).
		Build()

	rules, err := db.FindTyped[models.Rule](s.service, query)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Rule, len(rules))
	for i := range rules {
		result[i] = &rules[i]
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *CouchDB) credentialDocs() ([]models.CredentialDocument, error) {
	query := db.NewQueryBuilder().
		Where("@type", "$eq", models.CredentialDocType).
		Build()
	docs, err := db.FindTyped[models.CredentialDocument](s.service, query)
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CredentialID < docs[j].CredentialID })
	return docs, nil
}

// CreateCredential allocates the next id and saves the sealed document. The
// document id embeds the credential id, so a racing writer surfaces as a
// conflict and the allocation is retried.
func (s *CouchDB) CreateCredential(cred *models.StoredCredential) error {
	for attempt := 0; attempt < createAttempts; attempt++ {
		docs, err := s.credentialDocs()
		if err != nil {
			return err
		}
		next := int64(1)
		if len(docs) > 0 {
			next = docs[len(docs)-1].CredentialID + 1
		}
		next += int64(attempt)

		cred.ID = next
		doc, err := toDocument(cred, s.sealer)
		if err != nil {
			cred.ID = 0
			return err
		}
		_, err = s.service.SaveGenericDocument(doc)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			cred.ID = 0
			return fmt.Errorf("failed to save credential: %w", err)
		}
		s.logger.Debug("credential id taken, retrying", zap.Int64("id", next))
	}
	cred.ID = 0
	return errors.New("failed to allocate a credential id")
}

func (s *CouchDB) credentialDoc(id int64) (*models.CredentialDocument, error) {
	result, err := s.service.QueryView(designName, "credentials_by_id", db.ViewOptions{
		Key:         id,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		var doc models.CredentialDocument
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			continue
		}
		return &doc, nil
	}
	return nil, fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
}

func (s *CouchDB) GetCredential(id int64) (*models.StoredCredential, error) {
	doc, err := s.credentialDoc(id)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc, s.sealer)
}

// ListCredentials returns credentials in id order.
func (s *CouchDB) ListCredentials() ([]*models.StoredCredential, error) {
	docs, err := s.credentialDocs()
	if err != nil {
		return nil, err
	}
	out := make([]*models.StoredCredential, 0, len(docs))
	for i := range docs {
		cred, err := fromDocument(&docs[i], s.sealer)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (s *CouchDB) DeleteCredential(id int64) error {
	doc, err := s.credentialDoc(id)
	if err != nil {
		return err
	}
	if err := s.service.DeleteDocument(doc.ID, doc.Rev); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
