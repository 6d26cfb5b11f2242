package storage

import (
	"fmt"
	"sort"
	"sync"

	"evalgo.org/flightdeck/models"
)

// Memory is a process-local Store. Passwords are sealed the same way the
// CouchDB backend seals them.
type Memory struct {
	mu          sync.RWMutex
	sealer      *Sealer
	rules       map[string]models.Rule
	credentials map[int64]models.CredentialDocument
	nextID      int64
}

// NewMemory returns an empty in-memory store.
func NewMemory(sealer *Sealer) *Memory {
	return &Memory{
		sealer:      sealer,
		rules:       make(map[string]models.Rule),
		credentials: make(map[int64]models.CredentialDocument),
		nextID:      1,
	}
}

func (m *Memory) CreateRule(rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.Name]; ok {
		return fmt.Errorf("%w: rule %q already exists", models.ErrConflict, rule.Name)
	}
	rule.ID = ruleDocID(rule.Name)
	rule.Type = models.RuleDocType
	m.rules[rule.Name] = *rule
	return nil
}

func (m *Memory) GetRule(name string) (*models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[name]
	if !ok {
		return nil, fmt.Errorf("%w: rule %q", models.ErrNotFound, name)
	}
	return &rule, nil
}

func (m *Memory) UpdateRule(rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.Name]; !ok {
		return fmt.Errorf("%w: rule %q", models.ErrNotFound, rule.Name)
	}
	rule.ID = ruleDocID(rule.Name)
	rule.Type = models.RuleDocType
	m.rules[rule.Name] = *rule
	return nil
}

func (m *Memory) DeleteRule(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[name]; !ok {
		return fmt.Errorf("%w: rule %q", models.ErrNotFound, name)
	}
	delete(m.rules, name)
	return nil
}

// ListRules returns rules sorted by name.
func (m *Memory) ListRules() ([]*models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateCredential(cred *models.StoredCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred.ID = m.nextID
	doc, err := toDocument(cred, m.sealer)
	if err != nil {
		cred.ID = 0
		return err
	}
	m.nextID++
	m.credentials[cred.ID] = *doc
	return nil
}

func (m *Memory) GetCredential(id int64) (*models.StoredCredential, error) {
	m.mu.RLock()
	doc, ok := m.credentials[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
	}
	return fromDocument(&doc, m.sealer)
}

// ListCredentials returns credentials in id order.
func (m *Memory) ListCredentials() ([]*models.StoredCredential, error) {
	m.mu.RLock()
	docs := make([]models.CredentialDocument, 0, len(m.credentials))
	for _, d := range m.credentials {
		docs = append(docs, d)
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].CredentialID < docs[j].CredentialID })
	out := make([]*models.StoredCredential, 0, len(docs))
	for i := range docs {
		cred, err := fromDocument(&docs[i], m.sealer)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func (m *Memory) DeleteCredential(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return fmt.Errorf("%w: credential %d", models.ErrNotFound, id)
	}
	delete(m.credentials, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
