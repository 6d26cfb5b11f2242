package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"evalgo.org/flightdeck/models"
)

// ParseRules decodes rule definitions from YAML or JSON. A document may hold
// a single rule or a list of rules, and YAML input may hold several documents.
func ParseRules(data []byte) ([]models.Rule, error) {
	var out []models.Rule
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
		}
		if len(node.Content) == 0 {
			continue
		}
		switch node.Content[0].Kind {
		case yaml.SequenceNode:
			var list []models.Rule
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
			}
			out = append(out, list...)
		case yaml.MappingNode:
			var r models.Rule
			if err := node.Decode(&r); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrInvalid, err)
			}
			out = append(out, r)
		default:
			return nil, fmt.Errorf("%w: rule document must be an object or a list", models.ErrInvalid)
		}
	}
	return out, nil
}

// LoadDir creates the rules defined in dir's .yaml, .yml and .json files.
// Rules whose name already exists are skipped. Invalid files and rules are
// logged and skipped. It returns the number of rules created.
func (e *Engine) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	created := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("failed to read rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		defs, err := ParseRules(data)
		if err != nil {
			e.logger.Warn("failed to parse rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		for _, def := range defs {
			_, err := e.Create(def)
			switch {
			case err == nil:
				created++
			case errors.Is(err, models.ErrConflict):
				e.logger.Debug("rule already exists", zap.String("rule", def.Name), zap.String("file", path))
			default:
				e.logger.Warn("invalid rule definition",
					zap.String("rule", def.Name), zap.String("file", path), zap.Error(err))
			}
		}
	}
	e.logger.Info("loaded declarative rules", zap.String("dir", dir), zap.Int("created", created))
	return created, nil
}
