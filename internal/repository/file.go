package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileRuleStore reads rule definitions from a YAML file. It is read-only;
// rules are edited in the file and picked up on the next reload.
//
//	rules:
//	  - name: large_amount
//	    type: threshold
//	    condition: {field: amount, operator: ">", value: 1000}
type FileRuleStore struct {
	path string
}

// NewFileRuleStore creates a store for the file at path.
func NewFileRuleStore(path string) *FileRuleStore {
	return &FileRuleStore{path: path}
}

type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	Condition   map[string]any `yaml:"condition"`
	Threshold   *float64       `yaml:"threshold"`
	Active      *bool          `yaml:"active"`
}

// FetchActiveRules returns the active rules in file order. Rules without an
// id use their name; rules without an active flag are active.
func (s *FileRuleStore) FetchActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rule file: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", s.path, err)
	}

	rules := make([]*domain.Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		if fr.Name == "" {
			return nil, fmt.Errorf("%w: rule %d in %s has no name", ErrInvalidInput, i, s.path)
		}
		if fr.Active != nil && !*fr.Active {
			continue
		}

		id := fr.ID
		if id == "" {
			id = fr.Name
		}

		var condition json.RawMessage
		if fr.Condition != nil {
			condition, err = json.Marshal(fr.Condition)
			if err != nil {
				return nil, fmt.Errorf("rule %s: failed to encode condition: %w", id, err)
			}
		}

		rules = append(rules, &domain.Rule{
			ID:          id,
			Name:        fr.Name,
			Description: fr.Description,
			Type:        domain.RuleType(fr.Type),
			Condition:   condition,
			Threshold:   fr.Threshold,
			Active:      true,
			CreatedAt:   info.ModTime().UTC(),
			UpdatedAt:   info.ModTime().UTC(),
		})
	}

	return rules, nil
}

var _ domain.RuleStore = (*FileRuleStore)(nil)
