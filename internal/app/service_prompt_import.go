package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"sircharge/admin/internal/promptrepo"
)

// promptFile is the YAML layout read by ImportPrompts:
//
//	prompts:
//	  - name: onboarding
//	    provider: openai
//	    model: gpt-4o-mini
//	    languages:
//	      en: {system: "...", user: "..."}
type promptFile struct {
	Prompts []promptEntry `yaml:"prompts"`
}

type promptEntry struct {
	promptrepo.Content `yaml:",inline"`
	Message            string `yaml:"message"`
}

type PromptImportResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// ImportPrompts creates prompt configs from a YAML document. A config whose
// name already exists gets a new version unless its head content is equal.
func (s *Service) ImportPrompts(ctx context.Context, session Session, r io.Reader) (PromptImportResult, error) {
	var file promptFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return PromptImportResult{}, validationError(fmt.Sprintf("invalid prompt file: %v", err), nil)
	}
	if len(file.Prompts) == 0 {
		return PromptImportResult{}, validationError("prompt file has no prompts", nil)
	}

	existing, err := s.store.ListPromptConfigs(ctx, false)
	if err != nil {
		return PromptImportResult{}, err
	}
	byName := make(map[string]string, len(existing))
	for _, cfg := range existing {
		byName[strings.ToLower(cfg.Name)] = cfg.ID
	}

	result := PromptImportResult{Created: []string{}, Updated: []string{}, Unchanged: []string{}}
	for i, entry := range file.Prompts {
		input := PromptInput{
			Name:        entry.Name,
			Description: entry.Description,
			Provider:    entry.Provider,
			Model:       entry.Model,
			Temperature: entry.Temperature,
			MaxTokens:   entry.MaxTokens,
			Languages:   entry.Languages,
			Message:     entry.Message,
		}
		name := strings.TrimSpace(entry.Name)
		id, ok := byName[strings.ToLower(name)]
		if !ok {
			created, err := s.CreatePrompt(ctx, session, input)
			if err != nil {
				return result, fmt.Errorf("prompt %d (%s): %w", i+1, name, err)
			}
			byName[strings.ToLower(name)] = created.ID
			result.Created = append(result.Created, created.ID)
			continue
		}
		if _, err := s.SavePromptVersion(ctx, session, id, input); err != nil {
			if errors.Is(err, promptrepo.ErrNoChanges) {
				result.Unchanged = append(result.Unchanged, id)
				continue
			}
			return result, fmt.Errorf("prompt %d (%s): %w", i+1, name, err)
		}
		result.Updated = append(result.Updated, id)
	}
	return result, nil
}
