package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

type PromptConfigView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	ActiveVersion int       `json:"activeVersion"`
	LatestVersion int       `json:"latestVersion"`
	Archived      bool      `json:"archived"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type PromptVersionView struct {
	Version    int       `json:"version"`
	CommitHash string    `json:"commitHash"`
	Message    string    `json:"message"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	Active     bool      `json:"active"`
}

type PromptDetail struct {
	Config  PromptConfigView   `json:"config"`
	Head    promptrepo.Content `json:"head"`
	Active  promptrepo.Content `json:"active"`
	HeadRef string             `json:"headRef"`
}

type PromptVersionDetail struct {
	PromptVersionView
	Content promptrepo.Content `json:"content"`
}

type PromptDiff struct {
	From    int                 `json:"from"`
	To      int                 `json:"to"`
	Changes []promptrepo.Change `json:"changes"`
}

type PromptInput struct {
	Name        string                               `json:"name" validate:"required,notblank,max=120"`
	Description string                               `json:"description" validate:"max=2000"`
	Provider    string                               `json:"provider" validate:"required,notblank,max=40"`
	Model       string                               `json:"model" validate:"required,notblank,max=80"`
	Temperature float64                              `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int                                  `json:"maxTokens" validate:"gte=0,lte=200000"`
	Languages   map[string]promptrepo.LanguagePrompt `json:"languages" validate:"required,min=1,dive,keys,min=2,max=10,endkeys"`
	Message     string                               `json:"message" validate:"max=500"`
}

func (in PromptInput) content() promptrepo.Content {
	langs := make(map[string]promptrepo.LanguagePrompt, len(in.Languages))
	for lang, p := range in.Languages {
		langs[strings.ToLower(strings.TrimSpace(lang))] = promptrepo.LanguagePrompt{
			System:    p.System,
			User:      p.User,
			Variables: p.Variables,
		}
	}
	return promptrepo.Content{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Provider:    strings.TrimSpace(in.Provider),
		Model:       strings.TrimSpace(in.Model),
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		Languages:   langs,
	}
}

func (in PromptInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	for lang, p := range in.Languages {
		if strings.TrimSpace(p.System) == "" && strings.TrimSpace(p.User) == "" {
			return validationError(fmt.Sprintf("language %q needs a system or user prompt", lang), map[string]string{"languages." + lang: "empty"})
		}
	}
	return nil
}

func promptConfigView(cfg store.PromptConfig) PromptConfigView {
	return PromptConfigView{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Description:   cfg.Description,
		ActiveVersion: cfg.ActiveVersion,
		LatestVersion: cfg.LatestVersion,
		Archived:      cfg.Archived,
		CreatedBy:     cfg.CreatedBy,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
}

func promptVersionView(v store.PromptVersion, active int) PromptVersionView {
	return PromptVersionView{
		Version:    v.Version,
		CommitHash: v.CommitHash,
		Message:    v.Message,
		CreatedBy:  v.CreatedBy,
		CreatedAt:  v.CreatedAt,
		Active:     v.Version == active,
	}
}

func (s *Service) ListPrompts(ctx context.Context, includeArchived bool) ([]PromptConfigView, error) {
	configs, err := s.store.ListPromptConfigs(ctx, includeArchived)
	if err != nil {
		return nil, err
	}
	out := make([]PromptConfigView, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, promptConfigView(cfg))
	}
	return out, nil
}

// GetPrompt returns the config with the latest saved content and the content
// of the version that is currently served.
func (s *Service) GetPrompt(ctx context.Context, id string) (PromptDetail, error) {
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return PromptDetail{}, err
	}
	head, headInfo, err := s.prompts.Head(id)
	if err != nil {
		return PromptDetail{}, err
	}
	detail := PromptDetail{Config: promptConfigView(cfg), Head: head, Active: head, HeadRef: headInfo.Hash}
	if cfg.ActiveVersion != cfg.LatestVersion {
		active, err := s.versionContent(ctx, id, cfg.ActiveVersion)
		if err != nil {
			return PromptDetail{}, err
		}
		detail.Active = active
	}
	return detail, nil
}

func (s *Service) CreatePrompt(ctx context.Context, session Session, input PromptInput) (PromptConfigView, error) {
	if err := input.validate(); err != nil {
		return PromptConfigView{}, err
	}
	content := input.content()
	id := util.NewID("pc")

	info, err := s.prompts.Ensure(id, content, session.UserName)
	if err != nil {
		return PromptConfigView{}, fmt.Errorf("init prompt repo: %w", err)
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Initial version"
	}
	cfg := store.PromptConfig{
		ID:          id,
		Name:        content.Name,
		Description: content.Description,
		CreatedBy:   session.UserID,
	}
	if err := s.store.CreatePromptConfig(ctx, cfg, store.PromptVersion{
		ConfigID:   id,
		Version:    1,
		CommitHash: info.Hash,
		Message:    message,
		CreatedBy:  session.UserID,
	}); err != nil {
		if rmErr := s.prompts.Remove(id); rmErr != nil {
			s.logger.Warn("remove unrecorded prompt repo", zap.String("config_id", id), zap.Error(rmErr))
		}
		return PromptConfigView{}, err
	}
	s.invalidateDashboard(ctx)

	created, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return PromptConfigView{}, err
	}
	return promptConfigView(created), nil
}

// SavePromptVersion commits new content and records it as the next version.
// The active version does not move. Content is compared with the latest
// recorded version, so a commit left behind by a failed insert is recorded on
// retry.
func (s *Service) SavePromptVersion(ctx context.Context, session Session, id string, input PromptInput) (int, error) {
	if err := input.validate(); err != nil {
		return 0, err
	}
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return 0, err
	}
	if cfg.Archived {
		return 0, domainError(http.StatusConflict, "PROMPT_ARCHIVED", "Prompt config is archived", nil)
	}
	content := input.content()
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = fmt.Sprintf("Version %d", cfg.LatestVersion+1)
	}
	latest, err := s.versionContent(ctx, id, cfg.LatestVersion)
	if err != nil {
		return 0, err
	}
	if !promptrepo.HasChanges(latest, content) {
		return 0, promptrepo.ErrNoChanges
	}
	info, err := s.prompts.Commit(id, content, session.UserName, message)
	if errors.Is(err, promptrepo.ErrNoChanges) {
		// head already holds this content but no version points at it
		_, info, err = s.prompts.Head(id)
	}
	if err != nil {
		return 0, err
	}
	version, err := s.store.AddPromptVersion(ctx, store.PromptVersion{
		ConfigID:   id,
		CommitHash: info.Hash,
		Message:    message,
		CreatedBy:  session.UserID,
	}, content.Name, content.Description)
	if err != nil {
		return 0, err
	}
	s.invalidateDashboard(ctx)
	return version, nil
}

func (s *Service) ListPromptVersions(ctx context.Context, id string) ([]PromptVersionView, error) {
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListPromptVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]PromptVersionView, 0, len(versions))
	for _, v := range versions {
		out = append(out, promptVersionView(v, cfg.ActiveVersion))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *Service) GetPromptVersion(ctx context.Context, id string, version int) (PromptVersionDetail, error) {
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return PromptVersionDetail{}, err
	}
	v, err := s.store.GetPromptVersion(ctx, id, version)
	if err != nil {
		return PromptVersionDetail{}, err
	}
	content, err := s.prompts.ContentAt(id, v.CommitHash)
	if err != nil {
		return PromptVersionDetail{}, err
	}
	return PromptVersionDetail{PromptVersionView: promptVersionView(v, cfg.ActiveVersion), Content: content}, nil
}

// DiffPromptVersions compares two versions. A zero from means the version
// before to; a zero to means the latest.
func (s *Service) DiffPromptVersions(ctx context.Context, id string, from, to int) (PromptDiff, error) {
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return PromptDiff{}, err
	}
	if to == 0 {
		to = cfg.LatestVersion
	}
	if from == 0 {
		from = to - 1
	}
	if from < 1 || to < 1 || from > cfg.LatestVersion || to > cfg.LatestVersion {
		return PromptDiff{}, validationError(fmt.Sprintf("versions must be between 1 and %d", cfg.LatestVersion), nil)
	}
	before, err := s.versionContent(ctx, id, from)
	if err != nil {
		return PromptDiff{}, err
	}
	after, err := s.versionContent(ctx, id, to)
	if err != nil {
		return PromptDiff{}, err
	}
	return PromptDiff{From: from, To: to, Changes: promptrepo.Diff(before, after)}, nil
}

func (s *Service) ActivatePromptVersion(ctx context.Context, id string, version int) (PromptConfigView, error) {
	if version < 1 {
		return PromptConfigView{}, validationError("version must be at least 1", nil)
	}
	if _, err := s.store.GetPromptVersion(ctx, id, version); err != nil {
		return PromptConfigView{}, err
	}
	if err := s.store.SetActivePromptVersion(ctx, id, version); err != nil {
		return PromptConfigView{}, err
	}
	s.invalidateDashboard(ctx)
	cfg, err := s.store.GetPromptConfig(ctx, id)
	if err != nil {
		return PromptConfigView{}, err
	}
	return promptConfigView(cfg), nil
}

func (s *Service) ArchivePrompt(ctx context.Context, id string) error {
	if err := s.store.ArchivePromptConfig(ctx, id); err != nil {
		return err
	}
	s.invalidateDashboard(ctx)
	return nil
}

func (s *Service) versionContent(ctx context.Context, id string, version int) (promptrepo.Content, error) {
	v, err := s.store.GetPromptVersion(ctx, id, version)
	if err != nil {
		return promptrepo.Content{}, err
	}
	return s.prompts.ContentAt(id, v.CommitHash)
}
