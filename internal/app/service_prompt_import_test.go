package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sircharge/admin/internal/store"
)

const promptYAML = `
prompts:
  - name: daily-reflection
    description: Turns a journal entry into a reflection question
    provider: openai
    model: gpt-4o-mini
    temperature: 0.4
    max_tokens: 300
    languages:
      en:
        system: You are a gentle coach.
        user: "Entry: {{entry}}"
        variables: [entry]
  - name: streak-nudge
    provider: openai
    model: gpt-4o-mini
    message: Seeded from file
    languages:
      en:
        user: "Remind {{name}} about their streak"
`

func listFromPromptStore(ps *promptStore) func(context.Context, bool) ([]store.PromptConfig, error) {
	return func(context.Context, bool) ([]store.PromptConfig, error) {
		out := make([]store.PromptConfig, 0, len(ps.configs))
		for _, cfg := range ps.configs {
			out = append(out, cfg)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}
}

func TestImportPromptsCreatesThenVersions(t *testing.T) {
	ps, fs := newPromptStore()
	fs.listPromptConfigsFn = listFromPromptStore(ps)
	svc := newTestService(t, fs)
	session := Session{UserID: "cli", UserName: "sircharge-admin"}
	ctx := context.Background()

	first, err := svc.ImportPrompts(ctx, session, strings.NewReader(promptYAML))
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)
	assert.Empty(t, first.Updated)

	second, err := svc.ImportPrompts(ctx, session, strings.NewReader(promptYAML))
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Unchanged, 2)

	changed := strings.Replace(promptYAML, "temperature: 0.4", "temperature: 0.7", 1)
	third, err := svc.ImportPrompts(ctx, session, strings.NewReader(changed))
	require.NoError(t, err)
	require.Len(t, third.Updated, 1)
	assert.Equal(t, 2, ps.configs[third.Updated[0]].LatestVersion)

	var seeded store.PromptConfig
	for _, cfg := range ps.configs {
		if cfg.Name == "streak-nudge" {
			seeded = cfg
		}
	}
	assert.Equal(t, "Seeded from file", ps.versions[seeded.ID][0].Message)
}

func TestImportPromptsRejectsBadFiles(t *testing.T) {
	_, fs := newPromptStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	_, err := svc.ImportPrompts(ctx, Session{}, strings.NewReader("prompts: []\n"))
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.ImportPrompts(ctx, Session{}, strings.NewReader("prompts:\n  - name: x\n    colour: red\n"))
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.ImportPrompts(ctx, Session{}, strings.NewReader("prompts:\n  - name: missing-model\n    provider: openai\n    languages:\n      en: {user: hi}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt 1 (missing-model)")
	assert.True(t, isValidationFailure(err))
}
