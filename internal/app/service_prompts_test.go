package app

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/store"
)

func TestSavePromptVersionRecordsAfterFailedInsert(t *testing.T) {
	ps, fs := newPromptStore()
	record := fs.addPromptVersionFn
	failures := 1
	fs.addPromptVersionFn = func(ctx context.Context, v store.PromptVersion, name, description string) (int, error) {
		if failures > 0 {
			failures--
			return 0, errors.New("connection reset")
		}
		return record(ctx, v, name, description)
	}
	svc := newTestService(t, fs)
	session := Session{UserID: "usr_editor", UserName: "Avery Ops"}
	ctx := context.Background()

	cfg, err := svc.CreatePrompt(ctx, session, reflectionPrompt())
	require.NoError(t, err)

	next := reflectionPrompt()
	next.Model = "gpt-4o"
	_, err = svc.SavePromptVersion(ctx, session, cfg.ID, next)
	require.Error(t, err)
	assert.Equal(t, 1, ps.configs[cfg.ID].LatestVersion)

	version, err := svc.SavePromptVersion(ctx, session, cfg.ID, next)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	saved, err := svc.GetPromptVersion(ctx, cfg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", saved.Content.Model)

	_, err = svc.SavePromptVersion(ctx, session, cfg.ID, next)
	assert.ErrorIs(t, err, promptrepo.ErrNoChanges)
}

func TestCreatePromptRemovesRepoWhenInsertFails(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, &fakeStore{
		createPromptConfigFn: func(context.Context, store.PromptConfig, store.PromptVersion) error {
			return store.ErrConflict
		},
	})
	svc.prompts = promptrepo.New(dir)

	_, err := svc.CreatePrompt(context.Background(), Session{UserID: "usr_editor"}, reflectionPrompt())
	assert.ErrorIs(t, err, store.ErrConflict)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSavePromptVersionRenamesConfig(t *testing.T) {
	ps, fs := newPromptStore()
	svc := newTestService(t, fs)
	session := Session{UserID: "usr_editor", UserName: "Avery Ops"}
	ctx := context.Background()

	cfg, err := svc.CreatePrompt(ctx, session, reflectionPrompt())
	require.NoError(t, err)

	renamed := reflectionPrompt()
	renamed.Name = "evening-reflection"
	renamed.Description = "Asks one question about the day"
	_, err = svc.SavePromptVersion(ctx, session, cfg.ID, renamed)
	require.NoError(t, err)

	assert.Equal(t, "evening-reflection", ps.configs[cfg.ID].Name)
	assert.Equal(t, "Asks one question about the day", ps.configs[cfg.ID].Description)
}
