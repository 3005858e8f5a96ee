// Package promptrepo versions prompt configs in one git repository per config.
// Every saved version is a commit on main touching prompt.json.
package promptrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"sircharge/admin/internal/store"
)

const (
	contentFile = "prompt.json"
	mainBranch  = "main"
)

var (
	ErrRepoNotFound = errors.New("prompt repository not found")
	ErrNoChanges    = errors.New("prompt content unchanged")
)

// LanguagePrompt is the template pair used for one language.
type LanguagePrompt struct {
	System    string   `json:"system" yaml:"system"`
	User      string   `json:"user" yaml:"user"`
	Variables []string `json:"variables,omitempty" yaml:"variables"`
}

type Content struct {
	Name        string                    `json:"name" yaml:"name"`
	Description string                    `json:"description" yaml:"description"`
	Provider    string                    `json:"provider" yaml:"provider"`
	Model       string                    `json:"model" yaml:"model"`
	Temperature float64                   `json:"temperature" yaml:"temperature"`
	MaxTokens   int                       `json:"maxTokens,omitempty" yaml:"max_tokens"`
	Languages   map[string]LanguagePrompt `json:"languages" yaml:"languages"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Ensure creates the repository with a baseline commit on main. It is a no-op
// returning the head commit when the repository already exists.
func (s *Service) Ensure(configID string, initial Content, author string) (store.CommitInfo, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(configID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
		}
		_, commitObj, err := headCommit(repo)
		if err != nil {
			return store.CommitInfo{}, err
		}
		return toCommitInfo(commitObj), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return store.CommitInfo{}, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return store.CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
	}

	hash, err := writeAndCommit(repo, initial, author, "Create prompt "+initial.Name)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Commit saves content as a new version. Identical content returns ErrNoChanges.
func (s *Service) Commit(configID string, content Content, author, message string) (store.CommitInfo, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(configID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	_, head, err := headCommit(repo)
	if err != nil {
		return store.CommitInfo{}, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if !HasChanges(current, content) {
		return store.CommitInfo{}, ErrNoChanges
	}

	hash, err := writeAndCommit(repo, content, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Remove deletes the repository of a config that was never recorded.
func (s *Service) Remove(configID string) error {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(configID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) Head(configID string) (Content, store.CommitInfo, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(configID)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	_, commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

// ContentAt reads prompt.json as of a full or abbreviated commit hash.
func (s *Service) ContentAt(configID, hash string) (Content, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(configID)
	if err != nil {
		return Content{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists commits on main, newest first.
func (s *Service) History(configID string, limit int) ([]store.CommitInfo, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(configID)
	if err != nil {
		return nil, err
	}
	ref, _, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) open(configID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(configID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(configID string) string {
	return filepath.Join(s.baseDir, filepath.Base(configID))
}

func (s *Service) configLock(configID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[configID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[configID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*plumbing.Reference, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("load commit object: %w", err)
	}
	return ref, commitObj, nil
}

func writeAndCommit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@sircharge.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// Change is one differing field. Language is empty for config-level fields.
type Change struct {
	Language string `json:"language,omitempty"`
	Field    string `json:"field"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// Diff lists changed fields between two versions, config-level fields first
// and then languages in name order.
func Diff(from, to Content) []Change {
	changes := make([]Change, 0)
	add := func(lang, field, before, after string) {
		if before != after {
			changes = append(changes, Change{Language: lang, Field: field, Before: before, After: after})
		}
	}
	add("", "name", from.Name, to.Name)
	add("", "description", from.Description, to.Description)
	add("", "provider", from.Provider, to.Provider)
	add("", "model", from.Model, to.Model)
	add("", "temperature", fmt.Sprint(from.Temperature), fmt.Sprint(to.Temperature))
	add("", "maxTokens", fmt.Sprint(from.MaxTokens), fmt.Sprint(to.MaxTokens))

	langs := make(map[string]struct{})
	for lang := range from.Languages {
		langs[lang] = struct{}{}
	}
	for lang := range to.Languages {
		langs[lang] = struct{}{}
	}
	names := make([]string, 0, len(langs))
	for lang := range langs {
		names = append(names, lang)
	}
	sort.Strings(names)

	for _, lang := range names {
		before, hadBefore := from.Languages[lang]
		after, hasAfter := to.Languages[lang]
		switch {
		case !hadBefore:
			changes = append(changes, Change{Language: lang, Field: "language", Before: "", After: "added"})
		case !hasAfter:
			changes = append(changes, Change{Language: lang, Field: "language", Before: "present", After: "removed"})
		default:
			add(lang, "system", before.System, after.System)
			add(lang, "user", before.User, after.User)
			add(lang, "variables", fmt.Sprint(before.Variables), fmt.Sprint(after.Variables))
		}
	}
	return changes
}

func HasChanges(from, to Content) bool {
	return !reflect.DeepEqual(normalize(from), normalize(to))
}

func normalize(c Content) Content {
	if len(c.Languages) == 0 {
		c.Languages = nil
		return c
	}
	langs := make(map[string]LanguagePrompt, len(c.Languages))
	for k, v := range c.Languages {
		if len(v.Variables) == 0 {
			v.Variables = nil
		}
		langs[k] = v
	}
	c.Languages = langs
	return c
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:        commitObj.Hash.String(),
		Message:     commitObj.Message,
		Author:      commitObj.Author.Name,
		CreatedAt:   commitObj.Author.When,
		ParentCount: commitObj.NumParents(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "operator"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
