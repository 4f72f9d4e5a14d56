// Package history keeps a git repository per project with one JSON file per
// record, so every accepted payload is a commit.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrNoHistory = errors.New("no history for record")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// CommitRecord writes the record payload and commits it. Writing a payload
// identical to the current head is a no-op that returns the head commit.
func (s *Service) CommitRecord(projectSlug string, recordID int64, data map[string]any, author, message string) (CommitInfo, error) {
	lock := s.projectLock(projectSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(projectSlug)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal record: %w", err)
	}
	rel := recordPath(recordID)
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create records dir: %w", err)
	}
	if err := os.WriteFile(abs, append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", rel, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return CommitInfo{}, fmt.Errorf("resolve head: %w", err)
		}
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read head commit: %w", err)
		}
		return toCommitInfo(commitObj), nil
	}

	if _, err := worktree.Add(rel); err != nil {
		return CommitInfo{}, fmt.Errorf("git add %s: %w", rel, err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@casefile.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit record: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits touching the record, newest first.
func (s *Service) History(projectSlug string, recordID int64, limit int) ([]CommitInfo, error) {
	lock := s.projectLock(projectSlug)
	lock.Lock()
	defer lock.Unlock()

	items := make([]CommitInfo, 0)
	repo, err := git.PlainOpen(s.repoPath(projectSlug))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	rel := recordPath(recordID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

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

// Snapshot reads the record payload as of a commit.
func (s *Service) Snapshot(projectSlug string, recordID int64, hash string) (map[string]any, error) {
	lock := s.projectLock(projectSlug)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectSlug))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(recordPath(recordID))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("load record from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read record contents: %w", err)
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(contents), &data); err != nil {
		return nil, fmt.Errorf("decode record snapshot: %w", err)
	}
	return data, nil
}

// ChangedFields lists the payload keys whose values differ.
func ChangedFields(from, to map[string]any) []string {
	keys := make(map[string]struct{}, len(from)+len(to))
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}
	changed := make([]string, 0)
	for k := range keys {
		before, _ := json.Marshal(from[k])
		after, _ := json.Marshal(to[k])
		if string(before) != string(after) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func (s *Service) openOrInit(projectSlug string) (*git.Repository, error) {
	dir := s.repoPath(projectSlug)
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectSlug string) string {
	return filepath.Join(s.baseDir, sanitizeSlug(projectSlug))
}

func (s *Service) projectLock(projectSlug string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectSlug]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectSlug] = lock
	return lock
}

func recordPath(recordID int64) string {
	return path.Join("records", fmt.Sprintf("%d.json", recordID))
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeSlug(slug string) string {
	out := make([]rune, 0, len(slug))
	for _, r := range strings.ToLower(slug) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
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
		return "user"
	}
	return string(out)
}
