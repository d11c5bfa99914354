// Package gitrepo keeps a git repository per doc holding every published
// state of the doc on the main branch.
package gitrepo

import (
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

	"helppages/api/internal/store"
)

const (
	mainBranch = "main"
	navFile    = "nav.json"
	pagesDir   = "pages"
)

var (
	// ErrNoRepo is returned when a doc has never been published.
	ErrNoRepo        = errors.New("gitrepo: repository not found")
	ErrUnknownCommit = errors.New("gitrepo: unknown commit")
)

// Snapshot is the published tree of a doc: the nav as JSON and one markdown
// file per published page keyed by page slug.
type Snapshot struct {
	Nav   []byte
	Pages map[string][]byte
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

// CommitSnapshot writes snap to the doc repository and commits it to main,
// creating the repository on first use. Pages missing from snap are removed.
// Unchanged trees still produce a commit.
func (s *Service) CommitSnapshot(docID string, snap Snapshot, author, message string) (store.CommitInfo, error) {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(docID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	if err := os.MkdirAll(filepath.Join(root, pagesDir), 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create pages dir: %w", err)
	}

	nav := snap.Nav
	if len(nav) == 0 {
		nav = []byte("{}")
	}
	if err := writeFile(root, navFile, nav); err != nil {
		return store.CommitInfo{}, err
	}
	if _, err := worktree.Add(navFile); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add %s: %w", navFile, err)
	}

	slugs := make([]string, 0, len(snap.Pages))
	for slug := range snap.Pages {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	keep := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		name := path.Join(pagesDir, slug+".md")
		keep[name] = true
		if err := writeFile(root, name, snap.Pages[slug]); err != nil {
			return store.CommitInfo{}, err
		}
		if _, err := worktree.Add(name); err != nil {
			return store.CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(root, pagesDir))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("list pages dir: %w", err)
	}
	for _, entry := range entries {
		name := path.Join(pagesDir, entry.Name())
		if entry.IsDir() || keep[name] {
			continue
		}
		if _, err := worktree.Remove(name); err != nil {
			if rmErr := os.Remove(filepath.Join(root, filepath.FromSlash(name))); rmErr != nil {
				return store.CommitInfo{}, fmt.Errorf("remove %s: %w", name, err)
			}
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.helppages.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits on main, newest first. A doc without a repository
// has an empty history.
func (s *Service) History(docID string, limit int) ([]store.CommitInfo, error) {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(docID)
	if errors.Is(err, ErrNoRepo) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
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

// SnapshotAt reads the tree committed at hash, which may be abbreviated.
func (s *Service) SnapshotAt(docID, hash string) (Snapshot, store.CommitInfo, error) {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(docID)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Snapshot{}, store.CommitInfo{}, ErrUnknownCommit
	}
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	files, err := commitObj.Files()
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("list commit files: %w", err)
	}
	defer files.Close()

	snap := Snapshot{Pages: map[string][]byte{}}
	err = files.ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		switch {
		case f.Name == navFile:
			snap.Nav = []byte(content)
		case strings.HasPrefix(f.Name, pagesDir+"/") && strings.HasSuffix(f.Name, ".md"):
			slug := strings.TrimSuffix(strings.TrimPrefix(f.Name, pagesDir+"/"), ".md")
			snap.Pages[slug] = []byte(content)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// Remove deletes the repository of a doc.
func (s *Service) Remove(docID string) error {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(docID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(docID string) string {
	return filepath.Join(s.baseDir, docID)
}

func (s *Service) docLock(docID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[docID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[docID] = lock
	return lock
}

func (s *Service) open(docID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(docID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

// openOrInit opens the doc repository, creating it with HEAD on an unborn
// main branch when missing.
func (s *Service) openOrInit(docID string) (*git.Repository, error) {
	repo, err := s.open(docID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoRepo) {
		return nil, err
	}

	repoDir := s.repoPath(docID)
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoDir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func writeFile(root, name string, data []byte) error {
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(append([]byte(nil), data...), '\n')
	}
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
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
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrUnknownCommit, hash)
	}
	return *resolved, nil
}
