// Package filestore mirrors article bodies into a git repository on local
// disk, one file per article, and optionally pushes every commit upstream.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"lectern/api/internal/store"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrExists      = errors.New("file already exists")
	ErrSHAMismatch = errors.New("file sha mismatch")
	ErrInvalidPath = errors.New("invalid file path")
)

const remoteName = "origin"

// File is one mirrored file at the head of the branch.
type File struct {
	Path   string
	SHA    string
	Body   string
	Commit store.CommitInfo
}

type Options struct {
	Dir    string
	Branch string
	// Remote, when set, receives a push after every commit.
	Remote string
	Logger *zap.Logger
}

// Service serialises every operation on the repository with one lock; the
// worktree is shared state.
type Service struct {
	repo   *git.Repository
	root   string
	branch string
	push   bool
	log    *zap.Logger
	mu     sync.Mutex
}

// Open opens the repository in opts.Dir, initialising it when absent.
func Open(opts Options) (*Service, error) {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}

	repo, err := git.PlainOpen(opts.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = initRepo(opts.Dir, opts.Branch)
	}
	if err != nil {
		return nil, fmt.Errorf("open content repo: %w", err)
	}

	if opts.Remote != "" {
		if err := ensureRemote(repo, opts.Remote); err != nil {
			return nil, err
		}
	}

	return &Service{
		repo:   repo,
		root:   opts.Dir,
		branch: opts.Branch,
		push:   opts.Remote != "",
		log:    opts.Logger.Named("filestore"),
	}, nil
}

func initRepo(dir, branch string) (*git.Repository, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	// The first commit creates the branch HEAD points at.
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func ensureRemote(repo *git.Repository, url string) error {
	remote, err := repo.Remote(remoteName)
	if err == nil {
		urls := remote.Config().URLs
		if len(urls) > 0 && urls[0] == url {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return fmt.Errorf("replace remote: %w", err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("read remote: %w", err)
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: remoteName, URLs: []string{url}}); err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	return nil
}

// ArticlePath is the repository path of an article:
// <subject-slug>/<topic-slug>/<article-slug>.md.
func ArticlePath(loc store.ArticleLocation) string {
	return path.Join(loc.SubjectSlug, loc.TopicSlug, loc.ArticleSlug+".md")
}

// BlobSHA is the git blob hash of body, the value FetchSHA reports for a
// file with that content.
func BlobSHA(body string) string {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(body)).String()
}

func (s *Service) Create(ctx context.Context, filePath, body, message, author string) (File, error) {
	return s.write(ctx, filePath, body, message, author, func(current string, exists bool) error {
		if exists {
			return fmt.Errorf("%w: %s", ErrExists, filePath)
		}
		return nil
	})
}

// Update replaces the file only when its current blob hash equals expectedSHA.
func (s *Service) Update(ctx context.Context, filePath, body, message, author, expectedSHA string) (File, error) {
	return s.write(ctx, filePath, body, message, author, func(current string, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		if current != expectedSHA {
			return fmt.Errorf("%w: %s is at %s", ErrSHAMismatch, filePath, current)
		}
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, filePath, message, author, expectedSHA string) (store.CommitInfo, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return store.CommitInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.headFile(clean)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if current.Hash.String() != expectedSHA {
		return store.CommitInfo{}, fmt.Errorf("%w: %s is at %s", ErrSHAMismatch, clean, current.Hash)
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(clean); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git rm %s: %w", clean, err)
	}
	commit, err := s.commit(ctx, worktree, message, author)
	if err != nil {
		return store.CommitInfo{}, err
	}
	return commit, nil
}

// FetchSHA returns the blob hash of the file at the head of the branch.
func (s *Service) FetchSHA(filePath string) (string, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.headFile(clean)
	if err != nil {
		return "", err
	}
	return file.Hash.String(), nil
}

func (s *Service) Read(filePath string) (File, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return File{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.headFile(clean)
	if err != nil {
		return File{}, err
	}
	body, err := file.Contents()
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", clean, err)
	}
	head, err := s.headCommit()
	if err != nil {
		return File{}, err
	}
	return File{Path: clean, SHA: file.Hash.String(), Body: body, Commit: toCommitInfo(head)}, nil
}

// History lists the commits touching filePath, newest first. limit <= 0
// returns all of them.
func (s *Service) History(filePath string, limit int) ([]store.CommitInfo, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.headCommit()
	if err != nil {
		return nil, err
	}
	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash, FileName: &clean})
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
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return items, nil
}

func (s *Service) write(ctx context.Context, filePath, body, message, author string, check func(current string, exists bool) error) (File, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return File{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	file, err := s.headFile(clean)
	switch {
	case err == nil:
		current = file.Hash.String()
	case !errors.Is(err, ErrNotFound):
		return File{}, err
	}
	if err := check(current, current != ""); err != nil {
		return File{}, err
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return File{}, fmt.Errorf("open worktree: %w", err)
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return File{}, fmt.Errorf("create dir for %s: %w", clean, err)
	}
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		return File{}, fmt.Errorf("write %s: %w", clean, err)
	}
	blob, err := worktree.Add(clean)
	if err != nil {
		return File{}, fmt.Errorf("git add %s: %w", clean, err)
	}

	commit, err := s.commit(ctx, worktree, message, author)
	if err != nil {
		return File{}, err
	}
	return File{Path: clean, SHA: blob.String(), Body: body, Commit: commit}, nil
}

func (s *Service) commit(ctx context.Context, worktree *git.Worktree, message, author string) (store.CommitInfo, error) {
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@lectern.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit: %w", err)
	}
	commitObj, err := s.repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	if s.push {
		// The local commit is the source of truth; a failed push is retried
		// implicitly by the next one.
		err := s.repo.PushContext(ctx, &git.PushOptions{RemoteName: remoteName})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.log.Warn("push failed", zap.String("commit", hash.String()), zap.Error(err))
		}
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) headCommit() (*object.Commit, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.branch, err)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func (s *Service) headFile(clean string) (*object.File, error) {
	head, err := s.headCommit()
	if err != nil {
		return nil, err
	}
	file, err := head.File(clean)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s from head: %w", clean, err)
	}
	return file, nil
}

// cleanPath normalises p to a slash-separated path inside the repository.
func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if clean == "." || clean == "" || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, ".git/") || clean == ".git" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String(),
		Message:   commitObj.Message,
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
