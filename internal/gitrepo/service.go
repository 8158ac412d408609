// Package gitrepo keeps a git history of every document the service merges
// into, one repository per document with a commit per successful merge.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"docmerge/internal/docmodel"
)

const (
	textFile     = "document.txt"
	snapshotFile = "snapshot.json"
	mainBranch   = "main"
)

var ErrNoHistory = errors.New("document has no history")

type Paragraph struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// Snapshot is the committed state of a document after a merge.
type Snapshot struct {
	Ref         string                `json:"ref"`
	Title       string                `json:"title"`
	Paragraphs  []Paragraph           `json:"paragraphs"`
	Annotations []docmodel.Annotation `json:"annotations"`
}

// NewSnapshot captures doc and its annotations.
func NewSnapshot(doc docmodel.Document, annotations []docmodel.Annotation) Snapshot {
	snapshot := Snapshot{Ref: doc.Ref, Title: doc.Title, Annotations: annotations}
	for _, block := range doc.Paragraphs() {
		snapshot.Paragraphs = append(snapshot.Paragraphs, Paragraph{Text: block.Text, Style: block.Style})
	}
	if snapshot.Annotations == nil {
		snapshot.Annotations = []docmodel.Annotation{}
	}
	return snapshot
}

func (s Snapshot) Text() string {
	var builder strings.Builder
	for _, p := range s.Paragraphs {
		builder.WriteString(p.Text)
	}
	return builder.String()
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
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

// RecordSnapshot commits snapshot to the document's repository, creating the
// repository on first use. An unchanged snapshot returns the current head.
func (s *Service) RecordSnapshot(ref string, snapshot Snapshot, author, message string) (CommitInfo, error) {
	lock := s.documentLock(ref)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(ref)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, textFile), []byte(snapshot.Text()), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", textFile, err)
	}
	for _, name := range []string{snapshotFile, textFile} {
		if _, err := worktree.Add(name); err != nil {
			return CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@docmerge.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return CommitInfo{}, fmt.Errorf("read head: %w", headErr)
		}
		hash, err = head.Hash(), nil
	}
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits newest first with per-commit line counts.
func (s *Service) History(ref string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(ref)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(ref))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info := toCommitInfo(commitObj)
		if stats, statsErr := commitObj.Stats(); statsErr == nil {
			for _, stat := range stats {
				if stat.Name != textFile {
					continue
				}
				info.Added += stat.Addition
				info.Removed += stat.Deletion
			}
		}
		items = append(items, info)
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

// SnapshotAt reads the snapshot committed at hash, which may be abbreviated.
func (s *Service) SnapshotAt(ref, hash string) (Snapshot, error) {
	lock := s.documentLock(ref)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(ref))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, ErrNoHistory
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshot(commitObj)
}

func (s *Service) openOrInit(ref string) (*git.Repository, error) {
	path := s.repoPath(ref)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(ref string) string {
	return filepath.Join(s.baseDir, sanitizeRef(ref))
}

func (s *Service) documentLock(ref string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[ref]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[ref] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(contents), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
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

// sanitizeRef keeps document refs usable as a single directory name.
func sanitizeRef(ref string) string {
	out := make([]rune, 0, len(ref))
	for _, r := range ref {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
