// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/olegiv/postsync/internal/cache"
	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
)

// GitHub client defaults.
const (
	DefaultAPIURL    = "https://api.github.com"
	DefaultBranch    = "main"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	UserAgent        = "postsync/1.0"
	maxErrorBody     = 4 * 1024
	fileMode         = "100644"
)

// GitHubConfig configures a GitHubTree.
type GitHubConfig struct {
	Token     string
	Owner     string
	Repo      string
	Branch    string
	APIURL    string
	PostsRoot string
	// Timeout bounds every single API call.
	Timeout time.Duration
	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64
	// AuthorName and AuthorEmail are recorded on commits when set.
	AuthorName  string
	AuthorEmail string
}

func (c *GitHubConfig) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.PostsRoot == "" {
		c.PostsRoot = DefaultPostsRoot
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
}

type stagedFile struct {
	sha     string // empty for deletions
	content string
}

// GitHubTree mirrors posts into a GitHub repository through the git data
// API. WriteFile uploads blobs and stages them; CommitAndPush builds one
// tree and commit over the branch head and fast-forwards the branch.
type GitHubTree struct {
	cfg     GitHubConfig
	client  *http.Client
	limiter *rate.Limiter
	blobs   cache.Cacher
	trees   *cache.TypedCache[[]treeEntry]
	logger  *slog.Logger

	// writeMu serializes staging and publishing.
	writeMu sync.Mutex
	pending map[string]stagedFile

	indexMu sync.RWMutex
	index   map[string]string // path -> blob sha
}

// NewGitHubTree creates a tree for cfg. blobs caches file contents by
// blob SHA and tree listings by tree SHA; it may be nil.
func NewGitHubTree(cfg GitHubConfig, blobs cache.Cacher, logger *slog.Logger) (*GitHubTree, error) {
	cfg.applyDefaults()
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if blobs == nil {
		blobs = cache.NewMemoryCache(cache.MemoryCacheOptions{DefaultTTL: 24 * time.Hour, MaxSize: 10000})
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GitHubTree{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit))),
		blobs:   blobs,
		trees:   cache.NewTypedCache[[]treeEntry](blobs, "tree:", 0),
		logger:  logger.With("component", "github", "repo", cfg.Owner+"/"+cfg.Repo),
		pending: make(map[string]stagedFile),
		index:   make(map[string]string),
	}, nil
}

// ListFiles returns every Markdown file below the posts root on the branch
// head. Staged writes are included and staged deletions excluded.
func (t *GitHubTree) ListFiles(ctx context.Context) ([]string, error) {
	index, err := t.refresh(ctx)
	if err != nil {
		return nil, err
	}

	t.writeMu.Lock()
	for p, f := range t.pending {
		if f.sha == "" {
			delete(index, p)
		} else {
			index[p] = f.sha
		}
	}
	t.writeMu.Unlock()

	files := make([]string, 0, len(index))
	for p := range index {
		if IsPostFile(t.cfg.PostsRoot, p) {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// FetchContent returns the text of p. Unknown paths trigger one index
// refresh before ErrNotFound is returned.
func (t *GitHubTree) FetchContent(ctx context.Context, p string) (string, error) {
	t.writeMu.Lock()
	staged, ok := t.pending[p]
	t.writeMu.Unlock()
	if ok {
		if staged.sha == "" {
			return "", errkind.NewItem(errkind.Permanent, "fetch file", p, ErrNotFound)
		}
		return staged.content, nil
	}

	sha, ok := t.lookup(p)
	if !ok {
		index, err := t.refresh(ctx)
		if err != nil {
			return "", err
		}
		if sha, ok = index[p]; !ok {
			return "", errkind.NewItem(errkind.Permanent, "fetch file", p, ErrNotFound)
		}
	}
	return t.blob(ctx, p, sha)
}

// WriteFile renders the post, uploads it as a blob and stages it.
func (t *GitHubTree) WriteFile(ctx context.Context, p string, meta frontmatter.Metadata, body string) error {
	content, err := frontmatter.Render(meta, body)
	if err != nil {
		return errkind.NewItem(errkind.Permanent, "render post", p, err)
	}

	if sha, ok := t.lookup(p); ok && sha == gitBlobSHA(content) {
		return nil
	}

	var created struct {
		SHA string `json:"sha"`
	}
	req := map[string]string{"content": content, "encoding": "utf-8"}
	if err := t.do(ctx, http.MethodPost, t.repoPath("git/blobs"), req, &created); err != nil {
		return errkind.NewItem(errkind.Of(err), "create blob", p, err)
	}
	_ = t.blobs.Set(ctx, blobKey(created.SHA), []byte(content), 0)

	t.writeMu.Lock()
	t.pending[p] = stagedFile{sha: created.SHA, content: content}
	t.writeMu.Unlock()
	return nil
}

// DeleteFile stages the removal of p if it exists on the branch.
func (t *GitHubTree) DeleteFile(_ context.Context, p string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, ok := t.lookup(p); !ok {
		delete(t.pending, p)
		return nil
	}
	t.pending[p] = stagedFile{}
	return nil
}

// Pending returns the number of staged changes.
func (t *GitHubTree) Pending() int {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return len(t.pending)
}

// CommitAndPush publishes staged changes as one commit on the branch.
// Staged changes are kept when publishing fails so a retry can resend them.
// A rejected fast-forward (the branch moved) is transient.
func (t *GitHubTree) CommitAndPush(ctx context.Context, message string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if len(t.pending) == 0 {
		return nil
	}

	headSHA, treeSHA, err := t.head(ctx)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(t.pending))
	for p := range t.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		f := t.pending[p]
		entry := map[string]any{"path": p, "mode": fileMode, "type": "blob"}
		if f.sha == "" {
			entry["sha"] = nil
		} else {
			entry["sha"] = f.sha
		}
		entries = append(entries, entry)
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	if err := t.do(ctx, http.MethodPost, t.repoPath("git/trees"), map[string]any{
		"base_tree": treeSHA,
		"tree":      entries,
	}, &tree); err != nil {
		return errkind.New(errkind.Of(err), "create tree", err)
	}

	commitReq := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{headSHA},
	}
	if t.cfg.AuthorName != "" && t.cfg.AuthorEmail != "" {
		commitReq["author"] = map[string]string{"name": t.cfg.AuthorName, "email": t.cfg.AuthorEmail}
	}
	var commit struct {
		SHA string `json:"sha"`
	}
	if err := t.do(ctx, http.MethodPost, t.repoPath("git/commits"), commitReq, &commit); err != nil {
		return errkind.New(errkind.Of(err), "create commit", err)
	}

	err = t.do(ctx, http.MethodPatch, t.repoPath("git/refs/heads/"+t.cfg.Branch), map[string]any{
		"sha":   commit.SHA,
		"force": false,
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		return errkind.New(errkind.Transient, "update branch", err)
	}
	if err != nil {
		return errkind.New(errkind.Of(err), "update branch", err)
	}

	t.indexMu.Lock()
	for _, p := range paths {
		if f := t.pending[p]; f.sha == "" {
			delete(t.index, p)
		} else {
			t.index[p] = f.sha
		}
	}
	t.indexMu.Unlock()
	t.pending = make(map[string]stagedFile)

	t.logger.Info("pushed commit", "sha", commit.SHA, "files", len(paths))
	return nil
}

func (t *GitHubTree) lookup(p string) (string, bool) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	sha, ok := t.index[p]
	return sha, ok
}

// head returns the branch head commit and its root tree.
func (t *GitHubTree) head(ctx context.Context) (commitSHA, treeSHA string, err error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := t.do(ctx, http.MethodGet, t.repoPath("git/ref/heads/"+t.cfg.Branch), nil, &ref); err != nil {
		return "", "", errkind.New(errkind.Of(err), "get branch", err)
	}
	var commit struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := t.do(ctx, http.MethodGet, t.repoPath("git/commits/"+ref.Object.SHA), nil, &commit); err != nil {
		return "", "", errkind.New(errkind.Of(err), "get commit", err)
	}
	return ref.Object.SHA, commit.Tree.SHA, nil
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// refresh rebuilds the path index from the branch head. Subtrees are
// walked with an explicit worklist; only directories on the way to or
// below the posts root are fetched.
func (t *GitHubTree) refresh(ctx context.Context) (map[string]string, error) {
	_, rootSHA, err := t.head(ctx)
	if err != nil {
		return nil, err
	}

	type dir struct {
		prefix string
		sha    string
	}
	index := make(map[string]string)
	work := []dir{{prefix: "", sha: rootSHA}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := work[len(work)-1]
		work = work[:len(work)-1]

		entries, err := t.listTree(ctx, d.sha)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			full := path.Join(d.prefix, e.Path)
			switch e.Type {
			case "tree":
				if t.onRootPath(full) {
					work = append(work, dir{prefix: full, sha: e.SHA})
				}
			case "blob":
				index[full] = e.SHA
			}
		}
	}

	t.indexMu.Lock()
	t.index = index
	out := make(map[string]string, len(index))
	for k, v := range index {
		out[k] = v
	}
	t.indexMu.Unlock()
	return out, nil
}

// onRootPath reports whether dir is the posts root, one of its ancestors
// or one of its descendants.
func (t *GitHubTree) onRootPath(dir string) bool {
	root := strings.Trim(t.cfg.PostsRoot, "/")
	if root == "" || root == "." {
		return true
	}
	return dir == root || strings.HasPrefix(root, dir+"/") || strings.HasPrefix(dir, root+"/")
}

// listTree fetches one tree level. Trees are immutable by SHA and cached.
func (t *GitHubTree) listTree(ctx context.Context, sha string) ([]treeEntry, error) {
	return t.trees.GetOrSet(ctx, sha, func(ctx context.Context) ([]treeEntry, error) {
		var resp struct {
			Tree []treeEntry `json:"tree"`
		}
		if err := t.do(ctx, http.MethodGet, t.repoPath("git/trees/"+sha), nil, &resp); err != nil {
			return nil, errkind.New(errkind.Of(err), "list tree", err)
		}
		return resp.Tree, nil
	})
}

// blob returns blob contents, consulting the cache first.
func (t *GitHubTree) blob(ctx context.Context, p, sha string) (string, error) {
	if data, err := t.blobs.Get(ctx, blobKey(sha)); err == nil {
		return string(data), nil
	}

	var resp struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := t.do(ctx, http.MethodGet, t.repoPath("git/blobs/"+sha), nil, &resp); err != nil {
		return "", errkind.NewItem(errkind.Of(err), "fetch blob", p, err)
	}

	content := resp.Content
	if resp.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
		if err != nil {
			return "", errkind.NewItem(errkind.Permanent, "decode blob", p, err)
		}
		content = string(decoded)
	}
	_ = t.blobs.Set(ctx, blobKey(sha), []byte(content), 0)
	return content, nil
}

func (t *GitHubTree) repoPath(suffix string) string {
	return "/repos/" + url.PathEscape(t.cfg.Owner) + "/" + url.PathEscape(t.cfg.Repo) + "/" + suffix
}

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// do performs one rate-limited API call bounded by the configured timeout.
// Errors are tagged by status: 404 wraps ErrNotFound, rate limiting and 5xx
// are transient, other 4xx permanent.
func (t *GitHubTree) do(ctx context.Context, method, apiPath string, body, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return errkind.New(errkind.Classify(err), "rate limit", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errkind.New(errkind.Permanent, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.cfg.APIURL+apiPath, reader)
	if err != nil {
		return errkind.New(errkind.Permanent, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errkind.New(errkind.Classify(err), method+" "+apiPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Method: method, Path: apiPath, StatusCode: resp.StatusCode, Message: apiMessage(msg)}
		kind := errkind.FromStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			kind = errkind.Transient
		}
		if resp.StatusCode == http.StatusNotFound {
			return errkind.New(kind, method+" "+apiPath, fmt.Errorf("%w: %w", ErrNotFound, apiErr))
		}
		return errkind.New(kind, method+" "+apiPath, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.New(errkind.Transient, "decode response", err)
	}
	return nil
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func blobKey(sha string) string {
	return "blob:" + sha
}

var _ Tree = (*GitHubTree)(nil)
