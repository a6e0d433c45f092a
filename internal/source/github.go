package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubSource lists and fetches files through the GitHub contents API.
type GitHubSource struct {
	locator string
	owner   string
	repo    string
	ref     string
	subdir  string

	baseURL    string
	token      string
	httpClient *http.Client
	opts       Options
}

// NewGitHubSource parses a repository locator. Accepted forms:
// github.com/owner/repo, https://github.com/owner/repo(.git) and
// .../tree/<ref>[/<subdir>].
func NewGitHubSource(locator string, opts Options) (*GitHubSource, error) {
	opts = opts.withDefaults()
	owner, repo, ref, subdir, err := parseRepoLocator(locator)
	if err != nil {
		return nil, &InvalidSourceError{Locator: locator, Reason: err.Error()}
	}
	if opts.Token == "" {
		return nil, &InvalidSourceError{Locator: locator, Reason: "GITHUB_TOKEN is required for GitHub sources"}
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultGitHubAPI
	}
	return &GitHubSource{
		locator: locator,
		owner:   owner,
		repo:    repo,
		ref:     ref,
		subdir:  subdir,
		baseURL: strings.TrimRight(base, "/"),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		opts: opts,
	}, nil
}

func (s *GitHubSource) Locator() string { return s.locator }

func parseRepoLocator(locator string) (owner, repo, ref, subdir string, err error) {
	_, rest, ok := strings.Cut(locator, "github.com/")
	if !ok {
		return "", "", "", "", fmt.Errorf("not a github.com locator")
	}
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", "", fmt.Errorf("expected github.com/<owner>/<repo>")
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if len(parts) > 2 {
		if parts[2] != "tree" || len(parts) < 4 {
			return "", "", "", "", fmt.Errorf("unsupported repository path %q", strings.Join(parts[2:], "/"))
		}
		ref = parts[3]
		subdir = strings.Join(parts[4:], "/")
	}
	return owner, repo, ref, subdir, nil
}

type contentEntry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// errNotFound marks a 404 from the contents API.
var errNotFound = errors.New("not found")

// Documents walks the repository breadth-first. Paths are relative to the
// requested subdirectory.
func (s *GitHubSource) Documents(ctx context.Context) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		queue := []string{s.subdir}
		first := true
		for len(queue) > 0 {
			dir := queue[0]
			queue = queue[1:]

			if err := ctx.Err(); err != nil {
				yield(Document{}, err)
				return
			}
			entries, err := s.list(ctx, dir)
			if err != nil {
				if first && errors.Is(err, errNotFound) {
					err = &InvalidSourceError{Locator: s.locator, Reason: "repository or path not found"}
				}
				yield(Document{}, err)
				return
			}
			first = false

			slices.SortFunc(entries, func(a, b contentEntry) int { return strings.Compare(a.Path, b.Path) })
			for _, e := range entries {
				switch e.Type {
				case "dir":
					if !s.opts.ignored(e.Name) {
						queue = append(queue, e.Path)
					}
				case "file":
					if !s.opts.accepts(e.Name) {
						continue
					}
					if !yield(s.fetch(ctx, e.Path), nil) {
						return
					}
				}
			}
		}
	}
}

func (s *GitHubSource) relPath(p string) string {
	if s.subdir == "" {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, s.subdir), "/")
}

func (s *GitHubSource) fetch(ctx context.Context, p string) Document {
	rel := s.relPath(p)
	var entry contentEntry
	if err := s.get(ctx, p, &entry); err != nil {
		return unreadable(s.opts.Log, rel, err)
	}
	if entry.Encoding != "base64" {
		return unreadable(s.opts.Log, rel, fmt.Errorf("unsupported content encoding %q (size %d)", entry.Encoding, entry.Size))
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
	if err != nil {
		return unreadable(s.opts.Log, rel, fmt.Errorf("decode base64: %w", err))
	}
	text, err := decode(rel, data, s.opts)
	if err != nil {
		return unreadable(s.opts.Log, rel, err)
	}
	return Document{Path: rel, Content: text}
}

func (s *GitHubSource) list(ctx context.Context, dir string) ([]contentEntry, error) {
	var entries []contentEntry
	if err := s.get(ctx, dir, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// get fetches /repos/{owner}/{repo}/contents/{p} into out.
func (s *GitHubSource) get(ctx context.Context, p string, out any) error {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.baseURL, url.PathEscape(s.owner), url.PathEscape(s.repo), escapePath(p))
	if s.ref != "" {
		u += "?ref=" + url.QueryEscape(s.ref)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("get contents %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("get contents %s: status %d: %s", p, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode contents %s: %w", p, err)
	}
	return nil
}

func escapePath(p string) string {
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return path.Join(segs...)
}
