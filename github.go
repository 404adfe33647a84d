package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fortio.org/log"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/ldemailly/buildgraph/graph"
	"github.com/ldemailly/buildgraph/loader"
)

const githubPrefix = "github:"

// isNotFoundError checks if an error is a GitHub API 404 (or 403, returned
// for private repositories) error.
func isNotFoundError(err error) bool {
	var ge *github.ErrorResponse
	if errors.As(err, &ge) && ge.Response != nil {
		return ge.Response.StatusCode == http.StatusNotFound || ge.Response.StatusCode == http.StatusForbidden
	}
	return false
}

// newGitHubClient returns an authenticated client when token is set.
func newGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		log.Warnf("No GitHub token set, using unauthenticated access (may hit rate limits)")
		return github.NewClient(http.DefaultClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	log.LogVf("Using authenticated GitHub API access")
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// GitHubSource discovers the go.mod of every non fork, non archived
// repository of a GitHub organization or user, for inputs of the form
// github:<owner>. The modules found are registered but never built.
type GitHubSource struct {
	client *github.Client
	cache  *responseCache
}

func NewGitHubSource(client *github.Client, cache *responseCache) *GitHubSource {
	return &GitHubSource{client: client, cache: cache}
}

func (s *GitHubSource) Match(input string) bool {
	return strings.HasPrefix(input, githubPrefix)
}

func (s *GitHubSource) Fetch(ctx context.Context, input string) ([]*graph.Description, error) {
	owner := strings.TrimSpace(strings.TrimPrefix(input, githubPrefix))
	if owner == "" {
		return nil, fmt.Errorf("missing owner in %q", input)
	}
	repos, err := s.listRepos(ctx, owner)
	if err != nil {
		return nil, err
	}
	var descs []*graph.Description
	for _, repo := range repos {
		if repo.GetFork() || repo.GetArchived() {
			continue
		}
		name := repo.GetName()
		fullName := owner + "/" + name
		fc, err := s.getContents(ctx, owner, name, "go.mod")
		if err != nil {
			if !isNotFoundError(err) {
				log.Warnf("Error getting go.mod for %s: %v", fullName, err)
			}
			continue
		}
		if fc == nil {
			continue
		}
		content, err := fc.GetContent()
		if err != nil {
			log.Warnf("Error decoding go.mod content for %s: %v", fullName, err)
			continue
		}
		d, err := loader.ParseGoMod(fullName+"/go.mod", []byte(content))
		if err != nil {
			log.Warnf("Error parsing go.mod for %s: %v", fullName, err)
			continue
		}
		log.LogVf("Found module %s (from repo %s)", d.Name, fullName)
		descs = append(descs, d)
	}
	log.Infof("Found %d modules for GitHub owner %s", len(descs), owner)
	return descs, nil
}

// listRepos lists the repositories of owner as an organization, falling back
// to a user listing when no such organization exists.
func (s *GitHubSource) listRepos(ctx context.Context, owner string) ([]*github.Repository, error) {
	var all []*github.Repository
	orgOpt := &github.RepositoryListByOrgOptions{Type: "public", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		repos, next, err := s.cachedList(ctx, []string{"ListByOrg", owner, strconv.Itoa(orgOpt.Page)},
			func() ([]*github.Repository, *github.Response, error) {
				return s.client.Repositories.ListByOrg(ctx, owner, orgOpt)
			})
		if err != nil {
			if isNotFoundError(err) && orgOpt.Page == 0 {
				log.LogVf("%s is not an organization, listing as user", owner)
				return s.listUserRepos(ctx, owner)
			}
			return nil, fmt.Errorf("listing repositories for %s: %w", owner, err)
		}
		all = append(all, repos...)
		if next == 0 {
			return all, nil
		}
		orgOpt.Page = next
	}
}

func (s *GitHubSource) listUserRepos(ctx context.Context, user string) ([]*github.Repository, error) {
	var all []*github.Repository
	opt := &github.RepositoryListByUserOptions{Type: "owner", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		repos, next, err := s.cachedList(ctx, []string{"ListByUser", user, opt.Type, strconv.Itoa(opt.Page)},
			func() ([]*github.Repository, *github.Response, error) {
				return s.client.Repositories.ListByUser(ctx, user, opt)
			})
		if err != nil {
			return nil, fmt.Errorf("listing repositories for %s: %w", user, err)
		}
		all = append(all, repos...)
		if next == 0 {
			return all, nil
		}
		opt.Page = next
	}
}

func (s *GitHubSource) cachedList(ctx context.Context, keyParts []string,
	call func() ([]*github.Repository, *github.Response, error),
) ([]*github.Repository, int, error) {
	key := s.cache.key(keyParts...)
	var cached CachedListResponse
	hit, err := s.cache.read(key, &cached)
	if err != nil {
		log.Errf("Error reading cache for %v: %v", keyParts, err)
	}
	if hit {
		log.LogVf("Cache hit for %v", keyParts)
		return cached.Repos, cached.NextPage, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	log.Infof("Cache miss for %v, calling API", keyParts)
	repos, resp, err := call()
	if err != nil {
		var rlErr *github.RateLimitError
		if errors.As(err, &rlErr) {
			log.Errf("Rate limit hit, resets at %v", rlErr.Rate.Reset.Time)
		}
		return nil, 0, err
	}
	if err := s.cache.write(key, CachedListResponse{Repos: repos, NextPage: resp.NextPage}); err != nil {
		log.Errf("Error writing cache for %v: %v", keyParts, err)
	}
	return repos, resp.NextPage, nil
}

// getContents returns the file at path, nil when it is known not to exist
// from a cached lookup.
func (s *GitHubSource) getContents(ctx context.Context, owner, repo, path string) (*github.RepositoryContent, error) {
	keyParts := []string{"GetContents", owner, repo, path, ""}
	key := s.cache.key(keyParts...)
	var cached CachedContentResponse
	hit, err := s.cache.read(key, &cached)
	if err != nil {
		log.Errf("Error reading cache for %v: %v", keyParts, err)
	}
	if hit {
		log.LogVf("Cache hit for GetContents repo=%s/%s path=%s found=%v", owner, repo, path, cached.Found)
		return cached.FileContent, nil
	}
	fileContent, _, _, err := s.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		if isNotFoundError(err) {
			if werr := s.cache.write(key, CachedContentResponse{Found: false}); werr != nil {
				log.Errf("Error writing 'Not Found' cache for %v: %v", keyParts, werr)
			}
		}
		return nil, err
	}
	// Directories are recorded as not found, only files matter.
	entry := CachedContentResponse{Found: fileContent != nil, FileContent: fileContent}
	if err := s.cache.write(key, entry); err != nil {
		log.Errf("Error writing cache for %v: %v", keyParts, err)
	}
	return fileContent, nil
}
