// Package github implements the Notifier port by publishing the combined
// check state of a revision as a GitHub commit status.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Client)(nil)

// StatusContext is the commit status context checkgate reports under.
const StatusContext = "checks/combined"

// maxDescription is GitHub's limit, in characters, for a commit status
// description.
const maxDescription = 140

// Client implements the driven.Notifier port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// NotifyCombinedStateChanged posts the new combined state as a commit status
// on the patch set's revision. The change's repository must be "owner/repo".
func (c *Client) NotifyCombinedStateChanged(ctx context.Context, ev driven.CombinedStateChange) error {
	owner, repo, err := splitRepo(ev.Change.Repository)
	if err != nil {
		return err
	}

	status := &gh.RepoStatus{
		State:       gh.Ptr(statusState(ev.New)),
		Context:     gh.Ptr(StatusContext),
		Description: gh.Ptr(describe(ev)),
	}
	if target := targetURL(ev); target != "" {
		status.TargetURL = gh.Ptr(target)
	}

	_, resp, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, ev.PatchSet.Revision, *status)
	if err != nil {
		return fmt.Errorf("creating status for %s@%s: %w", ev.Change.Repository, ev.PatchSet.Revision, err)
	}

	logRateLimit(resp, ev.Change.Repository+"/statuses")
	return nil
}

// ValidateToken verifies the client's token and returns the authenticated
// username.
func (c *Client) ValidateToken(ctx context.Context) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	return user.GetLogin(), nil
}

// statusState maps a combined check state to a GitHub status state.
func statusState(s model.CombinedCheckState) string {
	switch s {
	case model.CombinedCheckStateSuccessful, model.CombinedCheckStateNotRelevant:
		return "success"
	case model.CombinedCheckStateFailed:
		return "failure"
	default:
		return "pending"
	}
}

func describe(ev driven.CombinedStateChange) string {
	d := fmt.Sprintf("Checks %s (was %s)", strings.ToLower(string(ev.New)), strings.ToLower(string(ev.Old)))
	if name := ev.Checker.Name; name != "" {
		d += fmt.Sprintf(" after %s reported %s", name, strings.ToLower(string(ev.Check.State)))
	}
	d = strings.ReplaceAll(d, "_", " ")
	if r := []rune(d); len(r) > maxDescription {
		d = string(r[:maxDescription-3]) + "..."
	}
	return d
}

// targetURL prefers the triggering check's URL over its checker's.
func targetURL(ev driven.CombinedStateChange) string {
	if ev.Check.URL != "" {
		return ev.Check.URL
	}
	return ev.Checker.URL
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
