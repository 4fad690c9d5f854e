// Package releases resolves recent stable engine versions from a remote
// release listing.
package releases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrNoReleases signals that the release listing could not be fetched or
// parsed. Callers treat it as "cannot proceed" rather than retrying.
var ErrNoReleases = errors.New("no releases available")

// stableTagPattern matches <major>.<minor>[.<patch>]-stable, the naming
// convention for stable releases. Pre-releases and release candidates
// deliberately fall outside it.
var stableTagPattern = regexp.MustCompile(`^(\d+)\.(\d+)(\.(\d+))?-stable$`)

// Candidate is one stable release tag with its parsed version. Ephemeral;
// never persisted.
type Candidate struct {
	Tag     string
	Version *semver.Version
}

// Client queries a GitHub-style releases listing endpoint.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a release client for the given listing endpoint.
func NewClient(apiURL string) *Client {
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type releaseEntry struct {
	TagName string `json:"tag_name"`
}

// FetchRecentStable returns up to limit stable release candidates, newest
// first. Transport and parse failures surface as ErrNoReleases with an
// empty slice; they are never raised uncaught.
func (c *Client) FetchRecentStable(ctx context.Context, limit int) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building release request: %v", ErrNoReleases, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "enginesmith/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching release listing: %v", ErrNoReleases, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: release listing returned %s", ErrNoReleases, resp.Status)
	}

	var entries []releaseEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decoding release listing: %v", ErrNoReleases, err)
	}

	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, e.TagName)
	}
	return SelectStable(tags, limit), nil
}

// SelectStable filters tags to the stable naming convention and orders them
// by parsed version, descending. Ties on parsed version fall back to the
// raw tag string, descending, so the ordering is deterministic. The result
// is truncated to limit entries.
func SelectStable(tags []string, limit int) []Candidate {
	candidates := make([]Candidate, 0, len(tags))
	for _, tag := range tags {
		v, ok := ParseStableTag(tag)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{Tag: tag, Version: v})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if cmp := candidates[i].Version.Compare(candidates[j].Version); cmp != 0 {
			return cmp > 0
		}
		return candidates[i].Tag > candidates[j].Tag
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// ParseStableTag parses a stable release tag into a version. The patch
// component defaults to 0 when absent. Returns false for anything not
// matching the stable convention.
func ParseStableTag(tag string) (*semver.Version, bool) {
	if tag == "" || !stableTagPattern.MatchString(tag) {
		return nil, false
	}
	v, err := semver.NewVersion(NumericVersion(tag))
	if err != nil {
		return nil, false
	}
	return v, true
}

// NumericVersion extracts the numeric version component from a stable tag:
// "4.2.1-stable" yields "4.2.1". The input is returned unchanged if it does
// not carry the stable suffix.
func NumericVersion(tag string) string {
	return strings.TrimSuffix(tag, "-stable")
}
