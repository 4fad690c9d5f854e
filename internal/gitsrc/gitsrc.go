// Package gitsrc acquires engine sources at a release tag.
package gitsrc

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/enginesmith/internal/logfields"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client handles source checkout operations.
type Client struct {
	repoURL string
	depth   int
}

// NewClient creates a client for the given upstream repository. A depth of
// 1 keeps clones shallow; 0 disables the depth limit.
func NewClient(repoURL string, depth int) *Client {
	return &Client{repoURL: repoURL, depth: depth}
}

// CloneTag clones the repository at the given release tag into destDir.
// Any existing directory at destDir is replaced.
func (c *Client) CloneTag(ctx context.Context, tag, destDir string) error {
	slog.Debug("Cloning engine sources", logfields.URL(c.repoURL), logfields.Version(tag), logfields.Path(destDir))
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to remove existing directory: %w", err)
	}

	cloneOptions := &git.CloneOptions{
		URL:           c.repoURL,
		Progress:      os.Stdout,
		ReferenceName: plumbing.NewTagReferenceName(tag),
		SingleBranch:  true,
	}
	if c.depth > 0 {
		cloneOptions.Depth = c.depth
	}

	repository, err := git.PlainCloneContext(ctx, destDir, false, cloneOptions)
	if err != nil {
		return fmt.Errorf("failed to clone %s at %s: %w", c.repoURL, tag, err)
	}

	if ref, herr := repository.Head(); herr == nil {
		slog.Info("Engine sources cloned", logfields.Version(tag), slog.String("commit", ref.Hash().String()[:8]), logfields.Path(destDir))
	} else {
		slog.Info("Engine sources cloned", logfields.Version(tag), logfields.Path(destDir))
	}
	return nil
}
