package github

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// LocalMirrorSource reads activity from local git clones laid out as
// {root}/{owner}/{name}. It yields push records only; pull requests and
// issues need the API source. Intended for development without credentials.
type LocalMirrorSource struct {
	root   string
	logger *slog.Logger
}

func NewLocalMirrorSource(root string, logger *slog.Logger) *LocalMirrorSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalMirrorSource{
		root:   root,
		logger: logger.With(logfields.Component("local_source")),
	}
}

func (s *LocalMirrorSource) FetchSince(ctx context.Context, repo silver.Repository, since time.Time) ([]ActivityRecord, error) {
	path := filepath.Join(s.root, repo.GithubOwner, repo.GithubName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, gerrors.PermanentUpstream("open local mirror",
			fmt.Errorf("no clone at %s", path))
	}

	repository, err := git.PlainOpen(path)
	if err != nil {
		return nil, gerrors.PermanentUpstream("open local mirror", err)
	}

	head, err := repository.Head()
	if err != nil {
		// An initialised but empty clone has no activity yet.
		s.logger.Debug("local mirror has no HEAD", logfields.Repository(repo.Slug()))
		return nil, nil
	}

	iter, err := repository.Log(&git.LogOptions{From: head.Hash(), Since: &since})
	if err != nil {
		return nil, gerrors.PermanentUpstream("walk local mirror log", err)
	}
	defer iter.Close()

	var records []ActivityRecord
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// go-git's Since filter is based on committer time; enforce the
		// author-time boundary the checkpoint tracks.
		if !c.Author.When.After(since) {
			return nil
		}

		var touched []string
		stats, err := c.Stats()
		if err == nil {
			for _, st := range stats {
				touched = append(touched, st.Name)
			}
		}

		records = append(records, ActivityRecord{
			EventType:  EventPush,
			ExternalID: fmt.Sprintf("%s:commit:%s", repo.Slug(), c.Hash.String()),
			OccurredAt: c.Author.When,
			Author:     c.Author.Name,
			Payload: PushPayload{
				Repository: repo.Slug(),
				Commits: []CommitPayload{{
					SHA:       c.Hash.String(),
					Author:    c.Author.Name,
					Message:   c.Message,
					Timestamp: c.Author.When.UTC().Format(time.RFC3339),
					Modified:  touched,
				}},
			},
		})
		return nil
	})
	if err != nil {
		return nil, gerrors.PermanentUpstream("walk local mirror log", err)
	}

	return records, nil
}
