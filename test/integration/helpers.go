// Package integration exercises the full medallion pipeline end to end:
// catalogue sync, local-mirror ingestion, transformation, reporting and the
// HTTP surface, with no network and no real model.
package integration

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedMirror creates a working clone at {root}/{owner}/{name} with one commit
// per message. Commits are authored a minute apart, the last one at endAt.
func seedMirror(t *testing.T, root, owner, name string, endAt time.Time, messages ...string) {
	t.Helper()

	dir := filepath.Join(root, owner, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	w, err := repo.Worktree()
	require.NoError(t, err)

	for i, message := range messages {
		file := fmt.Sprintf("file%d.txt", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(message+"\n"), 0o644))

		_, err = w.Add(file)
		require.NoError(t, err)

		when := endAt.Add(time.Duration(i+1-len(messages)) * time.Minute)
		_, err = w.Commit(message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "Dev One",
				Email: "dev@example.com",
				When:  when,
			},
		})
		require.NoError(t, err)
	}
}

// writeCatalogue writes a single-repository catalogue with one active
// component and returns the file path.
func writeCatalogue(t *testing.T, dir, owner, name string) string {
	t.Helper()

	content := fmt.Sprintf(`version: 1
repositories:
  - id: %[2]s
    owner: %[1]s
    name: %[2]s
    documentation_paths: ["docs/"]
projects:
  - key: platform
    name: Platform
    components:
      - key: %[2]s-svc
        name: %[2]s service
        stage: active
        repository: %[2]s
`, owner, name)

	path := filepath.Join(dir, "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
