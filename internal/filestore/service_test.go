package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"lectern/api/internal/store"
)

func openTemp(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	return svc
}

func TestFileLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := openTemp(t)

	_, err := svc.FetchSHA("maths/algebra/intro.md")
	require.ErrorIs(t, err, ErrNotFound)

	created, err := svc.Create(ctx, "maths/algebra/intro.md", "# Intro\n", "Create intro", "Avery Quinn")
	require.NoError(t, err)
	assert.Equal(t, BlobSHA("# Intro\n"), created.SHA)
	assert.NotEmpty(t, created.Commit.Hash)
	assert.Equal(t, "Avery Quinn", created.Commit.Author)

	sha, err := svc.FetchSHA("maths/algebra/intro.md")
	require.NoError(t, err)
	assert.Equal(t, created.SHA, sha)

	_, err = svc.Create(ctx, "maths/algebra/intro.md", "again", "dup", "Avery")
	require.ErrorIs(t, err, ErrExists)

	_, err = svc.Update(ctx, "maths/algebra/intro.md", "# Intro v2\n", "Edit intro", "Avery", "stale")
	require.ErrorIs(t, err, ErrSHAMismatch)

	updated, err := svc.Update(ctx, "maths/algebra/intro.md", "# Intro v2\n", "Edit intro", "Avery", created.SHA)
	require.NoError(t, err)
	assert.Equal(t, BlobSHA("# Intro v2\n"), updated.SHA)

	file, err := svc.Read("maths/algebra/intro.md")
	require.NoError(t, err)
	assert.Equal(t, "# Intro v2\n", file.Body)
	assert.Equal(t, updated.SHA, file.SHA)

	history, err := svc.History("maths/algebra/intro.md", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Edit intro", history[0].Message)
	assert.Equal(t, "Create intro", history[1].Message)

	limited, err := svc.History("maths/algebra/intro.md", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = svc.Delete(ctx, "maths/algebra/intro.md", "Remove intro", "Avery", created.SHA)
	require.ErrorIs(t, err, ErrSHAMismatch)
	_, err = svc.Delete(ctx, "maths/algebra/intro.md", "Remove intro", "Avery", updated.SHA)
	require.NoError(t, err)

	_, err = svc.Read("maths/algebra/intro.md")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Update(ctx, "maths/algebra/intro.md", "x", "x", "Avery", updated.SHA)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryOnlyListsCommitsTouchingThePath(t *testing.T) {
	ctx := context.Background()
	svc := openTemp(t)

	_, err := svc.Create(ctx, "a/b/one.md", "one", "one", "Avery")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "a/b/two.md", "two", "two", "Avery")
	require.NoError(t, err)

	history, err := svc.History("a/b/one.md", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "one", history[0].Message)

	_, err = svc.History("a/b/missing.md", 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReopenKeepsContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, err := Open(Options{Dir: dir, Branch: "content"})
	require.NoError(t, err)
	created, err := svc.Create(ctx, "s/t/a.md", "body", "create", "Avery")
	require.NoError(t, err)

	reopened, err := Open(Options{Dir: dir, Branch: "content"})
	require.NoError(t, err)
	sha, err := reopened.FetchSHA("s/t/a.md")
	require.NoError(t, err)
	assert.Equal(t, created.SHA, sha)

	_, err = os.Stat(filepath.Join(dir, ".git"))
	require.NoError(t, err)
}

func TestRejectsPathsOutsideRepository(t *testing.T) {
	ctx := context.Background()
	svc := openTemp(t)
	for _, p := range []string{"", ".", "/etc/passwd", "../escape.md", ".git/config", "a/../../b.md"} {
		_, err := svc.Create(ctx, p, "x", "x", "Avery")
		assert.ErrorIsf(t, err, ErrInvalidPath, "path %q", p)
	}
	clean, err := cleanPath(`maths\algebra\intro.md`)
	require.NoError(t, err)
	assert.Equal(t, "maths/algebra/intro.md", clean)
}

func TestArticlePath(t *testing.T) {
	got := ArticlePath(store.ArticleLocation{SubjectSlug: "maths", TopicSlug: "algebra", ArticleSlug: "intro"})
	assert.Equal(t, "maths/algebra/intro.md", got)
}

func TestFailedPushIsLoggedAndCommitKept(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svc, err := Open(Options{
		Dir:    t.TempDir(),
		Remote: filepath.Join(t.TempDir(), "missing-remote.git"),
		Logger: zap.New(core),
	})
	require.NoError(t, err)

	created, err := svc.Create(context.Background(), "s/t/a.md", "body", "create", "Avery")
	require.NoError(t, err)
	assert.Equal(t, BlobSHA("body"), created.SHA)
	assert.Equal(t, 1, logs.FilterMessage("push failed").Len())
}

func TestConcurrentWritesToDistinctFiles(t *testing.T) {
	ctx := context.Background()
	svc := openTemp(t)

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := svc.Create(ctx, "s/t/"+name+".md", name, "create "+name, "Avery")
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		file, err := svc.Read("s/t/" + name + ".md")
		require.NoError(t, err)
		assert.Equal(t, name, file.Body)
	}
}
