package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
)

func TestFSListMissingDirectoryIsEmpty(t *testing.T) {
	l := NewFS(filepath.Join(t.TempDir(), "does", "not", "exist"))

	names, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFSWriteReadList(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	l := NewFS(dir)

	require.NoError(t, l.Write(ctx, "0.json", []byte(`{"a":1}`)))
	require.NoError(t, l.Write(ctx, "1.json", []byte(`{"a":2}`)))

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0.json", "1.json"}, names)

	data, err := l.Read(ctx, "1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	info, err := os.Stat(filepath.Join(dir, "0.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestFSWriteReplaces(t *testing.T) {
	ctx := context.Background()
	l := NewFS(t.TempDir())

	require.NoError(t, l.Write(ctx, "3.json", []byte("first")))
	require.NoError(t, l.Write(ctx, "3.json", []byte("second")))

	data, err := l.Read(ctx, "3.json")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFSListSkipsTempFilesAndDirectories(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewFS(dir)

	// An interrupted write leaves a hidden temp file behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".4.json.tmp-123"), []byte("{"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, l.Write(ctx, "5.json", []byte("{}")))

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"5.json"}, names)
}

func TestFSReadMissing(t *testing.T) {
	_, err := NewFS(t.TempDir()).Read(context.Background(), "9.json")
	assert.ErrorIs(t, err, ports.ErrRecordNotFound)

	var lerr *ports.LedgerError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "read", lerr.Op)
}

func TestFSRejectsInvalidNames(t *testing.T) {
	ctx := context.Background()
	l := NewFS(t.TempDir())

	for _, name := range []string{"", ".", "..", "../x.json", "a/b.json", `a\b.json`, ".hidden.json"} {
		err := l.Write(ctx, name, []byte("{}"))
		assert.ErrorIs(t, err, ports.ErrInvalidName, name)
	}
}

func TestFSSub(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewFS(root)

	sub := l.Sub("qa_out")
	require.NoError(t, sub.Write(ctx, "0.json", []byte("{}")))
	assert.Equal(t, filepath.Join(root, "qa_out"), sub.Location())

	_, err := os.Stat(filepath.Join(root, "qa_out", "0.json"))
	assert.NoError(t, err)

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFSConcurrentWritersOnDisjointNames(t *testing.T) {
	ctx := context.Background()
	l := NewFS(t.TempDir())

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w * 25; i < (w+1)*25; i++ {
				assert.NoError(t, l.Write(ctx, domain.OutputName(i), []byte("{}")))
			}
		}()
	}
	wg.Wait()

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 100)
}

func TestFSCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFS(t.TempDir()).List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
