package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/postc/compiler"
	"github.com/chazu/postc/vm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func output(t *testing.T, p *vm.Program) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, vm.New(p, vm.WithOutput(&out)).Run(context.Background()))
	return out.String()
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("1 print"), Key("1 print"))
	assert.NotEqual(t, Key("1 print"), Key("2 print"))
	assert.Len(t, Key(""), 64)
}

func TestGetMiss(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "1 print")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	source := `:sq 1 param dup * ; 7 sq print`

	p, err := compiler.Compile(source)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, source, p))

	got, err := s.Get(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, "49\n", output(t, got))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, int64(1), st.Hits)
	assert.Positive(t, st.Bytes)
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	p, hit, err := s.Compile(ctx, `"cached" print`)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "cached\n", output(t, p))

	p, hit, err = s.Compile(ctx, `"cached" print`)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached\n", output(t, p))

	_, _, err = s.Compile(ctx, `"unterminated`)
	assert.ErrorIs(t, err, compiler.ErrUnterminatedString)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries, "failed compilations are not cached")
}

func TestCorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	source := `1 print`

	p, err := compiler.Compile(source)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, source, p))

	_, err = s.db.Exec("UPDATE programs SET image = ? WHERE key = ?", []byte("garbage"), Key(source))
	require.NoError(t, err)

	_, err = s.Get(ctx, source)
	assert.ErrorIs(t, err, ErrNotFound)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Entries)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for _, src := range []string{"1 print", "2 print"} {
		p, err := compiler.Compile(src)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, src, p))
	}

	clock = clock.Add(48 * time.Hour)
	_, err := s.Get(ctx, "2 print")
	require.NoError(t, err)

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "1 print")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, _, err = s.Compile(ctx, "3 print")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	_, hit, err := s.Compile(ctx, "3 print")
	require.NoError(t, err)
	assert.True(t, hit)
}
