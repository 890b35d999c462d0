package workbooks

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireTemplate(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseTemplate() { g.releases.Add(1) }

func writeTestWorkbook(t *testing.T, dir, name string) string {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Hello"))
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestOpen_CachesByContentHash(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWorkbook(t, dir, "a.xlsx")

	gate := &fakeGate{}
	m := NewManager(time.Minute, time.Second, gate, nil, time.Now)

	spec1, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())

	spec2, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count(), "second open of identical content should hit the cache, not add an entry")
	require.Same(t, spec1, spec2)
}

func TestOpen_DifferentContentDifferentEntries(t *testing.T) {
	dir := t.TempDir()
	a := writeTestWorkbook(t, dir, "a.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Different"))
	b := filepath.Join(dir, "b.xlsx")
	require.NoError(t, f.SaveAs(b))

	m := NewManager(time.Minute, time.Second, nil, nil, time.Now)
	_, err := m.Open(context.Background(), a)
	require.NoError(t, err)
	_, err = m.Open(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 2, m.Count())
}

func TestOpen_UnsupportedExtensionRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	m := NewManager(time.Minute, time.Second, nil, nil, time.Now)
	_, err := m.Open(context.Background(), path)
	require.Error(t, err)
}

func TestTTLExpiryAndEviction(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWorkbook(t, dir, "a.xlsx")

	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(50*time.Millisecond, 5*time.Millisecond, nil, nil, clock)
	_, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	now.Add(int64(100 * time.Millisecond))
	m.EvictExpired()
	require.Equal(t, 0, m.Count())
}

func TestOpen_ReacquiresAfterEviction(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWorkbook(t, dir, "a.xlsx")

	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(10*time.Millisecond, time.Hour, nil, nil, clock)
	_, err := m.Open(context.Background(), path)
	require.NoError(t, err)

	now.Add(int64(20 * time.Millisecond))
	_, ok := m.Get(hashOf(t, path))
	require.False(t, ok, "entry should report expired once past TTL")

	_, err = m.Open(context.Background(), path)
	require.NoError(t, err)
}

func hashOf(t *testing.T, path string) string {
	t.Helper()
	h, err := hashFile(path)
	require.NoError(t, err)
	return h
}
