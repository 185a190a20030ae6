package checksum

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/b2js/blake2/blake2b"
)

func newFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), WithConfig(blake2b.Config{Size: 65}))
	require.ErrorIs(t, err, blake2b.ErrInvalidParameter)

	_, err = New(afero.NewMemMapFs(), WithConfig(blake2b.Config{Size: 32, Key: make([]byte, 65)}))
	require.ErrorIs(t, err, blake2b.ErrInvalidParameter)
}

func TestSumReader(t *testing.T) {
	s, err := New(afero.NewMemMapFs(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.Equal(t, blake2b.Size, s.Size())

	got, err := s.SumReader(strings.NewReader("abc"))
	require.NoError(t, err)
	expected := blake2b.Sum512([]byte("abc"))
	require.Equal(t, expected[:], got)
}

func TestSumFilesKeepsOrder(t *testing.T) {
	files := map[string]string{}
	var paths []string
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("/data/file-%02d", i)
		files[name] = strings.Repeat(fmt.Sprint(i), i*17)
		paths = append(paths, name)
	}
	paths = append(paths, "/data/missing")

	key := []byte("list key")
	var done atomic.Int32
	s, err := New(newFs(t, files),
		WithLogger(zaptest.NewLogger(t)),
		WithJobs(4),
		WithConfig(blake2b.Config{Size: 32, Key: key}),
		WithOnDone(func(Result) { done.Add(1) }),
	)
	require.NoError(t, err)

	results, err := s.SumFiles(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, len(paths))
	require.EqualValues(t, len(paths), done.Load())

	for i, r := range results[:len(results)-1] {
		require.Equal(t, paths[i], r.Path)
		require.NoError(t, r.Err)
		expected, err := blake2b.Sum([]byte(files[paths[i]]), 32, key)
		require.NoError(t, err)
		require.Equal(t, expected, r.Digest)
	}
	missing := results[len(results)-1]
	require.Error(t, missing.Err)
	require.Nil(t, missing.Digest)
}

func TestSumFilesCanceled(t *testing.T) {
	s, err := New(newFs(t, map[string]string{"/a": "a"}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SumFiles(ctx, []string{"/a", "/a", "/a"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	files := map[string]string{
		"/good":    "good content",
		"/short":   "short digest",
		"/changed": "new content",
	}
	s, err := New(newFs(t, files), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	good := blake2b.Sum512([]byte("good content"))
	short, err := blake2b.Sum([]byte("short digest"), 20, nil)
	require.NoError(t, err)
	stale := blake2b.Sum512([]byte("old content"))

	verdicts, err := s.Verify(context.Background(), []Entry{
		{Digest: good[:], Path: "/good"},
		{Digest: short, Path: "/short"},
		{Digest: stale[:], Path: "/changed"},
		{Digest: good[:], Path: "/gone"},
		{Digest: make([]byte, blake2b.Size+1), Path: "/good"},
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 5)

	require.True(t, verdicts[0].OK)
	require.True(t, verdicts[1].OK)
	require.False(t, verdicts[2].OK)
	require.ErrorIs(t, verdicts[2].Err, ErrMismatch)
	require.False(t, verdicts[3].OK)
	require.Error(t, verdicts[3].Err)
	require.NotErrorIs(t, verdicts[3].Err, ErrMismatch)
	require.ErrorIs(t, verdicts[4].Err, blake2b.ErrInvalidParameter)
}

func TestVerifyUsesKey(t *testing.T) {
	fs := newFs(t, map[string]string{"/f": "payload"})
	key := []byte("k1")
	keyed, err := blake2b.Sum([]byte("payload"), 32, key)
	require.NoError(t, err)

	withKey, err := New(fs, WithConfig(blake2b.Config{Size: 32, Key: key}))
	require.NoError(t, err)
	verdicts, err := withKey.Verify(context.Background(), []Entry{{Digest: keyed, Path: "/f"}})
	require.NoError(t, err)
	require.True(t, verdicts[0].OK)

	withoutKey, err := New(fs)
	require.NoError(t, err)
	verdicts, err = withoutKey.Verify(context.Background(), []Entry{{Digest: keyed, Path: "/f"}})
	require.NoError(t, err)
	require.ErrorIs(t, verdicts[0].Err, ErrMismatch)
}

func TestListRoundTrip(t *testing.T) {
	digest := blake2b.Sum256([]byte("x"))
	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, []Result{
		{Path: "dir/x.txt", Digest: digest[:]},
		{Path: "skipped", Err: ErrMismatch},
		{Path: "with space.txt", Digest: digest[:]},
	}))
	require.Equal(t,
		FormatLine(digest[:], "dir/x.txt")+"\n"+FormatLine(digest[:], "with space.txt")+"\n",
		buf.String())

	entries, err := ParseList(&buf)
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Digest: digest[:], Path: "dir/x.txt"},
		{Digest: digest[:], Path: "with space.txt"},
	}, entries)
}

func TestParseListFormats(t *testing.T) {
	list := strings.Join([]string{
		"# comment",
		"",
		"0102  two-space",
		"0304 *binary",
		"0506\ttabbed\r",
		"0708\twith space",
		`\090a  esc\\aped`,
	}, "\n")
	entries, err := ParseList(strings.NewReader(list))
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Digest: []byte{1, 2}, Path: "two-space"},
		{Digest: []byte{3, 4}, Path: "binary"},
		{Digest: []byte{5, 6}, Path: "tabbed"},
		{Digest: []byte{7, 8}, Path: "with space"},
		{Digest: []byte{9, 10}, Path: `esc\aped`},
	}, entries)
}

func TestListRoundTripAwkwardNames(t *testing.T) {
	digest := blake2b.Sum256([]byte("y"))
	names := []string{
		"a\tb.txt",
		"a\nb.txt",
		`back\slash`,
		"cr\r.txt",
		" leading space",
		`\n literal`,
	}
	var results []Result
	for _, name := range names {
		results = append(results, Result{Path: name, Digest: digest[:]})
	}

	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, results))
	require.Equal(t, len(names), strings.Count(buf.String(), "\n"))

	entries, err := ParseList(&buf)
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for i, e := range entries {
		require.Equal(t, names[i], e.Path)
		require.Equal(t, digest[:], e.Digest)
	}
}

func TestFormatLineEscapes(t *testing.T) {
	require.Equal(t, "0102  a\tb", FormatLine([]byte{1, 2}, "a\tb"))
	require.Equal(t, `\0102  a\nb`, FormatLine([]byte{1, 2}, "a\nb"))
	require.Equal(t, `\0102  c:\\dir`, FormatLine([]byte{1, 2}, `c:\dir`))
	require.Equal(t, "plain", EscapePath("plain"))
	require.Equal(t, `\a\nb`, EscapePath("a\nb"))
}

func TestParseListErrors(t *testing.T) {
	for _, line := range []string{
		"nohexhere",
		"zz  path",
		"0102 -path",
		"0102  ",
		"  empty-digest",
		`\0102  bad\tescape`,
		`\0102  trailing\`,
	} {
		_, err := ParseList(strings.NewReader(line))
		require.Error(t, err, line)
		require.Contains(t, err.Error(), "line 1")
	}
}
