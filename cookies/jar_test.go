package cookies

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestJar_MergeLastWriteWins(t *testing.T) {
	j := NewJar()
	j.Merge([]Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, "ua-1")
	j.Merge([]Cookie{{Name: "a", Value: "3"}, {Name: ""}}, "")

	require.Equal(t, map[string]string{"a": "3", "b": "2"}, j.Map())
	require.Equal(t, "ua-1", j.UserAgent())
	require.Equal(t, "a=3; b=2", j.Header())
}

func TestJar_SnapshotSorted(t *testing.T) {
	j := NewJar()
	j.Set(Cookie{Name: "z", Value: "1"})
	j.Set(Cookie{Name: "m", Value: "2"})
	j.Set(Cookie{Name: "a", Value: "3"})
	require.Equal(t, []string{"a", "m", "z"}, Names(j.Snapshot()))
}

func TestJar_ImportExport(t *testing.T) {
	src := NewJar()
	src.Merge(sampleCookies(), "")
	text := src.ExportNetscape()

	dst := NewJar()
	n, err := dst.ImportNetscapeString(text, "Mozilla/5.0 test")
	require.NoError(t, err)
	require.Equal(t, len(sampleCookies()), n)
	require.Equal(t, "Mozilla/5.0 test", dst.UserAgent())
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Errorf("jar mismatch (-want +got):\n%s", diff)
	}
}

func TestJar_Clear(t *testing.T) {
	j := NewJar()
	j.Merge([]Cookie{{Name: "a", Value: "1"}}, "ua")
	j.Clear()
	require.Zero(t, j.Len())
	require.Empty(t, j.UserAgent())
}

func TestJar_ConcurrentMerge(t *testing.T) {
	j := NewJar()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j.Merge([]Cookie{{Name: "shared", Value: "x"}, {Name: string(rune('a' + i%26)), Value: "y"}}, "ua")
			_ = j.Header()
		}(i)
	}
	wg.Wait()
	require.Equal(t, 27, j.Len())
}

func TestFromHTTP(t *testing.T) {
	exp := time.Unix(1767225600, 0)
	c := FromHTTP(&http.Cookie{Name: "sid", Value: "v", Expires: exp, HttpOnly: true}, "example.com")
	require.Equal(t, Cookie{Name: "sid", Value: "v", Domain: "example.com", Path: "/", Expires: exp.Unix(), HTTPOnly: true}, c)
	require.True(t, c.HostOnly())
	require.True(t, c.Expired(exp.Add(time.Second)))
	require.False(t, Cookie{Name: "s"}.Expired(exp))
}

func TestFilterDomain(t *testing.T) {
	cs := []Cookie{
		{Name: "a", Domain: ".Example.com"},
		{Name: "b", Domain: "other.org"},
	}
	require.Equal(t, []string{"a"}, Names(FilterDomain(cs, "example.com")))
	require.Len(t, FilterDomain(cs, ""), 2)
}
