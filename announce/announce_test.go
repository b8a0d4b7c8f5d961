package announce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

func TestRecordJSON(t *testing.T) {
	rec := Record{
		Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Addr: 0x7f0000001000,
		Size: 48,
		Name: "dispatch",
		Seq:  3,
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"seq":3,"time":"2024-05-01T12:00:00Z","addr":"0x7f0000001000","size":48,"name":"dispatch"}`, string(b))

	var back Record
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec, back)

	rec.Seq = 0
	b, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(b), "seq"))
}

func TestPerfMap(t *testing.T) {
	dir := t.TempDir()
	pm, err := OpenPerfMap(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "perf-"+strconv.Itoa(os.Getpid())+".map"), pm.Path())

	pm.Announce(0x1000, 0x20, "first")
	pm.Announce(0x2000, 7, "two\nlines")
	pm.Announce(0x3000, 1, "")

	raw, err := os.ReadFile(pm.Path())
	require.NoError(t, err)
	assert.Equal(t, "1000 20 first\n2000 7 two lines\n3000 1 anonymous\n", string(raw))

	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())
	pm.Announce(0x4000, 1, "after-close")

	recs, err := ParsePerfMap(pm.Path())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, Record{Addr: 0x2000, Size: 7, Name: "two lines"}, recs[1])
}

func TestSymbolIndexLookup(t *testing.T) {
	idx, err := OpenSymbolIndex("")
	require.NoError(t, err)
	defer idx.Close()

	idx.Announce(0x1000, 0x100, "alpha")
	idx.Announce(0x1100, 0x10, "beta")
	idx.Announce(0x2000, 0x40, "gamma")

	cases := []struct {
		addr uint64
		name string
	}{
		{0x1000, "alpha"},
		{0x10ff, "alpha"},
		{0x1100, "beta"},
		{0x110f, "beta"},
		{0x203f, "gamma"},
	}
	for _, tc := range cases {
		rec, err := idx.Lookup(tc.addr)
		require.NoError(t, err, "0x%x", tc.addr)
		assert.Equal(t, tc.name, rec.Name, "0x%x", tc.addr)
	}
	for _, addr := range []uint64{0, 0xfff, 0x1110, 0x2040, ^uint64(0)} {
		_, err := idx.Lookup(addr)
		require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound, "0x%x", addr)
	}

	assert.Equal(t, "alpha+0x10", idx.Symbolize(0x1010))
	assert.Equal(t, "gamma", idx.Symbolize(0x2000))
	assert.Equal(t, "0x5000", idx.Symbolize(0x5000))

	recs, err := idx.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{recs[0].Seq, recs[1].Seq, recs[2].Seq})
}

func TestSymbolIndexPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols")
	idx, err := OpenSymbolIndex(path)
	require.NoError(t, err)
	idx.Announce(0xdead0000, 16, "persisted")
	require.NoError(t, idx.Close())

	idx, err = OpenSymbolIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	rec, err := idx.Lookup(0xdead0008)
	require.NoError(t, err)
	assert.Equal(t, "persisted", rec.Name)
}

func TestStreamBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := NewStream(ctx)
	srv := httptest.NewServer(st)
	defer srv.Close()
	defer st.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return st.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	st.Announce(0xabc0, 32, "streamed")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(msg, &rec))
	assert.Equal(t, uint64(0xabc0), rec.Addr)
	assert.Equal(t, uint32(32), rec.Size)
	assert.Equal(t, "streamed", rec.Name)
	assert.Equal(t, uint64(1), rec.Seq)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return st.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStreamServeAfterClose(t *testing.T) {
	st := NewStream(context.Background())
	srv := httptest.NewServer(st)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				conn.Close()
			}
		}()
	}
	require.NoError(t, st.Close())
	wg.Wait()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, st.Clients())
}

func TestStreamAnnounceNeverBlocks(t *testing.T) {
	st := NewStream(context.Background())
	defer st.Close()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*streamBacklog; i++ {
			st.Announce(uintptr(i), 1, "burst")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Announce blocked")
	}
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		PerfMap:       true,
		PerfMapDir:    dir,
		MemorySymbols: true,
		Log:           true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Nil(t, s.Stream)

	s.Announce(0x9000, 0x10, "fanout")
	rec, err := s.Symbols.Lookup(0x9008)
	require.NoError(t, err)
	assert.Equal(t, "fanout", rec.Name)
	recs, err := ParsePerfMap(s.PerfMap.Path())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.Close())
	assert.Zero(t, s.Len())

	_, err = Open(context.Background(), Options{PerfMap: true, PerfMapDir: filepath.Join(dir, "missing")})
	require.Error(t, err)
}
