package downloader

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrz6976/sucker/naming"
	"github.com/hrz6976/sucker/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(tr *progress.Tracker, stem, url string) *Task {
	return &Task{
		Stem:      stem,
		URL:       url,
		Extension: naming.URLExtension(url),
		Progress:  tr.Register(stem),
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestFetchUsesURLExtension(t *testing.T) {
	body := payload(100 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	out := t.TempDir()
	tr := progress.New(io.Discard, false)
	task := newTask(tr, "blue_widget-SK-1", srv.URL+"/img.png")

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, Downloaded, res.Outcome)
	assert.Equal(t, ".png", res.Extension)
	assert.Equal(t, naming.FromURL, res.Source)
	assert.Equal(t, filepath.Join(out, "blue_widget-SK-1.png"), res.Path)
	assert.Equal(t, int64(len(body)), res.Written)
	assert.Equal(t, int64(len(body)), res.Total)
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum(body)), res.Digest)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))

	assert.True(t, task.Progress.Started())
	assert.Equal(t, int64(len(body)), task.Progress.Total())
	assert.Equal(t, int64(len(body)), task.Progress.Completed())
	assert.Equal(t, 1, tr.Snapshot().Done)
}

func TestFetchInfersExtensionFromContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("not really a jpeg"))
	}))
	defer srv.Close()

	out := t.TempDir()
	task := newTask(progress.New(io.Discard, false), "lamp-L", srv.URL+"/image")
	require.Equal(t, "", task.Extension)

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, ".jpg", res.Extension)
	assert.Equal(t, naming.FromContentType, res.Source)
	assert.FileExists(t, filepath.Join(out, "lamp-L.jpg"))
}

func TestFetchSniffsBodyWithoutContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"))
	}))
	defer srv.Close()

	out := t.TempDir()
	task := newTask(progress.New(io.Discard, false), "manual-M1", srv.URL+"/download?id=7")

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, ".pdf", res.Extension)
	assert.Equal(t, naming.FromContent, res.Source)
}

func TestFetchFallsBackForEmptyUntypedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := t.TempDir()
	task := newTask(progress.New(io.Discard, false), "empty-E", srv.URL+"/blob")

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, naming.FallbackExtension, res.Extension)
	assert.Equal(t, int64(0), res.Written)
	assert.FileExists(t, filepath.Join(out, "empty-E.bin"))
}

func TestFetchChunkedBodyHasUnknownTotal(t *testing.T) {
	body := payload(80 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for off := 0; off < len(body); off += 10 * 1024 {
			w.Write(body[off : off+10*1024])
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	out := t.TempDir()
	tr := progress.New(io.Discard, false)
	task := newTask(tr, "stream-S", srv.URL+"/stream.bin")

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(-1), res.Total)
	assert.Equal(t, int64(-1), task.Progress.Total())
	assert.Equal(t, int64(len(body)), res.Written)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
}

func TestFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	out := t.TempDir()
	tr := progress.New(io.Discard, false)
	task := newTask(tr, "gone-G", srv.URL+"/gone.png")

	res := NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrBadStatus))
	assert.NoFileExists(t, filepath.Join(out, "gone-G.png"))
	assert.Equal(t, 1, tr.Snapshot().Done)
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/a.png"
	srv.Close()

	res := NewFetcher(t.TempDir(), 0, 0, time.Second, 1).
		Fetch(context.Background(), newTask(progress.New(io.Discard, false), "a-A", url))
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestFetchCancelledBeforeStart(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewFetcher(t.TempDir(), 0, 0, time.Second, 1).
		Fetch(ctx, newTask(progress.New(io.Discard, false), "late-L", srv.URL+"/late.png"))
	assert.Equal(t, Cancelled, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(0), res.Written)
	assert.Len(t, hit, 0)
}

func TestFetchStopsWithinOneChunkAfterCancel(t *testing.T) {
	const sent = 4 * DefaultChunkSize
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(16*DefaultChunkSize))
		w.Write(payload(sent))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	out := t.TempDir()
	task := newTask(progress.New(io.Discard, false), "big-B", srv.URL+"/big.bin")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *Result, 1)
	go func() { done <- NewFetcher(out, 0, 0, 5*time.Second, 1).Fetch(ctx, task) }()

	require.Eventually(t, func() bool {
		return task.Progress.Completed() >= sent
	}, 5*time.Second, 5*time.Millisecond)
	atCancel := task.Progress.Completed()
	cancel()

	var res *Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}
	assert.Equal(t, Cancelled, res.Outcome)
	assert.NoError(t, res.Err)
	assert.LessOrEqual(t, res.Written-atCancel, int64(DefaultChunkSize))

	info, err := os.Stat(filepath.Join(out, "big-B.bin"))
	require.NoError(t, err)
	assert.Equal(t, res.Written, info.Size())
	assert.Less(t, info.Size(), int64(16*DefaultChunkSize))
}

func TestPathLocksSerialise(t *testing.T) {
	locks := newPathLocks()
	unlock := locks.lock("out/a.png")

	acquired := make(chan struct{})
	go func() {
		u := locks.lock("out/a.png")
		close(acquired)
		u()
	}()

	other := locks.lock("out/b.png")
	other()

	select {
	case <-acquired:
		t.Fatal("second writer entered while the path was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired

	require.Eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		return len(locks.locks) == 0
	}, time.Second, time.Millisecond)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "downloaded", Downloaded.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "failed", Failed.String())
}
