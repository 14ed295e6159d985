package downloader

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hrz6976/sucker/metrics"
	"github.com/hrz6976/sucker/naming"
	"github.com/hrz6976/sucker/progress"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultChunkSize is the read and write granularity of a download, and so
// the most data written after cancellation is requested.
const DefaultChunkSize = 32 * 1024

// sniffLen is how much of the body is inspected when neither the URL nor the
// Content-Type names a file type.
const sniffLen = 3072

// ErrBadStatus wraps non-2xx HTTP responses.
var ErrBadStatus = errors.New("unexpected HTTP status")

// Task is one record's unit of work. It is built by the coordinator and then
// owned by a single worker.
type Task struct {
	Seq  int
	Stem string
	URL  string
	// Extension comes from the URL path and is empty when the URL has none.
	Extension string
	Progress  *progress.Task
}

type Outcome int

const (
	Downloaded Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return metrics.ResultDownloaded
	case Cancelled:
		return metrics.ResultCancelled
	default:
		return metrics.ResultFailed
	}
}

// Result describes how a Task ended.
type Result struct {
	Outcome   Outcome
	Path      string
	Extension string
	Source    naming.Source
	Written   int64
	// Total is the declared Content-Length, -1 when absent.
	Total int64
	// Digest is the hex MD5 of a completed download.
	Digest   string
	Err      error
	Duration time.Duration
}

func (r *Result) fail(err error) *Result {
	r.Outcome = Failed
	r.Err = err
	return r
}

func (r *Result) cancel() *Result {
	r.Outcome = Cancelled
	r.Err = nil
	return r
}

// Fetcher streams URLs into files under a directory.
type Fetcher struct {
	client    *http.Client
	outDir    string
	chunkSize int
	limiter   *rate.Limiter
	locks     *pathLocks
}

// NewFetcher builds a Fetcher. A zero rateLimit disables throttling;
// otherwise it caps the combined bytes per second of every download sharing
// this Fetcher. timeout bounds connecting and waiting for response headers,
// never the transfer itself.
func NewFetcher(outDir string, chunkSize int, rateLimit int64, timeout time.Duration, workers int) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout,
		MaxIdleConnsPerHost:   workers,
		ForceAttemptHTTP2:     true,
	}
	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		outDir:    outDir,
		chunkSize: chunkSize,
		locks:     newPathLocks(),
	}
	if rateLimit > 0 {
		burst := chunkSize
		if int64(burst) < rateLimit {
			burst = int(rateLimit)
		}
		f.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return f
}

// Fetch downloads task.URL to outDir/{stem}{extension}.
//
// Cancellation of ctx is observed after every chunk is written and while
// waiting on the network; the partial file is left in place and the result
// is Cancelled with a nil Err. Connection errors, non-2xx statuses and I/O
// errors produce a Failed result. Nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, task *Task) (res *Result) {
	start := time.Now()
	res = &Result{Extension: task.Extension, Total: -1}
	log := logger.WithFields(logger.Fields{"file": task.Stem, "url": task.URL})

	metrics.ActiveDownloads.Inc()
	defer func() {
		metrics.ActiveDownloads.Dec()
		res.Duration = time.Since(start)
		task.Progress.Done()
		metrics.Downloads.WithLabelValues(res.Outcome.String()).Inc()
		switch res.Outcome {
		case Downloaded:
			metrics.DownloadDuration.Observe(res.Duration.Seconds())
			log.WithField("file", res.Path).Info("Downloaded")
		case Cancelled:
			log.WithField("written", res.Written).Debug("Download cancelled")
		case Failed:
			log.WithError(res.Err).Error("Download failed")
		}
	}()

	log.Info("Requesting")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return res.fail(fmt.Errorf("failed to build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return res.cancel()
		}
		return res.fail(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res.fail(fmt.Errorf("%w: %s", ErrBadStatus, resp.Status))
	}

	body := bufio.NewReaderSize(resp.Body, f.chunkSize)
	if res.Extension == "" {
		head, _ := body.Peek(sniffLen)
		res.Extension, res.Source = naming.Resolve("", resp.Header.Get("Content-Type"), head)
		log.WithFields(logger.Fields{
			"extension": res.Extension,
			"source":    string(res.Source),
		}).Info("No extension specified; inferring extension from response")
	} else {
		res.Source = naming.FromURL
	}
	res.Path = filepath.Join(f.outDir, task.Stem+res.Extension)

	unlock := f.locks.lock(res.Path)
	defer unlock()

	file, err := os.OpenFile(res.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return res.fail(fmt.Errorf("failed to create destination file: %w", err))
	}
	defer file.Close()

	if resp.ContentLength >= 0 {
		res.Total = resp.ContentLength
		task.Progress.SetTotal(resp.ContentLength)
	}
	task.Progress.Start()

	digest := md5.New()
	buf := make([]byte, f.chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return res.fail(fmt.Errorf("failed to write %s: %w", res.Path, err))
			}
			digest.Write(buf[:n])
			res.Written += int64(n)
			task.Progress.Advance(int64(n))
			metrics.BytesDownloaded.Add(float64(n))

			if ctx.Err() != nil {
				return res.cancel()
			}
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					if ctx.Err() != nil {
						return res.cancel()
					}
					return res.fail(fmt.Errorf("rate limiter: %w", err))
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return res.cancel()
			}
			return res.fail(fmt.Errorf("failed to read response body: %w", rerr))
		}
	}

	if err := file.Close(); err != nil {
		return res.fail(fmt.Errorf("failed to close %s: %w", res.Path, err))
	}
	res.Digest = hex.EncodeToString(digest.Sum(nil))
	res.Outcome = Downloaded
	return res
}

// pathLocks serialises writers of the same destination path so two records
// that sanitize to one name never interleave their bytes.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (p *pathLocks) lock(path string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}
