package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDoc is a page of a synthetic link graph.
type fakeDoc struct {
	links      []string
	extractErr error
	extracted  *atomic.Int64
}

func (d *fakeDoc) ExtractLinks() ([]string, error) {
	if d.extracted != nil {
		d.extracted.Add(1)
	}
	if d.extractErr != nil {
		return nil, d.extractErr
	}
	return d.links, nil
}

// graphDownloader serves a static link graph and records what it fetched.
type graphDownloader struct {
	graph       map[string][]string
	fail        map[string]error
	extractFail map[string]error
	delay       time.Duration
	hostOf      HostFunc

	mu        sync.Mutex
	calls     map[string]int
	active    map[string]int
	maxActive map[string]int
	extracted atomic.Int64
}

func newGraphDownloader(graph map[string][]string) *graphDownloader {
	return &graphDownloader{
		graph:     graph,
		calls:     make(map[string]int),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
	}
}

func (g *graphDownloader) Download(ctx context.Context, url string) (Document, error) {
	host := url
	if g.hostOf != nil {
		host, _ = g.hostOf(url)
	}

	g.mu.Lock()
	g.calls[url]++
	g.active[host]++
	if g.active[host] > g.maxActive[host] {
		g.maxActive[host] = g.active[host]
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active[host]--
		g.mu.Unlock()
	}()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := g.fail[url]; ok {
		return nil, err
	}
	return &fakeDoc{
		links:      g.graph[url],
		extractErr: g.extractFail[url],
		extracted:  &g.extracted,
	}, nil
}

func (g *graphDownloader) callCount(url string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[url]
}

func (g *graphDownloader) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *graphDownloader) peak(host string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxActive[host]
}

// plainHost treats the part before the first '/' as the host, so tests can
// use short names like "a/1" without full URLs.
func plainHost(url string) (string, error) {
	for i := 0; i < len(url); i++ {
		if url[i] == '/' {
			return url[:i], nil
		}
	}
	if url == "" {
		return "", errors.New("empty url")
	}
	return url, nil
}

func newTestCrawler(t *testing.T, d Downloader, downloaders, extractors, perHost int, opts ...Option) *WebCrawler {
	t.Helper()
	c := New(d, downloaders, extractors, perHost, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

// treeGraph builds a tree with the given fan-out, rooted at "h0/r".
// Children of a node at distance k live on host "h<k+1 mod hosts>".
func treeGraph(fanout, height, hosts int) (map[string][]string, map[int][]string) {
	graph := make(map[string][]string)
	byDistance := map[int][]string{0: {"h0/r"}}
	for k := 0; k < height; k++ {
		for _, parent := range byDistance[k] {
			for i := 0; i < fanout; i++ {
				child := fmt.Sprintf("h%d/%s.%d", (k+1)%hosts, parent[len("hX/"):], i)
				graph[parent] = append(graph[parent], child)
				byDistance[k+1] = append(byDistance[k+1], child)
			}
		}
	}
	return graph, byDistance
}

func TestDownloadDepthBound(t *testing.T) {
	t.Parallel()

	graph, byDistance := treeGraph(3, 4, 3)

	for _, size := range []int{1, 2, 8} {
		for depth := 0; depth <= 4; depth++ {
			t.Run(fmt.Sprintf("pool %d depth %d", size, depth), func(t *testing.T) {
				t.Parallel()

				d := newGraphDownloader(graph)
				c := newTestCrawler(t, d, size, size, size, WithHostFunc(plainHost))

				res, err := c.Download(context.Background(), "h0/r", depth)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				var want []string
				for k := 0; k < depth; k++ {
					want = append(want, byDistance[k]...)
				}
				if got := sorted(res.Downloaded); !slices.Equal(got, sorted(want)) {
					t.Errorf("expected %d downloaded pages, got %d", len(want), len(got))
				}
				if len(res.Errors) != 0 {
					t.Errorf("expected no errors, got %v", res.Errors)
				}
				if d.totalCalls() != len(want) {
					t.Errorf("expected %d downloads, got %d", len(want), d.totalCalls())
				}
			})
		}
	}
}

func TestDownloadPerHostCap(t *testing.T) {
	t.Parallel()

	// One seed on host "s" linking to many pages on hosts "x" and "y".
	graph := map[string][]string{"s/0": nil}
	for i := 0; i < 30; i++ {
		graph["s/0"] = append(graph["s/0"], fmt.Sprintf("x/%d", i), fmt.Sprintf("y/%d", i))
	}

	for _, perHost := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("per host %d", perHost), func(t *testing.T) {
			t.Parallel()

			d := newGraphDownloader(graph)
			d.hostOf = plainHost
			d.delay = 2 * time.Millisecond
			c := newTestCrawler(t, d, 16, 4, perHost, WithHostFunc(plainHost))

			res, err := c.Download(context.Background(), "s/0", 2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Downloaded) != 61 {
				t.Fatalf("expected 61 downloaded pages, got %d", len(res.Downloaded))
			}
			for _, host := range []string{"x", "y"} {
				if p := d.peak(host); p > perHost {
					t.Errorf("host %s: expected at most %d concurrent downloads, got %d", host, perHost, p)
				}
			}
			if c.gate.Active("x") != 0 || c.gate.Pending("x") != 0 {
				t.Errorf("expected gate for x to be idle, got active=%d pending=%d",
					c.gate.Active("x"), c.gate.Pending("x"))
			}
		})
	}
}

func TestDownloadNoDuplicates(t *testing.T) {
	t.Parallel()

	// Dense graph with cycles and cross links.
	graph := map[string][]string{
		"a/1": {"a/2", "b/1", "a/1"},
		"a/2": {"a/1", "b/1", "b/2"},
		"b/1": {"a/1", "a/2", "b/2", "c/1"},
		"b/2": {"b/1", "c/1", "a/2"},
		"c/1": {"a/1", "c/1"},
	}
	d := newGraphDownloader(graph)
	c := newTestCrawler(t, d, 4, 4, 2, WithHostFunc(plainHost))

	res, err := c.Download(context.Background(), "a/1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Downloaded) != 5 {
		t.Errorf("expected 5 downloaded pages, got %v", res.Downloaded)
	}
	for u := range graph {
		if n := d.callCount(u); n != 1 {
			t.Errorf("expected %s to be downloaded once, got %d", u, n)
		}
	}
}

func TestDownloadErrorsExcludedFromDownloaded(t *testing.T) {
	t.Parallel()

	graph := map[string][]string{
		"a/1": {"a/2", "b/1", "b/2"},
		"a/2": {"a/3"},
		"b/1": {"b/3"},
	}
	d := newGraphDownloader(graph)
	d.fail = map[string]error{"b/1": errors.New("connection refused")}
	d.extractFail = map[string]error{"a/2": errors.New("bad markup")}
	c := newTestCrawler(t, d, 3, 3, 1, WithHostFunc(plainHost))

	res, err := c.Download(context.Background(), "a/1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, u := range res.Downloaded {
		if _, ok := res.Errors[u]; ok {
			t.Errorf("%s is both downloaded and failed", u)
		}
	}
	if kind, ok := res.Failed("b/1"); !ok || kind != KindDownloadFailure {
		t.Errorf("expected b/1 to fail with DownloadFailure, got %v %v", kind, ok)
	}
	if kind, ok := res.Failed("a/2"); !ok || kind != KindExtractFailure {
		t.Errorf("expected a/2 to fail with ExtractFailure, got %v %v", kind, ok)
	}
	if !errors.Is(res.Errors["a/2"], ErrExtractFailure) {
		t.Errorf("expected errors.Is(ErrExtractFailure), got %v", res.Errors["a/2"])
	}
	// a/3 is only reachable through a/2, whose extraction failed.
	if slices.Contains(res.Downloaded, "a/3") {
		t.Error("expected a/3 not to be downloaded")
	}
	if got, want := sorted(res.Downloaded), []string{"a/1", "b/2"}; !slices.Equal(got, want) {
		t.Errorf("expected downloaded %v, got %v", want, got)
	}
}

func TestDownloadScenarios(t *testing.T) {
	t.Parallel()

	t.Run("depth one downloads only the seed without extraction", func(t *testing.T) {
		t.Parallel()

		d := newGraphDownloader(map[string][]string{"a/A": {"a/B"}, "a/B": {"a/C"}})
		c := newTestCrawler(t, d, 2, 2, 2, WithHostFunc(plainHost))

		res, err := c.Download(context.Background(), "a/A", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(res.Downloaded, []string{"a/A"}) {
			t.Errorf("expected [a/A], got %v", res.Downloaded)
		}
		if len(res.Errors) != 0 {
			t.Errorf("expected no errors, got %v", res.Errors)
		}
		if n := d.extracted.Load(); n != 0 {
			t.Errorf("expected no extraction, got %d", n)
		}
	})

	t.Run("failed download is reported and excluded", func(t *testing.T) {
		t.Parallel()

		d := newGraphDownloader(map[string][]string{"a/A": {"a/B"}})
		d.fail = map[string]error{"a/B": errors.New("timeout")}
		c := newTestCrawler(t, d, 2, 2, 2, WithHostFunc(plainHost))

		res, err := c.Download(context.Background(), "a/A", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(res.Downloaded, []string{"a/A"}) {
			t.Errorf("expected [a/A], got %v", res.Downloaded)
		}
		if len(res.Errors) != 1 || !errors.Is(res.Errors["a/B"], ErrDownloadFailure) {
			t.Errorf("expected only a/B to fail with DownloadFailure, got %v", res.Errors)
		}
	})

	t.Run("malformed seed is never downloaded", func(t *testing.T) {
		t.Parallel()

		d := newGraphDownloader(nil)
		c := newTestCrawler(t, d, 2, 2, 2)

		res, err := c.Download(context.Background(), "not a url", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Downloaded) != 0 {
			t.Errorf("expected nothing downloaded, got %v", res.Downloaded)
		}
		if !errors.Is(res.Errors["not a url"], ErrMalformedURL) {
			t.Errorf("expected MalformedURL, got %v", res.Errors)
		}
		if d.totalCalls() != 0 {
			t.Errorf("expected no download calls, got %d", d.totalCalls())
		}
	})
}

func TestDownloadIdempotent(t *testing.T) {
	t.Parallel()

	graph, _ := treeGraph(2, 3, 2)
	d := newGraphDownloader(graph)
	d.fail = map[string]error{"h1/r.1": errors.New("gone")}
	c := newTestCrawler(t, d, 4, 4, 2, WithHostFunc(plainHost))

	first, err := c.Download(context.Background(), "h0/r", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Download(context.Background(), "h0/r", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(sorted(first.Downloaded), sorted(second.Downloaded)) {
		t.Errorf("downloaded sets differ: %v vs %v", first.Downloaded, second.Downloaded)
	}
	if len(first.Errors) != len(second.Errors) {
		t.Fatalf("error sets differ: %v vs %v", first.Errors, second.Errors)
	}
	for u := range first.Errors {
		if _, ok := second.Errors[u]; !ok {
			t.Errorf("expected %s to fail in both runs", u)
		}
	}
}

func TestDownloadConcurrentCalls(t *testing.T) {
	t.Parallel()

	graph, byDistance := treeGraph(3, 2, 2)
	d := newGraphDownloader(graph)
	d.hostOf = plainHost
	c := newTestCrawler(t, d, 4, 2, 1, WithHostFunc(plainHost))

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	for i := range results {
		wg.Go(func() {
			res, err := c.Download(context.Background(), "h0/r", 3)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = res
		})
	}
	wg.Wait()

	want := len(byDistance[0]) + len(byDistance[1]) + len(byDistance[2])
	for i, res := range results {
		if res == nil {
			continue
		}
		if len(res.Downloaded) != want {
			t.Errorf("call %d: expected %d pages, got %d", i, want, len(res.Downloaded))
		}
	}
	for _, host := range []string{"h0", "h1"} {
		if p := d.peak(host); p > 1 {
			t.Errorf("host %s: expected at most 1 concurrent download across calls, got %d", host, p)
		}
	}
}

func TestDownloadCancelled(t *testing.T) {
	t.Parallel()

	graph, _ := treeGraph(2, 4, 1)
	d := newGraphDownloader(graph)
	c := newTestCrawler(t, d, 2, 2, 2, WithHostFunc(plainHost))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Download(ctx, "h0/r", 4)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil {
		t.Fatal("expected a partial result")
	}
	if len(res.Downloaded) != 0 || d.totalCalls() != 0 {
		t.Errorf("expected nothing downloaded, got %v", res.Downloaded)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("download after close returns ErrClosed", func(t *testing.T) {
		t.Parallel()

		c := New(newGraphDownloader(nil), 1, 1, 1)
		if err := c.Close(); err != nil {
			t.Fatalf("unexpected close error: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("expected second close to succeed, got %v", err)
		}
		if _, err := c.Download(context.Background(), "http://example.com/", 2); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})

	t.Run("rejected submission is recorded and releases its host", func(t *testing.T) {
		t.Parallel()

		d := newGraphDownloader(map[string][]string{"a/1": {"a/2"}})
		c := New(d, 1, 1, 1, WithHostFunc(plainHost))
		c.downloaders.Shutdown()

		run := &crawlRun{
			ctx:        context.Background(),
			downloaded: newURLSet(),
			errs:       newErrorMap(),
			barrier:    NewLevelBarrier(),
		}
		level := &crawlLevel{run: run, next: newURLSet()}
		run.barrier.Reset()
		run.barrier.Register()
		run.barrier.Register()
		c.gate.Admit("a", &downloadTask{level: level, url: "a/1", host: "a"})
		c.gate.Admit("a", &downloadTask{level: level, url: "a/2", host: "a"})

		done := make(chan struct{})
		go func() {
			run.barrier.AwaitAdvance()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("barrier did not advance after rejected submissions")
		}

		errs := run.errs.Snapshot()
		for _, u := range []string{"a/1", "a/2"} {
			if !errors.Is(errs[u], ErrPoolClosed) || !errors.Is(errs[u], ErrDownloadFailure) {
				t.Errorf("expected %s to fail with a closed pool, got %v", u, errs[u])
			}
		}
		if c.gate.Active("a") != 0 {
			t.Errorf("expected no active slots, got %d", c.gate.Active("a"))
		}
		_ = c.Close()
	})
}
