package generator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ArticleGen/internal/backend"
	"ArticleGen/internal/cache"
	"ArticleGen/internal/config"
	"ArticleGen/internal/console"
	"ArticleGen/internal/history"
	"ArticleGen/internal/prompt"
)

var fixedTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)

// fakeCompleter answers with "article about <title>" and can fail selected titles
type fakeCompleter struct {
	calls  []string
	failOn map[string]error

	latency  time.Duration
	started  []time.Time
	finished []time.Time
}

func (f *fakeCompleter) Complete(ctx context.Context, req backend.ChatRequest) (backend.Completion, error) {
	title := req.Messages[len(req.Messages)-1].Content
	f.calls = append(f.calls, title)
	f.started = append(f.started, time.Now())
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	defer func() { f.finished = append(f.finished, time.Now()) }()
	if err, ok := f.failOn[title]; ok {
		return backend.Completion{}, err
	}
	return backend.Completion{
		Model:       req.Model,
		Content:     "article about " + title,
		TotalTokens: 10,
	}, nil
}

type fixture struct {
	gen    *Generator
	client *fakeCompleter
	out    *bytes.Buffer
	dir    string
	store  *history.Store
}

func newFixture(t *testing.T, input string, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Config{
		Backend:     config.BackendGrok,
		Model:       "grok-beta",
		Temperature: 0.8,
		InputDir:    dir,
		OutputDir:   filepath.Join(dir, "out"),
		HeadingMode: config.HeadingModeLine,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prompts, err := prompt.New("system", "{{.Title}}")
	if err != nil {
		t.Fatal(err)
	}

	client := &fakeCompleter{failOn: map[string]error{}}
	out := &bytes.Buffer{}
	gen, err := New(Options{
		Config:  cfg,
		Client:  client,
		Prompts: prompts,
		Store:   store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		In:      strings.NewReader(input),
		Out:     out,
		Now:     func() time.Time { return fixedTime },
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	return &fixture{gen: gen, client: client, out: out, dir: dir, store: store}
}

func (f *fixture) writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) outputs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.dir, "out"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// TestGenerateArticle verifies a successful call produces a file with title and content
func TestGenerateArticle(t *testing.T) {
	f := newFixture(t, "", nil)

	filename, err := f.gen.GenerateArticle(context.Background(), "Go: channels?")
	if err != nil {
		t.Fatalf("GenerateArticle returned error: %v", err)
	}

	want := filepath.Join(f.dir, "out", "fun_article_Go_ channels_20240501_093000.md")
	if filename != want {
		t.Errorf("Expected %s, got %s", want, filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("Article not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Go: channels?\n") {
		t.Errorf("Article should start with the title, got %q", data)
	}
	if !strings.Contains(string(data), "article about Go: channels?") {
		t.Error("Article does not contain the generated content")
	}
	if !strings.Contains(f.out.String(), "Tokens used: 10") {
		t.Errorf("Token usage not printed:\n%s", f.out.String())
	}
}

// TestGenerateArticleFailure verifies a failed call returns no file name and writes nothing
func TestGenerateArticleFailure(t *testing.T) {
	f := newFixture(t, "", nil)
	f.client.failOn["Broken"] = &backend.APIError{StatusCode: 500, Status: "500 Internal Server Error", Body: "upstream down"}

	filename, err := f.gen.GenerateArticle(context.Background(), "Broken")
	if err == nil {
		t.Fatal("Expected error")
	}
	var apiErr *backend.APIError
	if !errors.Is(err, ErrReported) || !errors.As(err, &apiErr) {
		t.Errorf("Expected a reported APIError, got %v", err)
	}
	if filename != "" {
		t.Errorf("Expected empty file name, got %q", filename)
	}
	if len(f.outputs(t)) != 0 {
		t.Error("No file should be written on failure")
	}
	if !strings.Contains(f.out.String(), "500") || !strings.Contains(f.out.String(), "upstream down") {
		t.Errorf("Status and body should be printed:\n%s", f.out.String())
	}
}

// TestGenerateArticleHTTP exercises the real client against a test server
func TestGenerateArticleHTTP(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":"bad"}`)
			return
		}
		io.WriteString(w, `{"model":"grok-beta","choices":[{"message":{"role":"assistant","content":"Generated body"}}],"usage":{"total_tokens":77}}`)
	}))
	defer server.Close()

	client, err := backend.NewClient(backend.Options{
		Endpoint: server.URL,
		APIKey:   "k",
		Timeout:  5 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	gen, err := New(Options{
		Config: config.Config{Model: "grok-beta", Temperature: 0.8, OutputDir: dir},
		Client: client,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		In:     strings.NewReader(""),
		Out:    io.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}

	filename, err := gen.GenerateArticle(context.Background(), "HTTP title")
	if err != nil {
		t.Fatalf("GenerateArticle returned error: %v", err)
	}
	data, _ := os.ReadFile(filename)
	if !strings.Contains(string(data), "# HTTP title") || !strings.Contains(string(data), "Generated body") {
		t.Errorf("Unexpected article %q", data)
	}

	status = http.StatusUnauthorized
	filename, err = gen.GenerateArticle(context.Background(), "Denied")
	if err == nil || filename != "" {
		t.Errorf("Expected failure with no file name, got %q err=%v", filename, err)
	}
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected APIError 401, got %v", err)
	}
}

// TestProcessFileAll verifies every heading is generated in order and failures don't stop the batch
func TestProcessFileAll(t *testing.T) {
	f := newFixture(t, "ALL\n", nil)
	f.client.failOn["Second"] = errors.New("connection refused")
	path := f.writeSource(t, "topics.md", "# First\ntext\n## Second\n### Third\n")

	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile returned error: %v", err)
	}

	if got := strings.Join(f.client.calls, ","); got != "First,Second,Third" {
		t.Errorf("Unexpected call order %s", got)
	}
	if n := len(f.outputs(t)); n != 2 {
		t.Errorf("Expected 2 articles, got %d", n)
	}

	text := f.out.String()
	for _, want := range []string{"Found 3 headings:", "=== Processing heading 1/3 ===", "=== Processing heading 3/3 ===", "2 generated, 1 failed, 0 skipped, 20 tokens"} {
		if !strings.Contains(text, want) {
			t.Errorf("Output missing %q:\n%s", want, text)
		}
	}

	prompts, _ := prompt.New("system", "{{.Title}}")
	for title, want := range map[string]bool{"First": true, "Second": false, "Third": true} {
		msgs, _ := prompts.Build(title)
		_, found, err := f.store.LastGenerated(context.Background(), cache.GenerateCacheKey("grok-beta", 0.8, msgs))
		if err != nil {
			t.Fatal(err)
		}
		if found != want {
			t.Errorf("History for %s: expected generated=%v, got %v", title, want, found)
		}
	}
}

// TestProcessFileSingle verifies a numeric choice generates only that heading
func TestProcessFileSingle(t *testing.T) {
	f := newFixture(t, "2\n", nil)
	path := f.writeSource(t, "topics.md", "# One\n# Two\n# Three\n")

	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile returned error: %v", err)
	}
	if len(f.client.calls) != 1 || f.client.calls[0] != "Two" {
		t.Errorf("Expected only Two, got %v", f.client.calls)
	}
}

// TestProcessFileInvalidChoice tests out-of-range and non-numeric answers
func TestProcessFileInvalidChoice(t *testing.T) {
	tests := []struct {
		input string
		want  error
		msg   string
	}{
		{"4\n", console.ErrOutOfRange, "Invalid choice"},
		{"0\n", console.ErrOutOfRange, "Invalid choice"},
		{"two\n", console.ErrNotANumber, "Please enter a valid number"},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			f := newFixture(t, tt.input, nil)
			path := f.writeSource(t, "topics.md", "# One\n# Two\n# Three\n")

			err := f.gen.ProcessFile(context.Background(), path)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if len(f.client.calls) != 0 {
				t.Errorf("No request should be sent, got %v", f.client.calls)
			}
			if !strings.Contains(f.out.String(), tt.msg) {
				t.Errorf("Output missing %q:\n%s", tt.msg, f.out.String())
			}
		})
	}
}

// TestProcessFileNoHeadings verifies files without headings are reported
func TestProcessFileNoHeadings(t *testing.T) {
	f := newFixture(t, "all\n", nil)
	path := f.writeSource(t, "plain.md", "no headings here\n#\n")

	err := f.gen.ProcessFile(context.Background(), path)
	if !errors.Is(err, ErrNoHeadings) {
		t.Errorf("Expected ErrNoHeadings, got %v", err)
	}
	if !errors.Is(err, ErrReported) {
		t.Errorf("Expected the error to be marked as reported, got %v", err)
	}
	if !strings.Contains(f.out.String(), "No headings found") {
		t.Errorf("Unexpected output:\n%s", f.out.String())
	}
}

// TestProcessFileMissing verifies read errors are returned
func TestProcessFileMissing(t *testing.T) {
	f := newFixture(t, "", nil)
	if err := f.gen.ProcessFile(context.Background(), filepath.Join(f.dir, "missing.md")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestProcessFileDelay verifies the pause between sequential requests
func TestProcessFileDelay(t *testing.T) {
	f := newFixture(t, "all\n", func(c *config.Config) { c.RequestDelay = 60 * time.Millisecond })
	path := f.writeSource(t, "topics.md", "# A\n# B\n# C\n")

	start := time.Now()
	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected at least two delays, took %s", elapsed)
	}
}

// TestProcessFileDelayAfterSlowRequest verifies the delay runs from the end of
// the previous request, even when that request took longer than the delay
func TestProcessFileDelayAfterSlowRequest(t *testing.T) {
	delay := 60 * time.Millisecond
	f := newFixture(t, "all\n", func(c *config.Config) { c.RequestDelay = delay })
	f.client.latency = 2 * delay
	f.client.failOn["B"] = errors.New("upstream down")
	path := f.writeSource(t, "topics.md", "# A\n# B\n# C\n")

	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if len(f.client.started) != 3 || len(f.client.finished) != 3 {
		t.Fatalf("Expected 3 requests, got %v", f.client.calls)
	}
	for i := 1; i < 3; i++ {
		gap := f.client.started[i].Sub(f.client.finished[i-1])
		if gap < delay-5*time.Millisecond {
			t.Errorf("Gap before request %d: expected about %s, got %s", i+1, delay, gap)
		}
	}
}

// TestGenerateArticleNoInitialDelay verifies the first request is not delayed
func TestGenerateArticleNoInitialDelay(t *testing.T) {
	f := newFixture(t, "", func(c *config.Config) { c.RequestDelay = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.gen.GenerateArticle(ctx, "First"); err != nil {
		t.Fatalf("GenerateArticle returned error: %v", err)
	}
}

// TestProcessFileCanceled verifies cancellation ends the batch
func TestProcessFileCanceled(t *testing.T) {
	f := newFixture(t, "all\n", func(c *config.Config) { c.RequestDelay = time.Hour })
	path := f.writeSource(t, "topics.md", "# A\n# B\n")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.gen.ProcessFile(ctx, path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if len(f.client.calls) != 1 {
		t.Errorf("Expected only the first request, got %v", f.client.calls)
	}
}

// TestProcessFileSkipGenerated verifies identical prompts are not regenerated
func TestProcessFileSkipGenerated(t *testing.T) {
	f := newFixture(t, "all\nall\n", func(c *config.Config) { c.SkipGenerated = true })
	path := f.writeSource(t, "topics.md", "# A\n# B\n")

	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if err := f.gen.ProcessFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	if len(f.client.calls) != 2 {
		t.Errorf("Expected 2 requests across both runs, got %v", f.client.calls)
	}
	if !strings.Contains(f.out.String(), "0 generated, 0 failed, 2 skipped") {
		t.Errorf("Second run should skip both headings:\n%s", f.out.String())
	}

	// a deleted article is generated again
	for _, name := range f.outputs(t) {
		os.Remove(filepath.Join(f.dir, "out", name))
	}
	if _, err := f.gen.GenerateArticle(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	if len(f.client.calls) != 3 {
		t.Errorf("Expected a new request after deletion, got %v", f.client.calls)
	}
}

// TestRun verifies file discovery and dispatch
func TestRun(t *testing.T) {
	f := newFixture(t, "2\n1\n", nil)
	f.writeSource(t, "a.md", "# From A\n")
	f.writeSource(t, "b.md", "# From B\n")
	f.writeSource(t, "ignored.txt", "# Nope\n")

	if err := f.gen.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	text := f.out.String()
	if !strings.Contains(text, "Found the following markdown files:") || strings.Contains(text, "ignored.txt") {
		t.Errorf("Unexpected listing:\n%s", text)
	}
	if len(f.client.calls) != 1 || f.client.calls[0] != "From B" {
		t.Errorf("Expected From B, got %v", f.client.calls)
	}
}

// TestRunNoFiles verifies an empty directory ends quietly
func TestRunNoFiles(t *testing.T) {
	f := newFixture(t, "", nil)

	if err := f.gen.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(f.out.String(), "No markdown files found") {
		t.Errorf("Unexpected output:\n%s", f.out.String())
	}
}

// TestRunInvalidChoice verifies bad file choices are reported
func TestRunInvalidChoice(t *testing.T) {
	f := newFixture(t, "x\n", nil)
	f.writeSource(t, "a.md", "# A\n")

	err := f.gen.Run(context.Background())
	if !errors.Is(err, console.ErrNotANumber) {
		t.Errorf("Expected ErrNotANumber, got %v", err)
	}
	if !errors.Is(err, ErrReported) {
		t.Errorf("Expected the error to be marked as reported, got %v", err)
	}
}

// TestRunEOF verifies closed input ends the program without error
func TestRunEOF(t *testing.T) {
	f := newFixture(t, "", nil)
	f.writeSource(t, "a.md", "# A\n")

	if err := f.gen.Run(context.Background()); err != nil {
		t.Errorf("Expected nil on EOF, got %v", err)
	}
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error without client")
	}
}
