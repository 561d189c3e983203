package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ArticleGen/internal/article"
	"ArticleGen/internal/backend"
	"ArticleGen/internal/cache"
	"ArticleGen/internal/config"
	"ArticleGen/internal/console"
	"ArticleGen/internal/headings"
	"ArticleGen/internal/history"
	"ArticleGen/internal/prompt"
	"ArticleGen/internal/workspace"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

var (
	// ErrNoHeadings is returned when the chosen file has no usable headings
	ErrNoHeadings = errors.New("no headings found")

	// ErrReported marks errors that were already shown on the console
	ErrReported = errors.New("reported on console")
)

func reported(err error) error {
	return fmt.Errorf("%w: %w", ErrReported, err)
}

// Completer sends a chat completion request
type Completer interface {
	Complete(ctx context.Context, req backend.ChatRequest) (backend.Completion, error)
}

// Options wires a Generator
type Options struct {
	Config  config.Config
	Client  Completer
	Prompts *prompt.Builder // defaults to the built-in prompts
	Store   *history.Store  // nil disables history and skip_generated
	Logger  *slog.Logger
	Tracer  trace.Tracer
	In      io.Reader
	Out     io.Writer
	Now     func() time.Time
}

// Generator turns headings into article files
type Generator struct {
	config  config.Config
	client  Completer
	prompts *prompt.Builder
	store   *history.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	console *console.Prompter
	limiter *rate.Limiter
	now     func() time.Time

	runID  string
	source string
}

// Summary counts the outcomes of a batch
type Summary struct {
	Generated int
	Failed    int
	Skipped   int
	Tokens    int64
}

type outcome struct {
	filename string
	status   string
	tokens   int64
}

// New creates a Generator
func New(opts Options) (*Generator, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}

	g := &Generator{
		config:  opts.Config,
		client:  opts.Client,
		prompts: opts.Prompts,
		store:   opts.Store,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}
	if g.prompts == nil {
		g.prompts = prompt.Default()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tracer == nil {
		g.tracer = tracenoop.NewTracerProvider().Tracer("articlegen")
	}
	if g.now == nil {
		g.now = time.Now
	}

	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	g.console = console.New(in, out)

	// one token per RequestDelay; the first request goes out immediately and
	// every finished request takes the token, so the next one waits a full delay
	limit := rate.Inf
	if g.config.RequestDelay > 0 {
		limit = rate.Every(g.config.RequestDelay)
	}
	g.limiter = rate.NewLimiter(limit, 1)

	return g, nil
}

// GenerateArticle generates one article for title and returns the written file name.
// On failure the file name is empty.
func (g *Generator) GenerateArticle(ctx context.Context, title string) (string, error) {
	out, err := g.generate(ctx, title)
	if err != nil {
		return "", err
	}
	return out.filename, nil
}

func (g *Generator) generate(ctx context.Context, title string) (outcome, error) {
	ctx, span := g.tracer.Start(ctx, "generate_article",
		trace.WithAttributes(attribute.String("article.title", title)))
	defer span.End()

	messages, err := g.prompts.Build(title)
	if err != nil {
		g.console.Error("Failed to generate article: %v", err)
		return outcome{status: history.StatusFailed}, reported(err)
	}
	promptKey := cache.GenerateCacheKey(g.config.Model, g.config.Temperature, messages)

	if filename, ok := g.alreadyGenerated(ctx, promptKey); ok {
		g.console.Printf("\nSkipping '%s', already generated: %s\n", title, filename)
		g.logger.Info("skipped heading", "title", title, "filename", filename)
		g.record(ctx, history.Entry{Title: title, Filename: filename, Status: history.StatusSkipped, PromptKey: promptKey})
		return outcome{filename: filename, status: history.StatusSkipped}, nil
	}

	if err := g.pace(ctx); err != nil {
		return outcome{status: history.StatusFailed}, err
	}

	g.console.Printf("\nGenerating article for '%s'...\n", title)
	g.logger.Info("generating article", "title", title, "model", g.config.Model)

	completion, err := g.client.Complete(ctx, backend.ChatRequest{
		Messages:    messages,
		Model:       g.config.Model,
		Stream:      false,
		Temperature: g.config.Temperature,
	})
	g.limiter.Reserve()
	if err != nil {
		g.fail(ctx, span, title, promptKey, err)
		return outcome{status: history.StatusFailed}, reported(err)
	}

	path, err := article.Write(g.config.OutputDir, article.Article{
		Title:       title,
		Content:     completion.Content,
		GeneratedAt: g.now(),
		Model:       completion.Model,
		TotalTokens: completion.TotalTokens,
		Source:      g.source,
	}, g.config.FrontMatter)
	if err != nil {
		g.fail(ctx, span, title, promptKey, err)
		return outcome{status: history.StatusFailed}, reported(err)
	}

	g.console.Success("\nArticle generated: %s", path)
	g.console.Printf("Tokens used: %d\n", completion.TotalTokens)
	g.logger.Info("article generated", "title", title, "filename", path, "total_tokens", completion.TotalTokens)
	span.SetAttributes(attribute.String("article.filename", path))

	g.record(ctx, history.Entry{
		Title:       title,
		Filename:    path,
		Status:      history.StatusGenerated,
		TotalTokens: completion.TotalTokens,
		PromptKey:   promptKey,
	})
	return outcome{filename: path, status: history.StatusGenerated, tokens: completion.TotalTokens}, nil
}

// pace blocks until a token is back in the limiter or ctx is done. The token
// itself is taken when the request finishes.
func (g *Generator) pace(ctx context.Context) error {
	limit := g.limiter.Limit()
	if limit == rate.Inf {
		return nil
	}
	missing := 1 - g.limiter.Tokens()
	if missing <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(missing / float64(limit) * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Generator) fail(ctx context.Context, span trace.Span, title, promptKey string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		g.console.Error("Generation failed: %d", apiErr.StatusCode)
		g.console.Println(apiErr.Body)
	} else {
		g.console.Error("Failed to generate article: %v", err)
	}
	g.logger.Error("failed to generate article", "title", title, "error", err)

	g.record(ctx, history.Entry{Title: title, Status: history.StatusFailed, Error: err.Error(), PromptKey: promptKey})
}

// alreadyGenerated reports a previous article for the same prompt that still exists on disk
func (g *Generator) alreadyGenerated(ctx context.Context, promptKey string) (string, bool) {
	if !g.config.SkipGenerated || g.store == nil {
		return "", false
	}
	filename, found, err := g.store.LastGenerated(ctx, promptKey)
	if err != nil {
		g.logger.Warn("failed to look up history", "error", err)
		return "", false
	}
	if !found {
		return "", false
	}
	if _, err := os.Stat(filename); err != nil {
		return "", false
	}
	return filename, true
}

func (g *Generator) record(ctx context.Context, e history.Entry) {
	if g.store == nil {
		return
	}
	e.RunID = g.runID
	e.SourceFile = g.source
	e.CreatedAt = g.now()
	if err := g.store.Record(ctx, e); err != nil {
		g.logger.Warn("failed to record history", "error", err)
	}
}

func (g *Generator) startRun(ctx context.Context, source string) {
	g.runID = uuid.NewString()
	g.source = source
	if g.store == nil {
		return
	}
	err := g.store.StartRun(ctx, history.Run{
		ID:         g.runID,
		StartedAt:  g.now(),
		Backend:    g.config.Backend,
		Model:      g.config.Model,
		SourceFile: source,
	})
	if err != nil {
		g.logger.Warn("failed to record run", "error", err)
	}
}

// ProcessFile lists the headings of a markdown file and generates the chosen one, or all of them
func (g *Generator) ProcessFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		g.console.Error("Failed to process file: %v", err)
		g.logger.Error("failed to read markdown file", "path", path, "error", err)
		return reported(fmt.Errorf("failed to read markdown file: %w", err))
	}

	titles, err := headings.Extract(data, g.config.HeadingMode)
	if err != nil {
		g.console.Error("Failed to process file: %v", err)
		return reported(err)
	}
	if len(titles) == 0 {
		g.console.Println("No headings found")
		return reported(ErrNoHeadings)
	}

	g.console.List(fmt.Sprintf("\nFound %d headings:", len(titles)), titles)

	answer, err := g.console.Ask(ctx, "\nSelect a heading number (enter 'all' to process every heading): ")
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	g.startRun(ctx, filepath.Base(path))
	g.logger.Info("processing file", "path", path, "headings", len(titles), "choice", answer, "run_id", g.runID)

	if strings.EqualFold(answer, "all") {
		summary, err := g.processAll(ctx, titles)
		g.console.Banner("\nDone: %d generated, %d failed, %d skipped, %d tokens",
			summary.Generated, summary.Failed, summary.Skipped, summary.Tokens)
		return err
	}

	idx, err := console.ParseIndex(answer, len(titles))
	if err != nil {
		g.console.Println(capitalize(err.Error()))
		return reported(err)
	}

	// single failures are reported by generate
	_, err = g.GenerateArticle(ctx, titles[idx])
	return err
}

// processAll generates every title in order. Failures do not stop the batch;
// cancellation does.
func (g *Generator) processAll(ctx context.Context, titles []string) (Summary, error) {
	var summary Summary
	for i, title := range titles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		g.console.Banner("\n=== Processing heading %d/%d ===", i+1, len(titles))
		out, err := g.generate(ctx, title)
		switch {
		case err != nil && ctx.Err() != nil:
			return summary, ctx.Err()
		case err != nil:
			summary.Failed++
		case out.status == history.StatusSkipped:
			summary.Skipped++
		default:
			summary.Generated++
			summary.Tokens += out.tokens
		}
	}
	return summary, nil
}

// Run lists the markdown files of the input directory and processes the chosen one
func (g *Generator) Run(ctx context.Context) error {
	files, err := workspace.ListMarkdown(g.config.InputDir)
	if err != nil {
		g.console.Error("Failed to list markdown files: %v", err)
		return reported(err)
	}
	if len(files) == 0 {
		g.console.Println("No markdown files found in the current directory")
		return nil
	}

	g.console.List("Found the following markdown files:", files)

	answer, err := g.console.Ask(ctx, "\nSelect a file number: ")
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	idx, err := console.ParseIndex(answer, len(files))
	if err != nil {
		g.console.Println(capitalize(err.Error()))
		return reported(err)
	}

	return g.ProcessFile(ctx, filepath.Join(g.config.InputDir, files[idx]))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
