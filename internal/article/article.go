package article

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	filenamePrefix  = "fun_article_"
	filenameLayout  = "20060102_150405"
	generatedLayout = "2006-01-02 15:04:05"

	generatedLabel = "生成时间"
	closingLine    = "欢迎在评论区分享你的想法和经验！"
	separator      = "---"
)

var titleReplacer = strings.NewReplacer(
	"?", "",
	"/", "_",
	":", "_",
	`\`, "_",
	"*", "_",
	`"`, "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// Article is a generated article ready to be written
type Article struct {
	Title       string
	Content     string
	GeneratedAt time.Time

	// Only used for front matter
	Model       string
	TotalTokens int64
	Source      string
}

// Meta is the optional YAML front matter of a written article
type Meta struct {
	Title       string `yaml:"title"`
	GeneratedAt string `yaml:"generated_at"`
	Model       string `yaml:"model,omitempty"`
	TotalTokens int64  `yaml:"total_tokens,omitempty"`
	Source      string `yaml:"source,omitempty"`
}

// SanitizeTitle makes a title safe to embed in a file name
func SanitizeTitle(title string) string {
	safe := titleReplacer.Replace(title)
	return strings.Trim(safe, " .")
}

// Filename returns fun_article_<title>_<YYYYMMDD_HHMMSS>.md
func Filename(title string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s.md", filenamePrefix, SanitizeTitle(title), t.Format(filenameLayout))
}

// Render returns the file body. The front matter block is added when frontMatter is true.
func Render(a Article, frontMatter bool) ([]byte, error) {
	var buf bytes.Buffer

	if frontMatter {
		meta := Meta{
			Title:       a.Title,
			GeneratedAt: a.GeneratedAt.Format(time.RFC3339),
			Model:       a.Model,
			TotalTokens: a.TotalTokens,
			Source:      a.Source,
		}
		out, err := yaml.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal front matter: %w", err)
		}
		buf.WriteString(separator + "\n")
		buf.Write(out)
		buf.WriteString(separator + "\n\n")
	}

	fmt.Fprintf(&buf, "# %s\n\n", a.Title)
	fmt.Fprintf(&buf, "%s: %s\n\n", generatedLabel, a.GeneratedAt.Format(generatedLayout))
	buf.WriteString(separator + "\n\n")
	buf.WriteString(a.Content)
	buf.WriteString("\n\n" + separator + "\n\n")
	buf.WriteString(closingLine)

	return buf.Bytes(), nil
}

// Write renders a into dir and returns the path of the new file
func Write(dir string, a Article, frontMatter bool) (string, error) {
	data, err := Render(a, frontMatter)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, Filename(a.Title, a.GeneratedAt))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write article: %w", err)
	}
	return path, nil
}
