package prompt

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"ArticleGen/internal/backend"
)

// DefaultSystem sets the writing persona
const DefaultSystem = `你是一位极其专业且风趣幽默的技术作家，擅长：
1. 用生动有趣的方式解释复杂的技术概念
2. 善于使用类比和比喻
3. 能把枯燥的内容变得引人入胜
4. 在保持专业性的同时让读者感到轻松愉快
5. 文章结构清晰，内容充实
6. 擅长讲故事，善于引用实际案例`

// DefaultUser is the article brief; {{.Title}} is replaced with the heading
const DefaultUser = `请为主题"{{.Title}}"写一篇详尽的技术文章，要求：

1. 文章结构：
   - 开场：用一个有趣的故事或比喻引入主题
   - 背景介绍：解释为什么这个主题重要
   - 核心内容：分3-4个部分详细展开
   - 实际案例：至少2个真实的案例分析
   - 技术细节：深入但易懂的技术讲解
   - 总结：幽默而发人深省的结尾

2. 写作风格：
   - 像跟朋友聊天一样自然
   - 适当使用俏皮话和双关语
   - 多用生动的比喻
   - 可以加入一些梗和笑点
   - 段落之间要有良好的过渡

3. 内容要求：
   - 每个概念都要配合例子
   - 技术讲解要循序渐进
   - 适当加入小贴士和注意事项
   - 包含一些实用的最佳实践
   - 预测未来发展趋势

4. 互动元素：
   - 设置一些思考问题
   - 加入一些小测验
   - 提供实践建议
   - 鼓励读者参与讨论

请确保文章既专业又有趣，让读者在轻松愉快中学到知识。`

// Builder turns a title into the system and user messages
type Builder struct {
	system string
	user   *template.Template
}

// New parses the given templates
func New(system, user string) (*Builder, error) {
	tmpl, err := template.New("user").Option("missingkey=error").Parse(user)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user prompt template: %w", err)
	}
	return &Builder{system: system, user: tmpl}, nil
}

// Default returns the built-in templates
func Default() *Builder {
	b, err := New(DefaultSystem, DefaultUser)
	if err != nil {
		panic(err)
	}
	return b
}

// FromFiles loads templates from files, falling back to the built-ins for empty paths
func FromFiles(systemFile, userFile string) (*Builder, error) {
	system, user := DefaultSystem, DefaultUser
	if systemFile != "" {
		data, err := os.ReadFile(systemFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt: %w", err)
		}
		system = string(data)
	}
	if userFile != "" {
		data, err := os.ReadFile(userFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read user prompt: %w", err)
		}
		user = string(data)
	}
	return New(system, user)
}

// Build returns the [system, user] messages for a title
func (b *Builder) Build(title string) ([]backend.ChatMessage, error) {
	var buf bytes.Buffer
	if err := b.user.Execute(&buf, struct{ Title string }{title}); err != nil {
		return nil, fmt.Errorf("failed to render user prompt: %w", err)
	}
	return []backend.ChatMessage{
		{Role: backend.RoleSystem, Content: b.system},
		{Role: backend.RoleUser, Content: buf.String()},
	}, nil
}
