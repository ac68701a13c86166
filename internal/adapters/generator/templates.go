package generator

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ключи встроенных шаблонов.
const (
	PromptConnectionRequest   = "connection_request"
	PromptPersonalizedMessage = "personalized_message"
	PromptViralPost           = "viral_post"
	PromptProfileAnalyzer     = "profile_analyzer"
)

// PromptTemplate содержит системную инструкцию и шаблон запроса с плейсхолдерами {key}.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// ModelSettings переопределяет параметры модели из окружения.
type ModelSettings struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Document описывает файл шаблонов.
type Document struct {
	Ollama          ModelSettings             `yaml:"ollama"`
	Prompts         map[string]PromptTemplate `yaml:"prompts"`
	TargetCompanies map[string][]string       `yaml:"target_companies"`
}

// DefaultDocument возвращает встроенные шаблоны.
func DefaultDocument() Document {
	return Document{
		Prompts: map[string]PromptTemplate{
			PromptConnectionRequest: {
				System: "You are a professional networking assistant helping create personalized LinkedIn connection requests.",
				User:   "Create a connection request for {name} at {company}, title: {title}. Profile summary: {summary}",
			},
			PromptPersonalizedMessage: {
				System: "You are crafting highly personalized outreach messages for AI professionals.",
				User:   "Write a personalized message to {name} at {company}. Their profile: {profile_data}. Focus on AI/ML relevance.",
			},
			PromptViralPost: {
				System: "You are a LinkedIn content strategist specializing in AI topics.",
				User:   "Based on these viral posts: {viral_insights}, create an engaging post about AI. Max 1300 chars.",
			},
		},
	}
}

// LoadDocument читает и разбирает файл шаблонов.
func LoadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("чтение шаблонов: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("разбор шаблонов: %w", err)
	}
	if len(doc.Prompts) == 0 {
		return Document{}, fmt.Errorf("в %s нет шаблонов", path)
	}
	return doc, nil
}

// Companies возвращает целевые компании из всех групп документа без повторов.
// Группы обходятся в фиксированном порядке: сначала известные, затем остальные по алфавиту.
func (d Document) Companies() []string {
	if len(d.TargetCompanies) == 0 {
		return nil
	}
	groups := make([]string, 0, len(d.TargetCompanies))
	for _, known := range []string{"global_leaders", "india_presence"} {
		if _, ok := d.TargetCompanies[known]; ok {
			groups = append(groups, known)
		}
	}
	var rest []string
	for name := range d.TargetCompanies {
		if name != "global_leaders" && name != "india_presence" {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	groups = append(groups, rest...)

	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		for _, c := range d.TargetCompanies[g] {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// render подставляет значения переменных в шаблон. Неизвестные плейсхолдеры остаются как есть.
func render(template string, vars map[string]string) (string, []string) {
	var (
		b          strings.Builder
		unresolved []string
	)
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		closeIdx := strings.IndexByte(rest[open:], '}')
		if closeIdx < 0 {
			b.WriteString(rest)
			break
		}
		key := rest[open+1 : open+closeIdx]
		if !isPlaceholder(key) {
			b.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		b.WriteString(rest[:open])
		if val, ok := vars[key]; ok {
			b.WriteString(val)
		} else {
			unresolved = append(unresolved, key)
			b.WriteString(rest[open : open+closeIdx+1])
		}
		rest = rest[open+closeIdx+1:]
	}
	return b.String(), unresolved
}

func isPlaceholder(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
