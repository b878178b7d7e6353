package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template paths
const (
	SystemTemplate   = "analysis/system.md"
	ProposeTemplate  = "analysis/propose.md"
	GenerateTemplate = "analysis/generate.md"
	FixTemplate      = "analysis/fix.md"
	CritiqueTemplate = "analysis/critique.md"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // checked in priority order
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata.
type TemplateMeta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Stage       string `yaml:"stage"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. promptDir, usually from --prompt-dir
// 2. User config: ~/.config/aea-agent/prompts/
func DefaultLoader(promptDir string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if promptDir != "" {
		dirs = append(dirs, promptDir)
	}
	dirs = append(dirs, filepath.Join(home, ".config", "aea-agent", "prompts"))

	return NewLoader(dirs...)
}

// OverrideDirs returns the directories consulted before the embedded set.
func (l *Loader) OverrideDirs() []string {
	return append([]string(nil), l.overrideDirs...)
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "analysis/fix.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	tmpl, _, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Invalidate drops one cached template so the next use re-reads it.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	delete(l.metaCache, path)
	l.mu.Unlock()
}

// ClearCache clears the template cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}

// SystemData holds template variables for the system instruction.
type SystemData struct {
	Language string
}

// ProposeData holds template variables for analysis proposals.
type ProposeData struct {
	Count        int
	PaperSummary string
	Schema       string
}

// GenerateData holds template variables for code generation.
type GenerateData struct {
	Language     string
	Proposal     string
	Schema       string
	PaperSummary string
	DataPath     string
	PriorCode    string
	Guidance     string
	Feedback     string
}

// FixData holds template variables for repair requests.
type FixData struct {
	Language    string
	Code        string
	Kind        string
	ErrorSignal string
	DocContext  string
}

// CritiqueData holds template variables for the critique request.
type CritiqueData struct {
	Language string
	Proposal string
	Code     string
	Output   string
}

func (l *Loader) BuildSystemPrompt(data SystemData) (string, error) {
	return l.Execute(SystemTemplate, data)
}

func (l *Loader) BuildProposePrompt(data ProposeData) (string, error) {
	return l.Execute(ProposeTemplate, data)
}

func (l *Loader) BuildGeneratePrompt(data GenerateData) (string, error) {
	return l.Execute(GenerateTemplate, data)
}

func (l *Loader) BuildFixPrompt(data FixData) (string, error) {
	return l.Execute(FixTemplate, data)
}

func (l *Loader) BuildCritiquePrompt(data CritiqueData) (string, error) {
	return l.Execute(CritiqueTemplate, data)
}
