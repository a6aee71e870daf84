package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

// Template describes how a model family expects chat turns to be laid out.
// Render produces the exact byte sequence the engine should continue from.
type Template struct {
	Family          string `yaml:"family"`
	BOS             string `yaml:"bos"`
	UserPrefix      string `yaml:"user_prefix"`
	UserSuffix      string `yaml:"user_suffix"`
	AssistantPrefix string `yaml:"assistant_prefix"`
	AssistantSuffix string `yaml:"assistant_suffix"`
}

// Render linearizes a window of messages and appends the assistant prefix so
// the engine generates the next assistant turn.
func (t Template) Render(window []chatstore.Message) string {
	var b strings.Builder
	b.WriteString(t.BOS)
	for _, msg := range window {
		switch msg.Role {
		case chatstore.RoleUser:
			b.WriteString(t.UserPrefix)
			b.WriteString(msg.Content)
			b.WriteString(t.UserSuffix)
		case chatstore.RoleAssistant:
			b.WriteString(t.AssistantPrefix)
			b.WriteString(msg.Content)
			b.WriteString(t.AssistantSuffix)
		}
	}
	b.WriteString(t.AssistantPrefix)
	return b.String()
}

// Built-in templates follow the published chat formats of each family.
var builtinTemplates = []Template{
	{
		Family:          "deepseek",
		BOS:             "<｜begin▁of▁sentence｜>",
		UserPrefix:      "<｜User｜>",
		UserSuffix:      "",
		AssistantPrefix: "<｜Assistant｜>",
		AssistantSuffix: "<｜end▁of▁sentence｜>",
	},
	{
		Family:          "chatml",
		BOS:             "",
		UserPrefix:      "<|im_start|>user\n",
		UserSuffix:      "<|im_end|>\n",
		AssistantPrefix: "<|im_start|>assistant\n",
		AssistantSuffix: "<|im_end|>\n",
	},
	{
		Family:          "llama3",
		BOS:             "<|begin_of_text|>",
		UserPrefix:      "<|start_header_id|>user<|end_header_id|>\n\n",
		UserSuffix:      "<|eot_id|>",
		AssistantPrefix: "<|start_header_id|>assistant<|end_header_id|>\n\n",
		AssistantSuffix: "<|eot_id|>",
	},
}

// Registry maps model families to chat templates with simple lookups.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Template
	logger   Logger
}

// Logger is a minimal logging interface.
type Logger interface {
	Printf(format string, args ...any)
}

// NewRegistry returns a registry seeded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{families: make(map[string]Template)}
	for _, t := range builtinTemplates {
		r.families[normalize(t.Family)] = t
	}
	return r
}

// SetLogger sets an optional logger for warnings.
func (r *Registry) SetLogger(l Logger) {
	r.logger = l
}

// Register adds or replaces the template for its family.
func (r *Registry) Register(t Template) error {
	key := normalize(t.Family)
	if key == "" {
		return fmt.Errorf("prompt: template family required")
	}
	r.mu.Lock()
	r.families[key] = t
	r.mu.Unlock()
	return nil
}

// Lookup resolves the template for a model name. The match is
// case-insensitive on a normalized form that drops separators, and prefers
// the longest family that prefixes the model name, so "DeepSeek-R1-Distill"
// resolves to the "deepseek" family and "Llama-3.1-8B" to "llama3".
func (r *Registry) Lookup(model string) (Template, bool) {
	key := normalize(model)
	if key == "" {
		return Template{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.families[key]; ok {
		return t, true
	}
	best := ""
	for family := range r.families {
		if strings.HasPrefix(key, family) && len(family) > len(best) {
			best = family
		}
	}
	if best == "" {
		return Template{}, false
	}
	return r.families[best], true
}

// Families lists registered family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// Load merges templates from a YAML file into the registry; returns the
// number of templates loaded. Entries without a family are skipped.
func (r *Registry) Load(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read chat templates file %s: %w", path, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse chat templates file %s: %w", path, err)
	}

	loaded := 0
	for _, t := range file.Templates {
		if err := r.Register(t); err != nil {
			if r.logger != nil {
				r.logger.Printf("prompt: skipping template with empty family in %s", path)
			}
			continue
		}
		loaded++
	}
	return loaded, nil
}

// normalize lowers the name and strips separator runes so family prefixes
// match across naming conventions ("Llama-3.1" vs "llama3").
func normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
