package template

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders resource properties as Go templates with the sprig
// function library and a "resource" lookup function.
type Engine struct {
	refPatterns []*regexp.Regexp
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		refPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\bresource\s+"([^"]+)"`),
			regexp.MustCompile(`\.Resources\.([A-Za-z_][A-Za-z0-9_]*)`),
			regexp.MustCompile(`index\s+\.Resources\s+"([^"]+)"`),
		},
	}
}

// Render executes text against data. Strings without actions are
// returned unchanged.
func (e *Engine) Render(name, text string, data Data) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	funcs := sprig.TxtFuncMap()
	funcs["resource"] = func(name string) (ResourceView, error) {
		rv, ok := data.Resources[name]
		if !ok {
			return ResourceView{}, fmt.Errorf("resource %q is not started", name)
		}
		return rv, nil
	}

	tmpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return b.String(), nil
}

// RenderMap renders every value of props. Errors name the failing key.
func (e *Engine) RenderMap(props map[string]string, data Data) (map[string]string, error) {
	out := make(map[string]string, len(props))
	for _, key := range slices.Sorted(maps.Keys(props)) {
		v, err := e.Render(key, props[key], data)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// References returns the resource names the templates in props refer to,
// sorted and without duplicates.
func (e *Engine) References(props map[string]string) []string {
	seen := map[string]bool{}
	for _, v := range props {
		if !strings.Contains(v, "{{") {
			continue
		}
		for _, p := range e.refPatterns {
			for _, m := range p.FindAllStringSubmatch(v, -1) {
				seen[m[1]] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
