// Package personalize renders campaign templates against a lead.
//
// Two syntaxes are accepted. Single-brace placeholders ({first_name},
// {company}, ...) are replaced with the lead's attribute or the empty
// string. Liquid markup ({{ first_name | default: "there" }}) is rendered
// first with the same attributes bound as variables.
package personalize

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Placeholders lists every single-brace token the engine substitutes.
var Placeholders = []string{
	"first_name",
	"last_name",
	"email",
	"company",
	"title",
	"industry",
	"city",
	"state",
	"website",
}

// Engine renders templates. It is safe for concurrent use.
type Engine struct {
	liquid *liquid.Engine
}

// NewEngine creates a personalization engine.
func NewEngine() *Engine {
	engine := liquid.NewEngine()

	// Empty lead attributes fall back too: {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	return &Engine{liquid: engine}
}

// Render substitutes lead attributes into tpl. A nil lead renders every
// placeholder as the empty string. Liquid errors leave the liquid markup
// untouched; single-brace placeholders are still replaced.
func (e *Engine) Render(tpl string, lead *domain.Lead) string {
	attrs := attributes(lead)

	out := tpl
	if strings.Contains(out, "{{") || strings.Contains(out, "{%") {
		bindings := make(map[string]any, len(attrs))
		for k, v := range attrs {
			bindings[k] = v
		}
		rendered, err := e.liquid.ParseAndRenderString(out, bindings)
		if err != nil {
			logger.Warn("liquid render failed, using raw template", "error", err.Error())
		} else {
			out = rendered
		}
	}

	pairs := make([]string, 0, len(Placeholders)*2)
	for _, name := range Placeholders {
		pairs = append(pairs, "{"+name+"}", attrs[name])
	}
	return strings.NewReplacer(pairs...).Replace(out)
}

func attributes(lead *domain.Lead) map[string]string {
	if lead == nil {
		attrs := make(map[string]string, len(Placeholders))
		for _, name := range Placeholders {
			attrs[name] = ""
		}
		return attrs
	}
	return lead.Attributes()
}
