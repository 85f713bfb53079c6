package parser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

// escapedBraceRe matches the doubly-escaped literal-brace idiom Helm charts
// use to emit ApplicationSet template tokens: {{`{{`}}name{{`}}`}}.
var escapedBraceRe = regexp.MustCompile("\\{\\{\\s*`\\{\\{`\\s*\\}\\}(.+?)\\{\\{\\s*`\\}\\}`\\s*\\}\\}")

// templateVarRe matches a plain {{identifier}} token.
var templateVarRe = regexp.MustCompile(`\{\{(.+?)\}\}`)

// ResolveTemplateVars substitutes ApplicationSet template variables in two
// passes: first the escaped-brace idiom is unwrapped to plain {{name}}
// tokens, then each token is replaced from the variable map. Unresolved
// identifiers are left verbatim.
func ResolveTemplateVars(template string, vars map[string]any) string {
	unescaped := escapedBraceRe.ReplaceAllString(template, "{{$1}}")

	return templateVarRe.ReplaceAllStringFunc(unescaped, func(match string) string {
		name := strings.TrimSpace(templateVarRe.FindStringSubmatch(match)[1])
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})
}

// ExpandApplicationSet generates the set's child applications and resolves
// per-element template tokens in each child's values overlay. The overlay is
// shared by every element, so tokens like {{name}} take their value from the
// element that generated the child.
func (p *Parser) ExpandApplicationSet(set domain.ApplicationSetDescriptor) []domain.ApplicationDescriptor {
	apps := set.ToApplications(p.ChartExists)

	// ToApplications yields one child per element, in element order.
	for i := range apps {
		if i >= len(set.GeneratorElements) || len(apps[i].ValuesObject) == 0 {
			continue
		}
		elem := set.GeneratorElements[i]
		data, err := yaml.Marshal(apps[i].ValuesObject)
		if err != nil {
			continue
		}
		resolved := ResolveTemplateVars(string(data), elem.ExtraFields)
		var overlay map[string]any
		if yaml.Unmarshal([]byte(resolved), &overlay) == nil && overlay != nil {
			apps[i].ValuesObject = overlay
		}
	}
	return apps
}
