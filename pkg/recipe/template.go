package recipe

import (
	"fmt"
	"regexp"
	"strings"
)

// EnvLookup resolves an environment variable by name. The boolean is false
// when the variable is absent.
type EnvLookup func(name string) (string, bool)

// providerContext holds the three template providers consulted during
// rendering: environment lookup, caller-supplied variables, and recipe
// self-metadata. It is built once per resolution call and never modified.
type providerContext struct {
	env        EnvLookup
	vars       map[string]string
	recipeName string
}

var (
	exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	callPattern = regexp.MustCompile(`^(\w+)\(\s*['"]([^'"]+)['"]\s*\)$`)
	attrPattern = regexp.MustCompile(`^recipe\.(\w+)$`)
)

// renderTemplates renders every template expression in the document against
// the provider context and returns a new document. It runs once, on the
// fully merged and deleted document: the recipe.name provider reads the
// document's own resolved name, never an ancestor's. Rendering never
// recurses into substituted values.
func renderTemplates(doc Document, pc providerContext) (Document, error) {
	rendered, err := renderValue(Map(doc), pc)
	if err != nil {
		return nil, err
	}
	return rendered.Mapping(), nil
}

func renderValue(v Value, pc providerContext) (Value, error) {
	switch v.Kind() {
	case KindMapping:
		out := make(Document, len(v.Mapping()))
		for k, child := range v.Mapping() {
			rendered, err := renderValue(child, pc)
			if err != nil {
				return Value{}, err
			}
			out[k] = rendered
		}
		return Map(out), nil
	case KindSequence:
		out := make([]Value, len(v.Sequence()))
		for i, child := range v.Sequence() {
			rendered, err := renderValue(child, pc)
			if err != nil {
				return Value{}, err
			}
			out[i] = rendered
		}
		return Seq(out...), nil
	default:
		s, ok := v.StringScalar()
		if !ok {
			return v, nil
		}
		rendered, err := renderString(s, pc)
		if err != nil {
			return Value{}, err
		}
		return Scalar(rendered), nil
	}
}

// renderString replaces each recognized expression in s exactly once. A
// string containing no recognized expression is returned unchanged, byte
// for byte.
func renderString(s string, pc providerContext) (string, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		expr := s[m[2]:m[3]]
		replacement, err := evalExpression(expr, pc)
		if err != nil {
			return "", err
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(replacement)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func evalExpression(expr string, pc providerContext) (string, error) {
	if call := callPattern.FindStringSubmatch(expr); call != nil {
		name, arg := call[1], call[2]
		switch name {
		case "env_var":
			value, ok := pc.env(arg)
			if !ok {
				return "", NewUnresolvedReferenceError(
					fmt.Sprintf("environment variable %q not found", arg))
			}
			return value, nil
		case "var":
			value, ok := pc.vars[arg]
			if !ok {
				return "", NewUnresolvedReferenceError(
					fmt.Sprintf("variable %q not provided", arg))
			}
			return value, nil
		default:
			return "", NewUnresolvedReferenceError(
				fmt.Sprintf("unknown template function %q", name))
		}
	}

	if attr := attrPattern.FindStringSubmatch(expr); attr != nil {
		switch attr[1] {
		case "name":
			return pc.recipeName, nil
		default:
			return "", NewUnresolvedReferenceError(
				fmt.Sprintf("unknown recipe attribute %q", attr[1]))
		}
	}

	return "", NewUnresolvedReferenceError(
		fmt.Sprintf("unrecognized template expression %q", expr))
}
