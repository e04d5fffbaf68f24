// Package interp implements the variable interpolation grammar: literal
// characters, the escape $$ -> $, and placeholders ${namespace.key}
// resolved against the var/env/beam/ctx namespaces. Resolution is
// single-pass, left-to-right; replacement text is never re-interpolated.
package interp

import (
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/aurora-build/aurora/internal/model"
)

// Context holds everything a placeholder can resolve against. Var and Ctx
// values are typed (cty.Value) so a numeric or boolean default survives
// until the final stringification step; Env is plain strings, since it
// only ever holds process-environment or beam-env-block values, which are
// strings by construction.
type Context struct {
	Var      map[string]cty.Value
	Env      map[string]string
	BeamName string
	Ctx      CtxStore
}

// CtxStore is the read side of the plugin-writable ctx namespace. It is
// implemented by the executor's ctx store; kept as a narrow interface here
// so the interpolator does not need to know about that store's locking.
type CtxStore interface {
	Get(key string) (cty.Value, bool)
}

// staticCtx adapts a plain map to CtxStore for contexts that do not need
// live plugin writes (e.g. condition evaluation after the ctx snapshot for
// a beam has already been taken, or tests).
type staticCtx map[string]cty.Value

func (m staticCtx) Get(key string) (cty.Value, bool) {
	v, ok := m[key]
	return v, ok
}

// StaticCtx wraps a plain map as a CtxStore.
func StaticCtx(m map[string]cty.Value) CtxStore { return staticCtx(m) }

// Interpolate resolves every ${namespace.key} placeholder in input against
// ctx, returning the substituted string. It returns a
// *model.InterpolationError on any malformed placeholder, unknown
// namespace, or unknown key.
func Interpolate(input string, ctx *Context) (string, error) {
	var out strings.Builder
	out.Grow(len(input))

	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		if c != '$' {
			out.WriteRune(c)
			i++
			continue
		}

		// c == '$'
		if i+1 >= len(runes) {
			out.WriteRune('$')
			i++
			continue
		}
		switch runes[i+1] {
		case '$':
			out.WriteRune('$')
			i += 2
		case '{':
			ref, consumed, err := parsePlaceholder(runes[i:], input)
			if err != nil {
				return "", err
			}
			value, err := resolve(ref, ctx)
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i += consumed
		default:
			out.WriteRune('$')
			i++
		}
	}

	return out.String(), nil
}

// placeholderRef is a parsed ${namespace.key} reference.
type placeholderRef struct {
	Namespace string
	Key       string
}

// parsePlaceholder parses a placeholder starting at runes[0] == '$',
// runes[1] == '{'. It returns the reference and the number of runes
// consumed (including the closing brace).
func parsePlaceholder(runes []rune, original string) (placeholderRef, int, error) {
	// Find the matching closing brace.
	end := -1
	for j := 2; j < len(runes); j++ {
		if runes[j] == '}' {
			end = j
			break
		}
	}
	if end == -1 {
		return placeholderRef{}, 0, &model.InterpolationError{
			Kind: model.MalformedPlaceholder, Input: original,
		}
	}

	body := string(runes[2:end])
	if body == "" {
		return placeholderRef{}, 0, &model.InterpolationError{
			Kind: model.MalformedPlaceholder, Input: original,
		}
	}

	namespace, key, found := strings.Cut(body, ".")
	if !found || namespace == "" || key == "" {
		return placeholderRef{}, 0, &model.InterpolationError{
			Kind: model.MalformedPlaceholder, Input: original,
		}
	}

	return placeholderRef{Namespace: namespace, Key: key}, end + 1, nil
}

func resolve(ref placeholderRef, ctx *Context) (string, error) {
	switch ref.Namespace {
	case "var":
		val, ok := ctx.Var[ref.Key]
		if !ok {
			return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: "var." + ref.Key}
		}
		return ctyToString(val, ref)
	case "env":
		val, ok := ctx.Env[ref.Key]
		if !ok {
			return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: "env." + ref.Key}
		}
		return val, nil
	case "beam":
		if ref.Key != "name" {
			return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: "beam." + ref.Key}
		}
		return ctx.BeamName, nil
	case "ctx":
		if ctx.Ctx == nil {
			return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: "ctx." + ref.Key}
		}
		val, ok := ctx.Ctx.Get(ref.Key)
		if !ok {
			return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: "ctx." + ref.Key}
		}
		return ctyToString(val, ref)
	default:
		return "", &model.InterpolationError{Kind: model.UnknownNamespace, Key: ref.Namespace}
	}
}

func ctyToString(val cty.Value, ref placeholderRef) (string, error) {
	if val.IsNull() {
		return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: ref.Namespace + "." + ref.Key}
	}
	strVal, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", &model.InterpolationError{Kind: model.UnknownVariable, Key: ref.Namespace + "." + ref.Key}
	}
	return strVal.AsString(), nil
}

// InterpolateMap interpolates every value in m, preserving keys.
func InterpolateMap(m map[string]string, ctx *Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := Interpolate(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// InterpolateAll interpolates every string in a slice, in order.
func InterpolateAll(ss []string, ctx *Context) ([]string, error) {
	out := make([]string, len(ss))
	for i, s := range ss {
		resolved, err := Interpolate(s, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}
