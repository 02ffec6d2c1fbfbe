package broker

import (
	"fmt"
	"strings"
)

// LuauScriptContentType is the content type advertised on a successful
// Poll response: a plugin-native Luau script body, not JSON.
const LuauScriptContentType = "text/x-luau"

// EncodeLuauTask renders a task as the plugin-native wire form:
//
//	return { id = "<uuid-string>", args = { <Variant> = { <field>=[[<string>]] , ... } } }
func EncodeLuauTask(ta ToolArguments) (string, error) {
	variant, fields, err := variantFields(ta.Args)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "return { id = %q, args = { %s = { ", ta.ID.String(), variant)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", f.name, luauLongString(f.value))
	}
	b.WriteString(" } } }")
	return b.String(), nil
}

type luauField struct {
	name  string
	value string
}

func variantFields(args ArgVariant) (string, []luauField, error) {
	switch a := args.(type) {
	case RunCommand:
		return a.variantName(), []luauField{{"command", a.Command}}, nil
	case InsertModel:
		return a.variantName(), []luauField{{"query", a.Query}}, nil
	case ExecuteLuauByName:
		return a.variantName(), []luauField{
			{"tool_name", a.ToolName},
			{"arguments_json", a.ArgumentsJSON},
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown arg variant %T", args)
	}
}

// luauLongString wraps s in a Luau long-bracket string, escalating the
// `=` level only as far as needed to avoid a premature close sequence
// appearing inside s itself.
func luauLongString(s string) string {
	level := 0
	for i := 0; i < len(s); i++ {
		if s[i] != ']' {
			continue
		}
		j := i + 1
		eq := 0
		for j < len(s) && s[j] == '=' {
			eq++
			j++
		}
		if j < len(s) && s[j] == ']' && eq+1 > level {
			level = eq + 1
		}
	}
	sep := strings.Repeat("=", level)
	return "[" + sep + "[" + s + "]" + sep + "]"
}
