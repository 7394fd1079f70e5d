package templates

import (
	"fmt"
	"strings"
)

// The mini-language consists of {{key}} substitutions and
// {{#if var}}...{{/if}} / {{#unless var}}...{{/unless}} blocks. Blocks
// nest. Parsing produces an AST evaluated against a data map, which keeps
// nested block boundaries unambiguous.

type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeVariable
	nodeIf
	nodeUnless
)

type node struct {
	kind     nodeKind
	text     string // literal text or variable/condition key
	children []node // block body for if/unless
}

const (
	tokenOpen  = "{{"
	tokenClose = "}}"
)

// Parse compiles a template source into an AST.
func Parse(src string) ([]node, error) {
	nodes, rest, err := parseNodes(src, "")
	if err != nil {
		return nil, err
	}
	if rest != "" {
		// Only a stray closing tag leaves input behind at top level.
		return nil, fmt.Errorf("%w: unexpected closing tag", ErrMalformedTemplate)
	}
	return nodes, nil
}

// parseNodes consumes input until it hits the closing tag of the enclosing
// block (terminator) or the end of input. It returns the parsed nodes and
// the unconsumed remainder starting after the terminator.
func parseNodes(src, terminator string) ([]node, string, error) {
	var nodes []node

	for src != "" {
		open := strings.Index(src, tokenOpen)
		if open < 0 {
			nodes = append(nodes, node{kind: nodeLiteral, text: src})
			src = ""
			break
		}
		if open > 0 {
			nodes = append(nodes, node{kind: nodeLiteral, text: src[:open]})
			src = src[open:]
		}

		end := strings.Index(src, tokenClose)
		if end < 0 {
			// Unterminated tag renders as literal text.
			nodes = append(nodes, node{kind: nodeLiteral, text: src})
			src = ""
			break
		}

		tag := src[len(tokenOpen):end]
		rest := src[end+len(tokenClose):]

		switch {
		case terminator != "" && tag == terminator:
			return nodes, rest, nil

		case tag == "/if" || tag == "/unless":
			if terminator == "" {
				return nil, src, fmt.Errorf("%w: closing {{%s}} without opening block", ErrMalformedTemplate, tag)
			}
			return nil, "", fmt.Errorf("%w: expected {{%s}}, found {{%s}}", ErrMalformedTemplate, terminator, tag)

		case strings.HasPrefix(tag, "#if "):
			key := strings.TrimSpace(strings.TrimPrefix(tag, "#if "))
			children, remainder, err := parseNodes(rest, "/if")
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, node{kind: nodeIf, text: key, children: children})
			src = remainder

		case strings.HasPrefix(tag, "#unless "):
			key := strings.TrimSpace(strings.TrimPrefix(tag, "#unless "))
			children, remainder, err := parseNodes(rest, "/unless")
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, node{kind: nodeUnless, text: key, children: children})
			src = remainder

		default:
			nodes = append(nodes, node{kind: nodeVariable, text: strings.TrimSpace(tag)})
			src = rest
		}
	}

	if terminator != "" {
		return nil, "", fmt.Errorf("%w: missing closing tag for block", ErrMalformedTemplate)
	}
	return nodes, "", nil
}

// Render evaluates an AST against a data map.
func render(nodes []node, data map[string]any) string {
	var b strings.Builder
	renderInto(&b, nodes, data)
	return b.String()
}

func renderInto(b *strings.Builder, nodes []node, data map[string]any) {
	for _, n := range nodes {
		switch n.kind {
		case nodeLiteral:
			b.WriteString(n.text)
		case nodeVariable:
			if v, ok := lookup(data, n.text); ok {
				fmt.Fprintf(b, "%v", v)
			} else {
				// Unresolved keys stay literal so broken data is visible
				// in the output instead of silently blanked.
				b.WriteString(tokenOpen + n.text + tokenClose)
			}
		case nodeIf:
			if truthy(data, n.text) {
				renderInto(b, n.children, data)
			}
		case nodeUnless:
			if !truthy(data, n.text) {
				renderInto(b, n.children, data)
			}
		}
	}
}

// lookup resolves a possibly dotted key ("user.firstName") against nested
// maps. A flat key containing dots wins over traversal.
func lookup(data map[string]any, key string) (any, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}

	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return nil, false
	}

	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// truthy evaluates block conditions against the original data map:
// missing keys, nil, false, zero numbers and empty strings are falsy,
// everything else is truthy.
func truthy(data map[string]any, key string) bool {
	v, ok := lookup(data, key)
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	}
	return true
}

// RenderString compiles and evaluates a standalone template source. Used
// by automation-rule personalization where content lives in the rule, not
// in a stored template.
func RenderString(src string, data map[string]any) (string, error) {
	nodes, err := Parse(src)
	if err != nil {
		return "", err
	}
	return render(nodes, data), nil
}
