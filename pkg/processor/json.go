package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xhad/doctalk/internal/models"
)

// maxJSONDepth bounds container nesting. Decoding recurses per level.
const maxJSONDepth = 1000

type nodeKind int

const (
	objectNode nodeKind = iota
	arrayNode
	scalarNode
)

// jsonNode is an order-preserving JSON value. Objects keep their keys in
// source order, which map decoding would lose.
type jsonNode struct {
	kind     nodeKind
	keys     []string // object keys, parallel to children
	children []*jsonNode
	value    string // scalar text
}

// SegmentJSON walks a JSON document and emits one "path: value" line per
// scalar, packed into fragments. It also returns the top-level keys (array
// indices for a top-level array).
func (p *Processor) SegmentJSON(raw string) ([]models.Fragment, []string, error) {
	root, err := parseJSON(raw)
	if err != nil {
		return nil, nil, err
	}

	c := p.newChunker("\n")
	walkJSON(root, nil, "", func(path []string, section, value string) {
		line := value
		if len(path) > 0 {
			line = strings.Join(path, ".") + ": " + value
		}
		c.add(line, section)
	})

	return c.finish(), topLevelKeys(root), nil
}

func parseJSON(raw string) (*jsonNode, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	root, err := decodeNode(dec, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON: unexpected data after top-level value")
	}
	return root, nil
}

func decodeNode(dec *json.Decoder, depth int) (*jsonNode, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		if depth >= maxJSONDepth {
			return nil, fmt.Errorf("nesting exceeds %d levels", maxJSONDepth)
		}
		var node *jsonNode
		switch t {
		case '{':
			node = &jsonNode{kind: objectNode}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				child, err := decodeNode(dec, depth+1)
				if err != nil {
					return nil, err
				}
				node.keys = append(node.keys, key)
				node.children = append(node.children, child)
			}
		case '[':
			node = &jsonNode{kind: arrayNode}
			for dec.More() {
				child, err := decodeNode(dec, depth+1)
				if err != nil {
					return nil, err
				}
				node.keys = append(node.keys, strconv.Itoa(len(node.children)))
				node.children = append(node.children, child)
			}
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
		// closing delimiter
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return node, nil
	case string:
		return &jsonNode{kind: scalarNode, value: t}, nil
	case json.Number:
		return &jsonNode{kind: scalarNode, value: t.String()}, nil
	case bool:
		return &jsonNode{kind: scalarNode, value: strconv.FormatBool(t)}, nil
	case nil:
		return &jsonNode{kind: scalarNode, value: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// walkJSON visits every scalar in document order. section is the path of
// the enclosing container. Empty containers are visited as "{}" or "[]".
func walkJSON(n *jsonNode, path []string, section string, visit func(path []string, section, value string)) {
	switch n.kind {
	case scalarNode:
		visit(path, section, n.value)
	case objectNode, arrayNode:
		if len(n.children) == 0 {
			if n.kind == objectNode {
				visit(path, section, "{}")
			} else {
				visit(path, section, "[]")
			}
			return
		}
		childSection := strings.Join(path, ".")
		for i, child := range n.children {
			childPath := append(path[:len(path):len(path)], n.keys[i])
			walkJSON(child, childPath, childSection, visit)
		}
	}
}

func topLevelKeys(root *jsonNode) []string {
	if root.kind == scalarNode {
		return []string{}
	}
	keys := make([]string, len(root.keys))
	copy(keys, root.keys)
	return keys
}
