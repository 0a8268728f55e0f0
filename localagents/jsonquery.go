package localagents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/contenox/planner/agentregistry"
)

const JSONQueryName = "jsonquery"

type jsonQueryArgs struct {
	Path     string          `json:"path"`
	Document json.RawMessage `json:"document"`
}

// JSONQuery evaluates a JSONPath expression against args.document.
// A path without a leading "$" is taken relative to the root.
type JSONQuery struct{}

func NewJSONQuery() agentregistry.Capability {
	return &JSONQuery{}
}

func (q *JSONQuery) Execute(ctx context.Context, inv agentregistry.Invocation) (agentregistry.Result, error) {
	var args jsonQueryArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return fail("jsonquery: invalid args: %v", err), nil
	}
	path := strings.TrimSpace(args.Path)
	if path == "" {
		return fail("jsonquery: missing 'path' argument"), nil
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	var doc any
	if err := json.Unmarshal(args.Document, &doc); err != nil {
		return fail("jsonquery: document is not valid JSON: %v", err), nil
	}
	value, err := jsonpath.Get(path, doc)
	if err != nil {
		return fail("jsonquery: %s: %v", path, err), nil
	}
	out, err := json.Marshal(value)
	if err != nil {
		return agentregistry.Result{}, err
	}
	return agentregistry.Result{Success: true, Output: out}, nil
}

var _ agentregistry.Capability = (*JSONQuery)(nil)
