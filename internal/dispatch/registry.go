package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// Kind says where a tool executes. The set is closed: a binding is
// either run in the local sandbox or forwarded to the host, never both
// and never anything else.
type Kind int

const (
	KindSandbox Kind = iota
	KindHost
)

// TimeoutClass groups tools by how long they are allowed to run.
type TimeoutClass int

const (
	ClassFast     TimeoutClass = iota // lookups, small reads
	ClassStandard                     // network fetches, messaging
	ClassMedia                        // image/audio work on the host
)

func (c TimeoutClass) Duration() time.Duration {
	switch c {
	case ClassFast:
		return 10 * time.Second
	case ClassMedia:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// Binding ties a tool definition to its execution target and time
// budget.
type Binding struct {
	Def   models.ToolDef
	Kind  Kind
	Class TimeoutClass
	// FileArgs names arguments that hold file references and are
	// resolved from basenames to full paths before dispatch.
	FileArgs []string
}

// Registry is the closed catalog of tools the model may call.
type Registry struct {
	bindings map[string]Binding
	schemas  map[string]*schemavalidate.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		schemas:  make(map[string]*schemavalidate.Schema),
	}
}

// Register validates and adds a binding. The input schema must compile
// and every required property must be declared, so a malformed catalog
// fails at startup rather than mid-conversation.
func (r *Registry) Register(b Binding) error {
	if b.Def.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := r.bindings[b.Def.Name]; exists {
		return fmt.Errorf("tool %s already registered", b.Def.Name)
	}
	if err := checkRequiredDeclared(b.Def.InputSchema); err != nil {
		return fmt.Errorf("tool %s: %w", b.Def.Name, err)
	}
	compiler := schemavalidate.NewCompiler()
	url := "schema:///" + b.Def.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(b.Def.InputSchema)); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", b.Def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", b.Def.Name, err)
	}
	r.bindings[b.Def.Name] = b
	r.schemas[b.Def.Name] = schema
	return nil
}

// Lookup returns the binding for name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	b, ok := r.bindings[name]
	return b, ok
}

// ValidateInput checks raw input against the tool's compiled schema.
func (r *Registry) ValidateInput(name string, input json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool %s", name)
	}
	var value any
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("input rejected: %w", err)
	}
	return nil
}

// Defs returns the catalog in a stable order for the model request.
func (r *Registry) Defs() []models.ToolDef {
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]models.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.bindings[name].Def)
	}
	return defs
}

// checkRequiredDeclared rejects schemas whose required list names a
// property that properties does not declare. Such schemas accept
// nothing the model could ever produce sensibly.
func checkRequiredDeclared(raw json.RawMessage) error {
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; !ok {
			return fmt.Errorf("required property %q is not declared", name)
		}
	}
	return nil
}

// codeParams is the input shape of the sandboxed code tool; its schema
// is derived rather than hand-written so the two cannot drift.
type codeParams struct {
	Code string `json:"code" jsonschema:"description=The script to execute"`
}

// CodeToolDef builds the definition of the sandboxed code tool.
func CodeToolDef() (models.ToolDef, error) {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(&codeParams{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return models.ToolDef{}, fmt.Errorf("reflect code tool schema: %w", err)
	}
	return models.ToolDef{
		Name:        "run_code",
		Description: "Execute a script in the sandboxed interpreter and return its output and final value.",
		InputSchema: raw,
	}, nil
}
