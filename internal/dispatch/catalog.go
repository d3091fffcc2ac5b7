package dispatch

import (
	"encoding/json"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// hostTools is the catalog of native tools the host executes on our
// behalf. The schemas mirror what the host accepts; validation here
// keeps malformed calls from ever crossing the bridge.
var hostTools = []Binding{
	{
		Def: models.ToolDef{
			Name:        "read_file",
			Description: "Read the contents of a user file.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File name as shown in the conversation"}
				},
				"required": ["path"]
			}`),
		},
		Kind:     KindHost,
		Class:    ClassFast,
		FileArgs: []string{"path"},
	},
	{
		Def: models.ToolDef{
			Name:        "fetch_url",
			Description: "Fetch a web page and return its readable text.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "Absolute http(s) URL"}
				},
				"required": ["url"]
			}`),
		},
		Kind:  KindHost,
		Class: ClassStandard,
	},
	{
		Def: models.ToolDef{
			Name:        "send_message",
			Description: "Send a message to one of the user's contacts.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"recipient": {"type": "string"},
					"body": {"type": "string"}
				},
				"required": ["recipient", "body"]
			}`),
		},
		Kind:  KindHost,
		Class: ClassStandard,
	},
	{
		Def: models.ToolDef{
			Name:        "get_location",
			Description: "Get the device's current location.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Kind:  KindHost,
		Class: ClassFast,
	},
	{
		Def: models.ToolDef{
			Name:        "transcribe_audio",
			Description: "Transcribe an audio file to text.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Audio file name"}
				},
				"required": ["file"]
			}`),
		},
		Kind:     KindHost,
		Class:    ClassMedia,
		FileArgs: []string{"file"},
	},
	{
		Def: models.ToolDef{
			Name:        "describe_image",
			Description: "Describe the contents of an image file.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Image file name"}
				},
				"required": ["file"]
			}`),
		},
		Kind:     KindHost,
		Class:    ClassMedia,
		FileArgs: []string{"file"},
	},
}

// DefaultRegistry builds the full catalog: the sandboxed code tool
// plus every native host tool.
func DefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	codeDef, err := CodeToolDef()
	if err != nil {
		return nil, err
	}
	if err := registry.Register(Binding{Def: codeDef, Kind: KindSandbox, Class: ClassStandard}); err != nil {
		return nil, err
	}
	for _, binding := range hostTools {
		if err := registry.Register(binding); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
