package workflow

import (
	"encoding/json"
	"fmt"
	"os"
)

// Workflow resolution and injection errors. Malformed caller input and
// a broken bundled default are distinct failure classes: the first is
// the caller's problem, the second means the deployment is broken.
var (
	ErrMalformedWorkflow  = fmt.Errorf("workflow must be a JSON object or a JSON-encoded string")
	ErrDefaultUnavailable = fmt.Errorf("Failed to load default workflow.json.")
)

// Document is an opaque ComfyUI node graph: node id -> node definition.
// Only the configured injection point is ever touched.
type Document map[string]interface{}

// Loader resolves workflow documents
type Loader struct {
	defaultPath string
	imageNode   string
	imageField  string
}

// NewLoader creates a workflow loader
func NewLoader(defaultPath, imageNode, imageField string) *Loader {
	return &Loader{
		defaultPath: defaultPath,
		imageNode:   imageNode,
		imageField:  imageField,
	}
}

// Resolve returns a deep copy of the caller-supplied workflow, or the
// bundled default when the caller supplied none. The caller's value is
// never mutated.
func (l *Loader) Resolve(callerWorkflow interface{}) (Document, error) {
	if callerWorkflow == nil {
		return l.loadDefault()
	}

	switch wf := callerWorkflow.(type) {
	case string:
		var doc Document
		if err := json.Unmarshal([]byte(wf), &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedWorkflow, err)
		}
		return doc, nil
	case map[string]interface{}:
		return deepCopy(Document(wf))
	case Document:
		return deepCopy(wf)
	default:
		return nil, ErrMalformedWorkflow
	}
}

// loadDefault reads the bundled workflow document. Failure here is a
// configuration error, not a caller input error.
func (l *Loader) loadDefault() (Document, error) {
	data, err := os.ReadFile(l.defaultPath)
	if err != nil {
		return nil, ErrDefaultUnavailable
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ErrDefaultUnavailable
	}

	return doc, nil
}

// InjectImage sets the image input of the configured node to the given
// file reference. A workflow missing the expected node or inputs map is
// rejected rather than silently forwarded.
func (l *Loader) InjectImage(doc Document, imageRef string) error {
	node, ok := doc[l.imageNode].(map[string]interface{})
	if !ok {
		return fmt.Errorf("workflow has no node %q to receive the image reference", l.imageNode)
	}

	inputs, ok := node["inputs"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("workflow node %q has no inputs map", l.imageNode)
	}

	inputs[l.imageField] = imageRef
	return nil
}

// deepCopy copies a document through a JSON round trip so later
// injection never mutates the caller's value.
func deepCopy(doc Document) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWorkflow, err)
	}

	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWorkflow, err)
	}

	return out, nil
}
