package metadata

import (
	"encoding/json"
	"strings"

	"github.com/wippyai/wasm-loader/errors"
)

// Descriptor is the optional companion document colocated with a
// module artifact. Every field may be absent; consumers degrade to
// "unknown" rather than failing.
type Descriptor struct {
	Name               string               `json:"name"`
	Version            string               `json:"version"`
	Description        string               `json:"description"`
	Functions          []FunctionDescriptor `json:"functions"`
	FunctionCategories map[string][]string  `json:"functionCategories"`
	Config             LoaderConfig         `json:"gowmConfig"`
}

// LoaderConfig is the descriptor section addressed to the loader
// itself rather than to callers.
type LoaderConfig struct {
	ReadySignal            string `json:"readySignal"`
	ErrorPattern           string `json:"errorPattern"`
	RequiredRuntimeVersion string `json:"requiredRuntimeVersion"`
}

// FunctionDescriptor documents one host-callable function.
type FunctionDescriptor struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Category     string      `json:"category"`
	Parameters   []Parameter `json:"parameters"`
	ReturnType   string      `json:"returnType"`
	Example      string      `json:"example"`
	ErrorPattern string      `json:"errorPattern"`
}

// Parameter documents one declared parameter.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
}

// Rest reports whether the parameter is rest-style (declared with a
// "..." prefix on its name or type).
func (p *Parameter) Rest() bool {
	return strings.HasPrefix(p.Name, "...") || strings.HasPrefix(p.Type, "...")
}

// Function finds a declared function by name.
func (d *Descriptor) Function(name string) (*FunctionDescriptor, bool) {
	for i := range d.Functions {
		if d.Functions[i].Name == name {
			return &d.Functions[i], true
		}
	}
	return nil, false
}

// FunctionNames returns all declared function names in order.
func (d *Descriptor) FunctionNames() []string {
	names := make([]string, 0, len(d.Functions))
	for i := range d.Functions {
		names = append(names, d.Functions[i].Name)
	}
	return names
}

// RequiredParams counts parameters that must be supplied: those
// neither optional nor rest-style.
func (f *FunctionDescriptor) RequiredParams() int {
	count := 0
	for i := range f.Parameters {
		p := &f.Parameters[i]
		if !p.Optional && !p.Rest() {
			count++
		}
	}
	return count
}

// Relaxed reports whether the parameter list is exempt from strict
// count checks: it contains a rest-style or explicitly optional entry.
func (f *FunctionDescriptor) Relaxed() bool {
	for i := range f.Parameters {
		if f.Parameters[i].Optional || f.Parameters[i].Rest() {
			return true
		}
	}
	return false
}

// Parse decodes descriptor JSON. Unknown fields are ignored and
// missing fields stay zero; only malformed JSON is an error.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(errors.PhaseMetadata, errors.KindInvalidInput, err, "decode descriptor")
	}
	return &d, nil
}
