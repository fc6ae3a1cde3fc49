// Package manifest loads and indexes the per-device JSON tool descriptions
// that tell the adapter which tags mean which tools.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexspaceteam/hackpack-robots/pkg/wire"
)

// ToolDescriptor describes one callable tool at a fixed wire tag.
type ToolDescriptor struct {
	Tag         byte
	Name        string
	Description string
	Return      *wire.Type // nil means void
	Parameters  []wire.Param
}

// Manifest is the immutable set of tools one device exposes, loaded once
// per successful device identification.
type Manifest struct {
	Name        string
	Description string
	Version     string
	tools       []ToolDescriptor
	byName      map[string]*ToolDescriptor
	byTag       map[byte]*ToolDescriptor
}

// InvalidError reports a manifest that failed validation.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "manifest invalid: " + e.Reason }

// ErrToolUnknown is returned by ByName/ByTag for an unrecognized tool.
var ErrToolUnknown = fmt.Errorf("tool unknown")

type jsonFunction struct {
	Tag    int              `json:"tag"`
	Name   string           `json:"name"`
	Desc   string           `json:"desc"`
	Return *string          `json:"return"`
	Params []jsonParameter  `json:"params"`
}

type jsonParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonManifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Functions   []jsonFunction `json:"functions"`
}

// Load reads and parses the manifest at path, validating every invariant
// from the data model before returning it.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidError{fmt.Sprintf("reading %s: %v", path, err)}
	}

	var doc jsonManifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &InvalidError{fmt.Sprintf("parsing %s: %v", path, err)}
	}

	m := &Manifest{
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		byName:      make(map[string]*ToolDescriptor),
		byTag:       make(map[byte]*ToolDescriptor),
	}

	for _, fn := range doc.Functions {
		if fn.Tag < 0 || fn.Tag > 255 {
			return nil, &InvalidError{fmt.Sprintf("tool %q: tag %d out of range [0,255]", fn.Name, fn.Tag)}
		}
		if fn.Name == "" {
			return nil, &InvalidError{fmt.Sprintf("tag %d: empty tool name", fn.Tag)}
		}
		tag := byte(fn.Tag)

		var ret *wire.Type
		if fn.Return != nil {
			t, err := parseType(*fn.Return)
			if err != nil {
				return nil, &InvalidError{fmt.Sprintf("tool %q: %v", fn.Name, err)}
			}
			ret = &t
		}

		seenParams := make(map[string]bool)
		params := make([]wire.Param, 0, len(fn.Params))
		for _, p := range fn.Params {
			if seenParams[p.Name] {
				return nil, &InvalidError{fmt.Sprintf("tool %q: duplicate parameter name %q", fn.Name, p.Name)}
			}
			seenParams[p.Name] = true
			t, err := parseType(p.Type)
			if err != nil {
				return nil, &InvalidError{fmt.Sprintf("tool %q parameter %q: %v", fn.Name, p.Name, err)}
			}
			params = append(params, wire.Param{Name: p.Name, Type: t})
		}

		if tag == 0 {
			if fn.Name != "deviceId" || ret == nil || *ret != wire.CStr || len(params) != 0 {
				return nil, &InvalidError{"tag 0 must name deviceId with return type CStr and no parameters"}
			}
		}

		if _, dup := m.byTag[tag]; dup {
			return nil, &InvalidError{fmt.Sprintf("duplicate tag %d", tag)}
		}
		if _, dup := m.byName[fn.Name]; dup {
			return nil, &InvalidError{fmt.Sprintf("duplicate tool name %q", fn.Name)}
		}

		desc := ToolDescriptor{
			Tag:         tag,
			Name:        fn.Name,
			Description: fn.Desc,
			Return:      ret,
			Parameters:  params,
		}
		m.tools = append(m.tools, desc)
		stored := &m.tools[len(m.tools)-1]
		m.byTag[tag] = stored
		m.byName[fn.Name] = stored
	}

	return m, nil
}

func parseType(s string) (wire.Type, error) {
	switch wire.Type(s) {
	case wire.I16, wire.I32, wire.CStr:
		return wire.Type(s), nil
	default:
		return "", fmt.Errorf("unknown wire type %q", s)
	}
}

// Tools returns the manifest's tools in declaration order.
func (m *Manifest) Tools() []ToolDescriptor {
	return m.tools
}

// ByName returns the tool descriptor registered under name.
func (m *Manifest) ByName(name string) (*ToolDescriptor, error) {
	d, ok := m.byName[name]
	if !ok {
		return nil, ErrToolUnknown
	}
	return d, nil
}

// ByTag returns the tool descriptor registered under tag.
func (m *Manifest) ByTag(tag byte) (*ToolDescriptor, error) {
	d, ok := m.byTag[tag]
	if !ok {
		return nil, ErrToolUnknown
	}
	return d, nil
}

// PathFor returns the expected manifest file path for deviceID under dir.
func PathFor(dir, deviceID string) string {
	return filepath.Join(dir, deviceID+".json")
}
