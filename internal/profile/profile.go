package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the resolved configuration for one level and connection type.
// Treat it as read-only; Resolve builds a new one for every change.
type Profile struct {
	Level      Level          `json:"level"`
	Connection ConnectionType `json:"connection_type"`
	Params     Params         `json:"params"`
}

// Resolve builds the profile for level and conn with overrides merged on top.
func Resolve(level Level, conn ConnectionType, overrides Params) Profile {
	base := levelTable(level)
	base[GroupConnection] = connectionTable(conn)
	return Profile{
		Level:      level,
		Connection: conn,
		Params:     Merge(base, overrides),
	}
}

// Group returns the named parameter group.
func (p Profile) Group(name string) Params {
	return p.Params.Group(name)
}

// Document is the persisted user customisation: feature switches plus a
// group → parameter override mapping.
type Document struct {
	Features  FeatureOverrides `yaml:"features" json:"features"`
	Overrides Params           `yaml:"overrides" json:"overrides"`
}

// ParseDocument decodes a YAML (or JSON) override document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing override document: %w", err)
	}
	doc.Overrides = Clone(doc.Overrides)
	return doc, nil
}

// LoadDocument reads an override document from path. A missing file yields
// an empty document.
func LoadDocument(path string) (Document, error) {
	if path == "" {
		return Document{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("reading override document: %w", err)
	}
	return ParseDocument(data)
}
