package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Declaration is one function advertised to the model.
type Declaration struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Behavior    string         `yaml:"behavior"`
	Parameters  map[string]any `yaml:"parameters"`
}

func (d Declaration) NonBlocking() bool { return d.Behavior == "non_blocking" }

// Catalog holds the declarations and their compiled argument schemas.
type Catalog struct {
	decls   []Declaration
	index   map[string]int
	schemas map[string]*gojsonschema.Schema
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Tools []Declaration `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		decls:   doc.Tools,
		index:   make(map[string]int, len(doc.Tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(doc.Tools)),
	}
	for i, d := range doc.Tools {
		if d.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: missing name", i)
		}
		if _, dup := c.index[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate tool %s", d.Name)
		}
		if d.Behavior != "" && !d.NonBlocking() {
			return nil, fmt.Errorf("catalog %s: unknown behavior %q", d.Name, d.Behavior)
		}
		c.index[d.Name] = i
		if d.Parameters == nil {
			continue
		}
		raw, err := json.Marshal(d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: encode schema: %w", d.Name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("catalog %s: compile schema: %w", d.Name, err)
		}
		c.schemas[d.Name] = schema
	}
	return c, nil
}

func (c *Catalog) Declarations() []Declaration { return c.decls }

func (c *Catalog) Lookup(name string) (Declaration, bool) {
	i, ok := c.index[name]
	if !ok {
		return Declaration{}, false
	}
	return c.decls[i], true
}

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Errors, "; "))
}

// ValidateArgs checks args against the declared parameter schema. Tools
// without a schema accept anything.
func (c *Catalog) ValidateArgs(name string, args map[string]any) error {
	schema, ok := c.schemas[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return &ValidationError{Tool: name, Errors: msgs}
}
