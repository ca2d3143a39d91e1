// Package fetchfile reads fetch maps declared in YAML.
//
// A fetch file looks like:
//
//	page:
//	  pathname: /products/2
//	  query:
//	    tab: [reviews]
//	fetch:
//	  summary:
//	    type: catalog/CATEGORY_SUMMARY
//	    options: {parallel: true}
//	  product:
//	    type: catalog/GET_PRODUCT
//	    payload: 2
//
// Keys under fetch keep their document order, which decides the order of
// sequential resolution.
package fetchfile

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/prepare/pkg/api"
)

// File is a decoded fetch file.
type File struct {
	Page  api.Page
	Fetch *api.ActionMap
}

type rawFile struct {
	Page  rawPage   `yaml:"page"`
	Fetch yaml.Node `yaml:"fetch"`
}

type rawPage struct {
	Pathname string              `yaml:"pathname"`
	Path     string              `yaml:"path"`
	Query    map[string][]string `yaml:"query"`
}

type rawAction struct {
	Type    string     `yaml:"type"`
	Payload any        `yaml:"payload"`
	Options rawOptions `yaml:"options"`
}

type rawOptions struct {
	Parallel bool `yaml:"parallel"`
	Passive  bool `yaml:"passive"`
	Optional bool `yaml:"optional"`
}

// Load reads and parses the fetch file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read fetch file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a fetch file.
func Parse(data []byte) (File, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return File{}, fmt.Errorf("parse fetch file: %w", err)
	}

	actions, err := decodeFetch(&raw.Fetch)
	if err != nil {
		return File{}, err
	}

	page := api.Page{
		Pathname: raw.Page.Pathname,
		Path:     raw.Page.Path,
	}
	if len(raw.Page.Query) > 0 {
		page.Query = url.Values(raw.Page.Query)
	}
	if page.Path == "" && page.Pathname != "" {
		page.Path = page.Pathname
		if len(page.Query) > 0 {
			page.Path += "?" + page.Query.Encode()
		}
	}

	return File{Page: page, Fetch: actions}, nil
}

func decodeFetch(node *yaml.Node) (*api.ActionMap, error) {
	actions := api.NewActionMap()
	if node.Kind == 0 {
		return actions, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: fetch must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		if key == "" {
			return nil, fmt.Errorf("line %d: empty fetch key", keyNode.Line)
		}
		if actions.Has(key) {
			return nil, fmt.Errorf("line %d: duplicate fetch key %q", keyNode.Line, key)
		}

		var ra rawAction
		if err := valueNode.Decode(&ra); err != nil {
			return nil, fmt.Errorf("fetch %q: %w", key, err)
		}
		if ra.Type == "" {
			return nil, fmt.Errorf("fetch %q: %w", key, errors.Join(api.ErrInvalidAction, errors.New("missing type")))
		}

		actions.Set(key, api.Action{
			Type:    ra.Type,
			Payload: ra.Payload,
			Options: api.Options{
				Parallel: ra.Options.Parallel,
				Passive:  ra.Options.Passive,
				Optional: ra.Options.Optional,
			},
		})
	}
	return actions, nil
}
