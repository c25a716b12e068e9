// Package ingest loads project trees from fixture files into a forest store.
//
// A fixture is a nested document, JSON or YAML:
//
//	projects:
//	  - id: P1
//	    kind: project
//	    attributes: {name: Kitchen remodel}
//	    children:
//	      - kind: room
//	        id: R1
//	        children: [...]
//
// Nodes without an id get a random UUID. The kind of a project entry may be
// omitted.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/forest"
	"gopkg.in/yaml.v3"
)

// Entry is one node of a fixture document.
type Entry struct {
	Kind       string         `json:"kind" yaml:"kind"`
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children   []Entry        `json:"children,omitempty" yaml:"children,omitempty"`
}

// Document is the root of a fixture file.
type Document struct {
	Projects []Entry `json:"projects" yaml:"projects"`
}

// Parse decodes a fixture by file extension (.json, .yaml, .yml).
func Parse(path string, data []byte) (*Document, error) {
	var doc Document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", ext)
	}
	return &doc, nil
}

// Flatten returns the nodes of doc, parents before children, with ids
// assigned and the kind ladder checked.
func (d *Document) Flatten() ([]*forest.Node, error) {
	var out []*forest.Node
	var walk func(e Entry, parent forest.Ref, path string) error
	walk = func(e Entry, parent forest.Ref, path string) error {
		kind := api.KindProject
		if e.Kind != "" {
			k, err := api.ParseKind(e.Kind)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			kind = k
		}
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		n := &forest.Node{Ref: forest.Ref{Kind: kind, ID: id}, Parent: parent, Attributes: e.Attributes}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, n)
		for i, c := range e.Children {
			if err := walk(c, n.Ref, fmt.Sprintf("%s/%s[%d]", path, kind.Short(), i)); err != nil {
				return err
			}
		}
		return nil
	}
	for i, p := range d.Projects {
		if err := walk(p, forest.Ref{}, fmt.Sprintf("projects[%d]", i)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Import loads the fixture at path into store. Every imported node ends up
// dirty, ready for the next recalculation.
func Import(ctx context.Context, store forest.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read fixture: %w", err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return 0, err
	}
	nodes, err := doc.Flatten()
	if err != nil {
		return 0, err
	}
	if err := store.PutBatch(ctx, nodes); err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}
	log.Printf("Ingest: imported %d nodes in %d projects from %s", len(nodes), len(doc.Projects), path)
	return len(nodes), nil
}
