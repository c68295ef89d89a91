// Package runner persists callables to files and invokes them later with
// an input path and an output path. It is the piece of htjob that runs on
// the execute side of a callable job (see cmd/htjob-run).
package runner

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a Callable is reconstructed.
type Kind string

const (
	KindFunc   Kind = "func"   // a Go function registered by name
	KindScript Kind = "script" // a JavaScript function expression
)

// Callable is a serialisable reference to a function taking
// (inputPath, outputPath).
type Callable struct {
	Kind   Kind   `yaml:"kind" json:"kind"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// Func references a Go function registered under name in the runner's
// Registry.
func Func(name string) Callable {
	return Callable{Kind: KindFunc, Name: name}
}

// Script wraps JavaScript source evaluating to a function, e.g.
//
//	function (input, output) { writeFile(output, readFile(input).toUpperCase()) }
func Script(source string) Callable {
	return Callable{Kind: KindScript, Source: source}
}

// Validate checks that the callable can be reconstructed.
func (c Callable) Validate() error {
	switch c.Kind {
	case KindFunc:
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("func callable: name is required")
		}
	case KindScript:
		if strings.TrimSpace(c.Source) == "" {
			return fmt.Errorf("script callable: source is required")
		}
	default:
		return fmt.Errorf("unknown callable kind %q", c.Kind)
	}
	return nil
}

// String describes the callable for logs.
func (c Callable) String() string {
	if c.Kind == KindFunc {
		return "func:" + c.Name
	}
	return fmt.Sprintf("script:%d bytes", len(c.Source))
}

// WriteFile persists c as YAML at path.
func WriteFile(path string, c Callable) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal callable: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write callable %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a callable written by WriteFile.
func ReadFile(path string) (Callable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Callable{}, fmt.Errorf("read callable %s: %w", path, err)
	}
	var c Callable
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Callable{}, fmt.Errorf("parse callable %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Callable{}, fmt.Errorf("callable %s: %w", path, err)
	}
	return c, nil
}
