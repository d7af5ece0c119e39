package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownProtocol  = errors.New("protocol: unknown protocol")
	ErrUnknownCommand   = errors.New("protocol: unknown command")
	ErrUnknownStructure = errors.New("protocol: unknown structure")
)

// Command is a saved outbound message: a structure plus its bindings
type Command struct {
	Name           string             `yaml:"name"`
	Structure      string             `yaml:"structure"`
	Bindings       map[string]Binding `yaml:"bindings"`
	StaticBindings map[string]any     `yaml:"static_bindings"`
}

// Protocol is one device protocol: how to frame its stream and what it can send
type Protocol struct {
	Name       string                      `yaml:"name"`
	Match      HexBytes                    `yaml:"match"`
	Framing    FramingConfig               `yaml:"framing"`
	Structures map[string]MessageStructure `yaml:"structures"`
	Commands   []Command                   `yaml:"commands"`
}

// Command finds a command by name
func (p *Protocol) Command(name string) (*Command, error) {
	for i := range p.Commands {
		if p.Commands[i].Name == name {
			return &p.Commands[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommand, p.Name, name)
}

// Structure resolves the structure a command refers to
func (p *Protocol) Structure(name string) (MessageStructure, error) {
	s, ok := p.Structures[name]
	if !ok {
		return MessageStructure{}, fmt.Errorf("%w: %s/%s", ErrUnknownStructure, p.Name, name)
	}
	return s, nil
}

// Options converts a command into build options for the given runtime values
func (c *Command) Options(params map[string]any, payload []byte) BuildOptions {
	return BuildOptions{
		Params:         params,
		Bindings:       c.Bindings,
		StaticBindings: c.StaticBindings,
		Payload:        payload,
	}
}

// Project is the full set of protocols served by one gateway
type Project struct {
	Name      string     `yaml:"name"`
	Protocols []Protocol `yaml:"protocols"`
}

// LoadProject reads and validates a project file
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", path, err)
	}
	return ParseProject(data)
}

// ParseProject decodes and validates project YAML
func ParseProject(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks framing configs and that every command points at a real structure
// and every referenced element exists.
func (p *Project) Validate() error {
	seen := make(map[string]bool)
	for i := range p.Protocols {
		proto := &p.Protocols[i]
		if proto.Name == "" {
			return fmt.Errorf("protocol #%d has no name", i)
		}
		if seen[proto.Name] {
			return fmt.Errorf("duplicate protocol %s", proto.Name)
		}
		seen[proto.Name] = true

		if err := proto.Framing.Validate(); err != nil {
			return fmt.Errorf("protocol %s: %w", proto.Name, err)
		}
		for _, cmd := range proto.Commands {
			s, err := proto.Structure(cmd.Structure)
			if err != nil {
				return fmt.Errorf("command %s: %w", cmd.Name, err)
			}
			for id := range cmd.Bindings {
				if _, ok := s.Element(id); !ok {
					return fmt.Errorf("command %s: binding for unknown element %s", cmd.Name, id)
				}
			}
			for id := range cmd.StaticBindings {
				if _, ok := s.Element(id); !ok {
					return fmt.Errorf("command %s: static binding for unknown element %s", cmd.Name, id)
				}
			}
		}
	}
	return nil
}

// Protocol finds a protocol by name
func (p *Project) Protocol(name string) (*Protocol, error) {
	for i := range p.Protocols {
		if p.Protocols[i].Name == name {
			return &p.Protocols[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
}

// Match returns the first protocol whose match prefix starts header
func (p *Project) Match(header []byte) (*Protocol, bool) {
	for i := range p.Protocols {
		m := p.Protocols[i].Match
		if len(m) > 0 && bytes.HasPrefix(header, m) {
			return &p.Protocols[i], true
		}
	}
	return nil, false
}
