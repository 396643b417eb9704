package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"instashim/internal/fileutil"
)

// ErrInvalidDescriptor marks descriptors that cannot be planned.
var ErrInvalidDescriptor = errors.New("invalid build descriptor")

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Descriptor is the declarative form of the container build.
type Descriptor struct {
	Base           string   `yaml:"base"`
	SystemPackages []string `yaml:"system_packages,omitempty"`
	Workdir        string   `yaml:"workdir,omitempty"`
	Copy           Copy     `yaml:"copy"`
	Manifest       string   `yaml:"manifest,omitempty"`
	Env            EnvList  `yaml:"env,omitempty"`
	Expose         int      `yaml:"expose"`
	Entry          Entry    `yaml:"entry"`
}

// Copy describes the repository copy step.
type Copy struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
}

// Entry is the container entry command: a process manager serving an
// application object.
type Entry struct {
	Manager string `yaml:"manager"`
	App     string `yaml:"app"`
	Workers int    `yaml:"workers,omitempty"`
	Host    string `yaml:"host,omitempty"`
	// Port is the bind port; zero means the exposed port.
	Port int `yaml:"port,omitempty"`
	// WirePort binds ${PORT:-<port>} instead of a literal port. Nil means true.
	WirePort *bool `yaml:"wire_port,omitempty"`
}

// PortWired reports whether the entry command honours PORT.
func (e Entry) PortWired() bool {
	return e.WirePort == nil || *e.WirePort
}

// EnvVar is one ENV assignment.
type EnvVar struct {
	Name  string
	Value string
}

// EnvList keeps ENV assignments in declaration order. In YAML it is a
// mapping whose key order is preserved.
type EnvList []EnvVar

// UnmarshalYAML decodes a mapping node in document order.
func (l *EnvList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: env must be a mapping", node.Line)
	}
	out := make(EnvList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: env %s must be a scalar", value.Line, key.Value)
		}
		out = append(out, EnvVar{Name: key.Value, Value: value.Value})
	}
	*l = out
	return nil
}

// MarshalYAML encodes the list as an ordered mapping.
func (l EnvList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, env := range l {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: env.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: env.Value, Style: yaml.DoubleQuotedStyle},
		)
	}
	return node, nil
}

// Lookup returns the value of name.
func (l EnvList) Lookup(name string) (string, bool) {
	for _, env := range l {
		if env.Name == name {
			return env.Value, true
		}
	}
	return "", false
}

func boolPtr(v bool) *bool { return &v }

// Default returns the downloader image with PORT wired into the bind.
func Default() *Descriptor {
	return &Descriptor{
		Base:           "python:3.11-slim",
		SystemPackages: []string{"ffmpeg"},
		Workdir:        "/app",
		Copy:           Copy{Src: ".", Dest: "."},
		Manifest:       "requirements.txt",
		Env:            EnvList{{Name: "PORT", Value: "5000"}},
		Expose:         5000,
		Entry: Entry{
			Manager:  "gunicorn",
			App:      "main_web:app",
			Workers:  2,
			Host:     "0.0.0.0",
			WirePort: boolPtr(true),
		},
	}
}

// Original returns the descriptor exactly as first deployed: PORT is declared
// but the entry command binds a literal 0.0.0.0:5000.
func Original() *Descriptor {
	d := Default()
	d.Entry.WirePort = boolPtr(false)
	return d
}

// Parse decodes a YAML descriptor, rejecting unknown keys.
func Parse(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: descriptor is empty", ErrInvalidDescriptor)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	d.normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Save writes d as YAML to path.
func (d *Descriptor) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

func (d *Descriptor) normalize() {
	d.Base = strings.TrimSpace(d.Base)
	d.Workdir = strings.TrimSpace(d.Workdir)
	d.Manifest = strings.TrimSpace(d.Manifest)
	if d.Copy.Src == "" {
		d.Copy.Src = "."
	}
	if d.Copy.Dest == "" {
		d.Copy.Dest = "."
	}
	d.Entry.Manager = strings.TrimSpace(d.Entry.Manager)
	d.Entry.App = strings.TrimSpace(d.Entry.App)
	if d.Entry.Host == "" {
		d.Entry.Host = "0.0.0.0"
	}
	pkgs := d.SystemPackages[:0]
	for _, pkg := range d.SystemPackages {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	d.SystemPackages = pkgs
}

// BindPort returns the port the entry command binds when PORT is unset.
func (d *Descriptor) BindPort() int {
	if d.Entry.Port > 0 {
		return d.Entry.Port
	}
	return d.Expose
}

// Validate checks the fields every plan needs.
func (d *Descriptor) Validate() error {
	if d.Base == "" {
		return fmt.Errorf("%w: base image is required", ErrInvalidDescriptor)
	}
	if d.Expose < 1 || d.Expose > 65535 {
		return fmt.Errorf("%w: expose must be between 1 and 65535", ErrInvalidDescriptor)
	}
	if d.Entry.Port < 0 || d.Entry.Port > 65535 {
		return fmt.Errorf("%w: entry.port must be between 1 and 65535", ErrInvalidDescriptor)
	}
	if d.Entry.Manager == "" {
		return fmt.Errorf("%w: entry.manager is required", ErrInvalidDescriptor)
	}
	if !strings.Contains(d.Entry.App, ":") {
		return fmt.Errorf("%w: entry.app must look like module:object", ErrInvalidDescriptor)
	}
	if d.Entry.Workers < 0 {
		return fmt.Errorf("%w: entry.workers must not be negative", ErrInvalidDescriptor)
	}
	fields := map[string]string{
		"base":          d.Base,
		"workdir":       d.Workdir,
		"copy.src":      d.Copy.Src,
		"copy.dest":     d.Copy.Dest,
		"manifest":      d.Manifest,
		"entry.manager": d.Entry.Manager,
		"entry.app":     d.Entry.App,
		"entry.host":    d.Entry.Host,
	}
	for i, pkg := range d.SystemPackages {
		fields[fmt.Sprintf("system_packages[%d]", i)] = pkg
	}
	for name, value := range fields {
		if hasControl(value) {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidDescriptor, name)
		}
	}
	seen := make(map[string]struct{}, len(d.Env))
	for _, env := range d.Env {
		if !envNamePattern.MatchString(env.Name) {
			return fmt.Errorf("%w: invalid env name %q", ErrInvalidDescriptor, env.Name)
		}
		if hasControl(env.Value) {
			return fmt.Errorf("%w: env %s contains control characters", ErrInvalidDescriptor, env.Name)
		}
		if _, dup := seen[env.Name]; dup {
			return fmt.Errorf("%w: env %s declared twice", ErrInvalidDescriptor, env.Name)
		}
		seen[env.Name] = struct{}{}
	}
	return nil
}
