package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/host"
	"github.com/wippyai/wasm-hostext/lifecycle"
	"github.com/wippyai/wasm-hostext/namespace"
)

// Config is the decoded configuration file.
type Config struct {
	Namespace        string       `hcl:"namespace,optional"`
	PolicyName       string       `hcl:"policy,optional"`
	MemoryLimitPages uint32       `hcl:"memory_limit_pages,optional"`
	WASI             bool         `hcl:"wasi,optional"`
	Extensions       []*Extension `hcl:"extension,block"`

	policy lifecycle.Policy
}

// Extension selects the entries one extension module installs. An empty
// Entries list means all of them.
type Extension struct {
	Name    string   `hcl:"name,label"`
	Entries []string `hcl:"entries,optional"`
}

// Default returns the configuration used when no file is given: the demo
// extension with every entry, installed into "ext" under the degraded policy.
func Default() *Config {
	return &Config{
		Namespace:  namespace.DefaultName,
		PolicyName: lifecycle.PolicyDegraded.String(),
		Extensions: []*Extension{{Name: "demo"}},
		policy:     lifecycle.PolicyDegraded,
	}
}

// Load parses the HCL file at path.
func Load(path string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, diags,
			fmt.Sprintf("parse %s", path))
	}
	return decode(file, path)
}

// LoadBytes parses src as HCL. filename only appears in diagnostics.
func LoadBytes(src []byte, filename string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, diags,
			fmt.Sprintf("parse %s", filename))
	}
	return decode(file, filename)
}

func decode(file *hcl.File, filename string) (*Config, error) {
	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, diags,
			fmt.Sprintf("decode %s", filename))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Namespace == "" {
		c.Namespace = namespace.DefaultName
	}
	p, err := lifecycle.ParsePolicy(c.PolicyName)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "policy")
	}
	c.policy = p

	seen := make(map[string]bool, len(c.Extensions))
	for _, ext := range c.Extensions {
		if seen[ext.Name] {
			return errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("extension %q declared twice", ext.Name))
		}
		seen[ext.Name] = true

		entries := make(map[string]bool, len(ext.Entries))
		for _, e := range ext.Entries {
			if entries[e] {
				return errors.InvalidInput(errors.PhaseConfig,
					fmt.Sprintf("extension %q lists entry %q twice", ext.Name, e))
			}
			entries[e] = true
		}
	}
	return nil
}

// Policy returns the validated failure policy.
func (c *Config) Policy() lifecycle.Policy {
	return c.policy
}

// Extension returns the block for name.
func (c *Config) Extension(name string) (*Extension, bool) {
	for _, ext := range c.Extensions {
		if ext.Name == name {
			return ext, true
		}
	}
	return nil, false
}

// Host returns the host settings carried by the file.
func (c *Config) Host() host.Config {
	return host.Config{
		MemoryLimitPages: c.MemoryLimitPages,
		WASI:             c.WASI,
	}
}
