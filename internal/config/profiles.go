package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a named set of connection parameters. Every field is optional
// in the file; command-line flags fill or override them.
type Profile struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port,omitempty"`
	User string `yaml:"user,omitempty"`
	Key  string `yaml:"key,omitempty"`
	Cert string `yaml:"cert,omitempty"`
	Path string `yaml:"path,omitempty"`
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads the YAML profile file. A missing file yields an empty
// set.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	if pf.Profiles == nil {
		pf.Profiles = map[string]Profile{}
	}
	return pf.Profiles, nil
}

// WriteDefaultProfiles creates an example profile file at path. It refuses
// to overwrite an existing file.
func WriteDefaultProfiles(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("write profiles: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	pf := profileFile{Profiles: map[string]Profile{
		"example": {
			Host: "example.com",
			Port: 22,
			User: "root",
			Key:  "~/.ssh/id_ed25519",
			Path: "/var/www",
		},
	}}
	data, err := yaml.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}

// Merge returns p with every non-zero field of over applied on top.
func (p Profile) Merge(over Profile) Profile {
	if over.Host != "" {
		p.Host = over.Host
	}
	if over.Port != 0 {
		p.Port = over.Port
	}
	if over.User != "" {
		p.User = over.User
	}
	if over.Key != "" {
		p.Key = over.Key
	}
	if over.Cert != "" {
		p.Cert = over.Cert
	}
	if over.Path != "" {
		p.Path = over.Path
	}
	return p
}

// Resolve fills defaults, expands ~ in key paths and checks that the
// profile can be used to connect.
func (p Profile) Resolve(defaultUser string) (Profile, error) {
	if p.Host == "" {
		return p, errors.New("missing host: pass -host or -profile (example: filessh -host example.com ls /var/www)")
	}
	if p.Key == "" {
		return p, errors.New("missing private key: pass -key <file>")
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.Port < 0 || p.Port > 65535 {
		return p, fmt.Errorf("invalid port %d", p.Port)
	}
	if p.User == "" {
		p.User = defaultUser
	}
	p.Key = ExpandHome(p.Key)
	p.Cert = ExpandHome(p.Cert)
	return p, nil
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
