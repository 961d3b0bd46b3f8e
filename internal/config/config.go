// Package config loads and validates the YAML configuration for one or
// more virtual servers (§4.12), in the style of the teacher's
// mapstructure usage (http/internal/util/util.go imports
// "github.com/mitchellh/mapstructure" for struct decoding; aofei-air's
// Config struct tags its fields the same way) generalized into a
// two-pass yaml.Unmarshal-into-map then mapstructure.Decode pipeline so
// the routing table's ordered list-of-single-pair-maps shape survives
// decoding untouched.
package config

import (
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/curol/staticd/internal/auth"
	"github.com/curol/staticd/internal/dirlist"
	"github.com/curol/staticd/internal/rewrite"
)

// TLS holds the certificate/key paths for one virtual server.
type TLS struct {
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// Log holds the optional logging configuration.
type Log struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	AccessLogPath string `mapstructure:"access_log_path"`
}

// realmSpec is the raw, pre-compiled shape of one basic_auth entry.
type realmSpec struct {
	Credentials []string `mapstructure:"credentials"`
	Routes      []string `mapstructure:"routes"`
}

// rawConfig is the mapstructure-decoded shape of everything except the
// routing table, which is walked by hand (see Load).
type rawConfig struct {
	Hosts        []string             `mapstructure:"hosts"`
	Address      string               `mapstructure:"address"`
	FileRoot     string               `mapstructure:"file_root"`
	TemplateRoot string               `mapstructure:"template_root"`
	DirListing   dirlistSpec          `mapstructure:"dir_listing"`
	CGIExecutors map[string]string    `mapstructure:"cgi_executors"`
	BasicAuth    map[string]realmSpec `mapstructure:"basic_auth"`
	TLS          *TLS                 `mapstructure:"tls"`
	Log          *Log                 `mapstructure:"log"`
}

type dirlistSpec struct {
	Enabled      bool `mapstructure:"enabled"`
	AllViewable  bool `mapstructure:"all_viewable"`
	ShowSymlinks bool `mapstructure:"show_symlinks"`
	ShowHidden   bool `mapstructure:"show_hidden"`
}

// VirtualServer is the compiled, immutable configuration for one
// virtual host (§3 "Config (virtual server)"). Built once at startup by
// Load and shared by reference across every connection goroutine.
type VirtualServer struct {
	Hosts           []string
	Address         string
	FileRoot        string
	TemplateRoot    string
	RoutingTable    *rewrite.Table
	CGIExecutors    map[string]string
	BasicAuth       []auth.Realm
	DirListing      dirlist.Options
	ListingTemplate *template.Template
	ErrorTemplate   *template.Template
	TLS             *TLS
	Log             *Log
	SourceFile      string
}

// MatchesHost reports whether host satisfies one of v's configured
// hosts, honoring "*" as a wildcard.
func (v *VirtualServer) MatchesHost(host string) bool {
	for _, h := range v.Hosts {
		if h == "*" || strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Load reads and validates the YAML files named in paths, returning one
// VirtualServer per file. Loading fails closed: the first validation
// error encountered anywhere aborts the whole load.
func Load(paths []string) ([]*VirtualServer, error) {
	var servers []*VirtualServer
	for _, path := range paths {
		vs, err := loadOne(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		servers = append(servers, vs)
	}
	if err := validateAddresses(servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func loadOne(path string) (*VirtualServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, err
	}

	var raw rawConfig
	if err := mapstructure.Decode(generic, &raw); err != nil {
		return nil, err
	}

	table, err := compileRoutingTable(generic["routing_table"], path)
	if err != nil {
		return nil, err
	}

	realms, err := compileRealms(raw.BasicAuth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if raw.FileRoot != "" {
		if fi, err := os.Stat(raw.FileRoot); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("file_root %q does not exist or is not a directory", raw.FileRoot)
		}
	}
	if raw.TemplateRoot != "" {
		if fi, err := os.Stat(raw.TemplateRoot); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("template_root %q does not exist or is not a directory", raw.TemplateRoot)
		}
	}
	for ext, command := range raw.CGIExecutors {
		if _, err := exec.LookPath(firstWord(command)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cgi_executors[%s]=%q not found on PATH\n", ext, command)
		}
	}

	vs := &VirtualServer{
		Hosts:        raw.Hosts,
		Address:      raw.Address,
		FileRoot:     raw.FileRoot,
		TemplateRoot: raw.TemplateRoot,
		RoutingTable: table,
		CGIExecutors: raw.CGIExecutors,
		BasicAuth:    realms,
		DirListing: dirlist.Options{
			Enabled:      raw.DirListing.Enabled,
			AllViewable:  raw.DirListing.AllViewable,
			ShowSymlinks: raw.DirListing.ShowSymlinks,
			ShowHidden:   raw.DirListing.ShowHidden,
		},
		TLS:        raw.TLS,
		Log:        raw.Log,
		SourceFile: path,
	}
	if vs.Log == nil {
		vs.Log = &Log{Level: "info", Format: "console"}
	}
	if path := vs.ListingTemplatePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			tmpl, err := template.ParseFiles(path)
			if err != nil {
				return nil, fmt.Errorf("dir_listing template %q: %w", path, err)
			}
			vs.ListingTemplate = tmpl
		}
	}
	if path := vs.ErrorTemplatePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			tmpl, err := template.ParseFiles(path)
			if err != nil {
				return nil, fmt.Errorf("error template %q: %w", path, err)
			}
			vs.ErrorTemplate = tmpl
		}
	}
	return vs, nil
}

// compileRoutingTable walks the raw YAML sequence by hand so insertion
// order survives: a struct-tagged decode into a map would not preserve
// the list-of-single-pair-maps order the spec's routing table relies on.
func compileRoutingTable(raw interface{}, sourceFile string) (*rewrite.Table, error) {
	seq, ok := raw.([]interface{})
	if !ok {
		return &rewrite.Table{}, nil
	}
	table := &rewrite.Table{}
	for i, item := range seq {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("routing_table[%d]: not a mapping", i)
		}
		for spec, replacement := range entry {
			repl, _ := replacement.(string)
			rule, err := rewrite.Compile(spec, repl)
			if err != nil {
				return nil, fmt.Errorf("%s: routing_table[%d] (%q): %w", sourceFile, i, spec, err)
			}
			table.Rules = append(table.Rules, rule)
		}
	}
	return table, nil
}

// compileRealms converts the raw basic_auth map into auth.Realm values,
// validating each credential line's bcrypt hash prefix.
func compileRealms(raw map[string]realmSpec) ([]auth.Realm, error) {
	var realms []auth.Realm
	for name, spec := range raw {
		creds := make(map[string]string, len(spec.Credentials))
		for _, line := range spec.Credentials {
			user, hash, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("basic_auth[%s]: malformed credential %q", name, line)
			}
			if !looksLikeBcryptHash(hash) {
				return nil, fmt.Errorf("basic_auth[%s]: credential for %q is not a bcrypt hash", name, user)
			}
			creds[user] = hash
		}
		routes := make([]*rewrite.Rule, 0, len(spec.Routes))
		for _, routeSpec := range spec.Routes {
			rule, err := rewrite.Compile(routeSpec, "")
			if err != nil {
				return nil, fmt.Errorf("basic_auth[%s]: bad route spec %q: %w", name, routeSpec, err)
			}
			r := rule
			routes = append(routes, &r)
		}
		realms = append(realms, auth.Realm{
			Name:        name,
			Credentials: creds,
			Matches: func(routes []*rewrite.Rule) func(string) bool {
				return func(target string) bool {
					for _, r := range routes {
						if r.Spec.MatchString(target) {
							return true
						}
					}
					return false
				}
			}(routes),
		})
	}
	return realms, nil
}

func looksLikeBcryptHash(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}

// validateAddresses ensures every server names an address. Servers with
// differing addresses are not rejected: the caller groups servers by
// address (GroupByAddress) and binds one listener per distinct address.
func validateAddresses(servers []*VirtualServer) error {
	for _, vs := range servers {
		if vs.Address == "" {
			return fmt.Errorf("config %s: missing address", vs.SourceFile)
		}
	}
	return nil
}

// GroupByAddress returns servers bucketed by their configured address,
// for the connection loop to bind one listener per distinct address.
func GroupByAddress(servers []*VirtualServer) map[string][]*VirtualServer {
	groups := make(map[string][]*VirtualServer)
	for _, vs := range servers {
		groups[vs.Address] = append(groups[vs.Address], vs)
	}
	return groups
}

// ListingTemplatePath returns the conventional path to a virtual
// server's "dirlisting.html" under its template root, or "" if
// TemplateRoot is unset.
func (v *VirtualServer) ListingTemplatePath() string {
	if v.TemplateRoot == "" {
		return ""
	}
	return filepath.Join(v.TemplateRoot, "dirlisting.html")
}

// ErrorTemplatePath returns the conventional path to a virtual
// server's "error.html" under its template root, or "" if TemplateRoot
// is unset. Mirrors ListingTemplatePath (§4.12's template_root applies
// to both the directory listing and the error page, per §7's
// "templated error page" generation-time output).
func (v *VirtualServer) ErrorTemplatePath() string {
	if v.TemplateRoot == "" {
		return ""
	}
	return filepath.Join(v.TemplateRoot, "error.html")
}
