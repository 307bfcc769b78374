package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/creasty/defaults"

	_ "embed"
)

// Environment variables overriding the policy section. Both take a
// comma-separated list of CIDR blocks. A non-empty deny list switches
// the policy to deny-list mode regardless of the allow list.
const (
	EnvAllowedNetworks = "PORTLENS_ALLOWED_NETWORKS"
	EnvDeniedNetworks  = "PORTLENS_DENIED_NETWORKS"
)

// Config is the whole port-lens configuration.
type Config struct {
	Version int           `json:"version"` // fixed 0 for now
	Server  Server        `json:"server"`
	Policy  Policy        `json:"policy"`
	Scan    Scan          `json:"scan"`
	Watch   *Watch        `json:"watch,omitempty" yaml:"watch,omitempty"`
	Service ServiceFields `json:"service"`
}

// Server is the http dashboard configuration.
type Server struct {
	Addr      string `json:"addr" default:":8280"`
	StateFile string `json:"state_file" yaml:"state_file" default:"port-lens.sqlite"`
}

// Policy lists the networks which may (allow) or may not (deny) be
// scanned. A non-empty deny list disables the allow check entirely.
type Policy struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Scan holds the probing defaults applied when a request does not
// specify its own values.
type Scan struct {
	Ports          string  `json:"ports,omitempty" yaml:"ports,omitempty"` // "22,80,8000-8100", empty means the builtin default list
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds" default:"0.8"`
	MaxConcurrency int     `json:"max_concurrency" yaml:"max_concurrency" default:"200"`
}

// Watch configures the recurring scan of fixed targets. Exactly one of
// Cron or Duration must be set.
type Watch struct {
	Targets  []string `json:"targets"`
	Cron     string   `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string   `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type ServiceFields struct {
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

func (p Policy) IsZero() bool {
	return len(p.Allow) == 0 && len(p.Deny) == 0
}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx    *cue.Context
	cueConfig cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	cueConfig = compiled.LookupPath(cue.ParsePath("#Config"))
	if cueConfig.Err() != nil {
		panic(cueConfig.Err())
	}
	if err := cueConfig.Validate(); err != nil {
		panic(err)
	}
}

// LoadConfig validates YAML from r against the CUE schema and decodes
// it to Config. Missing values get their defaults, ${ENV} references in
// string fields are expanded and the policy environment variables are
// applied last.
// NOT SAFE for multiple goroutines.
// Returns CueError when the validation phase fails.
func LoadConfig(r io.Reader) (Config, error) {
	var ret Config

	b, err := io.ReadAll(r)
	if err != nil {
		return ret, err
	}

	yamlFile, err := yaml.Extract("config.yaml", bytes.NewReader(b))
	if err != nil {
		return ret, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := cueConfig.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return ret, CueError{cuerr: err}
	}

	if err := unified.Decode(&ret); err != nil {
		return ret, err
	}

	if err := defaults.Set(&ret); err != nil {
		return ret, fmt.Errorf("applying defaults: %w", err)
	}

	expandEnvValue(reflect.ValueOf(&ret).Elem())
	ret.Policy = policyFromEnv(ret.Policy)
	return ret, nil
}

// LoadConfigFromPath loads the config from a file, "-" means stdin.
func LoadConfigFromPath(path string) (Config, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("error opening config file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				slog.Error("can't close config file", "path", path, "error", err)
			}
		}()
		r = f
	}
	ret, err := LoadConfig(r)
	if err != nil {
		return ret, fmt.Errorf("parsing config: %w", err)
	}
	return ret, nil
}

// DefaultConfig returns the configuration used when no config file
// exists: http dashboard on :8280, loopback-only allow list, builtin
// default ports.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// struct tags are static, a failure is a programmer's mistake
		panic(err)
	}
	cfg.Policy = policyFromEnv(Policy{
		Allow: []string{"127.0.0.1/32", "::1/128"},
	})
	return cfg
}

func policyFromEnv(p Policy) Policy {
	if v, ok := os.LookupEnv(EnvAllowedNetworks); ok && v != "" {
		p.Allow = splitCSV(v)
	}
	if v, ok := os.LookupEnv(EnvDeniedNetworks); ok && v != "" {
		p.Deny = splitCSV(v)
	}
	return p
}

func splitCSV(s string) []string {
	var ret []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

func expandEnvValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if f.CanSet() || f.Kind() == reflect.Struct {
				expandEnvValue(f)
			}
		}
	case reflect.Pointer:
		if !v.IsNil() {
			expandEnvValue(v.Elem())
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.String {
			for i := 0; i < v.Len(); i++ {
				v.Index(i).SetString(os.ExpandEnv(v.Index(i).String()))
			}
			return
		}
		for i := 0; i < v.Len(); i++ {
			expandEnvValue(v.Index(i))
		}
	default:
		// other kinds ignored
	}
}

// CueError provides more user friendly validation errors on top of
// those generated by cuelang itself
type CueError struct {
	cuerr error
}

// Error implements error interface, returns the string content of underlying
// cue error
func (e CueError) Error() string {
	return e.cuerr.Error()
}

// Unwrap allows one to get the original error via errors.As
func (e CueError) Unwrap() error {
	return e.cuerr
}

var _ error = CueError{cuerr: errors.New("")}
