package presets

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/toolink/admit/limiter"
)

// Key function names accepted in override files
const (
	KeyAddress        = "address"
	KeyAddressAccount = "address+account"
)

// Override changes fields of a preset, or defines a new one. Nil fields keep
// the current value.
type Override struct {
	Window       *time.Duration `mapstructure:"window"`
	MaxRequests  *int64         `mapstructure:"max_requests"`
	Algorithm    *string        `mapstructure:"algorithm"`
	PreciseReset *bool          `mapstructure:"precise_reset"`
	Key          *string        `mapstructure:"key"`
}

// File is the layout of a presets file:
//
//	presets:
//	  login:
//	    window: 10m
//	    max_requests: 3
//	    algorithm: sliding
type File struct {
	Presets map[string]Override `mapstructure:"presets"`
}

// LoadOverrides reads and parses a presets file.
func LoadOverrides(path string) (map[string]Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	overrides, err := ParseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("presets file %s: %w", path, err)
	}
	return overrides, nil
}

// ParseOverrides decodes YAML into overrides. Unknown fields are rejected.
func ParseOverrides(data []byte) (map[string]Override, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", limiter.ErrInvalidConfiguration, err)
	}

	var file File
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           &file,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", limiter.ErrInvalidConfiguration, err)
	}
	return file.Presets, nil
}

// Apply returns a copy of presets with overrides merged in. Overrides naming
// an unknown preset define a new one and must then set every field.
func Apply(presets []Preset, overrides map[string]Override, keys Keys) ([]Preset, error) {
	out := append([]Preset(nil), presets...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.Name] = i
	}

	// stable order for new presets so errors are reproducible
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := overrides[name]
		i, ok := index[name]
		if !ok {
			out = append(out, Preset{Name: name, KeyFunc: keys.address()})
			i = len(out) - 1
			index[name] = i
		}
		p := &out[i]

		if o.Window != nil {
			p.Window = *o.Window
		}
		if o.MaxRequests != nil {
			p.MaxRequests = *o.MaxRequests
		}
		if o.Algorithm != nil {
			p.Algorithm = limiter.ParseKind(*o.Algorithm)
		}
		if o.PreciseReset != nil {
			p.PreciseReset = *o.PreciseReset
		}
		if o.Key != nil {
			switch *o.Key {
			case KeyAddress:
				p.KeyFunc = keys.address()
			case KeyAddressAccount:
				p.KeyFunc = keys.withAccount()
			default:
				return nil, &limiter.ValidationError{Scope: name, Field: "key", Message: fmt.Sprintf("must be %q or %q, got %q", KeyAddress, KeyAddressAccount, *o.Key)}
			}
		}
	}
	return out, nil
}
