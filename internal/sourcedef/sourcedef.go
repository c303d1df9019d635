// Package sourcedef parses the colon-prefixed source definition string
// spec.md §6 describes: an optional source-type prefix followed by
// comma-separated key=value flags (interface, vif, fcsfail, plcpfail,
// ignoreprimary).
package sourcedef

import "strings"

// Definition is the parsed flag set of one source definition string.
type Definition struct {
	SourceType string
	flags      map[string]string
}

// Parse splits raw on an optional leading "type:" prefix and then on
// comma-separated key=value pairs. A bare key with no '=' is recorded with
// an empty value.
func Parse(raw string) Definition {
	d := Definition{flags: make(map[string]string)}

	rest := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		d.SourceType = raw[:i]
		rest = raw[i+1:]
	}

	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.Index(part, "="); i >= 0 {
			d.flags[part[:i]] = part[i+1:]
		} else {
			d.flags[part] = ""
		}
	}

	return d
}

// Get returns a flag's raw string value.
func (d Definition) Get(key string) (string, bool) {
	v, ok := d.flags[key]
	return v, ok
}

// Bool returns whether key is present with value "true".
func (d Definition) Bool(key string) bool {
	v, ok := d.flags[key]
	return ok && v == "true"
}

// Interface returns the required `interface=` flag.
func (d Definition) Interface() string {
	v, _ := d.flags["interface"]
	return v
}

// Vif returns the optional `vif=` override, if present.
func (d Definition) Vif() (string, bool) {
	v, ok := d.flags["vif"]
	return v, ok
}
