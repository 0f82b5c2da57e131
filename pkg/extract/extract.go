// Package extract pulls named fields out of unstructured command output.
package extract

import "regexp"

// Field names a value extracted from command output.
type Field string

const (
	SwitchName   Field = "switchName"
	VMIP         Field = "vmIp"
	Gateway      Field = "gateway"
	PrefixLength Field = "prefix"
	InetAddress  Field = "inet"
)

// Pattern binds a field to the expression that finds it. The first capture group is the value.
type Pattern struct {
	Field Field
	Expr  *regexp.Regexp
}

// SwitchPatterns read the network parameters printed by the VM switch script.
var SwitchPatterns = []Pattern{
	{SwitchName, regexp.MustCompile(`VMSwitchName: ([^,]+),`)},
	{VMIP, regexp.MustCompile(`EFLOWVMIP: ([\d.]+),`)},
	{Gateway, regexp.MustCompile(`GatewayIP: ([\d.]+),`)},
	{PrefixLength, regexp.MustCompile(`EFLOWVMIPV4PrefixLength: ([\d.]+)`)},
}

// AddressPatterns read the IPv4 address from `ip -4 addr` output.
var AddressPatterns = []Pattern{
	{InetAddress, regexp.MustCompile(`inet\s+(\d+\.\d+\.\d+\.\d+)`)},
}

// Fields holds extracted values. Every declared field is present; unmatched ones are empty.
type Fields map[Field]string

// Get returns the value or "" when the field was not found.
func (f Fields) Get(field Field) string { return f[field] }

// Lookup reports whether the field was found with a non-empty value.
func (f Fields) Lookup(field Field) (string, bool) {
	v := f[field]
	return v, v != ""
}

// Or returns the value, or fallback when it is unknown.
func (f Fields) Or(field Field, fallback string) string {
	if v, ok := f.Lookup(field); ok {
		return v
	}
	return fallback
}

// Extractor applies a fixed table of patterns.
type Extractor struct {
	patterns []Pattern
}

// New creates an extractor over the given table.
func New(patterns ...Pattern) *Extractor {
	return &Extractor{patterns: patterns}
}

// Extract runs every pattern against raw. The first match per field wins.
func (e *Extractor) Extract(raw string) Fields {
	out := make(Fields, len(e.patterns))
	for _, p := range e.patterns {
		if _, seen := out[p.Field]; seen && out[p.Field] != "" {
			continue
		}
		out[p.Field] = ""
		if m := p.Expr.FindStringSubmatch(raw); len(m) > 1 {
			out[p.Field] = m[1]
		}
	}
	return out
}
