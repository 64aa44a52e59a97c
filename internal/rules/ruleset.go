// Package rules maps declarative validation rule sets, the
// "required|string|max:255" strings handlers validate requests with, onto
// OpenAPI schema trees.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSet is the rules applied to one field. Authors write either a pipe
// string ("required|string|max:255") or a list; both decode to the same
// token slice, except that list entries are never split so a regex rule may
// contain pipes.
type RuleSet []string

// Split breaks a pipe string into its rule tokens, trimming whitespace and
// dropping empty entries.
func Split(s string) RuleSet {
	parts := strings.Split(s, "|")
	out := make(RuleSet, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse accepts the forms a rule set appears in after generic decoding:
// a string, a []string, a []any of strings, or a RuleSet.
func Parse(v any) (RuleSet, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return Split(t), nil
	case RuleSet:
		return t, nil
	case []string:
		return RuleSet(t), nil
	case []any:
		out := make(RuleSet, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("rule list entry %v is %T, want string", e, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported rule set type %T", v)
	}
}

// UnmarshalJSON decodes either form.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*rs = Split(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("rule set must be a string or a list of strings: %w", err)
	}
	*rs = RuleSet(list)
	return nil
}

// UnmarshalYAML decodes either form.
func (rs *RuleSet) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		*rs = Split(s)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("rule set must be a string or a list of strings: %w", err)
	}
	*rs = RuleSet(list)
	return nil
}

// FromStringMap adapts the raw field→tokens form the source digest records
// into a rule map. Values are adopted verbatim.
func FromStringMap(m map[string][]string) map[string]RuleSet {
	out := make(map[string]RuleSet, len(m))
	for k, v := range m {
		out[k] = RuleSet(v)
	}
	return out
}

// knownKeywords lists every rule keyword the mapper understands, including
// the ones that carry no schema meaning. Other packages use it to decide
// whether a string map found in source is a validation rule map at all.
var knownKeywords = map[string]struct{}{
	"required": {}, "nullable": {}, "sometimes": {}, "confirmed": {},
	"filled": {}, "present": {}, "bail": {}, "distinct": {}, "exists": {},
	"unique": {}, "not_in": {}, "min": {}, "max": {}, "between": {},
	"size": {}, "in": {}, "regex": {}, "string": {}, "integer": {},
	"int": {}, "numeric": {}, "number": {}, "boolean": {}, "bool": {},
	"accepted": {}, "declined": {}, "array": {}, "object": {}, "json": {},
	"email": {}, "url": {}, "active_url": {}, "uuid": {}, "ip": {},
	"ipv4": {}, "ipv6": {}, "date": {}, "date_format": {}, "datetime": {},
	"digits": {}, "digits_between": {}, "file": {}, "image": {},
}

// KnownKeyword reports whether the rule token's keyword (the part before any
// colon) is one the mapper recognizes.
func KnownKeyword(rule string) bool {
	name, _, _ := strings.Cut(rule, ":")
	_, ok := knownKeywords[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// token is one parsed rule: a lowercase keyword plus optional arguments.
// rawArg keeps the argument string unsplit for rules whose argument may
// itself contain commas (regex, date_format).
type token struct {
	name   string
	args   []string
	rawArg string
}

func parseToken(raw string) token {
	name, arg, hasArg := strings.Cut(raw, ":")
	t := token{name: strings.ToLower(strings.TrimSpace(name))}
	if hasArg {
		t.rawArg = strings.TrimSpace(arg)
		for _, a := range strings.Split(arg, ",") {
			t.args = append(t.args, strings.TrimSpace(a))
		}
	}
	return t
}

func (t token) arg(i int) string {
	if i < len(t.args) {
		return t.args[i]
	}
	return ""
}
