package profile

import "fmt"

// Override is one operator-supplied user_pref line, appended to the
// embedded user.js after its marker comment.
type Override struct {
	Pref  string      `yaml:"pref"`
	Value interface{} `yaml:"value"`
}

// Line renders the override as a user_pref(...) statement. Value is
// quoted when it decodes as a YAML string, left bare for bool/number so
// that `value: true` and `value: 30` render as Firefox expects.
func (o Override) Line() string {
	switch v := o.Value.(type) {
	case string:
		return fmt.Sprintf("user_pref(%q, %q);", o.Pref, v)
	case bool:
		return fmt.Sprintf("user_pref(%q, %t);", o.Pref, v)
	case int:
		return fmt.Sprintf("user_pref(%q, %d);", o.Pref, v)
	default:
		return fmt.Sprintf("user_pref(%q, %v);", o.Pref, v)
	}
}

// overridesFile is the on-disk shape of an overrides file: a flat list
// under the top-level `overrides:` key.
type overridesFile struct {
	Overrides []Override `yaml:"overrides"`
}
