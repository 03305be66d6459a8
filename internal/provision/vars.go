package provision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrVarConflict reports a caller-managed variable that contradicts an
// engine-derived one. The engine refuses to reconcile the drift silently.
type ErrVarConflict struct {
	Key          string
	CallerValue  string
	DerivedValue string
}

func (e *ErrVarConflict) Error() string {
	return fmt.Sprintf("variable %q is set to %q in the varfile but the engine derives %q", e.Key, e.CallerValue, e.DerivedValue)
}

// BuildVars renders the provisioning variable set: scalar values from the
// workspace varfile merged with the values the engine derives from the run
// (image URI, app name, region and friends). Derived values win, and a
// varfile entry that disagrees with a derived value is an error.
func BuildVars(varfilePath string, derived map[string]string) (map[string]string, error) {
	vars := make(map[string]string, len(derived))

	if varfilePath != "" {
		data, err := os.ReadFile(varfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read varfile %s: %w", varfilePath, err)
		}

		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse varfile %s: %w", varfilePath, err)
		}

		for key, value := range raw {
			switch value.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("varfile %s: variable %q must be a scalar", varfilePath, key)
			case nil:
				return nil, fmt.Errorf("varfile %s: variable %q has no value", varfilePath, key)
			}
			vars[key] = fmt.Sprint(value)
		}
	}

	for key, value := range derived {
		if existing, ok := vars[key]; ok && existing != value {
			return nil, &ErrVarConflict{Key: key, CallerValue: existing, DerivedValue: value}
		}
		vars[key] = value
	}

	return vars, nil
}
