package conflict

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicy reads resolution overrides from a YAML file and layers them
// over DefaultPolicy. The file maps conflict type to resolution:
//
//	hash_mismatch: update_memory
//	status_change: manual
//
// A missing path returns the defaults untouched.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	overrides := make(map[Type]Resolution)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	for t, res := range overrides {
		policy[t] = res
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy in %s: %w", path, err)
	}
	return policy, nil
}
