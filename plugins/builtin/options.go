package builtin

import (
	"encoding/json"
	"fmt"
)

// mergeOptions overlays opts onto dst by JSON field name. Keys absent from
// opts leave dst untouched.
func mergeOptions(dst any, opts map[string]any) error {
	if len(opts) == 0 {
		return nil
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode plugin options: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode plugin options: %w", err)
	}
	return nil
}
