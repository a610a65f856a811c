package plugin

import (
	"fmt"
	"strings"

	"github.com/getpup/leaf-orchestrator"
)

// IDPrefix is prepended to selection tokens that lack it.
const IDPrefix = "Plugin_"

// ParseSelection parses a user supplied selection such as "SimpleDistance,Dev2".
//
// Tokens are split on any of ',', '-' and '!', trimmed, and prefixed with
// "Plugin_" unless they already carry it. Empty tokens are ignored. A blank
// selection means every registered plugin, but one made only of delimiters
// names no plugin and is rejected. If any token names an unknown plugin the
// whole selection is rejected.
func ParseSelection(reg *Registry, raw string) ([]orchestrator.PluginID, error) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(SelectionDelimiters, r)
	})

	ids := make([]orchestrator.PluginID, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if !strings.HasPrefix(token, IDPrefix) {
			token = IDPrefix + token
		}
		ids = append(ids, orchestrator.PluginID(token))
	}

	if len(ids) == 0 && strings.TrimSpace(raw) != "" {
		return nil, fmt.Errorf("%w: %q names no plugin", orchestrator.ErrUnknownPlugin, raw)
	}

	return Select(reg, ids)
}

// Select validates a programmatic selection. An empty selection means every
// registered plugin in registration order. Duplicates are dropped, keeping
// the first occurrence. Returns an error wrapping ErrUnknownPlugin listing
// every unknown ID.
func Select(reg *Registry, ids []orchestrator.PluginID) ([]orchestrator.PluginID, error) {
	if len(ids) == 0 {
		return reg.IDs(), nil
	}

	var unknown []string
	seen := make(map[orchestrator.PluginID]struct{}, len(ids))
	selected := make([]orchestrator.PluginID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if _, ok := reg.byID[id]; !ok {
			unknown = append(unknown, string(id))
			continue
		}
		selected = append(selected, id)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownPlugin, strings.Join(unknown, ", "))
	}

	return selected, nil
}
