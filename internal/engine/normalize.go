package engine

import (
	"fmt"

	"github.com/petrijr/prepare/pkg/api"
)

// Normalize resolves a fetch map entry into an action.
//
// A bare creator reference resolves to a nil payload with zero options and
// never evaluates anything. A raw action keeps its options and has a derived
// payload evaluated against amb; errors from the derivation are returned
// as-is.
func Normalize(entry api.Entry, amb api.Ambient) (api.Action, error) {
	if entry.Type() == "" {
		return api.Action{}, fmt.Errorf("%w: empty type", api.ErrInvalidAction)
	}

	switch entry.Kind() {
	case api.EntryCreator:
		return api.Action{Type: entry.Type()}, nil

	case api.EntryRaw:
		raw, _ := entry.Raw()
		payload, err := raw.Payload.Resolve(amb)
		if err != nil {
			return api.Action{}, err
		}
		return api.Action{
			Type:    raw.Type,
			Payload: payload,
			Options: raw.Options,
		}, nil

	default:
		return api.Action{}, fmt.Errorf("%w: unknown entry kind %d", api.ErrInvalidAction, entry.Kind())
	}
}

// NormalizeAll normalizes every entry of fetch in order. It stops at the
// first failure and reports the offending key.
func NormalizeAll(fetch *api.FetchMap, amb api.Ambient) (*api.ActionMap, error) {
	out := api.NewActionMap()
	for key, entry := range fetch.All() {
		action, err := Normalize(entry, amb)
		if err != nil {
			return nil, fmt.Errorf("normalize %q: %w", key, err)
		}
		out.Set(key, action)
	}
	return out, nil
}
