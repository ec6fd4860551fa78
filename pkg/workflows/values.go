package workflows

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/engine"
)

// ensembleValue describes an ensemble to scripts as a dict with id, name,
// iteration, size, prior_id and per-state realization counts. It is None
// when no ensemble exists yet.
func ensembleValue(ctx context.Context, store engine.EnsembleStore) (starlark.Value, error) {
	if store == nil {
		return starlark.None, nil
	}

	states, err := store.RealizationStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read realization states: %w", err)
	}
	counts := map[string]int{
		string(engine.RealizationUndefined):   0,
		string(engine.RealizationInitialized): 0,
		string(engine.RealizationHasData):     0,
		string(engine.RealizationLoadFailure): 0,
	}
	for _, s := range states {
		counts[string(s)]++
	}

	meta := store.Ensemble()
	return config.ToStarlarkValue(map[string]interface{}{
		"id":        meta.ID,
		"name":      meta.Name,
		"iteration": meta.Iteration,
		"size":      meta.Size,
		"prior_id":  meta.PriorID,
		"states":    counts,
	})
}

// ensemblesBuiltin implements ensembles(), listing every ensemble of the
// current experiment as dicts without state counts.
func ensemblesBuiltin(ctx context.Context, storage engine.Storage, current engine.EnsembleStore) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		if storage == nil || current == nil {
			return starlark.NewList(nil), nil
		}

		list, err := storage.ListEnsembles(ctx, current.Ensemble().ExperimentID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		out := make([]interface{}, 0, len(list))
		for _, e := range list {
			out = append(out, map[string]interface{}{
				"id":        e.ID,
				"name":      e.Name,
				"iteration": e.Iteration,
				"size":      e.Size,
				"prior_id":  e.PriorID,
			})
		}
		return config.ToStarlarkValue(out)
	}
}

// genKwBuiltin implements gen_kw(key, realization), returning the stored
// scalars of one realization of the current ensemble as a dict.
func genKwBuiltin(ctx context.Context, store engine.EnsembleStore) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		var realization int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "realization", &realization); err != nil {
			return nil, err
		}
		if store == nil {
			return nil, fmt.Errorf("%s: no ensemble at this hook point", b.Name())
		}

		values, err := store.LoadGenKw(ctx, key, realization)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		dict := starlark.NewDict(values.Len())
		for i, name := range values.Keys {
			if err := dict.SetKey(starlark.String(name), starlark.Float(values.Values[i])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
}
