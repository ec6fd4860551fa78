package stores

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
)

// EnsembleAccessor reads and writes the values and realization states of one
// ensemble stored in SQLite.
type EnsembleAccessor struct {
	store *SQLiteStore
	meta  *engine.Ensemble
}

var _ engine.EnsembleStore = (*EnsembleAccessor)(nil)

func newEnsembleAccessor(store *SQLiteStore, meta *engine.Ensemble) *EnsembleAccessor {
	return &EnsembleAccessor{store: store, meta: meta}
}

// Ensemble returns the ensemble metadata.
func (a *EnsembleAccessor) Ensemble() *engine.Ensemble {
	return a.meta
}

func (a *EnsembleAccessor) checkRealization(realization int) error {
	if realization < 0 || realization >= a.meta.Size {
		return engine.NewPermanentError(
			fmt.Sprintf("realization %d out of range for ensemble %s of size %d", realization, a.meta.Name, a.meta.Size), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(a.meta.Name)
	}
	return nil
}

func (a *EnsembleAccessor) missing(kind, name string, realization int) error {
	return engine.NewPermanentError(
		fmt.Sprintf("%s %s not found for realization %d in ensemble %s", kind, name, realization, a.meta.Name), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(name)
}

// SaveGenKw stores the scalar vector of one realization.
func (a *EnsembleAccessor) SaveGenKw(ctx context.Context, name string, realization int, values parameters.GenKwValues) error {
	if err := a.checkRealization(realization); err != nil {
		return err
	}
	if len(values.Keys) != len(values.Values) {
		return engine.NewPermanentError(
			fmt.Sprintf("%s has %d keys and %d values", name, len(values.Keys), len(values.Values)), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(name)
	}

	keys, err := json.Marshal(values.Keys)
	if err != nil {
		return fmt.Errorf("failed to encode keys of %s: %w", name, err)
	}

	query := `
		INSERT INTO gen_kw (ensemble_id, name, realization, keys, vals)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ensemble_id, name, realization) DO UPDATE SET keys = excluded.keys, vals = excluded.vals
	`
	if _, err := a.store.db.ExecContext(ctx, query, a.meta.ID, name, realization, string(keys), encodeFloats(values.Values)); err != nil {
		return fmt.Errorf("failed to save %s for realization %d: %w", name, realization, err)
	}
	return nil
}

// LoadGenKw loads the scalar vector of one realization.
func (a *EnsembleAccessor) LoadGenKw(ctx context.Context, name string, realization int) (parameters.GenKwValues, error) {
	var keys string
	var blob []byte
	query := `SELECT keys, vals FROM gen_kw WHERE ensemble_id = ? AND name = ? AND realization = ?`
	err := a.store.db.QueryRowContext(ctx, query, a.meta.ID, name, realization).Scan(&keys, &blob)
	if err == sql.ErrNoRows {
		return parameters.GenKwValues{}, a.missing("GEN_KW", name, realization)
	}
	if err != nil {
		return parameters.GenKwValues{}, fmt.Errorf("failed to load %s for realization %d: %w", name, realization, err)
	}

	values := parameters.GenKwValues{}
	if err := json.Unmarshal([]byte(keys), &values.Keys); err != nil {
		return parameters.GenKwValues{}, fmt.Errorf("failed to decode keys of %s: %w", name, err)
	}
	if values.Values, err = decodeFloats(blob); err != nil {
		return parameters.GenKwValues{}, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return values, nil
}

// SaveExtParam stores an opaque JSON value.
func (a *EnsembleAccessor) SaveExtParam(ctx context.Context, name string, realization int, data json.RawMessage) error {
	if err := a.checkRealization(realization); err != nil {
		return err
	}
	if !json.Valid(data) {
		return engine.NewSerializationError(name, fmt.Sprintf("EXT_PARAM %s is not valid JSON", name))
	}

	query := `
		INSERT INTO ext_params (ensemble_id, name, realization, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ensemble_id, name, realization) DO UPDATE SET data = excluded.data
	`
	if _, err := a.store.db.ExecContext(ctx, query, a.meta.ID, name, realization, string(data)); err != nil {
		return fmt.Errorf("failed to save %s for realization %d: %w", name, realization, err)
	}
	return nil
}

// LoadExtParam loads an opaque JSON value.
func (a *EnsembleAccessor) LoadExtParam(ctx context.Context, name string, realization int) (json.RawMessage, error) {
	var data string
	query := `SELECT data FROM ext_params WHERE ensemble_id = ? AND name = ? AND realization = ?`
	err := a.store.db.QueryRowContext(ctx, query, a.meta.ID, name, realization).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, a.missing("EXT_PARAM", name, realization)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s for realization %d: %w", name, realization, err)
	}
	return json.RawMessage(data), nil
}

// SaveArray stores a numeric array.
func (a *EnsembleAccessor) SaveArray(ctx context.Context, name string, realization int, arr parameters.Array) error {
	if err := a.checkRealization(realization); err != nil {
		return err
	}
	if arr.Size() != len(arr.Data) {
		return engine.NewPermanentError(
			fmt.Sprintf("%s has shape %v but %d values", name, arr.Shape, len(arr.Data)), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(name)
	}

	shape := arr.Shape
	if shape == nil {
		shape = []int{len(arr.Data)}
	}
	shapeJSON, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("failed to encode shape of %s: %w", name, err)
	}

	query := `
		INSERT INTO arrays (ensemble_id, name, realization, shape, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ensemble_id, name, realization) DO UPDATE SET shape = excluded.shape, data = excluded.data
	`
	if _, err := a.store.db.ExecContext(ctx, query, a.meta.ID, name, realization, string(shapeJSON), encodeFloats(arr.Data)); err != nil {
		return fmt.Errorf("failed to save %s for realization %d: %w", name, realization, err)
	}
	return nil
}

// LoadArray loads a numeric array.
func (a *EnsembleAccessor) LoadArray(ctx context.Context, name string, realization int) (parameters.Array, error) {
	var shape string
	var blob []byte
	query := `SELECT shape, data FROM arrays WHERE ensemble_id = ? AND name = ? AND realization = ?`
	err := a.store.db.QueryRowContext(ctx, query, a.meta.ID, name, realization).Scan(&shape, &blob)
	if err == sql.ErrNoRows {
		return parameters.Array{}, a.missing("array", name, realization)
	}
	if err != nil {
		return parameters.Array{}, fmt.Errorf("failed to load %s for realization %d: %w", name, realization, err)
	}

	arr := parameters.Array{}
	if err := json.Unmarshal([]byte(shape), &arr.Shape); err != nil {
		return parameters.Array{}, fmt.Errorf("failed to decode shape of %s: %w", name, err)
	}
	if arr.Data, err = decodeFloats(blob); err != nil {
		return parameters.Array{}, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return arr, nil
}

// RealizationStates returns the state of every realization.
func (a *EnsembleAccessor) RealizationStates(ctx context.Context) ([]engine.RealizationState, error) {
	query := `SELECT realization, state FROM realization_states WHERE ensemble_id = ? ORDER BY realization`
	rows, err := a.store.db.QueryContext(ctx, query, a.meta.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get realization states: %w", err)
	}
	defer rows.Close()

	states := make([]engine.RealizationState, a.meta.Size)
	for i := range states {
		states[i] = engine.RealizationUndefined
	}
	for rows.Next() {
		var real int
		var state engine.RealizationState
		if err := rows.Scan(&real, &state); err != nil {
			return nil, fmt.Errorf("failed to scan realization state: %w", err)
		}
		if real >= 0 && real < len(states) {
			states[real] = state
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realization states: %w", err)
	}
	return states, nil
}

// SetRealizationState stores the state of one realization.
func (a *EnsembleAccessor) SetRealizationState(ctx context.Context, realization int, state engine.RealizationState) error {
	if err := a.checkRealization(realization); err != nil {
		return err
	}
	if err := state.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO realization_states (ensemble_id, realization, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ensemble_id, realization) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`
	if _, err := a.store.db.ExecContext(ctx, query, a.meta.ID, realization, state, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set state of realization %d: %w", realization, err)
	}
	return nil
}

// RealizationMaskFromStates returns a mask selecting realizations in any of states.
func (a *EnsembleAccessor) RealizationMaskFromStates(ctx context.Context, states ...engine.RealizationState) ([]bool, error) {
	current, err := a.RealizationStates(ctx)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(current))
	for i, s := range current {
		for _, want := range states {
			if s == want {
				mask[i] = true
				break
			}
		}
	}
	return mask, nil
}

// Sync checkpoints the write-ahead log into the main database file.
func (a *EnsembleAccessor) Sync(ctx context.Context) error {
	if _, err := a.store.db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		return fmt.Errorf("failed to sync ensemble %s: %w", a.meta.Name, err)
	}
	return nil
}

// encodeFloats packs values as little-endian IEEE 754 doubles.
func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(buf))
	}
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}
