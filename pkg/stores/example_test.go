package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
	"github.com/openfroyo/histmatch/pkg/stores"
)

func openMemoryStore() *stores.SQLiteStore {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	return store
}

// A posterior ensemble records the prior it was updated from.
func ExampleSQLiteStore_CreateEnsemble() {
	store := openMemoryStore()
	defer store.Close()
	ctx := context.Background()

	expID, err := store.CreateExperiment(ctx, "poly", nil)
	if err != nil {
		log.Fatal(err)
	}
	prior, err := store.CreateEnsemble(ctx, expID, "default", 4, 0, nil)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := store.CreateEnsemble(ctx, expID, "default_smoother_update", 4, 1, prior); err != nil {
		log.Fatal(err)
	}

	ensembles, _ := store.ListEnsembles(ctx, expID)
	for _, e := range ensembles {
		fmt.Println(e.Iteration, e.Name, e.PriorID == prior.Ensemble().ID)
	}
	// Output:
	// 0 default false
	// 1 default_smoother_update true
}

// Realizations that produced data are selected for the update.
func ExampleEnsembleAccessor_RealizationMaskFromStates() {
	store := openMemoryStore()
	defer store.Close()
	ctx := context.Background()

	expID, _ := store.CreateExperiment(ctx, "poly", nil)
	ens, _ := store.CreateEnsemble(ctx, expID, "default", 3, 0, nil)

	values := parameters.GenKwValues{Keys: []string{"A", "B"}, Values: []float64{0.5, 1.5}}
	for real := 0; real < 3; real++ {
		if err := ens.SaveGenKw(ctx, "COEFFS", real, values); err != nil {
			log.Fatal(err)
		}
	}
	_ = ens.SetRealizationState(ctx, 0, engine.RealizationHasData)
	_ = ens.SetRealizationState(ctx, 1, engine.RealizationLoadFailure)
	_ = ens.SetRealizationState(ctx, 2, engine.RealizationInitialized)

	mask, _ := ens.RealizationMaskFromStates(ctx, engine.RealizationHasData, engine.RealizationInitialized)
	loaded, _ := ens.LoadGenKw(ctx, "COEFFS", 2)
	fmt.Println(mask, loaded.Keys, loaded.Values)
	// Output: [true false true] [A B] [0.5 1.5]
}
