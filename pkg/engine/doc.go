// Package engine provides the core types and control loop of the histmatch
// ensemble orchestrator.
//
// # Overview
//
// An experiment runs an ensemble of realizations through the forward model,
// updates the ensemble against observations and runs the result again:
//
//  1. Prior - sample parameters, create run paths, evaluate (Orchestrator, Evaluator)
//  2. Update - map the prior onto a posterior ensemble (Updater)
//  3. Posterior - create run paths and evaluate the posterior
//
// # Core Domain Types
//
//   - Ensemble: a named, sized collection of realizations at one iteration
//   - RunArg: the run path, job name and run id of one realization
//   - RunContext: an ensemble, an active mask and the RunArg of every realization
//   - RealizationState: UNDEFINED, INITIALIZED, HAS_DATA or LOAD_FAILURE
//   - Event: timeline events during a run
//
// # Realization Lifecycle
//
// Realization states only change through RealizationStateMachine:
//
//	UNDEFINED    --initialize-->     INITIALIZED
//	LOAD_FAILURE --initialize-->     INITIALIZED
//	INITIALIZED  --load_succeeded--> HAS_DATA
//	INITIALIZED  --load_failed-->    LOAD_FAILURE
//	HAS_DATA     --load_failed-->    LOAD_FAILURE
//
// # Run Path Materialization
//
// CreateRunPath writes, for every active realization:
//
//   - the rendered template files
//   - one file per parameter (GEN_KW, EXT_PARAM, FIELD, SURFACE)
//   - parameters.txt and parameters.json with every GEN_KW value
//   - jobs.json describing the forward model
//
// and finally the runpath manifest. Existing export files are backed up and
// symbolic links are replaced by plain files, so the operation can be repeated.
//
// # Error Handling
//
// Errors are classified as:
//   - Transient: may succeed when retried (evaluator failures)
//   - Conflict: a file system conflict that could not be resolved
//   - Permanent: configuration mismatches, insufficient realizations,
//     analysis failures and serialization invariant violations
//
// Use errors.Is with the Err* sentinels or the Is* predicates to inspect them.
//
// # Concurrency
//
// Run path creation fans out across realizations with a bounded worker pool.
// Store writes during sampling and loading are sequential and synced once per
// batch.
package engine
