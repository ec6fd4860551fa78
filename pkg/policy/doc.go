// Package policy checks experiment configurations with Open Policy Agent.
//
// Every policy is a Rego module defining a deny set. Elements are either
// plain strings or objects with message, severity and field keys:
//
//	package histmatch.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//		input.experiment.num_realizations < 10
//		violation := {
//			"message": "ensembles below 10 realizations are not useful",
//			"severity": "warning",
//			"field": "num_realizations",
//		}
//	}
//
// The input document has four keys:
//
//   - experiment: the configuration as JSON, using the same field names as
//     the YAML format
//   - keywords: one object per parameter or response line with kind, key,
//     args and options (the KEY:VALUE arguments)
//   - active_realizations: the number of realizations selected to run
//   - context: operation, config_file and timestamp
//
// Violations with severity error or critical block a run. Anything else is
// returned as a warning.
//
// # Built-in Policies
//
//   - runpath-placeholders: runpath_format must contain <IENS>, and warns
//     without <ITER>
//   - min-realizations: min_realizations must not exceed the ensemble size
//     or the number of active realizations
//   - reproducible-seed: warns when random_seed is unset
//   - forward-init-files: forward-initialised FIELD and SURFACE parameters
//     need INIT_FILES, and warns when that path is absolute
//   - unique-keys: parameter and response keys must be unique
//
// # Custom Policies
//
// Experiments list extra policy files under policies. A .rego file becomes a
// warning-severity policy named after the file. A .json file holds name,
// description, rego, severity and enabled. Directories are walked for both.
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, cfg.PolicyFiles(baseDir)); err != nil {
//		return err
//	}
//	result, err := eng.Evaluate(ctx, cfg, &policy.Context{Operation: "run"})
//	if err != nil {
//		return err
//	}
//	return result.Err()
package policy
