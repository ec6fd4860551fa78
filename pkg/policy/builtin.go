package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		runpathPlaceholdersPolicy(),
		minRealizationsPolicy(),
		reproducibleSeedPolicy(),
		forwardInitFilesPolicy(),
		uniqueKeysPolicy(),
	}
}

// runpathPlaceholdersPolicy requires run paths to differ per realization.
func runpathPlaceholdersPolicy() Policy {
	return Policy{
		Name:        "runpath-placeholders",
		Description: "Run paths must contain the realization placeholder and should contain the iteration placeholder",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"runpath"},
		Rego: `package histmatch.policies.runpath

import rego.v1

runpath_format := object.get(input.experiment, ["runpath", "runpath_format"], "")

legacy_count := count(indexof_n(runpath_format, "%d"))

deny contains violation if {
	runpath_format != ""
	not contains(runpath_format, "<IENS>")
	legacy_count == 0
	violation := {
		"message": sprintf("runpath_format %q does not contain <IENS>, all realizations would share one run path", [runpath_format]),
		"severity": "error",
		"field": "runpath.runpath_format",
	}
}

deny contains violation if {
	runpath_format != ""
	not contains(runpath_format, "<ITER>")
	legacy_count < 2
	violation := {
		"message": sprintf("runpath_format %q does not contain <ITER>, the update iteration overwrites prior run paths", [runpath_format]),
		"severity": "warning",
		"field": "runpath.runpath_format",
	}
}`,
	}
}

// minRealizationsPolicy checks the minimum against the ensemble size and the active set.
func minRealizationsPolicy() Policy {
	return Policy{
		Name:        "min-realizations",
		Description: "The realization minimum must be reachable",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"realizations"},
		Rego: `package histmatch.policies.realizations

import rego.v1

size := input.experiment.num_realizations

minimum := object.get(input.experiment, "min_realizations", 0)

deny contains violation if {
	minimum > size
	violation := {
		"message": sprintf("min_realizations %d exceeds num_realizations %d", [minimum, size]),
		"severity": "error",
		"field": "min_realizations",
	}
}

deny contains violation if {
	minimum <= size
	minimum > input.active_realizations
	violation := {
		"message": sprintf("only %d realizations are active but min_realizations is %d", [input.active_realizations, minimum]),
		"severity": "error",
		"field": "active_realizations",
	}
}`,
	}
}

// reproducibleSeedPolicy warns when sampling cannot be reproduced.
func reproducibleSeedPolicy() Policy {
	return Policy{
		Name:        "reproducible-seed",
		Description: "Warns when no random seed is configured",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"sampling"},
		Rego: `package histmatch.policies.seed

import rego.v1

deny contains violation if {
	object.get(input.experiment, "random_seed", "") == ""
	violation := {
		"message": "random_seed is not set, prior samples cannot be reproduced",
		"severity": "warning",
		"field": "random_seed",
	}
}`,
	}
}

// forwardInitFilesPolicy checks INIT_FILES of forward-initialised parameters.
func forwardInitFilesPolicy() Policy {
	return Policy{
		Name:        "forward-init-files",
		Description: "Forward-initialised parameters need an INIT_FILES pattern relative to the run path",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"parameters"},
		Rego: `package histmatch.policies.forward_init

import rego.v1

forward_init(kw) if lower(object.get(kw.options, "FORWARD_INIT", "false")) == "true"

deny contains violation if {
	some kw in input.keywords
	kw.kind in {"FIELD", "SURFACE"}
	forward_init(kw)
	not kw.options.INIT_FILES
	violation := {
		"message": sprintf("%s %s is forward-initialised but has no INIT_FILES", [kw.kind, kw.key]),
		"severity": "error",
		"field": sprintf("parameters.%s", [lower(kw.kind)]),
	}
}

deny contains violation if {
	some kw in input.keywords
	forward_init(kw)
	startswith(kw.options.INIT_FILES, "/")
	violation := {
		"message": sprintf("INIT_FILES %s of %s is absolute, forward-initialised values are read relative to each run path", [kw.options.INIT_FILES, kw.key]),
		"severity": "warning",
		"field": sprintf("parameters.%s", [lower(kw.kind)]),
	}
}`,
	}
}

// uniqueKeysPolicy rejects keys defined more than once across keyword kinds.
func uniqueKeysPolicy() Policy {
	return Policy{
		Name:        "unique-keys",
		Description: "Parameter and response keys must be unique",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"parameters"},
		Rego: `package histmatch.policies.keys

import rego.v1

deny contains violation if {
	some i, j
	a := input.keywords[i]
	b := input.keywords[j]
	i < j
	a.key == b.key
	violation := {
		"message": sprintf("key %s is defined by both %s and %s", [a.key, a.kind, b.kind]),
		"severity": "error",
		"field": "parameters",
	}
}`,
	}
}
