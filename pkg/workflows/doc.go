// Package workflows runs Starlark scripts at hook points of an experiment.
//
// A workflow is bound to hook points in the experiment configuration:
//
//	hooks:
//	  - name: check_priors
//	    script: workflows/check_priors.star
//	    runtime: [POST_SIMULATION]
//
// Scripts see these predeclared names besides the struct, json and math modules:
//
//	hook           the hook point, e.g. "POST_SIMULATION"
//	ensemble       dict with id, name, iteration, size, prior_id and states
//	               (realization counts per state), or None before one exists
//	ensembles()    every ensemble of the experiment
//	gen_kw(k, i)   stored GEN_KW scalars of realization i as a dict
//
// Control flow must live inside functions:
//
//	def main():
//	    if ensemble["states"]["HAS_DATA"] < 10:
//	        fail("too few realizations with data")
//
//	main()
//
// A failing script, including one that calls fail, aborts the run.
package workflows
