// Package evaluator runs the forward model of an ensemble.
//
// An Evaluator fans the active realizations of a run context out over a
// Driver, at most max_running at a time and with up to max_submit attempts
// each. Every attempt ends with OK or ERROR in the run path. Afterwards the
// results of the successful realizations are loaded into the ensemble and
// the number loaded is returned.
//
// # Drivers
//
//   - local: runs jobs.json in-process. Executables ending in .wasm run as
//     WASI modules under wazero with the run path mounted as /, everything
//     else as a child process.
//   - queue: calls "<submit_command> <runpath> <jobname>" and waits for the
//     status file, using fsnotify with a polling fallback.
//   - ssh: uploads the run path over SFTP, runs a generated job_dispatch.sh
//     remotely and downloads the run path again.
//
// A job fails when it exits non-zero, exceeds max_running_minutes, leaves
// its error_file behind or does not produce its target_file. The ERROR file
// names the job, the reason and the tail of its stderr.
package evaluator
