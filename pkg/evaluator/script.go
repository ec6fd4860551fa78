package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// DispatchScriptName is the shell script the ssh driver runs remotely.
const DispatchScriptName = "job_dispatch.sh"

// DispatchScript renders a POSIX shell script that runs the job list of jf
// from the directory the script lives in. It follows the local runner:
// jobs run in order and the first failure writes ERROR and stops. Target
// files are only checked for existence.
func DispatchScript(jf *engine.JobsFile) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString("cd \"$(dirname \"$0\")\" || exit 1\n")
	fmt.Fprintf(&b, "rm -f %s %s\n\n", OKFile, ErrorFile)

	b.WriteString("fail() {\n")
	b.WriteString("\t{\n")
	b.WriteString("\t\techo \"job: $1\"\n")
	b.WriteString("\t\techo \"reason: $2\"\n")
	fmt.Fprintf(&b, "\t\tif [ -n \"$3\" ] && [ -s \"$3\" ]; then echo \"stderr:\"; tail -n %d \"$3\"; fi\n", stderrTailLines)
	b.WriteString("\t\techo \"time: $(date -u +%Y-%m-%dT%H:%M:%SZ)\"\n")
	fmt.Fprintf(&b, "\t} > %s\n", ErrorFile)
	b.WriteString("\texit 1\n")
	b.WriteString("}\n\n")

	for _, k := range sortedKeys(jf.GlobalUpdatePath) {
		if !isShellName(k) {
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\"${%s:+:$%s}\"\n", k, shellQuote(jf.GlobalUpdatePath[k]), k, k)
	}
	for _, k := range sortedKeys(jf.GlobalEnvironment) {
		if !isShellName(k) {
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(jf.GlobalEnvironment[k]))
	}

	for i, job := range jf.JobList {
		name := shellQuote(job.Name)
		fmt.Fprintf(&b, "\n# %d: %s\n", i, job.Name)

		if job.StartFile != "" {
			fmt.Fprintf(&b, "[ -e %s ] || fail %s %s ''\n",
				shellQuote(job.StartFile), name, shellQuote("start file "+job.StartFile+" not found"))
		}

		b.WriteString("(")
		for _, k := range sortedKeys(job.Environment) {
			if !isShellName(k) {
				continue
			}
			fmt.Fprintf(&b, " export %s=%s;", k, shellQuote(job.Environment[k]))
		}
		b.WriteString(" exec")
		if job.MaxRunningMinutes > 0 {
			fmt.Fprintf(&b, " timeout %dm", job.MaxRunningMinutes)
		}
		b.WriteString(" " + shellQuote(job.Executable))
		for _, a := range job.ArgList {
			b.WriteString(" " + shellQuote(a))
		}
		if job.Stdin != "" {
			b.WriteString(" < " + shellQuote(job.Stdin))
		}
		fmt.Fprintf(&b, " > %s 2> %s", shellQuote(job.Stdout), shellQuote(job.Stderr))
		fmt.Fprintf(&b, " ) || fail %s \"exited with code $?\" %s\n", name, shellQuote(job.Stderr))

		if job.ErrorFile != "" {
			fmt.Fprintf(&b, "[ ! -e %s ] || fail %s %s ''\n",
				shellQuote(job.ErrorFile), name, shellQuote("error file "+job.ErrorFile+" found"))
		}
		if job.TargetFile != "" {
			fmt.Fprintf(&b, "[ -e %s ] || fail %s %s ''\n",
				shellQuote(job.TargetFile), name, shellQuote("target file "+job.TargetFile+" not produced"))
		}
	}

	fmt.Fprintf(&b, "\necho \"All jobs complete $(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)\" > %s\n", OKFile)
	return b.String()
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
