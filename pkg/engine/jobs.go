package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// JobsFileName is the forward model description written into every run path.
const JobsFileName = "jobs.json"

// JobsFile is the content of jobs.json.
type JobsFile struct {
	GlobalEnvironment map[string]string `json:"global_environment"`
	GlobalUpdatePath  map[string]string `json:"global_update_path"`
	JobList           []JobEntry        `json:"jobList"`
	RunID             string            `json:"run_id"`
	RealID            int               `json:"real_id"`
	Iter              int               `json:"iter"`
	ErtPID            string            `json:"ert_pid"`
}

// JobEntry is one forward model step with every placeholder resolved.
type JobEntry struct {
	Name              string            `json:"name"`
	Executable        string            `json:"executable"`
	TargetFile        string            `json:"target_file,omitempty"`
	ErrorFile         string            `json:"error_file,omitempty"`
	StartFile         string            `json:"start_file,omitempty"`
	Stdout            string            `json:"stdout"`
	Stderr            string            `json:"stderr"`
	Stdin             string            `json:"stdin,omitempty"`
	ArgList           []string          `json:"argList"`
	Environment       map[string]string `json:"environment,omitempty"`
	ExecEnv           map[string]string `json:"exec_env,omitempty"`
	MaxRunningMinutes int               `json:"max_running_minutes,omitempty"`
}

// BuildJobsFile resolves the forward model of one realization.
func BuildJobsFile(rc *RunContext, arg RunArg, steps []ForwardModelStep, env, updatePath map[string]string) JobsFile {
	subst := func(s string) string {
		return rc.Substituter().SubstituteRealIter(s, arg.Realization, arg.Iteration)
	}
	substMap := func(m map[string]string) map[string]string {
		if len(m) == 0 {
			return nil
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = subst(v)
		}
		return out
	}

	jobs := make([]JobEntry, 0, len(steps))
	for idx, step := range steps {
		args := make([]string, len(step.Arguments))
		for i, a := range step.Arguments {
			args[i] = subst(a)
		}
		jobs = append(jobs, JobEntry{
			Name:              subst(step.Name),
			Executable:        subst(step.Executable),
			TargetFile:        subst(step.TargetFile),
			ErrorFile:         subst(step.ErrorFile),
			StartFile:         subst(step.StartFile),
			Stdout:            fmt.Sprintf("%s.stdout.%d", step.Name, idx),
			Stderr:            fmt.Sprintf("%s.stderr.%d", step.Name, idx),
			Stdin:             subst(step.Stdin),
			ArgList:           args,
			Environment:       substMap(step.Environment),
			ExecEnv:           substMap(step.ExecEnv),
			MaxRunningMinutes: step.MaxRunningMinutes,
		})
	}

	globalEnv := substMap(env)
	if globalEnv == nil {
		globalEnv = map[string]string{}
	}
	globalPath := substMap(updatePath)
	if globalPath == nil {
		globalPath = map[string]string{}
	}

	return JobsFile{
		GlobalEnvironment: globalEnv,
		GlobalUpdatePath:  globalPath,
		JobList:           jobs,
		RunID:             arg.RunID,
		RealID:            arg.Realization,
		Iter:              arg.Iteration,
		ErtPID:            strconv.Itoa(os.Getpid()),
	}
}

// ReadJobsFile reads jobs.json from a run path.
func ReadJobsFile(runPath string) (*JobsFile, error) {
	data, err := os.ReadFile(parameters.RunPathFile(runPath, JobsFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", JobsFileName, err)
	}
	var jf JobsFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", JobsFileName, err)
	}
	return &jf, nil
}

func (o *Orchestrator) writeJobsFile(rc *RunContext, arg RunArg) error {
	jf := BuildJobsFile(rc, arg, o.forwardModel, o.envVars, o.updatePath)
	data, err := json.MarshalIndent(jf, "", "  ")
	if err != nil {
		return NewSerializationError(JobsFileName, err.Error())
	}
	return parameters.WriteFile(parameters.RunPathFile(arg.RunPath, JobsFileName), append(data, '\n'))
}
