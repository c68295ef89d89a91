package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/me/htjob/internal/runner"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/pkg/model"
)

// Payload is the unit of work a Handle submits. The two implementations
// are CallablePayload and ExecutablePayload.
type Payload interface {
	Kind() model.PayloadKind
	Validate() error

	describe(env submitEnv) (*schedd.Description, error)
	outputFiles(env submitEnv, state model.JobState) ([]string, error)
}

// submitEnv carries the per-handle values a payload needs to build its
// submit description.
type submitEnv struct {
	id         string
	workDir    string
	logPath    string
	runnerPath string
}

func (e submitEnv) path(suffix string) string {
	return filepath.Join(e.workDir, e.id+suffix)
}

// baseDescription sets the keys shared by both payload kinds.
func (e submitEnv) baseDescription() *schedd.Description {
	return schedd.NewDescription().
		Set(schedd.KeyInitialDir, e.workDir).
		Set(schedd.KeyOutput, e.path(".out")).
		Set(schedd.KeyError, e.path(".err")).
		Set(schedd.KeyLog, e.logPath).
		Set(schedd.KeyShouldTransferFiles, "YES").
		Set(schedd.KeyWhenToTransfer, "ON_EXIT")
}

// CallablePayload runs Function on a single input file. The function is
// persisted next to the job log as <id>.func and executed by the runner,
// which writes <id>.output.
type CallablePayload struct {
	Function  runner.Callable `json:"function"`
	InputFile string          `json:"input_file"`
}

// Kind returns model.PayloadCallable.
func (p *CallablePayload) Kind() model.PayloadKind {
	return model.PayloadCallable
}

// Validate checks the function reference and input file.
func (p *CallablePayload) Validate() error {
	if err := p.Function.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.InputFile) == "" {
		return errors.New("input file is required")
	}
	return nil
}

func (p *CallablePayload) describe(env submitEnv) (*schedd.Description, error) {
	if env.runnerPath == "" {
		return nil, errors.New("runner path is not configured")
	}
	input, err := filepath.Abs(p.InputFile)
	if err != nil {
		return nil, err
	}
	funcPath := env.path(".func")
	if err := runner.WriteFile(funcPath, p.Function); err != nil {
		return nil, err
	}

	return env.baseDescription().
		Set(schedd.KeyExecutable, lookRunner(env.runnerPath)).
		Set(schedd.KeyArguments, schedd.QuoteArguments([]string{env.id, input})).
		Set(schedd.KeyTransferInputFiles, schedd.JoinList([]string{input, funcPath})).
		Set(schedd.KeyTransferOutputFiles, env.id+".output"), nil
}

// outputFiles is only meaningful once the job has completed.
func (p *CallablePayload) outputFiles(env submitEnv, state model.JobState) ([]string, error) {
	if state != model.JobStateCompleted {
		return nil, &model.NotReadyError{JobID: env.id, State: state}
	}
	return []string{env.path(".output")}, nil
}

// ExecutablePayload runs an arbitrary executable with declared input and
// output file manifests.
type ExecutablePayload struct {
	Executable  string   `json:"executable"`
	Arguments   []string `json:"arguments,omitempty"`
	InputFiles  []string `json:"input_files,omitempty"`
	OutputFiles []string `json:"output_files,omitempty"`
}

// Kind returns model.PayloadExecutable.
func (p *ExecutablePayload) Kind() model.PayloadKind {
	return model.PayloadExecutable
}

// Validate checks that an executable is named and that no manifest entry
// is blank.
func (p *ExecutablePayload) Validate() error {
	if strings.TrimSpace(p.Executable) == "" {
		return errors.New("executable is required")
	}
	for _, f := range append(append([]string(nil), p.InputFiles...), p.OutputFiles...) {
		if strings.TrimSpace(f) == "" {
			return errors.New("file manifests must not contain blank entries")
		}
		if strings.Contains(f, ",") {
			return fmt.Errorf("file name %q contains a comma", f)
		}
	}
	return nil
}

func (p *ExecutablePayload) describe(env submitEnv) (*schedd.Description, error) {
	exe, err := filepath.Abs(p.Executable)
	if err != nil {
		return nil, err
	}
	desc := env.baseDescription().Set(schedd.KeyExecutable, exe)
	if len(p.Arguments) > 0 {
		desc.Set(schedd.KeyArguments, schedd.QuoteArguments(p.Arguments))
	}
	if len(p.InputFiles) > 0 {
		inputs := make([]string, len(p.InputFiles))
		for i, f := range p.InputFiles {
			if inputs[i], err = filepath.Abs(f); err != nil {
				return nil, err
			}
		}
		desc.Set(schedd.KeyTransferInputFiles, schedd.JoinList(inputs))
	}
	if len(p.OutputFiles) > 0 {
		desc.Set(schedd.KeyTransferOutputFiles, schedd.JoinList(p.OutputFiles))
	}
	return desc, nil
}

// outputFiles returns the declared manifest whatever the state; outputs
// land in the work dir under their base names.
func (p *ExecutablePayload) outputFiles(env submitEnv, _ model.JobState) ([]string, error) {
	out := make([]string, len(p.OutputFiles))
	for i, f := range p.OutputFiles {
		out[i] = filepath.Join(env.workDir, filepath.Base(f))
	}
	return out, nil
}

// lookRunner resolves a bare runner name through $PATH, leaving it
// untouched when it cannot be found locally.
func lookRunner(name string) string {
	if strings.ContainsRune(name, filepath.Separator) {
		if abs, err := filepath.Abs(name); err == nil {
			return abs
		}
		return name
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// payloadMap renders p as the generic map stored in a JobRecord.
func payloadMap(p Payload) map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// PayloadFromRecord rebuilds the payload of a journaled job.
func PayloadFromRecord(kind model.PayloadKind, m map[string]any) (Payload, error) {
	var p Payload
	switch kind {
	case model.PayloadCallable:
		p = &CallablePayload{}
	case model.PayloadExecutable:
		p = &ExecutablePayload{}
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s payload: %w", kind, err)
	}
	return p, nil
}
