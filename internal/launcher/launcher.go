// Package launcher starts the external site generator inside a job workspace
// as a detached process.
package launcher

import "context"

// Launcher starts one generator run per call.
type Launcher interface {
	// Launch starts the generator for spec and returns as soon as the process
	// exists. It does not wait for the generator to finish.
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// Spec describes one generator run.
type Spec struct {
	// Dir is the working directory, the job workspace.
	Dir string
	// PromptFile is the task file handed to the generator.
	PromptFile string
	// LogFile receives the combined stdout and stderr.
	LogFile string
}

// Process identifies a started generator.
type Process struct {
	PID  int
	PGID int
	// StartTicks is the kernel start time of PID in clock ticks since boot,
	// zero if it could not be read.
	StartTicks uint64
}

// StartTicker reads the start time of a process.
type StartTicker interface {
	StartTicks(pid int) (uint64, error)
}
