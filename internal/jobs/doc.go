// Package jobs provides the job lifecycle manager. It allocates a workspace
// per job, launches the generator detached inside it, derives job status from
// the process table on demand, and gates result download and deletion on
// that status.
package jobs
