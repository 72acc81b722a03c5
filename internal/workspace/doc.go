// Package workspace manages the per-job directories under the base directory.
// Each job owns one directory named after its identifier, seeded from a
// template tree, holding the generator's inputs, output, combined log and the
// process metadata record.
package workspace
