// Package discovery mines resolved classifications into entity profiles.
//
// A run reads the result log as of its snapshot time, groups canonical items
// by artist and label, and aggregates each entity independently. Every
// entity outcome is checkpointed before the next one starts, so an
// interrupted run resumes where it stopped with the same snapshot time and
// produces the same profiles. Cancellation is honoured only between
// entities. The new generation is published in one step once every entity is
// done; readers keep the previous generation until then.
//
// A file lock serialises runs across processes.
package discovery
