// Package planner decides, before anything is written, what happens to
// every entry of an archive.
//
// A plan is a pure function of the entry list, the upload policy and the
// state of the target tree as reported by a domain.Prober. Entries are
// processed in archive order and each decision sees the effects of the
// decisions before it, so an archive that lists "a" as a file and later
// "a/b.txt" gets a type conflict for the second entry even though neither
// exists on disk yet.
//
// Rules per entry:
//   - a path the sanitizer refuses, or that a symlink redirects outside the
//     root, is rejected as path traversal
//   - an ancestor that is (or will be) a file is a type conflict
//   - directories are always merged, unless a file sits where they go
//   - files are written when absent, rejected over a directory, and
//     overwritten or skipped over a file depending on the policy
package planner
