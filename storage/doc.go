// Package storage persists replica snapshots so that a
// node restarted with the same actor id resumes from
// where it stopped instead of resyncing from scratch.
package storage
