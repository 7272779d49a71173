// Package review implements the content gate: generated messages are held
// as pending emails until a reviewer approves, rejects, or edits them.
// Workspaces configured for auto-send skip the human step but still get a
// row per (enrollment, step), which is what makes dispatch deduplication
// work in both modes.
package review
