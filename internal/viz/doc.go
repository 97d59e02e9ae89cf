// Package viz provides terminal-based visualization for tissue runs.
//
// The package implements a live TUI using the Bubble Tea framework:
//
//   - [Model]: drives a simulation chunk by chunk and renders the lattice
//     between chunks
//   - [Canvas]: Braille-based pixel canvas for the 1-D membrane trace
//   - [Plot]: ASCII strip chart of a logged series, for post-run display
//
// 2-D sheets are rendered as a shaded block map instead of the Braille
// trace, one character per cell.
package viz
