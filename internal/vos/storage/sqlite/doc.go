// Package sqlite persists the track ledger of stitching runs.
//
// A run is one pass of the stitcher over one sequence. For every stitched
// track id the ledger keeps the frame span it covers, its pixel count and
// how the id was first obtained.
package sqlite
