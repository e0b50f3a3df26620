// Package vos groups the video object segmentation data path.
//
// Layering, leaves first:
//
//	mask      label volumes (T×H×W track ids)
//	overlap   IoU between labelled masks
//	assign    optimal current→reference id assignment
//	stitch    tube stitching across overlapping clips
//	sampler   temporal support windows
//	imageio   frame/mask decoding, resize adapter, padding
//	dataset   sequence registry and per-dataset loaders
//	clip      clip assembly into sample tensors
//	proposals per-frame detector proposals and their store
//	flow      optical flow fields and mask warping
//	tracklets warp-then-associate proposal tracking
//	storage   SQLite track ledger
//
// Dependency rule: a package may only import packages listed above it.
package vos
