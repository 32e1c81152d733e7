// Package sim is a simulated VCN JPEG decode block behind the platform.Driver
// interface. Surfaces live in memfd objects, so they export as DMA-BUF style
// descriptors that the host runtime can map, and submitted pictures are
// decoded in software. The simulator is only available on linux.
package sim
