// Package block implements SPEC_FULL.md §6's storage partition table
// contract: a block.Device registers itself, and DetectPartitions walks
// a GPT header to register sdaN-style sub-devices, matching spec.md §6's
// "storage HBA drivers detect partitions and register sub-devices."
// Concrete storage controller drivers (AHCI/NVMe/PATA) stay out of scope
// per spec.md's Non-goals; this package only implements the
// registration contract and partition-table parsing a driver would call
// into once a real controller exists.
package block

import (
	"strconv"
	"sync"

	"github.com/maestro-os/maestro/errno"
)

// Device is a block storage device's minimal read contract, grounded on
// original_source/kernel/src/device/storage/mod.rs's StorageInterface
// trait, narrowed to the read-only subset partition detection needs.
type Device interface {
	Name() string
	BlockSize() uint32
	BlockCount() uint64
	// ReadBlocks reads count blocks starting at lba into dst, where
	// len(dst) == count*BlockSize().
	ReadBlocks(lba uint64, dst []byte) error
	// ReadBytes reads len(dst) bytes starting at the given byte offset,
	// not necessarily block-aligned.
	ReadBytes(dst []byte, offset uint64) error
}

// Registry is the block-device registration table spec.md §6 names.
type Registry struct {
	mu      sync.Mutex
	devices map[string]Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device)}
}

// Register records dev under its own name, replacing any previous
// device registered under that name.
func (r *Registry) Register(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.Name()] = dev
}

// Unregister removes the named device, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, name)
}

// Get looks up a registered device by name.
func (r *Registry) Get(name string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[name]
	return dev, ok
}

// Partition is one GPT partition entry's extent on its parent device, in
// blocks.
type Partition struct {
	StartLBA uint64
	Blocks   uint64
}

// partitionDevice is a Device view of one partition of a parent device,
// the sub-device DetectPartitions registers — reads are offset by
// StartLBA and bounds-checked against Blocks.
type partitionDevice struct {
	parent Device
	name   string
	part   Partition
}

func (p *partitionDevice) Name() string      { return p.name }
func (p *partitionDevice) BlockSize() uint32 { return p.parent.BlockSize() }
func (p *partitionDevice) BlockCount() uint64 {
	return p.part.Blocks
}

func (p *partitionDevice) ReadBlocks(lba uint64, dst []byte) error {
	count := uint64(len(dst)) / uint64(p.BlockSize())
	if lba+count > p.part.Blocks {
		return errno.EINVAL
	}
	return p.parent.ReadBlocks(p.part.StartLBA+lba, dst)
}

func (p *partitionDevice) ReadBytes(dst []byte, offset uint64) error {
	if offset+uint64(len(dst)) > p.part.Blocks*uint64(p.BlockSize()) {
		return errno.EINVAL
	}
	blockOffset := p.part.StartLBA * uint64(p.BlockSize())
	return p.parent.ReadBytes(dst, blockOffset+offset)
}

// DetectPartitions reads dev's GPT partition table and registers one
// sub-device per partition under "<dev.Name()>N" (1-indexed), the Go
// analogue of a storage HBA driver calling into the kernel's partition
// detection at device-probe time. It returns the detected partitions
// whether or not a registry is given (reg may be nil to just inspect the
// table).
func DetectPartitions(reg *Registry, dev Device) ([]Partition, error) {
	hdr, err := ReadGPT(dev)
	if err != nil {
		return nil, err
	}
	if hdr == nil {
		return nil, nil
	}
	parts, err := hdr.Partitions(dev)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		for i, part := range parts {
			reg.Register(&partitionDevice{
				parent: dev,
				name:   subDeviceName(dev.Name(), i+1),
				part:   part,
			})
		}
	}
	return parts, nil
}

func subDeviceName(base string, index int) string {
	return base + strconv.Itoa(index)
}
