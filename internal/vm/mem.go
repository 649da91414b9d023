package vm

// mem.go implements the memory controller: a fixed-capacity table of
// non-overlapping regions, each backed by a device's byte/word read and
// write callbacks. Grounded on memctl.c; the region-dispatch shape follows
// a Memory/MMIO split.

import (
	"fmt"

	"github.com/nullbus/vm32/internal/log"
)

// RegionIface is the set of optional callbacks a mapped region supports.
// A nil callback means the region does not support that access width;
// attempts fail with ErrMemBadOp.
type RegionIface struct {
	ReadU8   func(relAddr Word) (byte, error)
	ReadU32  func(relAddr Word) (Word, error)
	WriteU8  func(relAddr Word, val byte) error
	WriteU32 func(relAddr Word, val Word) error
}

// Region is a contiguous, non-overlapping address range mapped into the
// memory controller and owned by exactly one device.
type Region struct {
	Start Word
	End   Word // Exclusive.
	Iface RegionIface
}

func (r Region) contains(addr Word) bool {
	return r.Start <= addr && addr < r.End
}

// snVersionMem is the snapshot format version for MemoryController.
const snVersionMem uint32 = 1

// MemoryController maps logical addresses to devices. Capacity is fixed at
// construction (maxRegions); used/mapped are parallel arrays so restore can
// keep region indices stable across a snapshot round trip.
type MemoryController struct {
	used   [maxRegions]bool
	region [maxRegions]Region

	log *log.Logger
}

// NewMemoryController creates a memory controller with no regions mapped.
func NewMemoryController() *MemoryController {
	return &MemoryController{log: log.DefaultLogger()}
}

// Map records a new region. It fails with ErrMemUsed if [r.Start, r.End)
// overlaps any existing mapped region (checked inclusively of both Start
// and End-1, and of every existing region's Start falling inside r), or
// with ErrMemMaxRegions if capacity is exhausted.
func (mc *MemoryController) Map(r Region) error {
	if _, _, err := mc.findIndex(r.Start); err == nil {
		return fmt.Errorf("memctl: map %s-%s: %w", r.Start, r.End, ErrMemUsed)
	}

	if _, _, err := mc.findIndex(r.End - 1); err == nil {
		return fmt.Errorf("memctl: map %s-%s: %w", r.Start, r.End, ErrMemUsed)
	}

	for idx := 0; idx < maxRegions; idx++ {
		if mc.used[idx] && r.contains(mc.region[idx].Start) {
			return fmt.Errorf("memctl: map %s-%s: %w", r.Start, r.End, ErrMemUsed)
		}
	}

	idx, ok := mc.freeIndex()
	if !ok {
		return fmt.Errorf("memctl: map %s-%s: %w", r.Start, r.End, ErrMemMaxRegions)
	}

	mc.used[idx] = true
	mc.region[idx] = r

	mc.log.Debug("region mapped", log.Any("start", r.Start), log.Any("end", r.End))

	return nil
}

// Find returns the region covering addr.
func (mc *MemoryController) Find(addr Word) (Region, error) {
	_, r, err := mc.findIndex(addr)
	return r, err
}

func (mc *MemoryController) findIndex(addr Word) (int, Region, error) {
	for idx := 0; idx < maxRegions; idx++ {
		if mc.used[idx] && mc.region[idx].contains(addr) {
			return idx, mc.region[idx], nil
		}
	}

	return -1, Region{}, faultAt(ErrBadMem, addr)
}

func (mc *MemoryController) freeIndex() (int, bool) {
	for idx := 0; idx < maxRegions; idx++ {
		if !mc.used[idx] {
			return idx, true
		}
	}

	return 0, false
}

// ReadU8 reads one byte from addr.
func (mc *MemoryController) ReadU8(addr Word) (byte, error) {
	_, r, err := mc.findIndex(addr)
	if err != nil {
		return 0, err
	}

	if r.Iface.ReadU8 == nil {
		return 0, faultAt(ErrMemBadOp, addr)
	}

	return r.Iface.ReadU8(addr - r.Start)
}

// ReadU32 reads a little-endian 32-bit word at addr. The access must fit
// entirely within the covering region or it fails with ErrBadMem.
func (mc *MemoryController) ReadU32(addr Word) (Word, error) {
	_, r, err := mc.findIndex(addr)
	if err != nil {
		return 0, err
	}

	if r.Iface.ReadU32 == nil {
		return 0, faultAt(ErrMemBadOp, addr)
	}

	if addr+4 > r.End {
		return 0, faultAt(ErrBadMem, addr)
	}

	return r.Iface.ReadU32(addr - r.Start)
}

// WriteU8 writes one byte to addr.
func (mc *MemoryController) WriteU8(addr Word, val byte) error {
	_, r, err := mc.findIndex(addr)
	if err != nil {
		return err
	}

	if r.Iface.WriteU8 == nil {
		return faultAt(ErrMemBadOp, addr)
	}

	return r.Iface.WriteU8(addr-r.Start, val)
}

// WriteU32 writes a little-endian 32-bit word to addr. The access must fit
// entirely within the covering region or it fails with ErrBadMem.
func (mc *MemoryController) WriteU32(addr Word, val Word) error {
	_, r, err := mc.findIndex(addr)
	if err != nil {
		return err
	}

	if r.Iface.WriteU32 == nil {
		return faultAt(ErrMemBadOp, addr)
	}

	if addr+4 > r.End {
		return faultAt(ErrBadMem, addr)
	}

	return r.Iface.WriteU32(addr-r.Start, val)
}
