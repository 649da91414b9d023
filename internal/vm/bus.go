package vm

// bus.go implements the bus controller: device slot allocation, IRQ line
// assignment, and the guest-visible self-description MMIO block. Grounded
// on busctl.c.

import (
	"encoding/binary"
	"fmt"

	"github.com/nullbus/vm32/internal/log"
)

// DeviceDescriptor is what a device presents to the bus controller on
// connect.
type DeviceDescriptor struct {
	// DevClass is a stable classifier used by restore callbacks to
	// rehydrate the correct device implementation.
	DevClass byte

	// RegionSize is the number of bytes of MMIO address space the device
	// needs.
	RegionSize Word

	Iface RegionIface

	// SnapshotSize and Snapshot are optional; if SnapshotSize is nil the
	// device saves zero bytes.
	SnapshotSize func() int
	Snapshot     func(buf []byte) int
}

// BusSlot describes one connected device as recorded by the bus
// controller.
type BusSlot struct {
	Index    int
	DevClass byte
	IRQLine  uint8
	Region   Region
}

// snVersionBus is the snapshot format version for BusController.
const snVersionBus uint32 = 1

// BusController allocates MMIO address ranges and IRQ lines for connected
// devices and exposes a single fixed-address, read-only MMIO block
// describing every connected device.
type BusController struct {
	mc *MemoryController
	ic *InterruptController

	used [BusMaxDevs]bool
	slot [BusMaxDevs]BusSlot
	desc [BusMaxDevs]DeviceDescriptor

	nextRegionAt Word
	nextIRQ      uint8

	log *log.Logger
}

// NewBusController creates a bus controller over mc and ic, and maps the
// fixed bus MMIO self-description region into mc.
func NewBusController(mc *MemoryController, ic *InterruptController) (*BusController, error) {
	bc := &BusController{
		mc:           mc,
		ic:           ic,
		nextRegionAt: BusDevMapStart,
		log:          log.DefaultLogger(),
	}

	region := Region{
		Start: BusMMIOStart,
		End:   BusMMIOStart + BusMMIOSize,
		Iface: RegionIface{ReadU32: bc.readMMIO},
	}

	if err := mc.Map(region); err != nil {
		return nil, fmt.Errorf("busctl: map bus mmio: %w", err)
	}

	return bc, nil
}

// Connect finds a free device slot, allocates an MMIO window for desc, maps
// it into the memory controller, and assigns the next IRQ line. It fails
// with ErrBusNoFreeSlot if every slot is occupied, or ErrBusNoFreeMem if the
// device's window would reach or exceed BusDevMapEnd (matching the
// original's inclusive boundary check).
func (bc *BusController) Connect(desc DeviceDescriptor) (BusSlot, error) {
	idx, ok := bc.freeSlot()
	if !ok {
		return BusSlot{}, fmt.Errorf("busctl: connect: %w", ErrBusNoFreeSlot)
	}

	start := bc.nextRegionAt
	end := start + desc.RegionSize

	if end >= BusDevMapEnd {
		return BusSlot{}, fmt.Errorf("busctl: connect: %w", ErrBusNoFreeMem)
	}

	region := Region{Start: start, End: end, Iface: desc.Iface}

	if err := bc.mc.Map(region); err != nil {
		return BusSlot{}, fmt.Errorf("busctl: connect: %w", err)
	}

	slot := BusSlot{
		Index:    idx,
		DevClass: desc.DevClass,
		IRQLine:  bc.nextIRQ,
		Region:   region,
	}

	bc.used[idx] = true
	bc.slot[idx] = slot
	bc.desc[idx] = desc

	bc.nextIRQ++
	bc.nextRegionAt = end

	bc.log.Debug("device connected",
		log.Any("slot", idx), log.Any("class", desc.DevClass), log.Any("irq", slot.IRQLine))

	return slot, nil
}

func (bc *BusController) freeSlot() (int, bool) {
	for i := 0; i < BusMaxDevs; i++ {
		if !bc.used[i] {
			return i, true
		}
	}

	return 0, false
}

// readMMIO implements the bus self-description region: offset 0 is the
// slot-status bitmap; offsets 4+12*i onward are slot i's three-word
// descriptor (region start, region end, class<<8|irq).
func (bc *BusController) readMMIO(offset Word) (Word, error) {
	switch {
	case offset == 0:
		var status uint32

		for i := 0; i < BusMaxDevs; i++ {
			if bc.used[i] {
				status |= 1 << uint(i)
			}
		}

		return Word(status), nil

	case offset >= 4 && (offset-4)%4 == 0:
		slot := int((offset - 4) / 12)
		if slot >= BusMaxDevs {
			return 0, faultAt(ErrMemBadOp, offset)
		}

		item := ((offset - 4) % 12) / 4

		switch item {
		case 0:
			return bc.slot[slot].Region.Start, nil
		case 1:
			return bc.slot[slot].Region.End, nil
		case 2:
			return Word(uint32(bc.slot[slot].DevClass)<<8 | uint32(bc.slot[slot].IRQLine)), nil
		}

		fallthrough
	default:
		return 0, faultAt(ErrMemBadOp, offset)
	}
}

// snapshotSize returns the number of bytes Snapshot would write.
func (bc *BusController) snapshotSize() int {
	size := 4 + BusMaxDevs*1 + BusMaxDevs*(1+1+4+4) + 4 + 1

	for i := 0; i < BusMaxDevs; i++ {
		if bc.used[i] && bc.desc[i].SnapshotSize != nil {
			size += bc.desc[i].SnapshotSize()
		}
	}

	return size
}

// snapshot serializes the bus controller's slot table and every connected
// device's payload, in slot order, with no pointers.
func (bc *BusController) snapshot(buf []byte) int {
	n := 0
	n += putU32(buf[n:], snVersionBus)

	for i := 0; i < BusMaxDevs; i++ {
		if bc.used[i] {
			buf[n] = 1
		} else {
			buf[n] = 0
		}
		n++
	}

	for i := 0; i < BusMaxDevs; i++ {
		s := bc.slot[i]
		buf[n] = s.DevClass
		n++
		buf[n] = s.IRQLine
		n++
		n += putU32(buf[n:], uint32(s.Region.Start))
		n += putU32(buf[n:], uint32(s.Region.End))
	}

	n += putU32(buf[n:], uint32(bc.nextRegionAt))
	buf[n] = bc.nextIRQ
	n++

	for i := 0; i < BusMaxDevs; i++ {
		if bc.used[i] && bc.desc[i].Snapshot != nil {
			n += bc.desc[i].Snapshot(buf[n:])
		}
	}

	return n
}

// RestoreDevice rehydrates the device at a connected class, returning its
// read/write/snapshot interface and the number of snapshot bytes consumed.
type RestoreDevice func(devClass byte, buf []byte) (RegionIface, DeviceDescriptor, int)

func putU32(buf []byte, v uint32) int {
	binary.LittleEndian.PutUint32(buf, v)
	return 4
}
