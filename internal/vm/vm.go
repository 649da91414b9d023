package vm

// vm.go composes the four sub-controllers into the VM facade, using a
// functional-option constructor (New, Option pattern) for this machine's
// IC -> MC -> CPU -> BC construction order, per vm.c's vm_new.

import (
	"github.com/nullbus/vm32/internal/log"
)

// VM owns the interrupt controller, memory controller, CPU, and bus
// controller for the lifetime of a running guest. The four sub-controllers
// are constructed in a fixed order: IC and MC first (neither depends on
// the others), then the CPU (holds a reference to both), then the BC
// (borrows MC to map its self-description region and device regions, and
// holds a reference to IC).
type VM struct {
	ic  *InterruptController
	mem *MemoryController
	cpu *CPU
	bus *BusController

	log *log.Logger
}

// OptionFn configures a VM at construction.
type OptionFn func(*VM)

// WithLogger overrides the VM's logger, propagating it to every
// sub-controller.
func WithLogger(l *log.Logger) OptionFn {
	return func(vm *VM) {
		vm.log = l
		vm.ic.log = l
		vm.mem.log = l
		vm.cpu.log = l
		vm.bus.log = l
	}
}

// New constructs a VM with its four sub-controllers wired together. The IVT
// occupies the first 1024 bytes of the device MMIO pool; it is not mapped
// here, since the host supplies whatever RAM or ROM region backs it (and
// the rest of the guest's address space) before running the guest.
func New(opts ...OptionFn) (*VM, error) {
	ic := NewInterruptController()
	mem := NewMemoryController()
	cpu := NewCPU(mem, ic)

	bus, err := NewBusController(mem, ic)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		ic:  ic,
		mem: mem,
		cpu: cpu,
		bus: bus,
		log: log.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(vm)
	}

	return vm, nil
}

// CPU exposes the CPU core for inspection and direct register access by
// tests and tools.
func (vm *VM) CPU() *CPU { return vm.cpu }

// Memory exposes the memory controller so a host can map RAM and ROM
// regions before running the guest.
func (vm *VM) Memory() *MemoryController { return vm.mem }

// Bus exposes the bus controller so a host can connect devices.
func (vm *VM) Bus() *BusController { return vm.bus }

// Interrupts exposes the interrupt controller so a host can raise IRQs on
// behalf of a device; the bus controller itself raises none.
func (vm *VM) Interrupts() *InterruptController { return vm.ic }

// ConnectDevice connects a device to the bus and maps its MMIO region into
// memory, returning the slot it was assigned.
func (vm *VM) ConnectDevice(desc DeviceDescriptor) (BusSlot, error) {
	return vm.bus.Connect(desc)
}

// Step advances the CPU by one pipeline transition.
func (vm *VM) Step() error {
	return vm.cpu.Step()
}

// Run steps the VM until it halts with no IRQ pending, hits a fault Step
// itself reports as an error, or stop reports true.
func (vm *VM) Run(stop func() bool) error {
	for {
		if stop != nil && stop() {
			return nil
		}

		if vm.cpu.State == StateHalted && !vm.ic.HasPending() {
			return nil
		}

		if err := vm.Step(); err != nil {
			return err
		}
	}
}

func (vm *VM) LogValue() log.Value {
	return log.GroupValue(
		log.Any("cpu", vm.cpu),
		log.Any("ic", vm.ic),
	)
}
