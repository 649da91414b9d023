/*
Package vm implements a deterministic, single-threaded virtual machine for a
32-bit bytecode instruction set.

The design mirrors a small microcontroller: a CPU core drives an explicit
pipeline state machine one transition at a time, memory access is mediated by
a memory controller that dispatches to mapped regions, devices are attached
through a bus controller that hands out address ranges and IRQ lines, and a
separate interrupt controller holds the pending-IRQ bitmap the CPU polls at
instruction boundaries.

# CPU

The CPU has eight 32-bit general-purpose registers (R0-R7), a dedicated
stack pointer distinct from the general registers, a program counter, a
byte of condition flags (Z, S, C, V), a 64-bit cycle counter, and scratch
fields used while servicing exceptions and interrupts. Unlike a traditional fetch-execute-repeat loop, a
single call to Step advances the pipeline by exactly one state transition;
driving an instruction to completion takes several calls. This makes the
machine easy to snapshot mid-instruction and easy to single-step from a
debugger or test.

# Memory

The address space is flat and 32-bit. The memory controller holds a fixed
number of non-overlapping regions, each backed by a device's read/write
callbacks. The interrupt vector table lives in the first 1024 bytes of this
space; everything below the bus MMIO window at 0xF0000000 is available for
device regions.

# Bus

The bus controller is the guest-visible registry of attached devices: it
allocates address ranges and IRQ lines on connect and exposes a small,
read-only memory-mapped region describing every connected device, so guest
code can enumerate its own hardware without host cooperation.

# Snapshot and restore

The CPU, interrupt controller and bus controller serialize their state
into a flat byte buffer and can be reconstructed from one, including by a
different process. The memory controller's region table is not serialized:
on restore the bus re-maps each connected device's region, and regions a
host mapped directly are not restored. Device state is rehydrated through a
caller-supplied callback, since devices are owned by the host, not the VM.
*/
package vm
