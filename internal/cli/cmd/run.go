package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nullbus/vm32/internal/cli"
	"github.com/nullbus/vm32/internal/device/console"
	"github.com/nullbus/vm32/internal/device/rom"
	"github.com/nullbus/vm32/internal/encoding"
	"github.com/nullbus/vm32/internal/log"
	"github.com/nullbus/vm32/internal/vm"
)

// Run returns the "run" sub-command: loads a hex-encoded guest image,
// connects a ROM device holding it and a console device for output, and
// drives the VM to a halt or a step budget.
func Run() cli.Command {
	return &runner{log: log.DefaultLogger()}
}

type runner struct {
	logLevel slog.Level
	steps    uint
	timeout  time.Duration

	log *log.Logger
}

func (runner) Description() string {
	return "run a guest program"
}

func (runner) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run program.hex

Loads a hex-encoded guest image as ROM at address 0, connects a console
device, and steps the machine until it halts, errors, or the step budget or
timeout is reached.`)

	return err
}

func (r *runner) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Func("loglevel", "set log `level`", func(s string) error {
		return r.logLevel.UnmarshalText([]byte(s))
	})
	fs.UintVar(&r.steps, "steps", 1_000_000, "maximum number of pipeline steps before giving up")
	fs.DurationVar(&r.timeout, "timeout", 10*time.Second, "wall-clock budget for the run")

	return fs
}

// Run executes the program named by args[0].
func (r *runner) Run(ctx context.Context, args []string, _ io.Writer, logger *log.Logger) int {
	if len(args) != 1 {
		logger.Error("run: expected exactly one program argument")
		return -1
	}

	log.LogLevel.Set(r.logLevel)

	image, err := r.loadImage(args[0])
	if err != nil {
		logger.Error("run: error loading image", "err", err)
		return -1
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	machine, err := vm.New(vm.WithLogger(logger))
	if err != nil {
		logger.Error("run: error creating machine", "err", err)
		return -1
	}

	rom := rom.FromBytes(image)
	if _, err := machine.ConnectDevice(rom.Descriptor()); err != nil {
		logger.Error("run: error connecting rom", "err", err)
		return -1
	}

	termOut, err := console.NewConsole(os.Stdin, os.Stdout)
	if err != nil {
		logger.Error("run: error opening console", "err", err)
		return -1
	}
	defer termOut.Restore() //nolint:errcheck

	if _, err := machine.ConnectDevice(termOut.Descriptor()); err != nil {
		logger.Error("run: error connecting console", "err", err)
		return -1
	}

	logger.Info("run: starting machine", "file", args[0], "bytes", len(image))

	steps := uint(0)

	stop := func() bool {
		steps++
		if steps > r.steps {
			return true
		}

		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	runErr := machine.Run(stop)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Warn("run: timeout")
		return 2
	case runErr != nil:
		logger.Error("run: error", "err", runErr)
		return 2
	case steps > r.steps:
		logger.Warn("run: step budget exhausted")
		return 2
	default:
		logger.Info("run: halted")
		return 0
	}
}

func (r *runner) loadImage(fn string) ([]byte, error) {
	file, err := os.Open(fn)
	if err != nil {
		return nil, fmt.Errorf("run: open %s: %w", fn, err)
	}
	defer file.Close()

	text, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("run: read %s: %w", fn, err)
	}

	var hexEnc encoding.HexEncoding

	if err := hexEnc.UnmarshalText(text); err != nil {
		return nil, fmt.Errorf("run: decode %s: %w", fn, err)
	}

	return flatten(hexEnc.Code()), nil
}

// flatten lays out a set of hex-encoded images into one contiguous byte
// buffer starting at address 0, the layout the ROM device expects.
func flatten(images []encoding.Image) []byte {
	var end uint32

	for _, img := range images {
		if e := uint32(img.Orig) + uint32(len(img.Data)); e > end {
			end = e
		}
	}

	buf := make([]byte, end)

	for _, img := range images {
		copy(buf[uint32(img.Orig):], img.Data)
	}

	return buf
}
