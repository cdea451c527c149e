package diag

import (
	"fmt"
	"strconv"
	"strings"
)

// Command_t is one recognized line-editor command, spec 4.E's
// "help, clear, exit, reboot, bitmap, mem, dump <addr> <len>, diag, screen".
type Command_t struct {
	Name string
	Args []string
}

// ParseCommand splits one line-editor input line into a command and
// its arguments. An unrecognized verb is returned as-is; the caller
// decides whether to report it.
func ParseCommand(line string) Command_t {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return Command_t{}
	}
	return Command_t{Name: fields[0], Args: fields[1:]}
}

// Result_t is what executing a command produces for the console to
// display; Reboot/Exit tell the caller to leave the panic UI loop.
type Result_t struct {
	Output string
	Reboot bool
	Exit   bool
}

const helpText = `help    - show this text
clear   - clear the screen
exit    - resume execution (only valid if the fault was recoverable)
reboot  - reboot the machine
bitmap  - print the physical frame pool's allocation bitmap summary
mem     - print memory accounting (used/free/reserved)
dump <addr> <len> - hex-dump <len> bytes starting at <addr>
diag    - point at WriteDumpFile; this command itself writes no dump file
screen  - print the currently selected screen's name`

// MemSummary is the subset of frame-pool accounting the "mem" command
// prints; the caller (cmd/kernel) fills this in from mem.Physmem.
type MemSummary struct {
	TotalFrames, FreeFrames, ReservedFrames uint32
}

// Execute runs one parsed command against a session. readMem is used
// by "dump" to fetch raw bytes for display; it is nil-safe (dump
// reports an error if no reader was wired).
func (s *Session_t) Execute(cmd Command_t, mem MemSummary, readMem func(addr uintptr, n int) ([]byte, bool)) Result_t {
	switch cmd.Name {
	case "", "help":
		return Result_t{Output: helpText}
	case "clear":
		return Result_t{Output: "\x1b[2J\x1b[H"}
	case "exit":
		return Result_t{Exit: true}
	case "reboot":
		return Result_t{Reboot: true}
	case "screen":
		return Result_t{Output: s.Screen.String()}
	case "bitmap":
		return Result_t{Output: fmt.Sprintf("frames: %d total, %d free, %d reserved, %d used",
			mem.TotalFrames, mem.FreeFrames, mem.ReservedFrames,
			mem.TotalFrames-mem.FreeFrames-mem.ReservedFrames)}
	case "mem":
		usedMiB := float64(mem.TotalFrames-mem.FreeFrames-mem.ReservedFrames) / 256
		totalMiB := float64(mem.TotalFrames) / 256
		return Result_t{Output: fmt.Sprintf("%.1f MiB / %.1f MiB used", usedMiB, totalMiB)}
	case "dump":
		return Result_t{Output: s.execDump(cmd.Args, readMem)}
	case "diag":
		return Result_t{Output: "diag: use WriteDumpFile from the kernel entrypoint to persist a dump"}
	default:
		return Result_t{Output: fmt.Sprintf("unknown command %q; try 'help'", cmd.Name)}
	}
}

func (s *Session_t) execDump(args []string, readMem func(addr uintptr, n int) ([]byte, bool)) string {
	if len(args) != 2 {
		return "usage: dump <addr> <len>"
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		return "bad address"
	}
	length, err := strconv.Atoi(args[1])
	if err != nil || length <= 0 {
		return "bad length"
	}
	if readMem == nil {
		return "no memory reader wired"
	}
	b, ok := readMem(uintptr(addr), length)
	if !ok {
		return fmt.Sprintf("address range %#x+%d is not mapped", addr, length)
	}
	return hexDump(uintptr(addr), b)
}

func hexDump(base uintptr, b []byte) string {
	var out strings.Builder
	for i := 0; i < len(b); i += 16 {
		end := i + 16
		if end > len(b) {
			end = len(b)
		}
		fmt.Fprintf(&out, "%#08x  ", base+uintptr(i))
		for _, c := range b[i:end] {
			fmt.Fprintf(&out, "%02x ", c)
		}
		out.WriteByte('\n')
	}
	return out.String()
}
