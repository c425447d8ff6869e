package detector

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// TerminateFunc receives the formatted diagnostic after a fatal violation.
// It is expected not to return; the default aborts the process.
type TerminateFunc func(diagnostic string)

// Reporter formats violations and terminates checked execution.
//
// It is intentionally side-effect terminal: once Report is invoked, process
// state is assumed corrupted for further checked execution, so there is no
// recovery path. The only configurable pieces are where the diagnostic is
// written and what "terminate" means (tests substitute a panic).
type Reporter struct {
	out       io.Writer
	terminate TerminateFunc
	log       *zap.Logger
}

// NewReporter creates a reporter. A nil out defaults to stderr, a nil
// terminate defaults to exiting the process with status 1, a nil logger is
// replaced by a no-op.
func NewReporter(out io.Writer, terminate TerminateFunc, log *zap.Logger) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	if terminate == nil {
		terminate = func(string) { os.Exit(1) }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{out: out, terminate: terminate, log: log}
}

// Report formats the violation, emits it, and invokes the termination
// callback. It never returns: if the callback does, the process is aborted
// anyway, since continuing after a detected violation is unsafe by design.
func (r *Reporter) Report(v *Violation) {
	diagnostic := Format(v)

	r.log.Error("fatal memory violation",
		zap.String("kind", v.Kind.String()),
		zap.Uintptr("address", v.Addr))

	fmt.Fprint(r.out, diagnostic)
	r.terminate(diagnostic)
	os.Exit(1)
}

// Format renders the deterministic diagnostic text for a violation.
//
// For out-of-bounds accesses the text contains the exact substring
// "is located <N> byte(s) before" or "is located <N> byte(s) after"; this
// phrasing is a compatibility contract with external log scrapers and must
// not change.
func Format(v *Violation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "==heapguard== ERROR: %s on address 0x%012x\n", v.Kind, v.BadAddr)

	switch v.Kind {
	case OutOfBounds:
		fmt.Fprintf(&b, "%s of size %d at 0x%012x\n", v.Access, v.Size, v.Addr)
		fmt.Fprintf(&b, "0x%012x is located %d byte(s) %s %d-byte region [0x%012x,0x%012x)\n",
			v.BadAddr, v.Distance, v.Direction, v.Chunk.UserSize, v.Chunk.UserBase, v.Chunk.UserEnd())
		writeCallSite(&b, "allocated at:", v.Chunk.AllocPCs)

	case UseAfterFree:
		fmt.Fprintf(&b, "%s of size %d at 0x%012x\n", v.Access, v.Size, v.Addr)
		if c := v.Chunk; c != nil {
			fmt.Fprintf(&b, "0x%012x is located %d byte(s) inside of %d-byte region [0x%012x,0x%012x)\n",
				v.BadAddr, offsetInRegion(v.BadAddr, c.UserBase), c.UserSize, c.UserBase, c.UserEnd())
			writeCallSite(&b, "freed at:", c.FreePCs)
			writeCallSite(&b, "previously allocated at:", c.AllocPCs)
		}

	case WildAccess:
		fmt.Fprintf(&b, "%s of size %d at 0x%012x\n", v.Access, v.Size, v.Addr)
		b.WriteString("address is not tracked by any allocation\n")

	case InvalidFree:
		if c := v.Chunk; c != nil {
			fmt.Fprintf(&b, "attempting double-free on %d-byte region [0x%012x,0x%012x)\n",
				c.UserSize, c.UserBase, c.UserEnd())
			writeCallSite(&b, "first freed at:", c.FreePCs)
			writeCallSite(&b, "previously allocated at:", c.AllocPCs)
		} else {
			b.WriteString("attempting free on address which was not allocated\n")
		}

	case BadAccessSize:
		fmt.Fprintf(&b, "%s of size %d at 0x%012x\n", v.Access, v.Size, v.Addr)
		b.WriteString("invalid access size: checker contract violation by instrumentation\n")
	}

	b.WriteString("==heapguard== ABORTING\n")
	return b.String()
}

// offsetInRegion guards against a bad address just below the user base
// (possible for a hit in the freed chunk's left redzone).
func offsetInRegion(bad, userBase uintptr) uintptr {
	if bad < userBase {
		return 0
	}
	return bad - userBase
}

// writeCallSite renders captured call-site program counters in the
// function/file:line layout used by Go runtime reports. Frames inside this
// module's internals and the runtime are skipped so the first frame shown is
// the user call site. Resolution happens here, off the allocation path.
func writeCallSite(b *strings.Builder, header string, pcs []uintptr) {
	if len(pcs) == 0 {
		return
	}
	b.WriteString(header)
	b.WriteByte('\n')

	frames := runtime.CallersFrames(pcs)
	wrote := false
	for {
		frame, more := frames.Next()
		if frame.Function != "" &&
			!strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "heapguard/internal/asan") {
			fmt.Fprintf(b, "  %s()\n      %s:%d\n", frame.Function, frame.File, frame.Line)
			wrote = true
		}
		if !more {
			break
		}
	}
	if !wrote {
		b.WriteString("  (no call site available)\n")
	}
}
