package syscall

import (
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/internal/kmetrics"
)

// Handler implements one syscall number's behavior, returning a success
// value or a negative-mappable error.
type Handler func(ctx *Context) (uintptr, error)

// entry pairs a handler with a name, for logging/metrics labels — the
// same "Supported(name, fn)" shape gvisor's syscall table uses.
type entry struct {
	name string
	fn   Handler
}

// Table is the flat syscall-number-indexed dispatch table spec.md §4.8
// describes.
type Table struct {
	entries map[uintptr]entry
	metrics *kmetrics.Registry
}

// NewTable returns an empty dispatch table.
func NewTable(metrics *kmetrics.Registry) *Table {
	return &Table{entries: make(map[uintptr]entry), metrics: metrics}
}

// Register installs fn as the handler for syscall number id.
func (t *Table) Register(id uintptr, name string, fn Handler) {
	t.entries[id] = entry{name: name, fn: fn}
}

// Dispatch decodes the syscall number from ctx's frame, invokes the
// matching handler, and writes the result back into the frame exactly as
// spec.md §4.8 specifies: a non-negative usize on success, or the negated
// errno on failure, with ENOSYS for an unregistered number.
func (t *Table) Dispatch(ctx *Context) {
	id := ctx.Frame.SyscallID()
	e, ok := t.entries[id]
	if !ok {
		ctx.Frame.SetReturn(uintptr(errno.ToReturnValue(0, errno.ENOSYS)))
		return
	}
	if t.metrics != nil {
		t.metrics.SyscallTotal.WithLabelValues(e.name).Inc()
	}
	result, err := e.fn(ctx)
	ctx.Frame.SetReturn(uintptr(errno.ToReturnValue(result, err)))
}
