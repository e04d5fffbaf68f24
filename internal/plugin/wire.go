package plugin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/api"
)

// readString reads length bytes from mod's linear memory at ptr.
func readString(mod api.Module, ptr, length uint32) (string, bool) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(buf), true
}

// writeGuestString asks the guest's alloc export for length bytes and
// copies s into them, returning the pointer and length the guest export
// functions expect. The caller must pair this with freeGuestString.
func writeGuestString(ctx context.Context, mod api.Module, s string) (uint32, uint32, error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("plugin: guest module does not export alloc")
	}
	length := uint32(len(s))
	results, err := alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, 0, fmt.Errorf("plugin: alloc trapped: %w", err)
	}
	ptr := uint32(results[0])
	if length > 0 && !mod.Memory().Write(ptr, []byte(s)) {
		return 0, 0, fmt.Errorf("plugin: writing %d bytes at %#x out of range", length, ptr)
	}
	return ptr, length, nil
}

// freeGuestString releases memory obtained from writeGuestString, via the
// guest's optional dealloc export. A guest without dealloc simply leaks
// the scratch allocation for the remainder of its (per-beam) lifetime.
func freeGuestString(ctx context.Context, mod api.Module, ptr, length uint32) {
	dealloc := mod.ExportedFunction("dealloc")
	if dealloc == nil {
		return
	}
	_, _ = dealloc.Call(ctx, uint64(ptr), uint64(length))
}

// writeReturnString is the host side of a get_var/get_env-style host
// function: it places s into the *calling* guest's memory via that
// guest's alloc export and packs the result the way guest exports that
// return strings are expected to (ptr<<32 | len), so guest code unpacks
// host-function and guest-export string returns identically.
func writeReturnString(ctx context.Context, mod api.Module, s string) uint64 {
	ptr, length, err := writeGuestString(ctx, mod, s)
	if err != nil {
		return 0
	}
	return pack(ptr, length)
}

// unpackReturnString reads a packed (ptr<<32 | len) return value back
// out of the guest's memory. It does not free the memory; callers that
// own the guest instance for its full lifetime don't need to, since the
// instance (and its whole linear memory) is torn down after the beam.
func unpackReturnString(mod api.Module, packed uint64) (string, bool) {
	ptr, length := unpack(packed)
	if length == 0 {
		return "", true
	}
	return readString(mod, ptr, length)
}

func pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpack(packed uint64) (uint32, uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// newInstanceSuffix gives each per-beam guest instantiation a unique
// module name, since wazero requires distinct names for concurrently
// live instances of the same compiled module. A UUID (rather than a
// monotonic counter) doubles as the correlation id a log aggregator can
// use to tie a beam's plugin log lines back to this one instantiation.
func newInstanceSuffix() string {
	return uuid.NewString()
}
