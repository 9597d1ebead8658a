// Package gid exposes the current goroutine's id.
//
// The id is parsed from the first line of runtime.Stack output, which has
// the fixed form "goroutine N [state]:". This is the standard technique for
// goroutine-keyed registries; the id is used only as a map key and never
// shown to users.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Get returns the id of the calling goroutine.
func Get() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], prefix)
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
