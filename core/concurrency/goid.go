// File: core/concurrency/goid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"strconv"
	"strings"
)

// GoroutineID returns the numeric id of the calling goroutine. Event
// loops record theirs once at startup; comparing against it answers
// "am I on the loop thread" without thread locals.
func GoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Header shape: "goroutine 123 [running]:"
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	i := strings.IndexByte(s, ' ')
	if i <= 0 {
		return -1
	}
	id, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return -1
	}
	return id
}
