// Package fmtt formats values and error chains for debug logging.
package fmtt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	MaxDepth:                4,
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Dump renders v with spew. Only meant for debug-level log fields.
func Dump(v any) string {
	return dumper.Sdump(v)
}

// ErrChain walks an error chain and renders each layer with its type, one per line.
func ErrChain(err error) string {
	if err == nil {
		return "<nil>"
	}

	var b strings.Builder
	i := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "[%d] %T: %v\n", i, e, e)
		i++
	}
	return b.String()
}
