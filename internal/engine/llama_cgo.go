//go:build llama

package engine

// cgo link directives for the in-process llama adapter.
// - rpath of $ORIGIN so the loader finds libllama.so next to the built
//   shared library or binary.
// - -L${SRCDIR}/../../bin so the linker finds libllama.so at link time.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
