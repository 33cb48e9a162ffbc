// Command libpowerserve builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libpowerserve.so ./cmd/libpowerserve
//
// The host loads it, submits with powerserveInfer, polls with
// powerserveInferGetResponse (freeing each result with powerserveFreeString)
// and releases with powerserveInferDestroyResponse. Set POWERBRIDGE_CONFIG to
// a yaml/json/toml file to tune the engine before the first call.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"context"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"powerbridge/internal/app"
	"powerbridge/internal/bridge"
	"powerbridge/internal/config"
)

const shutdownTimeout = 10 * time.Second

var (
	hostOnce sync.Once
	host     *app.Host
	hostErr  error
)

func loadHost() (*app.Host, error) {
	hostOnce.Do(func() {
		cfg := config.Default()
		if p := os.Getenv("POWERBRIDGE_CONFIG"); p != "" {
			c, err := config.Load(p)
			if err != nil {
				hostErr = err
				return
			}
			cfg = c
			cfg.ApplyDefaults()
		}
		log, err := app.NewLogger(cfg.LogLevel, cfg.LogJSON, os.Stderr)
		if err != nil {
			log = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
		app.InstallLogger(log)
		host, hostErr = app.Process(cfg, log)
	})
	return host, hostErr
}

//export powerserveInfer
func powerserveInfer(workFolder, request *C.char) C.uint64_t {
	h, err := loadHost()
	if err != nil {
		return 0
	}
	opts := h.Options()
	return C.uint64_t(h.Infer(
		goStringN(workFolder, bridge.ReadLimit(opts.MaxWorkFolderBytes)),
		goStringN(request, bridge.ReadLimit(opts.MaxRequestBytes)),
	))
}

// goStringN copies at most limit bytes of a NUL-terminated host string, so
// an oversized input is never copied in full before truncation.
func goStringN(s *C.char, limit int) string {
	if s == nil || limit <= 0 {
		return ""
	}
	n := C.strnlen(s, C.size_t(limit))
	return C.GoStringN(s, C.int(n))
}

//export powerserveInferGetResponse
func powerserveInferGetResponse(handle C.uint64_t) *C.char {
	h, err := loadHost()
	if err != nil {
		return C.CString(bridge.ErrorPrefix + err.Error())
	}
	return C.CString(h.GetResponse(uint64(handle)))
}

//export powerserveInferDestroyResponse
func powerserveInferDestroyResponse(handle C.uint64_t) {
	h, err := loadHost()
	if err != nil {
		return
	}
	h.DestroyResponse(uint64(handle))
}

//export powerserveFreeString
func powerserveFreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

//export powerserveShutdown
func powerserveShutdown() {
	h, err := loadHost()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = h.Close(ctx)
}

func main() {}
