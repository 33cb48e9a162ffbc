package engine

import (
	"context"
	"time"
)

// instance is a loaded model plus its admission primitives. llama contexts
// are not reentrant, so each model serves one generation at a time.
type instance struct {
	id      string
	sess    InferSession
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}

func newInstance(id string, sess InferSession, queueDepth int) *instance {
	return &instance{
		id:      id,
		sess:    sess,
		genCh:   make(chan struct{}, 1),
		queueCh: make(chan struct{}, queueDepth),
	}
}

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (e *Local) beginGeneration(ctx context.Context, inst *instance) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(e.cfg.MaxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{modelID: inst.id}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	timer2 := time.NewTimer(e.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case inst.genCh <- struct{}{}:
		acquired = true
		return func() { <-inst.genCh; <-inst.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{modelID: inst.id}
	}
}
