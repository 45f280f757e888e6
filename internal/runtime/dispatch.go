package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/copilotz/pkg/actions"
	"github.com/aretw0/copilotz/pkg/domain"
)

// dispatch runs the calls concurrently, at most maxParallel at a time, and
// waits for all of them. Calls are mutated in place. The returned map merges
// the media of every successful call.
func (e *Engine) dispatch(ctx context.Context, req *Request, set actions.Set, calls []*domain.FunctionCall) map[string]any {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		media = make(map[string]any)
	)
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for _, call := range calls {
		g.Go(func() error {
			if m := e.invoke(ctx, req, set, call); len(m) > 0 {
				mu.Lock()
				maps.Copy(media, m)
				mu.Unlock()
			}
			// Failures are recorded on the call; siblings keep running.
			return nil
		})
	}
	_ = g.Wait()
	return media
}

// invoke executes one call and records its outcome on the call.
func (e *Engine) invoke(ctx context.Context, req *Request, set actions.Set, call *domain.FunctionCall) map[string]any {
	start := e.now()
	call.StartTime = start
	e.fireFunction(ctx, e.hooks.OnFunctionCall, domain.EventFunctionCall, req, call, 0)

	action, ok := set[call.Name]
	if !ok || action.Invoke == nil {
		e.logger.Warn("action not found", "thread_id", req.ThreadID, "name", call.Name)
		call.Status = domain.FunctionFailed
		call.Results = domain.ErrorResult(domain.CodeNotFound,
			fmt.Sprintf("Function %s not found. Please, check and try again", call.Name))
		e.fireFunction(ctx, e.hooks.OnFunctionReturn, domain.EventFunctionReturn, req, call, since(e.now, start))
		return nil
	}

	call.Status = domain.FunctionPending
	result, err := safeInvoke(ctx, action, call.Args)

	var media map[string]any
	if err != nil {
		code, msg := domain.CodeFunctionError, err.Error()
		var coded *domain.CodedError
		if errors.As(err, &coded) {
			code, msg = coded.Code, coded.Message
		}
		e.logger.Warn("action failed", "thread_id", req.ThreadID, "name", call.Name, "error", err)
		call.Status = domain.FunctionFailed
		call.Results = domain.ErrorResult(code, msg)
	} else {
		result, media = actions.SplitMedia(result)
		if result == nil {
			result = map[string]any{"message": "function call returned no result"}
		}
		call.Status = domain.FunctionOK
		call.Results = result
	}

	e.fireFunction(ctx, e.hooks.OnFunctionReturn, domain.EventFunctionReturn, req, call, since(e.now, start))
	return media
}

// safeInvoke converts a panicking action into a function error.
func safeInvoke(ctx context.Context, a *actions.Action, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", a.Name, r)
		}
	}()
	return a.Invoke(ctx, args)
}

func (e *Engine) fireFunction(ctx context.Context, fn func(context.Context, *domain.FunctionEvent), typ domain.EventType, req *Request, call *domain.FunctionCall, d time.Duration) {
	if fn == nil {
		return
	}
	fn(ctx, &domain.FunctionEvent{
		EventBase: domain.EventBase{
			Timestamp: e.now(),
			Type:      typ,
			ThreadID:  req.ThreadID,
		},
		Name:     call.Name,
		Args:     call.Args,
		Results:  call.Results,
		Status:   call.Status,
		Duration: d,
	})
}
