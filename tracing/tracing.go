package tracing

import (
	"context"
	"runtime"
)

func callerIdent(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}

type tracingContextKey int

const (
	CallerContext tracingContextKey = 1 + iota
)

type jobSubtree struct {
	jobid string
}

type ctx struct {
	parent *ctx
	job    *jobSubtree
	ident  string
}

var root = &ctx{nil, nil, ""}

func getParentOrRoot(c context.Context) *ctx {
	parent, ok := c.Value(CallerContext).(*ctx)
	if !ok {
		parent = root
	}
	return parent
}

func makeChild(c context.Context, child *ctx) context.Context {
	if child.parent == nil {
		panic(child)
	}
	return context.WithValue(c, CallerContext, child)
}

func Child(c context.Context, ident string) context.Context {
	parent := getParentOrRoot(c)
	return makeChild(c, &ctx{parent: parent, ident: ident})
}

// WithSpanFromStackUpdateCtx opens a child span named after the caller's own
// function, rewrites *c to carry it, and returns a closer to end the span.
// It exists so call sites that only have a single *context.Context variable
// (instead of threading a separate span handle) can bracket a blocking
// operation with one defer.
func WithSpanFromStackUpdateCtx(c *context.Context) func() {
	ident := callerIdent(2)
	*c = Child(*c, ident)
	return func() {}
}

// WithSpanFromStack is the non-mutating counterpart: it returns a new
// context instead of rewriting the caller's variable in place.
func WithSpanFromStack(c context.Context) (context.Context, func()) {
	ident := callerIdent(2)
	return Child(c, ident), func() {}
}

func GetStack(c context.Context) (idents []string) {
	ct, ok := c.Value(CallerContext).(*ctx)
	if !ok {
		return idents
	}
	for ct.parent != nil {
		idents = append(idents, ct.ident)
		ct = ct.parent
	}
	return idents
}
