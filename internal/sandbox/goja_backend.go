package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/felixgeelhaar/gradebox/internal/dom"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

const (
	maxCallStackSize = 1024
	minTimerInterval = time.Millisecond
	closeGrace       = time.Second
)

var errInterrupted = errors.New("execution interrupted")

// stackLocation matches the first "file.js:line:col" in a goja stack.
var stackLocation = regexp.MustCompile(`([^\s()]+\.js):(\d+):\d+`)

// syntaxPosition matches the "file: Line n:c " goja's parser puts in its
// messages.
var syntaxPosition = regexp.MustCompile(`\S+: Line (\d+):\d+ `)

// GojaBackend runs documents in an in-process goja runtime. Each launch
// gets its own runtime and parsed document; nothing is shared between runs.
type GojaBackend struct {
	logger *slog.Logger
}

// NewGojaBackend creates the in-process backend.
func NewGojaBackend(logger *slog.Logger) *GojaBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &GojaBackend{logger: logger}
}

// Name implements Backend.
func (b *GojaBackend) Name() string { return string(BackendGoja) }

// Launch parses the document, installs the window globals and starts the
// script/event loop on its own goroutine.
func (b *GojaBackend) Launch(ctx context.Context, req LaunchRequest) (Isolate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := dom.Parse(req.Document)
	if err != nil {
		return nil, err
	}

	iso := &gojaIsolate{
		vm:        goja.New(),
		doc:       doc,
		origin:    req.Origin,
		bridge:    req.Bridge,
		logger:    b.logger.With("generation", req.Generation),
		timers:    make(map[int64]*jsTimer),
		listeners: make(map[string][]listener),
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	if err := iso.setup(); err != nil {
		return nil, fmt.Errorf("setup runtime: %w", err)
	}

	go iso.run(doc.Scripts())
	return iso, nil
}

type listener struct {
	value goja.Value
	fn    goja.Callable
}

type jsTimer struct {
	id       int64
	due      time.Time
	interval time.Duration
	repeat   bool
	fn       goja.Callable
	args     []goja.Value
}

// gojaIsolate is single-threaded: after setup every goja call happens on
// the run goroutine. Only Interrupt and DOM are called from outside.
type gojaIsolate struct {
	vm     *goja.Runtime
	doc    *dom.Document
	origin string
	bridge Bridge
	logger *slog.Logger
	dom    *domBinding

	timers     map[int64]*jsTimer
	timerSeq   int64
	listeners  map[string][]listener
	rejections []*goja.Promise

	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// DOM implements Isolate.
func (i *gojaIsolate) DOM() domain.DocumentQuerier { return i.doc }

// Interrupt implements Isolate.
func (i *gojaIsolate) Interrupt() {
	i.stopOnce.Do(func() {
		close(i.stop)
		i.vm.Interrupt(errInterrupted)
	})
}

// Close implements Isolate. It waits briefly for the run goroutine.
func (i *gojaIsolate) Close() error {
	i.Interrupt()
	select {
	case <-i.exited:
		return nil
	case <-time.After(closeGrace):
		return errors.New("goja isolate did not stop")
	}
}

func (i *gojaIsolate) stopped() bool {
	select {
	case <-i.stop:
		return true
	default:
		return false
	}
}

func (i *gojaIsolate) setup() error {
	vm := i.vm
	vm.SetMaxCallStackSize(maxCallStackSize)
	vm.SetPromiseRejectionTracker(i.trackRejection)

	global := vm.GlobalObject()
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := global.Delete(name); err != nil {
			return err
		}
	}

	parent := vm.NewObject()
	_ = parent.Set("postMessage", i.postMessage)

	location := vm.NewObject()
	_ = location.Set("href", "about:srcdoc")
	_ = location.Set("origin", "null")
	for _, name := range []string{"assign", "replace", "reload"} {
		_ = location.Set(name, noop)
	}

	i.dom = newDOMBinding(i)

	globals := map[string]any{
		"window":              global,
		"self":                global,
		"parent":              parent,
		"top":                 parent,
		"location":            location,
		"console":             i.console(),
		"document":            i.dom.document(),
		"addEventListener":    i.addEventListener,
		"removeEventListener": i.removeEventListener,
		"setTimeout":          i.setTimer(false),
		"setInterval":         i.setTimer(true),
		"clearTimeout":        i.clearTimer,
		"clearInterval":       i.clearTimer,
		"open":                func(goja.FunctionCall) goja.Value { return goja.Null() },
		"alert":               noop,
		"fetch":               i.rejectFetch,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func noop(goja.FunctionCall) goja.Value { return goja.Undefined() }

func (i *gojaIsolate) run(scripts []dom.Script) {
	defer close(i.exited)

	for _, s := range scripts {
		if i.stopped() {
			return
		}
		if !i.runScript(s) {
			return
		}
	}

	if !i.dom.fire(i.dom.root, "DOMContentLoaded", false) || !i.dispatch("load", i.vm.NewObject()) {
		return
	}

	if !i.loop() {
		return
	}

	i.postSnapshot()
	i.bridge.Complete()
}

// runScript compiles and runs one script element. It returns false once
// the isolate was interrupted.
func (i *gojaIsolate) runScript(s dom.Script) bool {
	prog, err := goja.Compile(s.Name, s.Source, false)
	if err != nil {
		msg, line := compileError(err)
		return i.reportError(msg, s.Name, scriptLine(s.Name, line), goja.Undefined())
	}
	_, err = i.vm.RunProgram(prog)
	if !i.handle(err, s.Name) {
		return false
	}
	return i.flushRejections()
}

// loop runs timers until none are left or the isolate is interrupted.
func (i *gojaIsolate) loop() bool {
	for len(i.timers) > 0 {
		t := i.nextTimer()

		if wait := time.Until(t.due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-i.stop:
				timer.Stop()
				return false
			}
		} else if i.stopped() {
			return false
		}

		if t.repeat {
			t.due = time.Now().Add(t.interval)
		} else {
			delete(i.timers, t.id)
		}

		_, err := t.fn(goja.Undefined(), t.args...)
		if !i.handle(err, "") || !i.flushRejections() {
			return false
		}
	}
	return !i.stopped()
}

func (i *gojaIsolate) nextTimer() *jsTimer {
	var next *jsTimer
	for _, t := range i.timers {
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
			next = t
		}
	}
	return next
}

// handle reports an uncaught exception to the window error listeners. It
// returns false when err is an interruption.
func (i *gojaIsolate) handle(err error, filename string) bool {
	if err == nil {
		return true
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || i.stopped() {
		return false
	}

	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return i.reportError(err.Error(), filename, 0, goja.Undefined())
	}

	file, line := exceptionLocation(ex)
	if file == "" {
		file = filename
	}
	return i.reportError("Uncaught "+ex.Value().String(), file, scriptLine(file, line), ex.Value())
}

// compileError splits a compile failure into its message and line.
func compileError(err error) (string, int) {
	msg := err.Error()
	if m := syntaxPosition.FindStringSubmatchIndex(msg); m != nil {
		line, _ := strconv.Atoi(msg[m[2]:m[3]])
		return msg[:m[0]] + msg[m[1]:], line
	}
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) && se.File != nil {
		return "SyntaxError: " + se.Message, se.File.Position(se.Offset).Line
	}
	return msg, 0
}

// scriptLine converts a line of the learner script element to the
// learner's own numbering.
func scriptLine(file string, line int) int {
	if file == LearnerScriptName && line > learnerLineOffset {
		return line - learnerLineOffset
	}
	return line
}

func exceptionLocation(ex *goja.Exception) (string, int) {
	m := stackLocation.FindStringSubmatch(ex.String())
	if m == nil {
		return "", 0
	}
	line, _ := strconv.Atoi(m[2])
	return m[1], line
}

func (i *gojaIsolate) reportError(message, filename string, line int, value goja.Value) bool {
	ev := i.vm.NewObject()
	_ = ev.Set("type", "error")
	_ = ev.Set("message", message)
	_ = ev.Set("filename", filename)
	if line > 0 {
		_ = ev.Set("lineno", line)
	}
	_ = ev.Set("error", value)
	return i.dispatch("error", ev)
}

func (i *gojaIsolate) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		i.rejections = append(i.rejections, p)
	case goja.PromiseRejectionHandle:
		for n, pending := range i.rejections {
			if pending == p {
				i.rejections = append(i.rejections[:n], i.rejections[n+1:]...)
				break
			}
		}
	}
}

// flushRejections fires unhandledrejection for promises still unhandled
// after the current task.
func (i *gojaIsolate) flushRejections() bool {
	for len(i.rejections) > 0 {
		p := i.rejections[0]
		i.rejections = i.rejections[1:]

		ev := i.vm.NewObject()
		_ = ev.Set("type", "unhandledrejection")
		_ = ev.Set("reason", p.Result())
		_ = ev.Set("promise", p)
		if !i.dispatch("unhandledrejection", ev) {
			return false
		}
	}
	return true
}

func (i *gojaIsolate) addEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
		i.listeners[typ] = append(i.listeners[typ], listener{value: call.Argument(1), fn: fn})
	}
	return goja.Undefined()
}

func (i *gojaIsolate) removeEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	i.listeners[typ] = without(i.listeners[typ], call.Argument(1))
	return goja.Undefined()
}

// dispatch calls the window listeners for typ in registration order.
func (i *gojaIsolate) dispatch(typ string, ev *goja.Object) bool {
	for _, l := range append([]listener(nil), i.listeners[typ]...) {
		if !i.invoke(l.fn, i.vm.GlobalObject(), ev) {
			return false
		}
	}
	return true
}

func without(ls []listener, target goja.Value) []listener {
	kept := make([]listener, 0, len(ls))
	for _, l := range ls {
		if !l.value.SameAs(target) {
			kept = append(kept, l)
		}
	}
	return kept
}

// invoke calls a listener. Errors thrown by listeners are logged and
// swallowed; an interruption is re-armed so it unwinds the caller too.
func (i *gojaIsolate) invoke(fn goja.Callable, this goja.Value, args ...goja.Value) bool {
	_, err := fn(this, args...)
	if err == nil {
		return true
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || i.stopped() {
		i.vm.Interrupt(errInterrupted)
		return false
	}
	i.logger.Debug("listener threw", "error", err)
	return true
}

func (i *gojaIsolate) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return i.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		if repeat && delay < minTimerInterval {
			delay = minTimerInterval
		}

		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		i.timerSeq++
		i.timers[i.timerSeq] = &jsTimer{
			id:       i.timerSeq,
			due:      time.Now().Add(delay),
			interval: delay,
			repeat:   repeat,
			fn:       fn,
			args:     args,
		}
		return i.vm.ToValue(i.timerSeq)
	}
}

func (i *gojaIsolate) clearTimer(call goja.FunctionCall) goja.Value {
	delete(i.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

func (i *gojaIsolate) rejectFetch(goja.FunctionCall) goja.Value {
	p, _, reject := i.vm.NewPromise()
	_ = reject(i.vm.NewTypeError("Failed to fetch"))
	return i.vm.ToValue(p)
}

func (i *gojaIsolate) postMessage(call goja.FunctionCall) goja.Value {
	target := ""
	if t := call.Argument(1); !goja.IsUndefined(t) && !goja.IsNull(t) {
		target = t.String()
	}
	i.bridge.Post(target, call.Argument(0).Export())
	return goja.Undefined()
}

// console is the native console: output goes to the debug log only.
func (i *gojaIsolate) console() *goja.Object {
	obj := i.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for n, arg := range call.Arguments {
				parts[n] = arg.String()
			}
			i.logger.Debug("learner console", "level", level, "message", strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return obj
}

func (i *gojaIsolate) postSnapshot() {
	snap, err := i.doc.Snapshot()
	if err != nil {
		i.logger.Warn("snapshot document", "error", err)
		return
	}
	i.bridge.Post(i.origin, map[string]any{
		"type":     MessageDOMSnapshot,
		"snapshot": map[string]any(snap),
	})
}
