package engine

import (
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
	xsync "github.com/anacrolix/sync"
)

// lockWithDeferreds guards a DownloadCore's mutable state and lets
// callers schedule actions that run once the lock is released, so an
// event callback (fired while the lock is held) can queue outbound
// wire writes without re-entering the lock. Transport and webseed
// delivery run on their own goroutines; every mutation to
// PieceStore/Scheduler/swarm.Registry state still funnels through this
// one lock so the core's own per-tick logic stays effectively
// single-threaded between acquisitions.
type lockWithDeferreds struct {
	internal      xsync.RWMutex
	unlockActions []func()
	uniqueActions map[any]struct{}
	allowDefers   bool
	debug         *lockDebugState
}

func (me *lockWithDeferreds) Lock() {
	me.internal.Lock()
	panicif.True(me.allowDefers)
	me.allowDefers = true
	me.debugOnLock()
}

func (me *lockWithDeferreds) Unlock() {
	panicif.False(me.allowDefers)
	me.debugOnUnlock()
	me.allowDefers = false
	me.runUnlockActions()
	me.internal.Unlock()
}

func (me *lockWithDeferreds) RLock() {
	me.internal.RLock()
}

func (me *lockWithDeferreds) RUnlock() {
	me.internal.RUnlock()
}

// Defer schedules action to run once Unlock releases the lock.
func (me *lockWithDeferreds) Defer(action func()) {
	me.deferInner(action)
}

func (me *lockWithDeferreds) deferInner(action func()) {
	panicif.False(me.allowDefers)
	me.unlockActions = append(me.unlockActions, action)
}

func (me *lockWithDeferreds) deferOnceInner(key any, action func()) {
	panicif.False(me.allowDefers)
	g.MakeMapIfNil(&me.uniqueActions)
	if g.MapContains(me.uniqueActions, key) {
		return
	}
	me.uniqueActions[key] = struct{}{}
	me.deferInner(action)
}

// DeferUniqueUnaryFunc schedules action at most once per (action, arg)
// pair within a single critical section, used when several block
// arrivals in one tick would otherwise each queue the same
// "flush outbound interest" action redundantly.
func (me *lockWithDeferreds) DeferUniqueUnaryFunc(arg any, action func()) {
	me.deferOnceInner(unaryFuncKey(action, arg), action)
}

func unaryFuncKey(f func(), key any) funcAndArgKey {
	return funcAndArgKey{funcStr: strconv.FormatUint(uint64(reflect.ValueOf(f).Pointer()), 16), key: key}
}

type funcAndArgKey struct {
	funcStr string
	key     any
}

func (me *lockWithDeferreds) runUnlockActions() {
	startLen := len(me.unlockActions)
	for i := 0; i < len(me.unlockActions); i++ {
		me.unlockActions[i]()
	}
	if startLen != len(me.unlockActions) {
		panic(fmt.Sprintf("num deferred changed while running: %v -> %v", startLen, len(me.unlockActions)))
	}
	me.unlockActions = me.unlockActions[:0]
	me.uniqueActions = nil
}

// FlushDeferred runs pending deferred actions now, while still holding
// the lock, for a tick boundary that wants its side effects visible
// before yielding back to the caller.
func (me *lockWithDeferreds) FlushDeferred() {
	panicif.False(me.allowDefers)
	me.runUnlockActions()
}

// SafeUnlock releases the underlying mutex without running deferred
// actions, for compatCond's Wait to call when parking a goroutine.
func (me *lockWithDeferreds) SafeUnlock() {
	panicif.False(me.allowDefers)
	me.debugOnUnlock()
	me.allowDefers = false
	me.internal.Unlock()
}

// SafeLock reacquires the mutex after SafeUnlock, without replaying
// deferred actions.
func (me *lockWithDeferreds) SafeLock() {
	me.internal.Lock()
	panicif.True(me.allowDefers)
	me.allowDefers = true
	me.debugOnLock()
}

// SafeLocker adapts a lockWithDeferreds to sync.Locker using the
// Safe{Lock,Unlock} pair, for compatCond.
type SafeLocker struct {
	mu *lockWithDeferreds
}

func (sl *SafeLocker) Lock()   { sl.mu.SafeLock() }
func (sl *SafeLocker) Unlock() { sl.mu.SafeUnlock() }

func (me *lockWithDeferreds) GetSafeLocker() sync.Locker {
	return &SafeLocker{mu: me}
}

// EnableDebug turns on ownership checks and, optionally, stack capture
// for diagnosing unexpected cross-goroutine lock contention.
func (me *lockWithDeferreds) EnableDebug(name string, captureStacks bool) {
	if name == "" && !captureStacks {
		me.debug = nil
		return
	}
	me.debug = &lockDebugState{name: name, captureStacks: captureStacks}
}

func (me *lockWithDeferreds) debugOnLock() {
	if me.debug == nil {
		return
	}
	gid := currentGoroutineID()
	if me.debug.owner == gid {
		me.debug.depth++
		return
	}
	if me.debug.owner != 0 {
		panic(fmt.Sprintf("lock %s already owned by goroutine %d (attempt %d)\nprevious lock stack:\n%s",
			me.debug.name, me.debug.owner, gid, strings.TrimSpace(string(me.debug.lastStack))))
	}
	me.debug.owner = gid
	me.debug.depth = 1
	if me.debug.captureStacks {
		me.debug.lastStack = captureStack()
	}
}

func (me *lockWithDeferreds) debugOnUnlock() {
	if me.debug == nil {
		return
	}
	gid := currentGoroutineID()
	if me.debug.owner != gid {
		panic(fmt.Sprintf("unlock by goroutine %d, owned by %d\nowner stack:\n%s",
			gid, me.debug.owner, strings.TrimSpace(string(me.debug.lastStack))))
	}
	me.debug.depth--
	if me.debug.depth == 0 {
		me.debug.owner = 0
		if me.debug.captureStacks {
			me.debug.lastStack = nil
		}
	}
}

type lockDebugState struct {
	name          string
	owner         int64
	depth         int
	captureStacks bool
	lastStack     []byte
}

func captureStack() []byte {
	buf := make([]byte, 2048)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// DebugInfo returns a human-readable description of the current lock
// holder, or an explanation of why none is available. Safe to call
// concurrently; reads are racy but this is diagnostic-only.
func (me *lockWithDeferreds) DebugInfo() string {
	d := me.debug
	if d == nil {
		return "lock debug not enabled"
	}
	owner := d.owner
	if owner == 0 {
		return "lock not held"
	}
	stack := string(d.lastStack)
	if stack == "" {
		return fmt.Sprintf("lock %q held by goroutine %d (no stack captured)", d.name, owner)
	}
	return fmt.Sprintf("lock %q held by goroutine %d\n%s", d.name, owner, stack)
}

func currentGoroutineID() int64 {
	const prefix = "goroutine "
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	line := strings.TrimPrefix(string(buf[:n]), prefix)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return -1
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return -1
	}
	return id
}
