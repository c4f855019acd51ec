// Package hooks runs a user-supplied Lua script after each iteration.
// The script is sandboxed: no file, network or process access, only
// the base, table, string and math libraries plus the hook API.
package hooks

import (
	"fmt"
	"io"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/continuous-claude/continuous-claude/internal/loop"
)

// Runtime loads a Lua hook script and invokes its on_iteration
// function once per completed iteration. A fresh Lua state is created
// per call so a misbehaving script cannot leak state across
// iterations.
type Runtime struct {
	script string
	path   string
	diag   io.Writer
}

// Load reads the hook script from path.
func Load(path string, diag io.Writer) (*Runtime, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook script: %w", err)
	}
	return &Runtime{script: string(script), path: path, diag: diag}, nil
}

// OnIteration calls the script's on_iteration(info) function and
// returns its string result. "stop" tells the loop to end the run.
// A script without an on_iteration function is a no-op.
func (r *Runtime) OnIteration(info loop.IterationInfo) (string, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L, info)

	if err := L.DoString(r.script); err != nil {
		return "", fmt.Errorf("hook script %s: %w", r.path, err)
	}

	fn := L.GetGlobal("on_iteration")
	if fn == lua.LNil {
		return "", nil
	}

	L.Push(fn)
	L.Push(r.infoToTable(L, info))
	if err := L.PCall(1, 1, nil); err != nil {
		return "", fmt.Errorf("hook on_iteration: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	if s, ok := ret.(lua.LString); ok {
		return string(s), nil
	}
	return "", nil
}

func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// No loading code from outside the script, and no raw print; the
	// hook logs through log() so output lands on the diagnostic
	// stream.
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (r *Runtime) registerAPI(L *lua.LState, info loop.IterationInfo) {
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		fmt.Fprintf(r.diag, "[hook] %s\n", L.CheckString(1))
		return 0
	}))
	L.SetGlobal("context", L.NewFunction(func(L *lua.LState) int {
		L.Push(r.infoToTable(L, info))
		return 1
	}))
}

func (r *Runtime) infoToTable(L *lua.LState, info loop.IterationInfo) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "iteration", lua.LNumber(info.Index))
	L.SetField(tbl, "label", lua.LString(info.Label))
	L.SetField(tbl, "outcome", lua.LString(string(info.Outcome)))
	L.SetField(tbl, "output", lua.LString(info.DisplayText))
	L.SetField(tbl, "total_cost", lua.LNumber(info.TotalCost))
	L.SetField(tbl, "signal_count", lua.LNumber(info.SignalCount))
	return tbl
}
