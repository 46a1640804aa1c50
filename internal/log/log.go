// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log is a minimal, structured, leveled logger in the style the
// go-ethereum family of repositories carries alongside its chain logic.
// Every component of this node (chain, peer, peermap, peerdirectory, node)
// logs through a child of Root rather than the standard library's log
// package, so a reader can grep by component name.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is the level of a log record.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "crit"
	case LvlError:
		return "eror"
	case LvlWarn:
		return "warn"
	case LvlInfo:
		return "info"
	case LvlDebug:
		return "dbug"
	case LvlTrace:
		return "trce"
	default:
		return "unkn"
	}
}

// Logger writes leveled, structured records tagged with a component name.
type Logger struct {
	component string
	ctx       []interface{}
}

var (
	mu       sync.Mutex
	out      io.Writer
	minLevel = LvlInfo
	useColor bool
)

func init() {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorableStderr()
		useColor = true
	} else {
		out = os.Stderr
	}
}

// Root is the logger every component derives from.
var Root = &Logger{component: "spvnode"}

// New returns a child logger scoped to a component, e.g. New("component", "chain").
func New(ctx ...interface{}) *Logger {
	return Root.New(ctx...)
}

// New derives a child logger carrying additional key-value context.
func (l *Logger) New(ctx ...interface{}) *Logger {
	child := &Logger{component: l.component}
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return child
}

// SetOutput redirects where records are written, for a caller that wants
// file-based logging instead of stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(lvl Lvl) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = lvl
}

func (l *Logger) log(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > minLevel {
		return
	}
	call := stack.Caller(2)
	ts := time.Now().Format("2006-01-02T15:04:05-0700")
	fmt.Fprintf(out, "%s [%s] %-5s %-45s", ts, lvl, lvl, msg)
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(out, " %v=%v", all[i], all[i+1])
	}
	if useColor {
		fmt.Fprintf(out, " caller=%+v", call)
	}
	fmt.Fprintln(out)
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *Logger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx) }
