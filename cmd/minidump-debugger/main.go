package main

import (
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/font/gofont"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	flag "github.com/spf13/pflag"

	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/session"
)

const (
	colorBackground      = 0xFFFFEAFF
	colorText            = 0x000000FF
	colorDimText         = 0x666666FF
	colorTabActive       = 0xD0D0A0FF
	colorTabInactive     = 0xE8E8C8FF
	colorButton          = 0xD0D0A0FF
	colorError           = 0xAA2222FF
	colorWarn            = 0x885500FF
	colorSelected        = 0xEEEE9EFF
	colorHeaderRule      = 0x999977FF
	colorStatusAnalyzing = 0x225588FF
	colorStatusDone      = 0x226622FF
)

const (
	fontSize   = 14
	lineHeight = 18
	pad        = 8
)

type Tab uint8

const (
	TabSettings Tab = iota
	TabProcessed
	TabRawDump
	TabLogs
)

var tabNames = [...]string{"Settings", "Processed", "Raw Dump", "Logs"}

// TODO: derive lineHeight from font metrics instead of hardcoding it

var shaper text.Shaper

type App struct {
	ctrl *session.Controller
	win  *app.Window

	tab     Tab
	tabBtns [len(tabNames)]button

	settings  settingsPanel
	processed processedPanel
	raw       rawPanel
	logs      logsPanel
}

func main() {
	var symbolURLs, symbolPaths []string
	flag.StringArrayVar(&symbolURLs, "symbols-url", nil, "symbol server URL (repeatable)")
	flag.StringArrayVar(&symbolPaths, "symbols-path", nil, "local symbol directory (repeatable)")
	cacheDir := flag.String("symbols-cache", "", "symbol cache directory")
	timeout := flag.Duration("http-timeout", 1000*time.Second, "symbol server timeout")
	flag.Parse()

	cfg := session.DefaultSymbolConfig()
	if len(symbolURLs) > 0 {
		cfg.URLs = symbolURLs
	}
	cfg.Paths = symbolPaths
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	cfg.HTTPTimeout = *timeout

	shaper = text.NewCache(gofont.Collection())

	a := &App{}
	a.win = app.NewWindow(
		app.Title("minidump debugger"),
		app.Size(unit.Dp(1000), unit.Dp(800)),
	)
	a.ctrl = session.New(a.win.Invalidate)
	a.settings.config = cfg
	a.settings.dumps = flag.Args()
	if len(a.settings.dumps) == 1 {
		// A single dump on the command line gets opened right away.
		if err := a.ctrl.Open(a.settings.dumps[0], cfg); err != nil {
			a.settings.lastErr = err
		}
	}

	go func() {
		if err := a.run(); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func (a *App) run() error {
	var ops op.Ops
	for {
		e := <-a.win.Events()
		switch ev := e.(type) {
		case system.DestroyEvent:
			return ev.Err
		case system.FrameEvent:
			gtx := layout.NewContext(&ops, ev)
			a.frame(gtx)
			ev.Frame(&ops)
		}
	}
}

func (a *App) frame(gtx layout.Context) {
	paint.Fill(gtx.Ops, toColor(colorBackground))

	snap := a.ctrl.Snapshot()

	y := a.layoutTabs(gtx)
	y = a.layoutStatus(gtx, y, snap)

	// The rule under the chrome.
	fillRect(gtx, image.Rect(0, y, gtx.Constraints.Max.X, y+1), colorHeaderRule)
	y += pad

	defer op.Offset(image.Point{Y: y}).Push(gtx.Ops).Pop()
	gtx.Constraints.Max.Y -= y
	defer clip.Rect{Max: gtx.Constraints.Max}.Push(gtx.Ops).Pop()

	switch a.tab {
	case TabSettings:
		a.settings.layout(gtx, a.ctrl, snap)
	case TabProcessed:
		a.processed.layout(gtx, snap)
	case TabRawDump:
		a.raw.layout(gtx, a.ctrl)
	case TabLogs:
		a.logs.layout(gtx, a.ctrl, snap)
	}
}

func (a *App) layoutTabs(gtx layout.Context) int {
	x := pad
	for i := range tabNames {
		c := uint32(colorTabInactive)
		if Tab(i) == a.tab {
			c = colorTabActive
		}
		clicked, w := a.tabBtns[i].layout(gtx, x, pad, tabNames[i], c)
		if clicked {
			a.tab = Tab(i)
		}
		x += w + pad
	}
	return pad + buttonHeight + pad
}

func (a *App) layoutStatus(gtx layout.Context, y int, snap *process.Snapshot) int {
	state := a.ctrl.State()
	status := state.String()
	c := uint32(colorDimText)
	switch state {
	case session.StateAnalyzing:
		c = colorStatusAnalyzing
	case session.StateDone:
		c = colorStatusDone
	case session.StateFailed:
		c = colorError
	}
	if snap != nil {
		status += fmt.Sprintf(" (%.1fs)", snap.Outcome.Elapsed.Seconds())
		if snap.Outcome.Err != nil {
			status += ": " + snap.Outcome.Err.Error()
		}
	}
	if path := a.ctrl.Path(); path != "" {
		status = path + " — " + status
	} else {
		status = "no dump open — " + status
	}
	labelAt(gtx, pad, y, status, c)
	return y + lineHeight + pad
}
