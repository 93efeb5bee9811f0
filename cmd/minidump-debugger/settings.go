package main

import (
	"gioui.org/layout"

	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/session"
)

type settingsPanel struct {
	config session.SymbolConfig
	dumps  []string

	dumpBtns     []button
	reprocessBtn button
	cancelBtn    button
	clearBtn     button
	cacheCb      checkbox

	lastErr  error
	clearMsg string
}

func (p *settingsPanel) layout(gtx layout.Context, ctrl *session.Controller, snap *process.Snapshot) {
	y := 0

	labelAt(gtx, pad, y, "Minidumps", colorDimText)
	y += lineHeight
	if len(p.dumpBtns) != len(p.dumps) {
		p.dumpBtns = make([]button, len(p.dumps))
	}
	for i, path := range p.dumps {
		c := uint32(colorTabInactive)
		if path == ctrl.Path() {
			c = colorSelected
		}
		clicked, _ := p.dumpBtns[i].layout(gtx, pad, y, path, c)
		if clicked {
			p.lastErr = ctrl.Open(path, p.config)
		}
		y += buttonHeight + 4
	}
	if len(p.dumps) == 0 {
		labelAt(gtx, pad, y, "pass dump paths on the command line", colorDimText)
		y += lineHeight
	}
	y += pad

	x := pad
	clicked, w := p.reprocessBtn.layout(gtx, x, y, "Reprocess", colorButton)
	if clicked {
		p.lastErr = ctrl.Restart(p.config)
	}
	x += w + pad
	if clicked, _ := p.cancelBtn.layout(gtx, x, y, "Cancel", colorButton); clicked {
		ctrl.Cancel()
	}
	y += buttonHeight + pad

	labelAt(gtx, pad, y, "Symbol servers", colorDimText)
	y += lineHeight
	for _, u := range p.config.URLs {
		labelAt(gtx, 2*pad, y, u, colorText)
		y += lineHeight
	}
	labelAt(gtx, pad, y, "Symbol paths", colorDimText)
	y += lineHeight
	for _, dir := range p.config.Paths {
		labelAt(gtx, 2*pad, y, dir, colorText)
		y += lineHeight
	}
	if len(p.config.Paths) == 0 {
		labelAt(gtx, 2*pad, y, "(none)", colorDimText)
		y += lineHeight
	}
	y += pad

	p.config.CacheEnabled, _ = p.cacheCb.layout(gtx, pad, y, "cache symbols in "+p.config.CacheDir, p.config.CacheEnabled)
	y += buttonHeight + 4
	if clicked, _ := p.clearBtn.layout(gtx, pad, y, "Clear symbol cache", colorButton); clicked {
		if err := ctrl.ClearSymbolCache(); err != nil {
			p.clearMsg = err.Error()
		} else {
			p.clearMsg = "cache cleared"
		}
	}
	if p.clearMsg != "" {
		labelAt(gtx, pad+180, y+3, p.clearMsg, colorDimText)
	}
	y += buttonHeight + pad

	if p.lastErr != nil {
		labelAt(gtx, pad, y, "error: "+p.lastErr.Error(), colorError)
	}
}
