package main

import (
	"fmt"

	"gioui.org/layout"

	"github.com/rust-minidump/minidump-debugger/minidump"
	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/stackwalk"
)

type processedPanel struct {
	scroll     scroller
	showMods   checkbox
	modsOpen   bool
	threadBtns map[int]*button
	collapsed  map[int]bool
}

func (p *processedPanel) layout(gtx layout.Context, snap *process.Snapshot) {
	if snap == nil || snap.Result == nil {
		labelAt(gtx, pad, 0, "no processed crash yet", colorDimText)
		return
	}
	res := snap.Result

	if p.threadBtns == nil {
		p.threadBtns = map[int]*button{}
		p.collapsed = map[int]bool{}
	}

	height := p.contentHeight(res)
	off := p.scroll.update(gtx, height)
	y := -off

	labelAt(gtx, pad, y, fmt.Sprintf("System: %s", res.System.ArchName()), colorText)
	y += lineHeight

	p.modsOpen, _ = p.showMods.layout(gtx, pad, y, fmt.Sprintf("%d modules", len(res.Modules)), p.modsOpen)
	y += buttonHeight + 4
	if p.modsOpen {
		for _, m := range res.Modules {
			labelAt(gtx, 2*pad, y, moduleLine(m), colorDimText)
			y += lineHeight
		}
	}
	y += pad

	for i, th := range res.Threads {
		btn := p.threadBtns[i]
		if btn == nil {
			btn = new(button)
			p.threadBtns[i] = btn
		}
		hdr := fmt.Sprintf("Thread %d (%d frames)", th.ThreadID, len(th.Frames))
		clicked, _ := btn.layout(gtx, pad, y, hdr, colorTabActive)
		if clicked {
			p.collapsed[i] = !p.collapsed[i]
		}
		y += buttonHeight + 2
		if p.collapsed[i] {
			continue
		}
		for j, f := range th.Frames {
			labelAt(gtx, 2*pad, y, frameLine(j, f), colorText)
			y += lineHeight
		}
		y += pad
	}
}

func (p *processedPanel) contentHeight(res *stackwalk.Result) int {
	h := lineHeight + buttonHeight + 4 + pad
	if p.modsOpen {
		h += len(res.Modules) * lineHeight
	}
	for i, th := range res.Threads {
		h += buttonHeight + 2
		if !p.collapsed[i] {
			h += len(th.Frames)*lineHeight + pad
		}
	}
	return h
}

func moduleLine(m minidump.Module) string {
	s := fmt.Sprintf("0x%012x–0x%012x  %s", m.ImageBase, m.ImageBase+uint64(m.ImageSize), m.Name)
	if m.DebugID != "" {
		s += "  (" + m.DebugFile + " " + m.DebugID + ")"
	}
	return s
}

func frameLine(idx int, f stackwalk.Frame) string {
	s := fmt.Sprintf("%3d %-7s 0x%012x", idx, f.Trust, f.Addr)
	if f.Module != "" {
		s += fmt.Sprintf("  %s+0x%x", f.Module, f.ModuleOffset)
	}
	if f.Symbol != nil {
		s += "  " + f.Symbol.Name
		if f.Symbol.File != "" {
			s += fmt.Sprintf(" (%s:%d)", f.Symbol.File, f.Symbol.Line)
		}
	}
	return s
}
