package main

import (
	"fmt"
	"strings"

	"gioui.org/layout"

	"github.com/rust-minidump/minidump-debugger/minidump"
	"github.com/rust-minidump/minidump-debugger/session"
)

// rawPanel shows the dump as the file format sees it: header, stream
// directory, and a hex view of the selected stream. It keeps its own mmap of
// the file; the analysis task's handle is closed when the task ends.
type rawPanel struct {
	path string
	dump *minidump.Dump
	err  error

	selected   int
	full       bool
	streamBtns []button
	fullCb     checkbox
	scroll     scroller
}

const (
	hexBriefLimit = 0x400
	hexFullLimit  = 0x10000
)

func (p *rawPanel) layout(gtx layout.Context, ctrl *session.Controller) {
	if ctrl.Path() != p.path {
		if p.dump != nil {
			p.dump.Close()
			p.dump = nil
		}
		p.path = ctrl.Path()
		p.selected = 0
		p.scroll.offset = 0
		if p.path != "" {
			p.dump, p.err = minidump.Open(p.path)
		}
	}
	if p.path == "" {
		labelAt(gtx, pad, 0, "no dump open", colorDimText)
		return
	}
	if p.err != nil {
		labelAt(gtx, pad, 0, "error: "+p.err.Error(), colorError)
		return
	}

	streams := p.dump.Streams()
	if len(p.streamBtns) != len(streams) {
		p.streamBtns = make([]button, len(streams))
	}

	hex := p.hexLines(streams)
	height := (3+len(streams))*lineHeight + 2*pad + buttonHeight + len(hex)*lineHeight
	off := p.scroll.update(gtx, height)
	y := -off

	h := p.dump.Header
	labelAt(gtx, pad, y, fmt.Sprintf("header: version 0x%08x, %d streams, flags 0x%x", h.Version, h.StreamCount, h.Flags), colorText)
	y += lineHeight
	labelAt(gtx, pad, y, fmt.Sprintf("size: %d bytes", p.dump.Size()), colorText)
	y += lineHeight + pad

	labelAt(gtx, pad, y, "streams", colorDimText)
	y += lineHeight
	for i, s := range streams {
		c := uint32(colorTabInactive)
		if i == p.selected {
			c = colorSelected
		}
		line := fmt.Sprintf("%-24s rva 0x%08x  %d bytes", s.Name(), s.RVA, s.Size)
		clicked, _ := p.streamBtns[i].layout(gtx, pad, y, line, c)
		if clicked {
			p.selected = i
		}
		y += lineHeight
	}
	y += pad

	p.full, _ = p.fullCb.layout(gtx, pad, y, "full hex view", p.full)
	y += buttonHeight

	for _, line := range hex {
		labelAt(gtx, pad, y, line, colorText)
		y += lineHeight
	}
}

func (p *rawPanel) hexLines(streams []minidump.StreamDesc) []string {
	if p.selected >= len(streams) {
		return nil
	}
	s := streams[p.selected]
	limit := uint32(hexBriefLimit)
	if p.full {
		limit = hexFullLimit
	}
	n := s.Size
	if n > limit {
		n = limit
	}
	data, err := p.dump.Bytes(s.RVA, n)
	if err != nil {
		return []string{"error: " + err.Error()}
	}

	var lines []string
	for off := uint32(0); off < n; off += 16 {
		end := off + 16
		if end > n {
			end = n
		}
		row := data[off:end]
		var hx, asc strings.Builder
		for i, b := range row {
			if i == 8 {
				hx.WriteByte(' ')
			}
			fmt.Fprintf(&hx, "%02x ", b)
			if b >= 0x20 && b < 0x7f {
				asc.WriteByte(b)
			} else {
				asc.WriteByte('.')
			}
		}
		lines = append(lines, fmt.Sprintf("%08x  %-49s %s", s.RVA+off, hx.String(), asc.String()))
	}
	if n < s.Size {
		lines = append(lines, fmt.Sprintf("… %d more bytes", s.Size-n))
	}
	return lines
}
