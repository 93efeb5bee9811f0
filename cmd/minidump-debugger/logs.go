package main

import (
	"fmt"
	"strings"

	"gioui.org/layout"

	"github.com/rust-minidump/minidump-debugger/process"
	"github.com/rust-minidump/minidump-debugger/session"
	"github.com/rust-minidump/minidump-debugger/spanlog"
)

type logsPanel struct {
	filter   textField
	levelBtn button
	minLevel spanlog.Level
	scroll   scroller

	// lines is rebuilt whenever the snapshot or the filter changes.
	lines     []logLine
	lastLog   *spanlog.Node
	lastQuery string
}

type logLine struct {
	indent int
	text   string
	color  uint32
}

func (p *logsPanel) layout(gtx layout.Context, ctrl *session.Controller, snap *process.Snapshot) {
	x := pad
	if p.filter.layout(gtx, x, 0, 400, "filter (substring or span/path/prefix)") {
		ctrl.SetFilter(p.parseFilter())
	}
	x += 400 + pad
	if clicked, _ := p.levelBtn.layout(gtx, x, 0, "min level: "+p.minLevel.String(), colorButton); clicked {
		p.minLevel++
		if p.minLevel > spanlog.LevelError {
			p.minLevel = spanlog.LevelTrace
		}
		ctrl.SetFilter(p.parseFilter())
	}
	top := buttonHeight + pad

	if snap == nil || snap.Log == nil {
		labelAt(gtx, pad, top, "no log yet", colorDimText)
		return
	}

	query := fmt.Sprintf("%s|%d", p.filter.Text, p.minLevel)
	if snap.Log != p.lastLog || query != p.lastQuery {
		p.rebuild(snap.Log)
		p.lastLog = snap.Log
		p.lastQuery = query
	}

	gtx.Constraints.Max.Y -= top
	defer opOffsetY(gtx, top).Pop()
	off := p.scroll.update(gtx, len(p.lines)*lineHeight)
	y := -off
	for _, line := range p.lines {
		if y > gtx.Constraints.Max.Y {
			break
		}
		if y+lineHeight > 0 {
			labelAt(gtx, pad+line.indent*2*pad, y, line.text, line.color)
		}
		y += lineHeight
	}
}

// parseFilter splits the text field into a path prefix (when it contains '/')
// and a message substring otherwise.
func (p *logsPanel) parseFilter() spanlog.Filter {
	f := spanlog.Filter{MinLevel: p.minLevel}
	s := strings.TrimSpace(p.filter.Text)
	if s == "" {
		return f
	}
	if strings.Contains(s, "/") {
		for _, part := range strings.Split(s, "/") {
			if part = strings.TrimSpace(part); part != "" {
				f.PathPrefix = append(f.PathPrefix, part)
			}
		}
	} else {
		f.Substring = s
	}
	return f
}

// rebuild flattens the span tree into indented lines, emitting a span header
// whenever the path walks into a span the previous entry was not in.
func (p *logsPanel) rebuild(root *spanlog.Node) {
	p.lines = p.lines[:0]
	var prev []string
	cur := root.Query(p.parseFilter())
	for {
		e, ok := cur.Next()
		if !ok {
			break
		}
		common := 0
		for common < len(prev) && common < len(e.Path) && prev[common] == e.Path[common] {
			common++
		}
		for i := common; i < len(e.Path); i++ {
			p.lines = append(p.lines, logLine{indent: i, text: e.Path[i], color: colorDimText})
		}
		prev = e.Path

		c := uint32(colorText)
		switch e.Event.Level {
		case spanlog.LevelError:
			c = colorError
		case spanlog.LevelWarn:
			c = colorWarn
		case spanlog.LevelTrace, spanlog.LevelDebug:
			c = colorDimText
		}
		text := fmt.Sprintf("%s [%s] %s", e.Event.Time.Format("15:04:05.000"), e.Event.Level, e.Event.Message)
		p.lines = append(p.lines, logLine{indent: len(e.Path), text: text, color: c})
	}
	if len(p.lines) == 0 {
		p.lines = append(p.lines, logLine{text: "no events match the filter", color: colorDimText})
	}
}
