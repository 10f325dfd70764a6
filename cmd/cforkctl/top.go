// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/cfork"
	"github.com/gdamore/cfork/rest"
)

/*
   The screen has the following appearance:

    http://127.0.0.1:8321                                          cforkctl
    ID    PID     KIND   INDEX  STATE         UPTIME FLAGS
        1   4242  worker  0/4   listening    0:10:32
        2   4243  worker  1/4   listening    0:10:32  norefork
    ...
       4 Workers   1 Slaves   3 Respawns   0 Denials (window 3/60)
   [Q] Quit [D] Disable [E] Enable [X] Disconnect [K] Kill
*/

var (
	styleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	styleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	styleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	styleBar = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	styleKey = tcell.StyleDefault.
			Foreground(tcell.ColorBlue).
			Background(tcell.ColorSilver).Bold(true)
	styleError = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).
			Background(tcell.ColorMaroon).
			Bold(true)
)

type topPanel struct {
	app     *views.Application
	client  *rest.Client
	content *views.CellView
	title   *views.SimpleStyledTextBar
	status  *views.SimpleStyledTextBar
	keys    *views.SimpleStyledTextBar

	workers  []cfork.WorkerInfo
	stats    *cfork.Stats
	err      error
	lines    []string
	styles   []tcell.Style
	selected int // worker id, or -1
	curx     int
	cury     int

	views.Panel
}

// topModel provides the model for the CellView.
type topModel struct {
	t *topPanel
}

func (model *topModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	t := model.t
	if y < 0 || y >= len(t.lines) {
		return ' ', styleNormal, nil, 1
	}
	ch := ' '
	if x >= 0 && x < len(t.lines[y]) {
		ch = rune(t.lines[y][x])
	}
	style := t.styles[y]
	if y > 0 && y-1 < len(t.workers) && t.workers[y-1].ID == t.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *topModel) GetBounds() (int, int) {
	t := model.t
	x := 0
	for _, l := range t.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, len(t.lines)
}

func (model *topModel) GetCursor() (int, int, bool, bool) {
	return model.t.curx, model.t.cury, true, false
}

func (model *topModel) MoveCursor(offx, offy int) {
	model.SetCursor(model.t.curx+offx, model.t.cury+offy)
}

func (model *topModel) SetCursor(x, y int) {
	t := model.t
	if y < 1 {
		y = 1
	}
	if y > len(t.workers) {
		y = len(t.workers)
	}
	if x < 0 {
		x = 0
	}
	t.curx, t.cury = x, y
	t.selected = -1
	if y >= 1 && y <= len(t.workers) {
		t.selected = t.workers[y-1].ID
	}
}

func newTopPanel(app *views.Application, client *rest.Client, server string) *topPanel {
	t := &topPanel{app: app, client: client, selected: -1}

	t.title = views.NewSimpleStyledTextBar()
	t.title.SetStyle(styleBar)
	t.title.RegisterLeftStyle('N', styleBar)
	t.title.SetLeft(server)
	t.title.SetRight("cforkctl")

	t.status = views.NewSimpleStyledTextBar()
	t.status.SetStyle(styleBar)
	t.status.RegisterLeftStyle('N', styleBar)

	t.keys = views.NewSimpleStyledTextBar()
	t.keys.SetStyle(styleBar)
	t.keys.RegisterLeftStyle('N', styleBar)
	t.keys.RegisterLeftStyle('A', styleKey)
	t.keys.SetLeft("[%AQ%N] Quit [%AD%N] Disable [%AE%N] Enable " +
		"[%AX%N] Disconnect [%AK%N] Kill")

	t.content = views.NewCellView()
	t.content.SetModel(&topModel{t})
	t.content.SetStyle(styleNormal)

	t.Panel.SetTitle(t.title)
	t.Panel.SetContent(t.content)
	t.Panel.SetMenu(t.status)
	t.Panel.SetStatus(t.keys)
	return t
}

func (t *topPanel) Draw() {
	t.update()
	t.Panel.Draw()
}

// act runs a client operation on the selected worker, off the UI
// goroutine.
func (t *topPanel) act(fn func(context.Context, int) error) {
	id := t.selected
	if id < 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		e := fn(ctx, id)
		cancel()
		if e != nil {
			t.app.PostFunc(func() {
				t.err = e
				t.app.Update()
			})
		}
	}()
}

func (t *topPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyCtrlC, tcell.KeyEsc:
			t.app.Quit()
			return true
		case tcell.KeyCtrlL:
			t.app.Refresh()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				t.app.Quit()
				return true
			case 'D', 'd':
				t.act(t.client.DisableRefork)
				return true
			case 'E', 'e':
				t.act(t.client.EnableRefork)
				return true
			case 'X', 'x':
				t.act(t.client.Disconnect)
				return true
			case 'K', 'k':
				t.act(func(ctx context.Context, id int) error {
					return t.client.Kill(ctx, id, "")
				})
				return true
			}
		}
	}
	return t.Panel.HandleEvent(ev)
}

// update rebuilds the content lines.  It runs on the UI goroutine.
func (t *topPanel) update() {
	lines := []string{fmt.Sprintf("%5s %7s %-6s %7s %-13s %9s %s",
		"ID", "PID", "KIND", "INDEX", "STATE", "UPTIME", "FLAGS")}
	styles := []tcell.Style{styleNormal.Bold(true)}

	found := false
	for _, w := range t.workers {
		lines = append(lines, fmt.Sprintf("%5d %7d %-6s %3d/%-3d %-13s %9s %s",
			w.ID, w.Pid, w.Kind, w.Index, w.Count, w.State,
			formatDuration(time.Since(w.Spawned)), flagString(w)))
		style := styleGood
		if w.DisableRefork || w.State != "listening" {
			style = styleWarn
		}
		styles = append(styles, style)
		if w.ID == t.selected {
			found = true
		}
	}
	if !found {
		t.selected = -1
	}
	t.lines = lines
	t.styles = styles

	if t.err != nil {
		t.status.SetStyle(styleError)
		t.status.RegisterLeftStyle('N', styleError)
		t.status.SetLeft(fmt.Sprintf("Error: %v", t.err))
		return
	}
	t.status.SetStyle(styleBar)
	t.status.RegisterLeftStyle('N', styleBar)
	if st := t.stats; st != nil {
		t.status.SetLeft(fmt.Sprintf(
			"%4d Workers %4d Slaves %6d Respawns %6d Denials (window %d/%d)",
			st.Workers, st.Slaves, st.Respawns, st.Denials,
			st.ReforkWindow, st.Limit))
	}
}

// refresh keeps the worker list current, long polling the server.
func (t *topPanel) refresh() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		ws, _, e := t.client.WatchWorkers(ctx, 30)
		var st *cfork.Stats
		if e == nil {
			st, e = t.client.Stats(ctx)
		}
		cancel()

		t.app.PostFunc(func() {
			t.err = e
			if e == nil {
				t.workers = ws
				t.stats = st
			}
			t.app.Update()
		})
		if e != nil {
			time.Sleep(2 * time.Second)
		}
	}
}

func doTop(client *rest.Client, server string) error {
	app := &views.Application{}
	t := newTopPanel(app, client, server)
	app.SetRootWidget(t)
	go t.refresh()
	go func() {
		// Uptimes tick even when nothing changes.
		for {
			time.Sleep(time.Second)
			app.Update()
		}
	}()
	return app.Run()
}
