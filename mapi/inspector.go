package mapi

import (
	"bytes"
	"fmt"

	"github.com/monetutil/mapiproxy/proxy"
	"github.com/monetutil/mapiproxy/render"
)

// Level selects the granularity the inspector renders at.
type Level int

const (
	Messages Level = iota
	Blocks
	Raw
)

func (l Level) String() string {
	switch l {
	case Messages:
		return "messages"
	case Blocks:
		return "blocks"
	case Raw:
		return "raw"
	}
	return fmt.Sprintf("UnknownLevel(%d)", int(l))
}

// DefaultMessageCap bounds message accumulation per direction. A message
// growing past the cap is reported, what it accumulated so far is rendered as
// one truncated message, and its remaining blocks are rendered one by one.
const DefaultMessageCap = 64 << 20

// Inspector consumes proxy events, reassembles MAPI framing per connection
// and direction, and drives a renderer.
type Inspector struct {
	r      render.Renderer
	level  Level
	binary bool
	msgCap int

	conns map[uint64]*connState
}

type connState struct {
	dirs [2]dirState // Upstream-1, Downstream-1
}

type dirState struct {
	dec      Decoder
	blockBuf bytes.Buffer // payload of the block in progress
	msgBuf   bytes.Buffer // payload of the message in progress (message level)
	blocks   int          // completed blocks in the current message
	capped   bool         // message exceeded the cap; block rendering until last
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithMessageCap overrides the message safety cap. Zero disables it.
func WithMessageCap(n int) InspectorOption {
	return func(in *Inspector) { in.msgCap = n }
}

// NewInspector creates an Inspector rendering through r at the given level.
// binary forces hex-dump rendering of every payload.
func NewInspector(r render.Renderer, level Level, binary bool, opts ...InspectorOption) *Inspector {
	in := &Inspector{
		r:      r,
		level:  level,
		binary: binary,
		msgCap: DefaultMessageCap,
		conns:  make(map[uint64]*connState),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run consumes events until the channel closes.
func (in *Inspector) Run(events <-chan proxy.Event) {
	for ev := range events {
		in.Handle(ev)
	}
}

// Handle processes one event.
func (in *Inspector) Handle(ev proxy.Event) {
	switch ev.Kind {
	case proxy.KindData:
		in.handleData(ev)
	case proxy.KindShutdownRead:
		in.flushPartial(ev.ConnID, ev.Dir)
		in.event(ev)
	case proxy.KindClosed:
		in.event(ev)
		delete(in.conns, ev.ConnID)
	default:
		in.event(ev)
	}
}

func (in *Inspector) dir(id uint64, dir proxy.Direction) *dirState {
	cs := in.conns[id]
	if cs == nil {
		cs = &connState{}
		in.conns[id] = cs
	}
	return &cs.dirs[dirIndex(dir)]
}

func dirIndex(dir proxy.Direction) int {
	if dir == proxy.Downstream {
		return 1
	}
	return 0
}

func (in *Inspector) handleData(ev proxy.Event) {
	ds := in.dir(ev.ConnID, ev.Dir)
	switch in.level {
	case Raw:
		in.renderRaw(ds, ev)

	case Blocks:
		ds.dec.Feed(ev.Data, nil,
			func(b []byte) { ds.blockBuf.Write(b) },
			func(last bool) {
				in.renderUnit(ev.ConnID, ev.Dir, blockKind(last), ds.blockBuf.Bytes())
				ds.blockBuf.Reset()
			})

	case Messages:
		ds.dec.Feed(ev.Data, nil,
			func(b []byte) {
				ds.blockBuf.Write(b)
				if !ds.capped {
					ds.msgBuf.Write(b)
				}
			},
			func(last bool) {
				in.finishBlock(ev.ConnID, ev.Dir, ds, last)
			})
	}
}

// finishBlock handles one completed block at message level, including the
// safety-cap mode-down.
func (in *Inspector) finishBlock(id uint64, dir proxy.Direction, ds *dirState, last bool) {
	ds.blocks++

	if !ds.capped && in.msgCap > 0 && ds.msgBuf.Len() > in.msgCap {
		in.r.Event(id, render.Error,
			fmt.Sprintf("message exceeds %d bytes, rendering its remaining blocks individually", in.msgCap))
		in.renderUnit(id, dir, "message (truncated)", ds.msgBuf.Bytes())
		ds.msgBuf.Reset()
		ds.capped = true
		ds.blockBuf.Reset()
		if last {
			ds.capped = false
			ds.blocks = 0
		}
		return
	}

	if ds.capped {
		in.renderUnit(id, dir, blockKind(last), ds.blockBuf.Bytes())
		ds.blockBuf.Reset()
		if last {
			ds.capped = false
			ds.blocks = 0
		}
		return
	}

	ds.blockBuf.Reset()
	if last {
		in.renderUnit(id, dir, "message", ds.msgBuf.Bytes())
		ds.msgBuf.Reset()
		ds.blocks = 0
	}
}

func blockKind(last bool) string {
	if last {
		return "block (last)"
	}
	return "block"
}

// renderRaw renders one Data chunk as it arrived, overlaying a highlight on
// the header bytes located by the framing state machine.
func (in *Inspector) renderRaw(ds *dirState, ev proxy.Event) {
	hl := make(map[int]bool, 2)
	ds.dec.Feed(ev.Data, func(off int) { hl[off] = true }, nil, nil)

	if in.binary || !IsText(ev.Data) {
		for off := 0; off < len(ev.Data); off += hexRowLen {
			end := min(off+hexRowLen, len(ev.Data))
			in.r.Line(ev.ConnID, ev.Dir, hexRowSpans(off, ev.Data[off:end], hl)...)
		}
		return
	}
	in.r.Line(ev.ConnID, ev.Dir, textSpans(ev.Data, false, hl)...)
}

// renderUnit renders one block or message as a framed unit.
func (in *Inspector) renderUnit(id uint64, dir proxy.Direction, kind string, data []byte) {
	text := !in.binary && IsText(data)
	class := "binary"
	if text {
		class = "text"
	}
	header := fmt.Sprintf("%d bytes · %s", len(data), class)

	in.r.OpenBlock(id, dir, kind, header)
	if len(data) > 0 {
		if text {
			for _, sp := range textSpans(data, true, nil) {
				in.r.Content(sp.Text, sp.Style)
			}
		} else {
			for off := 0; off < len(data); off += hexRowLen {
				end := min(off+hexRowLen, len(data))
				for _, sp := range hexRowSpans(off, data[off:end], nil) {
					in.r.Content(sp.Text, sp.Style)
				}
				in.r.Content("\n", render.Normal)
			}
		}
	}
	in.r.CloseBlock("")
}

// flushPartial renders whatever a direction had accumulated when its stream
// ended mid-block or mid-message.
func (in *Inspector) flushPartial(id uint64, dir proxy.Direction) {
	cs := in.conns[id]
	if cs == nil {
		return
	}
	ds := &cs.dirs[dirIndex(dir)]

	switch in.level {
	case Raw:
		return
	case Blocks:
		if ds.blockBuf.Len() > 0 || ds.dec.Partial() {
			in.renderUnit(id, dir, "incomplete block", ds.blockBuf.Bytes())
			ds.blockBuf.Reset()
		}
	case Messages:
		if ds.capped {
			if ds.blockBuf.Len() > 0 || ds.dec.Partial() {
				in.renderUnit(id, dir, "incomplete block", ds.blockBuf.Bytes())
				ds.blockBuf.Reset()
			}
			ds.capped = false
			ds.blocks = 0
			return
		}
		if ds.msgBuf.Len() > 0 || ds.blocks > 0 || ds.dec.Partial() {
			in.renderUnit(id, dir, "incomplete message", ds.msgBuf.Bytes())
			ds.msgBuf.Reset()
			ds.blockBuf.Reset()
			ds.blocks = 0
		}
	}
}

// event renders a control event as one line.
func (in *Inspector) event(ev proxy.Event) {
	style := render.Normal
	var text string

	switch ev.Kind {
	case proxy.KindIncoming:
		text = fmt.Sprintf("incoming connection from %s on %s", ev.Peer, ev.Local)
	case proxy.KindConnecting:
		text = "connecting to " + ev.Target
	case proxy.KindConnected:
		text = "connected"
	case proxy.KindConnectFailed:
		style = render.Error
		text = fmt.Sprintf("connect failed: %v", ev.Err)
	case proxy.KindZeroByteInserted:
		text = "handshake byte 0x30 inserted (tcp client, unix server)"
	case proxy.KindZeroByteStripped:
		text = "handshake byte stripped (unix client, tcp server)"
	case proxy.KindOOB:
		text = fmt.Sprintf("out-of-band byte 0x%02x (%s)", ev.Byte, ev.Dir)
	case proxy.KindShutdownRead:
		text = "eof from " + sideName(ev.Dir)
	case proxy.KindShutdownWrite:
		text = fmt.Sprintf("write side toward %s closed", peerName(ev.Dir))
		if ev.Lost > 0 {
			style = render.Error
			text += fmt.Sprintf(", %d bytes discarded", ev.Lost)
		}
	case proxy.KindClosed:
		text = "connection closed"
		if ev.LostUp > 0 || ev.LostDown > 0 {
			style = render.Error
			text += fmt.Sprintf(" (discarded %d bytes upstream, %d downstream)", ev.LostUp, ev.LostDown)
		}
	case proxy.KindError:
		style = render.Error
		if ev.Dir != proxy.DirNone {
			text = fmt.Sprintf("error (%s): %v", ev.Dir, ev.Err)
		} else {
			text = fmt.Sprintf("error: %v", ev.Err)
		}
	default:
		text = ev.Kind.String()
	}

	in.r.Event(ev.ConnID, style, text)
}

// sideName names the origin of a direction's bytes.
func sideName(dir proxy.Direction) string {
	if dir == proxy.Downstream {
		return "server"
	}
	return "client"
}

// peerName names the destination of a direction's bytes.
func peerName(dir proxy.Direction) string {
	if dir == proxy.Downstream {
		return "client"
	}
	return "server"
}
