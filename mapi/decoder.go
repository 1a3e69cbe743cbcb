// Package mapi reconstructs MAPI block framing from the proxy's event
// stream and renders it at raw, block or message granularity.
//
// The wire format: each block starts with a little-endian uint16 header
// encoding length<<1 | last, followed by length payload bytes. A message is
// the concatenation of consecutive blocks up to and including one with the
// last flag set. A standalone empty last block (length=0, last=1) is valid
// and terminates a message.
package mapi

// Decoder is the incremental block-framing state machine for one connection
// direction. It accepts arbitrarily chunked input and reports the same
// boundaries for any chunking of the same stream.
type Decoder struct {
	st        decodeState
	low       byte
	remaining int
	last      bool
}

type decodeState int

const (
	needLow decodeState = iota
	needHigh
	inPayload
)

// Feed consumes one chunk. header is invoked with the chunk offset of each
// header byte, payload with sub-slices of p, and block when a block
// completes, with last reporting whether it also completes a message. Any
// callback may be nil.
func (d *Decoder) Feed(p []byte, header func(off int), payload func(b []byte), block func(last bool)) {
	i := 0
	for i < len(p) {
		switch d.st {
		case needLow:
			d.low = p[i]
			if header != nil {
				header(i)
			}
			i++
			d.st = needHigh

		case needHigh:
			hdr := uint16(d.low) | uint16(p[i])<<8
			if header != nil {
				header(i)
			}
			i++
			d.remaining = int(hdr >> 1)
			d.last = hdr&1 == 1
			if d.remaining == 0 {
				if block != nil {
					block(d.last)
				}
				d.st = needLow
			} else {
				d.st = inPayload
			}

		case inPayload:
			n := min(d.remaining, len(p)-i)
			if payload != nil {
				payload(p[i : i+n])
			}
			d.remaining -= n
			i += n
			if d.remaining == 0 {
				if block != nil {
					block(d.last)
				}
				d.st = needLow
			}
		}
	}
}

// Partial reports whether the decoder sits mid-header or mid-payload.
func (d *Decoder) Partial() bool { return d.st != needLow }
