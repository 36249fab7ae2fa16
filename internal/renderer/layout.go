package renderer

import (
	"strings"
	"unicode/utf8"

	"github.com/thereceipt/btprint/internal/escpos"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

type segmentKind int

const (
	segControl segmentKind = iota
	segText
	segFeed
)

type segment struct {
	text    string
	control []byte
	kind    segmentKind
	lines   int
}

type layout struct {
	segs []segment
}

func (l *layout) control(b []byte) {
	if len(b) == 0 {
		return
	}
	l.segs = append(l.segs, segment{kind: segControl, control: b})
}

func (l *layout) line(s string) {
	l.segs = append(l.segs, segment{kind: segText, text: s})
}

func (l *layout) feed(n int) {
	l.segs = append(l.segs, segment{kind: segFeed, lines: n})
}

// layout is the single description both renderings are derived from
func (e *Encoder) layout(doc *receiptformat.Receipt) []segment {
	if doc == nil {
		doc = &receiptformat.Receipt{}
	}
	w := e.opts.Width
	lb := e.opts.Labels
	l := &layout{}

	l.control(escpos.Reset())

	// Header
	l.control(escpos.Align(escpos.AlignCenter))
	l.control(escpos.PrintMode(escpos.ModeDoubleHeight | escpos.ModeEmphasized))
	for _, s := range wrap(doc.Name, w) {
		l.line(s)
	}
	l.control(escpos.PrintMode(0))
	l.control(escpos.Bold(true))
	for _, s := range wrap(doc.Location, w) {
		l.line(s)
	}
	for _, s := range wrap(doc.Phone, w) {
		l.line(s)
	}
	l.control(escpos.Bold(false))

	l.control(escpos.Align(escpos.AlignLeft))
	if name := strings.TrimSpace(doc.CustomerName); name != "" {
		l.line(lb.Customer + ": " + name)
	}
	l.line(divider(w))

	l.line(lb.Transaction + ": " + lastRunes(doc.TransactionID, e.opts.TransactionDigits))
	stamp := columns(
		lb.Time+": "+doc.Date.Format("15:04"),
		lb.Date+": "+doc.Date.Format("02/01/2006"),
		w,
	)
	for _, s := range stamp {
		l.line(s)
	}
	l.line(divider(w))

	// Items
	for _, item := range doc.Items {
		for _, s := range wrap(item.Name, w) {
			l.line(s)
		}
		qty := e.money.Sprintf("%d", item.Quantity) + " x " + e.Money(item.UnitPrice)
		for _, s := range columns(qty, e.Money(item.LineTotal()), w) {
			l.line(s)
		}
	}
	l.line(divider(w))

	// Totals
	l.control(escpos.Bold(true))
	for _, s := range columns(lb.Total, e.Money(doc.Total), w) {
		l.line(s)
	}
	l.control(escpos.Bold(false))

	method := lb.Cash
	if doc.PaymentMethod == receiptformat.PaymentTransfer {
		method = lb.Transfer
	}
	for _, s := range columns(method, e.Money(doc.AmountPaid()), w) {
		l.line(s)
	}
	for _, s := range columns(lb.Change, e.Money(doc.Change()), w) {
		l.line(s)
	}

	// Footer
	l.control(escpos.Align(escpos.AlignCenter))
	l.line("")
	for _, s := range lb.ThankYou {
		l.line(s)
	}
	l.feed(e.opts.FeedLines)
	l.control(escpos.FullCut())

	return l.segs
}

// Money formats an amount as "Rp 30.000" using the encoder locale
func (e *Encoder) Money(v int64) string {
	return e.opts.Labels.Currency + " " + e.money.Sprintf("%d", v)
}

func divider(width int) string {
	return strings.Repeat("-", width)
}

// columns puts left and right on one line of the given width. When they do
// not fit, right moves to its own right-aligned line.
func columns(left, right string, width int) []string {
	ln, rn := utf8.RuneCountInString(left), utf8.RuneCountInString(right)
	if ln+rn+1 <= width {
		return []string{left + strings.Repeat(" ", width-ln-rn) + right}
	}
	out := wrap(left, width)
	if rn < width {
		right = strings.Repeat(" ", width-rn) + right
	}
	return append(out, right)
}

// wrap breaks s into lines of at most width runes, splitting on spaces and
// hard-splitting words longer than a line. Blank input yields no lines.
func wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var cur []rune
	for _, word := range words {
		wr := []rune(word)
		for len(wr) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(wr[:width]))
			wr = wr[width:]
		}
		if len(wr) == 0 {
			continue
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, wr...)
		case len(cur)+1+len(wr) <= width:
			cur = append(cur, ' ')
			cur = append(cur, wr...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), wr...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
