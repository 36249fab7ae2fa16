// Package renderer turns a receipt document into the ESC/POS command stream
// sent to the printer, and into the equivalent plain-text rendering.
package renderer

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/thereceipt/btprint/internal/escpos"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

// CommandStream is the ordered list of buffers for one print. Buffers must be
// written in order: the printer keeps alignment and bold state between them.
type CommandStream [][]byte

// Bytes flattens the stream into a single buffer
func (s CommandStream) Bytes() []byte {
	return bytes.Join(s, nil)
}

// Len returns the total number of bytes in the stream
func (s CommandStream) Len() int {
	n := 0
	for _, b := range s {
		n += len(b)
	}
	return n
}

// Labels are the fixed words printed on the receipt
type Labels struct {
	Customer    string   `toml:"customer"`
	Transaction string   `toml:"transaction"`
	Time        string   `toml:"time"`
	Date        string   `toml:"date"`
	Total       string   `toml:"total"`
	Cash        string   `toml:"cash"`
	Transfer    string   `toml:"transfer"`
	Change      string   `toml:"change"`
	Currency    string   `toml:"currency"`
	ThankYou    []string `toml:"thank_you"`
}

// DefaultLabels are Indonesian, matching the rupiah formatting
var DefaultLabels = Labels{
	Customer:    "Pelanggan",
	Transaction: "No",
	Time:        "Jam",
	Date:        "Tgl",
	Total:       "TOTAL",
	Cash:        "Tunai",
	Transfer:    "Transfer",
	Change:      "Kembali",
	Currency:    "Rp",
	ThankYou:    []string{"Terima kasih", "atas kunjungan Anda"},
}

// Options control the receipt layout
type Options struct {
	Labels Labels
	// Codepage is the text encoding for payload bytes: "utf-8" (default),
	// "cp437", "cp858" or "windows-1252".
	Codepage string
	// Locale is the BCP 47 tag used for thousands grouping
	Locale            string
	Width             int
	TransactionDigits int
	FeedLines         int
}

// DefaultOptions fit a 58mm printer using font A
func DefaultOptions() Options {
	return Options{
		Width:             32,
		TransactionDigits: 8,
		FeedLines:         4,
		Codepage:          "utf-8",
		Locale:            "id",
		Labels:            DefaultLabels,
	}
}

// Encoder renders receipts. It holds no per-receipt state and is safe for
// concurrent use.
type Encoder struct {
	money   *message.Printer
	charset encoding.Encoding
	opts    Options
}

// New creates an encoder, filling unset options with defaults
func New(opts Options) *Encoder {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.TransactionDigits <= 0 {
		opts.TransactionDigits = def.TransactionDigits
	}
	if opts.FeedLines <= 0 {
		opts.FeedLines = def.FeedLines
	}
	if opts.Locale == "" {
		opts.Locale = def.Locale
	}
	opts.Labels = mergeLabels(opts.Labels, def.Labels)

	return &Encoder{
		opts:    opts,
		money:   message.NewPrinter(language.Make(opts.Locale)),
		charset: lookupCharset(opts.Codepage),
	}
}

// Options returns the effective options
func (e *Encoder) Options() Options {
	return e.opts
}

// Encode builds the command stream for a receipt
func (e *Encoder) Encode(doc *receiptformat.Receipt) CommandStream {
	segs := e.layout(doc)
	stream := make(CommandStream, 0, len(segs))
	for _, s := range segs {
		switch s.kind {
		case segControl:
			stream = append(stream, s.control)
		case segText:
			stream = append(stream, e.encodeText(s.text+"\n"))
		case segFeed:
			stream = append(stream, escpos.Feed(s.lines))
		}
	}
	return stream
}

// PlainText renders the same receipt as a single text blob, for transports
// that take text instead of command buffers
func (e *Encoder) PlainText(doc *receiptformat.Receipt) string {
	var sb strings.Builder
	for _, s := range e.layout(doc) {
		switch s.kind {
		case segText:
			sb.WriteString(s.text)
			sb.WriteByte('\n')
		case segFeed:
			sb.WriteString(strings.Repeat("\n", s.lines))
		case segControl:
		}
	}
	return sb.String()
}

// Render returns both renderings of one document
func (e *Encoder) Render(doc *receiptformat.Receipt) (CommandStream, string) {
	return e.Encode(doc), e.PlainText(doc)
}

func (e *Encoder) encodeText(s string) []byte {
	if e.charset == nil {
		return []byte(s)
	}
	out, err := encoding.ReplaceUnsupported(e.charset.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// lookupCharset returns nil for utf-8 and unknown names, which leaves text
// bytes untouched
func lookupCharset(name string) encoding.Encoding {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "cp437", "ibm437":
		return charmap.CodePage437
	case "cp858", "ibm858":
		return charmap.CodePage858
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	default:
		return nil
	}
}

func mergeLabels(l, def Labels) Labels {
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&l.Customer, def.Customer)
	fill(&l.Transaction, def.Transaction)
	fill(&l.Time, def.Time)
	fill(&l.Date, def.Date)
	fill(&l.Total, def.Total)
	fill(&l.Cash, def.Cash)
	fill(&l.Transfer, def.Transfer)
	fill(&l.Change, def.Change)
	fill(&l.Currency, def.Currency)
	if len(l.ThankYou) == 0 {
		l.ThankYou = def.ThankYou
	}
	return l
}
