package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "tgfleet/internal/transport"
)

// Message is a rendered UI payload: text + send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions

	// More are follow-up chunks when the text exceeds one Telegram message.
	More []string
}

// Send sends the Message. ReplyMarkup is only attached to the first chunk.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	ref, err := s.SendText(ctx, to, m.Text, m.Opt)
	if err != nil {
		return ref, err
	}
	if len(m.More) > 0 {
		opt2 := *m.Opt
		opt2.ReplyMarkupAdapter = nil
		for _, t := range m.More {
			if strings.TrimSpace(t) == "" {
				continue
			}
			if _, e := s.SendText(ctx, to, t, &opt2); e != nil {
				return ref, e
			}
		}
	}
	return ref, nil
}

// Builder is the message builder.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	markup any
	lines  []string
	limit  int
}

func New() *Builder {
	return &Builder{limit: MaxMessageLen - 96}
}

// Markup attaches a keyboard (*Inline, *Keyboard, or nil).
func (b *Builder) Markup(kb Markupper) *Builder {
	if kb == nil {
		b.markup = nil
		return b
	}
	b.markup = kb.Markup()
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds a single escaped line. Blank input adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML appends an already-safe line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "• key: value" row.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Build produces a ready-to-send Message, splitting on line boundaries when
// the text would exceed a single Telegram message.
func (b *Builder) Build() Message {
	var chunks []string
	var cur []string
	n := 0
	for _, ln := range b.lines {
		l := utf8.RuneCountInString(ln) + 1
		if n+l > b.limit && len(cur) > 0 {
			chunks = append(chunks, strings.Trim(strings.Join(cur, "\n"), "\n"))
			cur, n = nil, 0
		}
		cur = append(cur, ln)
		n += l
	}
	if len(cur) > 0 || len(chunks) == 0 {
		chunks = append(chunks, strings.Trim(strings.Join(cur, "\n"), "\n"))
	}

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.markup != nil {
		opt.ReplyMarkupAdapter = b.markup
	}
	return Message{Text: chunks[0], Opt: opt, More: chunks[1:]}
}

// Text is a one-line escaped message.
func Text(s string) Message { return New().Line(s).Build() }
