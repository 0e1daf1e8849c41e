package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Len is the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (not encoded).
// Use Data to build "scope:action:payload".
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Keyboard builds a persistent reply keyboard of text buttons; pressing a
// button sends its label as a plain message.
type Keyboard struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewKeyboard() *Keyboard {
	return &Keyboard{rm: &tele.ReplyMarkup{ResizeKeyboard: true}}
}

func (k *Keyboard) Row(labels ...string) *Keyboard {
	btns := make([]tele.Btn, 0, len(labels))
	for _, l := range labels {
		btns = append(btns, k.rm.Text(l))
	}
	k.rows = append(k.rows, k.rm.Row(btns...))
	k.rm.Reply(k.rows...)
	return k
}

func (k *Keyboard) Markup() *tele.ReplyMarkup { return k.rm }

// Markupper is implemented by Inline and Keyboard.
type Markupper interface {
	Markup() *tele.ReplyMarkup
}
