package conversation

import (
	"errors"
	"strconv"
	"strings"

	"tgfleet/internal/auth"
	"tgfleet/internal/bulk"
	"tgfleet/internal/remote"
)

// params accumulates validated answers of a parameter dialog.
type params struct {
	target  remote.GroupRef
	delay   bulk.Delay
	message string
	count   int
	userID  int64
}

// step validates one answer into params. A non-nil error is the re-prompt.
type step struct {
	name   string
	prompt string
	accept func(p *params, text string) error
}

var (
	errBadLink     = errors.New(msgBadLink)
	errBadInterval = errors.New(msgBadInterval)
	errBadCount    = errors.New(msgBadCount)
	errEmptyText   = errors.New(msgEmptyMessage)
	errBadUserID   = errors.New(msgBadUserID)
)

var (
	stepLink = step{name: "link", prompt: promptLink, accept: func(p *params, text string) error {
		ref, err := remote.ParseGroupRef(text)
		if err != nil {
			return errBadLink
		}
		p.target = ref
		return nil
	}}
	stepInterval = step{name: "interval", prompt: promptInterval, accept: func(p *params, text string) error {
		d, err := bulk.ParseMinutes(text)
		if err != nil {
			return errBadInterval
		}
		p.delay = d
		return nil
	}}
	stepCount = step{name: "count", prompt: promptCount, accept: func(p *params, text string) error {
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n <= 0 {
			return errBadCount
		}
		p.count = n
		return nil
	}}
	stepMessage = step{name: "message", prompt: promptMessage, accept: func(p *params, text string) error {
		if strings.TrimSpace(text) == "" {
			return errEmptyText
		}
		p.message = text
		return nil
	}}
	stepUserID = step{name: "user-id", prompt: promptUserID, accept: func(p *params, text string) error {
		id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil || id <= 0 {
			return errBadUserID
		}
		p.userID = id
		return nil
	}}
)

// dialog is an in-progress multi-step request.
type dialog interface {
	action() Action
	prompt() string
}

type paramDialog struct {
	act   Action
	steps []step
	idx   int
	p     params
}

func (d *paramDialog) action() Action { return d.act }

func (d *paramDialog) prompt() string { return d.steps[d.idx].prompt }

// submit validates text against the current step. complete reports that
// every step has been answered; params are final only then.
func (d *paramDialog) submit(text string) (reprompt string, complete bool) {
	if err := d.steps[d.idx].accept(&d.p, text); err != nil {
		return err.Error(), false
	}
	d.idx++
	return "", d.idx == len(d.steps)
}

type authDialog struct {
	flow *auth.Flow
}

func (d *authDialog) action() Action { return CreateAccount }

func (d *authDialog) prompt() string { return d.flow.Prompt() }
