// Package ledgertest provides an in-memory ledger for exercising polling
// flows deterministically, plus an HTTP server speaking the MU/CU wire format.
package ledgertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// Submission records a command or spawn the ledger accepted.
type Submission struct {
	ID       string
	Owner    string
	Outbound ledger.Outbound
	Spawn    *ledger.SpawnRequest
}

// Action returns the submitted Action tag.
func (s Submission) Action() string { return s.Outbound.Action() }

// Tag returns the first submitted tag named name.
func (s Submission) Tag(name string) string {
	v, _ := message.TagValue(s.Outbound.Tags, name)
	return v
}

type entry struct {
	msg         message.Message
	visibleFrom int
}

// Ledger stores process logs in memory. Entries can be scheduled to become
// visible only from the nth read of their process, which is how tests model
// effects landing across poll rounds.
type Ledger struct {
	mu          sync.Mutex
	logs        map[string][]entry // append order, oldest first
	reads       map[string]int
	submissions []Submission
	next        int

	// OnSubmit runs after a command is accepted, outside the lock, so it
	// may append effects. A non-nil error rejects the command.
	OnSubmit func(Submission) error
}

var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		logs:  make(map[string][]entry),
		reads: make(map[string]int),
	}
}

func (l *Ledger) nextID(prefix string) string {
	l.next++
	return prefix + "-" + strconv.Itoa(l.next)
}

// Append adds msg to process's log, visible immediately.
func (l *Ledger) Append(process string, msg message.Message) {
	l.AppendAt(process, 0, msg)
}

// AppendAt adds msg to process's log, visible from the read-th Read of that
// process onward (1-based; 0 means immediately).
func (l *Ledger) AppendAt(process string, read int, msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msg.ID == "" {
		msg.ID = l.nextID("effect")
	}
	if msg.From == "" {
		msg.From = process
	}
	msg.Sequence = int64(len(l.logs[process]))
	l.logs[process] = append(l.logs[process], entry{msg: msg, visibleFrom: read})
}

// Effect builds a message with the given action and correlation tag.
func Effect(action, correlationID string, tags ...message.Tag) message.Message {
	all := []message.Tag{{Name: message.TagAction, Value: action}}
	if correlationID != "" {
		all = append(all, message.Tag{Name: message.TagGroupID, Value: correlationID})
	}
	return message.Message{Tags: append(all, tags...)}
}

// Reads reports how many times process has been read.
func (l *Ledger) Reads(process string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[process]
}

// Submissions returns a copy of every accepted command and spawn.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// SubmissionsFor returns accepted commands carrying action.
func (l *Ledger) SubmissionsFor(action string) []Submission {
	var out []Submission
	for _, s := range l.Submissions() {
		if s.Action() == action {
			out = append(out, s)
		}
	}
	return out
}

// Submit records out and runs OnSubmit.
func (l *Ledger) Submit(ctx context.Context, out ledger.Outbound, signer wallet.Signer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner := ""
	if signer != nil {
		owner = signer.Address()
	}
	return l.accept(Submission{Owner: owner, Outbound: out}, "msg")
}

// Spawn records req and returns a new process id.
func (l *Ledger) Spawn(ctx context.Context, req ledger.SpawnRequest, signer wallet.Signer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner := ""
	if signer != nil {
		owner = signer.Address()
	}
	spawn := req
	return l.accept(Submission{Owner: owner, Outbound: ledger.Outbound{Tags: req.Tags, Data: req.Data}, Spawn: &spawn}, "process")
}

func (l *Ledger) accept(sub Submission, prefix string) (string, error) {
	l.mu.Lock()
	sub.ID = l.nextID(prefix)
	hook := l.OnSubmit
	l.mu.Unlock()

	if hook != nil {
		if err := hook(sub); err != nil {
			return "", fmt.Errorf("ledger rejected %s: %w", sub.ID, err)
		}
	}

	l.mu.Lock()
	l.submissions = append(l.submissions, sub)
	l.mu.Unlock()
	return sub.ID, nil
}

// Read returns visible messages newest first. The cursor is an offset.
func (l *Ledger) Read(ctx context.Context, process string, page ledger.Page) (ledger.Batch, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Batch{}, err
	}
	start := 0
	if page.Cursor != "" {
		n, err := strconv.Atoi(page.Cursor)
		if err != nil || n < 0 {
			return ledger.Batch{}, fmt.Errorf("invalid cursor %q", page.Cursor)
		}
		start = n
	}
	limit := page.Limit
	if limit <= 0 {
		limit = ledger.DefaultPageSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads[process]++
	read := l.reads[process]

	log := l.logs[process]
	visible := make([]message.Message, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].visibleFrom <= read {
			visible = append(visible, log[i].msg)
		}
	}
	if start >= len(visible) {
		return ledger.Batch{}, nil
	}
	end := start + limit
	if end > len(visible) {
		end = len(visible)
	}
	batch := ledger.Batch{Messages: visible[start:end]}
	if end < len(visible) {
		batch.Next = strconv.Itoa(end)
	}
	return batch, nil
}
