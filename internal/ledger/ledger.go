// Package ledger submits signed commands to processes and reads their logs.
//
// Processes are independently scheduled and eventually consistent: a
// submitted command's effects appear later, in any order, in the logs of
// whichever processes it touched. Nothing here waits for them; callers poll
// through a Reader.
package ledger

import (
	"context"

	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// DefaultPageSize bounds a single log read.
const DefaultPageSize = 100

// Outbound is a command addressed to a process. The Action tag travels in Tags.
type Outbound struct {
	Target string
	Tags   []message.Tag
	Data   string
}

// Action returns the command's Action tag.
func (o Outbound) Action() string {
	v, _ := message.TagValue(o.Tags, message.TagAction)
	return v
}

// SpawnRequest asks the network to start a process from a module.
type SpawnRequest struct {
	Module string
	Tags   []message.Tag
	Data   string
}

// Page selects a slice of a process log, most recent first.
type Page struct {
	Cursor string
	Limit  int
}

// Batch is one page of a process log. Next is empty on the last page.
type Batch struct {
	Messages []message.Message
	Next     string
}

// Reader pages through a single process log, newest first. An empty log is
// an empty batch, not an error.
type Reader interface {
	Read(ctx context.Context, process string, page Page) (Batch, error)
}

// Submitter signs and transmits commands, returning the message id.
type Submitter interface {
	Submit(ctx context.Context, out Outbound, signer wallet.Signer) (string, error)
}

// Spawner starts processes, returning the new process id.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest, signer wallet.Signer) (string, error)
}

// Client is the full collaborator surface the engine needs.
type Client interface {
	Reader
	Submitter
	Spawner
}

type splitClient struct {
	Reader
	Submitter
	Spawner
}

// WithReader serves reads from r and submissions and spawns from c.
func WithReader(c Client, r Reader) Client {
	return splitClient{Reader: r, Submitter: c, Spawner: c}
}
