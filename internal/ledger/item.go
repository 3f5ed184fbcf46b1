package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

// Item is the canonical, signable form of a command.
type Item struct {
	Target string        `json:"target"`
	Anchor string        `json:"anchor"`
	Tags   []message.Tag `json:"tags"`
	Data   string        `json:"data"`
}

// SignedItem is an Item plus owner and signature, as posted to the network.
type SignedItem struct {
	Item
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// NewItem builds an item with the Action tag first and a fresh anchor.
func NewItem(out Outbound) Item {
	tags := make([]message.Tag, 0, len(out.Tags))
	if action := out.Action(); action != "" {
		tags = append(tags, message.Tag{Name: message.TagAction, Value: action})
	}
	for _, tag := range out.Tags {
		if tag.Name == message.TagAction {
			continue
		}
		tags = append(tags, tag)
	}
	return Item{Target: out.Target, Anchor: uuid.NewString(), Tags: tags, Data: out.Data}
}

// Sign signs the canonical JSON of item.
func Sign(item Item, signer wallet.Signer) (SignedItem, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return SignedItem{}, fmt.Errorf("encode item: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return SignedItem{}, err
	}
	return SignedItem{
		Item:      item,
		Owner:     signer.Address(),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks the item's signature against its owner.
func (s SignedItem) Verify() bool {
	payload, err := json.Marshal(s.Item)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(s.Signature)
	if err != nil {
		return false
	}
	return wallet.Verify(s.Owner, payload, sig)
}
