package ledgertest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/message"
)

type resultMessage struct {
	Id     string        `json:"Id"`
	Target string        `json:"Target,omitempty"`
	Tags   []message.Tag `json:"Tags"`
	Data   string        `json:"Data,omitempty"`
}

type resultEdge struct {
	Cursor string `json:"cursor"`
	Node   struct {
		Messages []resultMessage `json:"Messages"`
	} `json:"node"`
}

// Handler serves l over the MU/CU wire format:
//
//	POST /                   signed command, returns {"id"}
//	POST /spawn              signed spawn item, returns {"id"}
//	GET  /results/{process}  newest-first edges, one message per edge
//
// Items with an invalid signature are rejected with 401.
func Handler(l *Ledger) http.Handler {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		item, ok := decodeSigned(w, r)
		if !ok {
			return
		}
		id, err := l.accept(Submission{
			Owner:    item.Owner,
			Outbound: ledger.Outbound{Target: item.Target, Tags: item.Tags, Data: item.Data},
		}, "msg")
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, map[string]string{"id": id})
	})

	r.Post("/spawn", func(w http.ResponseWriter, r *http.Request) {
		item, ok := decodeSigned(w, r)
		if !ok {
			return
		}
		module, _ := message.TagValue(item.Tags, "Module")
		req := ledger.SpawnRequest{Module: module, Tags: item.Tags, Data: item.Data}
		id, err := l.accept(Submission{Owner: item.Owner, Outbound: ledger.Outbound{Tags: item.Tags, Data: item.Data}, Spawn: &req}, "process")
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, map[string]string{"id": id})
	})

	r.Get("/results/{process}", func(w http.ResponseWriter, r *http.Request) {
		process := chi.URLParam(r, "process")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		batch, err := l.Read(r.Context(), process, ledger.Page{Cursor: r.URL.Query().Get("from"), Limit: limit})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("from"))
		edges := make([]resultEdge, len(batch.Messages))
		for i, msg := range batch.Messages {
			edges[i].Cursor = strconv.Itoa(start + i + 1)
			edges[i].Node.Messages = []resultMessage{{Id: msg.ID, Target: msg.Target, Tags: msg.Tags, Data: msg.Data}}
		}
		writeJSON(w, map[string]any{"edges": edges})
	})

	return r
}

func decodeSigned(w http.ResponseWriter, r *http.Request) (ledger.SignedItem, bool) {
	var item ledger.SignedItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid item", http.StatusBadRequest)
		return item, false
	}
	if !item.Verify() {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return item, false
	}
	return item, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
