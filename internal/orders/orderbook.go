package orders

import (
	"context"
	"fmt"

	"github.com/permaweb/ao-ucm/internal/correlation"
	apperrors "github.com/permaweb/ao-ucm/internal/errors"
	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/progress"
)

const opCreateOrderbook = "create-orderbook"

const (
	tagUCMProcess = "UCM-Process"
	tagOnBoot     = "On-Boot"
)

const assetOrderbookEval = `if not Metadata then Metadata = {} end
Metadata.OrderbookId = '%s'`

// CreateOrderbook spawns the orderbook and activity processes for an asset,
// links them to each other and optionally to a collection and the asset.
// Steps are fire-and-forget; any failed transmission aborts the sequence.
func (e *Engine) CreateOrderbook(ctx context.Context, params OrderbookSpec) (Orderbook, error) {
	if err := required("asset_id", params.AssetID, "Asset ID"); err != nil {
		return Orderbook{}, err
	}
	if err := required("orderbook_module", e.processes.OrderbookModule, "Orderbook module"); err != nil {
		return Orderbook{}, err
	}
	if err := required("activity_module", e.processes.ActivityModule, "Activity module"); err != nil {
		return Orderbook{}, err
	}

	out, err := e.buildOrderbook(ctx, params)
	if err != nil {
		e.finish(opCreateOrderbook, err, "")
		return Orderbook{}, err
	}
	e.finish(opCreateOrderbook, nil, "Orderbook created!")
	return out, nil
}

func (e *Engine) buildOrderbook(ctx context.Context, params OrderbookSpec) (Orderbook, error) {
	var out Orderbook
	var err error

	progress.Emit(e.observer, progress.PhaseSpawn, opCreateOrderbook, "Creating asset orderbook process...")
	out.OrderbookID, err = e.spawn(ctx, e.processes.OrderbookModule, e.processes.OrderbookSource,
		message.Tag{Name: tagUCMProcess, Value: "Orderbook"},
		message.Tag{Name: "Asset-ID", Value: params.AssetID})
	if err != nil {
		return out, err
	}

	progress.Emit(e.observer, progress.PhaseSpawn, opCreateOrderbook, "Creating activity process...")
	out.ActivityID, err = e.spawn(ctx, e.processes.ActivityModule, e.processes.ActivitySource,
		message.Tag{Name: tagUCMProcess, Value: "Asset-Activity"})
	if err != nil {
		return out, err
	}

	progress.Emit(e.observer, progress.PhaseDispatch, opCreateOrderbook, "Setting orderbook in activity...")
	if err := e.eval(ctx, out.ActivityID, fmt.Sprintf("UCM = '%s'", out.OrderbookID)); err != nil {
		return out, err
	}
	progress.Emit(e.observer, progress.PhaseDispatch, opCreateOrderbook, "Setting activity in orderbook...")
	if err := e.eval(ctx, out.OrderbookID, fmt.Sprintf("ACTIVITY_PROCESS = '%s'", out.ActivityID)); err != nil {
		return out, err
	}

	if params.CollectionID != "" {
		progress.Emit(e.observer, progress.PhaseDispatch, opCreateOrderbook, "Setting orderbook in collection activity...")
		if err := e.eval(ctx, out.ActivityID, fmt.Sprintf("CollectionId = '%s'", params.CollectionID)); err != nil {
			return out, err
		}
		if _, err := e.submitter.Submit(ctx, correlation.Command{
			Target: params.CollectionID,
			Action: message.ActionUpdateCollection,
			Tags: []message.Tag{
				{Name: "ActivityId", Value: out.ActivityID},
				{Name: "UpdateType", Value: "Add"},
			},
		}); err != nil {
			return out, err
		}
	}

	if params.WriteToAsset {
		progress.Emit(e.observer, progress.PhaseDispatch, opCreateOrderbook, "Adding orderbook to asset...")
		if err := e.eval(ctx, params.AssetID, fmt.Sprintf(assetOrderbookEval, out.OrderbookID)); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (e *Engine) spawn(ctx context.Context, module, source string, tags ...message.Tag) (string, error) {
	if source != "" {
		tags = append(tags, message.Tag{Name: tagOnBoot, Value: source})
	}
	pid, err := e.spawner.Spawn(ctx, ledger.SpawnRequest{Module: module, Tags: tags}, e.submitter.Signer())
	if err != nil {
		e.metrics.Command("Spawn", "error")
		return "", apperrors.Transmission("Spawn", err)
	}
	e.metrics.Command("Spawn", "ok")
	e.log.Info().Str("op", opCreateOrderbook).Str("process", pid).Str("module", module).Msg("spawned process")
	return pid, nil
}

func (e *Engine) eval(ctx context.Context, process, code string) error {
	_, err := e.submitter.Submit(ctx, correlation.Command{
		Target: process,
		Action: message.ActionEval,
		Data:   code,
	})
	return err
}
