package core

import (
	"context"
	"fmt"

	"vaultrouter/internal/config"
	"vaultrouter/internal/event"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CreateNewBatch opens the next batch of holder for asset, closing the
// current one if it is still open.
func (r *Router) CreateNewBatch(ctx context.Context, caller, holderAddr, asset common.Address) (common.Hash, error) {
	var id common.Hash
	err := r.run(ctx, "create_batch", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		holder, err := r.holders.Get(holderAddr)
		if err != nil {
			return nil, err
		}
		if _, err := holder.ShareToken(asset); err != nil {
			return nil, err
		}

		var events []event.Event
		previous, noneOpen := holder.Batches.ActiveBatch(asset)
		if id, err = holder.Batches.CreateNewBatch(caller, asset); err != nil {
			return nil, err
		}
		if noneOpen == nil {
			events = append(events, r.batchClosed(holder, previous))
		}
		return append(events, r.batchCreated(holder, id)), nil
	})
	return id, err
}

// CloseBatch stops accepting requests into batchID
func (r *Router) CloseBatch(ctx context.Context, caller, holderAddr common.Address, batchID common.Hash, createNext bool) error {
	return r.run(ctx, "close_batch", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		holder, err := r.holders.Get(holderAddr)
		if err != nil {
			return nil, err
		}
		if err := holder.Batches.CloseBatch(caller, batchID, createNext); err != nil {
			return nil, err
		}

		events := []event.Event{r.batchClosed(holder, batchID)}
		if createNext {
			batch, _ := holder.Batches.Batch(batchID)
			next, err := holder.Batches.ActiveBatch(batch.Asset)
			if err != nil {
				return nil, err
			}
			events = append(events, r.batchCreated(holder, next))
		}
		return events, nil
	})
}

func (r *Router) batchCreated(holder *Holder, id common.Hash) event.Event {
	batch, _ := holder.Batches.Batch(id)
	if r.metrics != nil {
		r.metrics.BatchTransitions.WithLabelValues(state.BatchOpen.String()).Inc()
	}
	return &event.BatchCreated{
		BatchID: id.Hex(),
		Holder:  holder.Address.Hex(),
		Asset:   batch.Asset.Hex(),
		Number:  batch.Number,
	}
}

func (r *Router) batchClosed(holder *Holder, id common.Hash) event.Event {
	batch, _ := holder.Batches.Batch(id)
	if r.metrics != nil {
		r.metrics.BatchTransitions.WithLabelValues(state.BatchClosed.String()).Inc()
	}
	return &event.BatchClosed{
		BatchID: id.Hex(),
		Holder:  holder.Address.Hex(),
		Asset:   batch.Asset.Hex(),
	}
}

// RequestStake escrows amount of the vault's asset into its open batch
func (r *Router) RequestStake(ctx context.Context, caller, vault, recipient common.Address, amount *uint256.Int) (common.Hash, error) {
	return r.deposit(ctx, "request_stake", state.RequestStake, caller, vault, common.Address{}, recipient, amount)
}

// RequestMint escrows amount of asset with the minter against kTokens
func (r *Router) RequestMint(ctx context.Context, caller, asset, recipient common.Address, amount *uint256.Int) (common.Hash, error) {
	return r.deposit(ctx, "request_mint", state.RequestMint, caller, r.minter, asset, recipient, amount)
}

// RequestUnstake escrows vault shares for redemption in the open batch
func (r *Router) RequestUnstake(ctx context.Context, caller, vault, recipient common.Address, shares *uint256.Int) (common.Hash, error) {
	return r.withdraw(ctx, "request_unstake", state.RequestUnstake, caller, vault, common.Address{}, recipient, shares)
}

// RequestBurn escrows kTokens for redemption of asset in the open batch
func (r *Router) RequestBurn(ctx context.Context, caller, asset, recipient common.Address, amount *uint256.Int) (common.Hash, error) {
	return r.withdraw(ctx, "request_burn", state.RequestBurn, caller, r.minter, asset, recipient, amount)
}

// openBatch resolves the holder, asset and open batch a request goes into.
// A zero asset selects the vault's only asset.
func (r *Router) openBatch(kind state.RequestKind, holderAddr, asset common.Address) (*Holder, common.Address, common.Hash, error) {
	module := config.ModuleVault
	if kind.IsMinterSide() {
		module = config.ModuleMinter
	}
	if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
		return nil, common.Address{}, common.Hash{}, err
	}
	if err := r.cfg.RequireNotPaused(module); err != nil {
		return nil, common.Address{}, common.Hash{}, err
	}

	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return nil, common.Address{}, common.Hash{}, err
	}
	if (holder.Kind == HolderMinter) != kind.IsMinterSide() {
		return nil, common.Address{}, common.Hash{}, fmt.Errorf("%w: %s request on %s", state.ErrRequestKindMismatch, kind, holderAddr.Hex())
	}
	if asset == (common.Address{}) {
		asset = holder.Assets()[0]
	}
	if _, err := holder.ShareToken(asset); err != nil {
		return nil, common.Address{}, common.Hash{}, err
	}
	batchID, err := holder.Batches.ActiveBatch(asset)
	if err != nil {
		return nil, common.Address{}, common.Hash{}, err
	}
	return holder, asset, batchID, nil
}

func (r *Router) deposit(
	ctx context.Context,
	op string,
	kind state.RequestKind,
	caller, holderAddr, asset, recipient common.Address,
	amount *uint256.Int,
) (common.Hash, error) {
	var id common.Hash
	err := r.run(ctx, op, func() ([]event.Event, error) {
		holder, asset, batchID, err := r.openBatch(kind, holderAddr, asset)
		if err != nil {
			return nil, err
		}
		if amount == nil || amount.IsZero() {
			return nil, state.ErrZeroAmount
		}

		posting := ledger.NewPosting(op+":"+caller.Hex(), r.cfg.Now().Unix()).
			Move(
				ledger.NewEscrowKey(holder.Address, asset, false),
				ledger.NewAccountKey(caller, asset),
				amount,
				ledger.JournalTypeEscrow,
			).Build()
		if err := r.ledger.CheckPosting(posting); err != nil {
			return nil, err
		}

		if id, err = holder.Requests.Submit(kind, caller, recipient, amount, batchID); err != nil {
			return nil, err
		}
		r.applyPosting(posting)
		must(r.virtual.RecordPush(holder.Address, asset, batchID, amount))

		return []event.Event{r.requestSubmitted(holder, id)}, nil
	})
	return id, err
}

func (r *Router) withdraw(
	ctx context.Context,
	op string,
	kind state.RequestKind,
	caller, holderAddr, asset, recipient common.Address,
	amount *uint256.Int,
) (common.Hash, error) {
	var id common.Hash
	err := r.run(ctx, op, func() ([]event.Event, error) {
		holder, asset, batchID, err := r.openBatch(kind, holderAddr, asset)
		if err != nil {
			return nil, err
		}
		if amount == nil || amount.IsZero() {
			return nil, state.ErrZeroAmount
		}
		shareToken, _ := holder.ShareToken(asset)

		posting := ledger.NewPosting(op+":"+caller.Hex(), r.cfg.Now().Unix()).
			Move(
				ledger.NewEscrowKey(holder.Address, shareToken, false),
				ledger.NewAccountKey(caller, shareToken),
				amount,
				ledger.JournalTypeEscrow,
			).Build()
		if err := r.ledger.CheckPosting(posting); err != nil {
			return nil, err
		}

		// kTokens redeem one to one, shares at the current price
		pull := amount.Clone()
		if holder.Kind == HolderVault {
			price, err := r.sharePrice(holder.Address, asset)
			if err != nil {
				return nil, err
			}
			if pull, err = fpmath.ConvertToAssets(amount, price, r.decimals); err != nil {
				return nil, err
			}
		}
		if !pull.IsZero() {
			if err := r.virtual.RecordPullRequest(holder.Address, asset, batchID, pull); err != nil {
				return nil, err
			}
		}

		if id, err = holder.Requests.Submit(kind, caller, recipient, amount, batchID); err != nil {
			if !pull.IsZero() {
				must(r.virtual.RevertPullRequest(holder.Address, asset, batchID, pull))
			}
			return nil, err
		}
		r.applyPosting(posting)
		if !pull.IsZero() {
			r.pullEstimates[id] = pull
		}

		events := []event.Event{r.requestSubmitted(holder, id)}
		if kind == state.RequestBurn {
			receiver, created, err := holder.Batches.EnsureReceiver(batchID)
			must(err)
			if created {
				holder.receivers[batchID] = state.NewBatchReceiver(batchID, asset, holder.Address, r.auth, r.ledger)
				events = append(events, &event.ReceiverCreated{
					BatchID:  batchID.Hex(),
					Receiver: receiver.Hex(),
					Asset:    asset.Hex(),
				})
			}
		}
		r.observeOutstanding(holder.Address, asset)
		return events, nil
	})
	return id, err
}

// CancelRequest refunds a pending request whose batch is still open
func (r *Router) CancelRequest(ctx context.Context, caller, holderAddr common.Address, id common.Hash) error {
	return r.run(ctx, "cancel_request", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		holder, err := r.holders.Get(holderAddr)
		if err != nil {
			return nil, err
		}
		req, ok := holder.Requests.Request(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", state.ErrRequestNotFound, id.Hex())
		}

		token := req.Asset
		if !req.Kind.IsDeposit() {
			token, _ = holder.ShareToken(req.Asset)
		}
		refund := ledger.NewPosting("cancel:"+id.Hex(), r.cfg.Now().Unix()).
			Move(
				ledger.NewAccountKey(req.User, token),
				ledger.NewEscrowKey(holder.Address, token, false),
				req.Amount,
				ledger.JournalTypeRefund,
			).Build()
		if err := r.ledger.CheckPosting(refund); err != nil {
			return nil, err
		}

		if _, err := holder.Requests.Cancel(id, caller); err != nil {
			return nil, err
		}
		r.applyPosting(refund)

		if req.Kind.IsDeposit() {
			must(r.virtual.RevertPush(holder.Address, req.Asset, req.BatchID, req.Amount))
		} else {
			if pull := r.pullEstimates[id]; pull != nil && !pull.IsZero() {
				must(r.virtual.RevertPullRequest(holder.Address, req.Asset, req.BatchID, pull))
			}
			delete(r.pullEstimates, id)
			r.observeOutstanding(holder.Address, req.Asset)
		}

		return []event.Event{&event.RequestCancelled{
			RequestID: id.Hex(),
			User:      req.User.Hex(),
			Amount:    req.Amount.Dec(),
		}}, nil
	})
}

func (r *Router) requestSubmitted(holder *Holder, id common.Hash) event.Event {
	req, _ := holder.Requests.Request(id)
	r.log.Info().
		Str("request", id.Hex()).
		Str("kind", req.Kind.String()).
		Str("user", req.User.Hex()).
		Str("amount", req.Amount.Dec()).
		Msg("request submitted")
	return &event.RequestSubmitted{
		RequestID: id.Hex(),
		Kind:      req.Kind.String(),
		Holder:    holder.Address.Hex(),
		User:      req.User.Hex(),
		Recipient: req.Recipient.Hex(),
		Asset:     req.Asset.Hex(),
		Amount:    req.Amount.Dec(),
		BatchID:   req.BatchID.Hex(),
	}
}

func (r *Router) observeOutstanding(holder, asset common.Address) {
	if r.metrics != nil {
		r.metrics.VirtualOutstanding.WithLabelValues(holder.Hex(), asset.Hex()).
			Set(observability.ScaledFloat(r.virtual.Outstanding(holder, asset), 0))
	}
}
