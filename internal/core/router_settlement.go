package core

import (
	"context"
	"fmt"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/event"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ProposeSettlement snapshots a closed batch against the reported adapter total.
// A non-zero checkpoint charges that fee up to the given timestamp.
func (r *Router) ProposeSettlement(
	ctx context.Context,
	caller, asset, holder common.Address,
	batchID common.Hash,
	totalAssets *uint256.Int,
	managementTS, performanceTS int64,
) (common.Hash, error) {
	var id common.Hash
	err := r.run(ctx, "propose_settlement", func() ([]event.Event, error) {
		p, err := r.settlement.Propose(caller, asset, holder, batchID, totalAssets, managementTS, performanceTS)
		if err != nil {
			return nil, err
		}
		id = p.ID
		if r.metrics != nil {
			r.metrics.Proposals.WithLabelValues("proposed").Inc()
		}
		r.log.Info().
			Str("proposal", p.ID.Hex()).
			Str("holder", holder.Hex()).
			Str("batch", batchID.Hex()).
			Str("total_assets", p.TotalAssets.Dec()).
			Str("yield", p.Yield.String()).
			Int64("execute_after", p.ExecuteAfter).
			Msg("settlement proposed")

		return []event.Event{&event.SettlementProposed{
			ProposalID:    p.ID.Hex(),
			Asset:         asset.Hex(),
			Vault:         holder.Hex(),
			BatchID:       batchID.Hex(),
			TotalAssets:   p.TotalAssets.Dec(),
			Netted:        p.Netted.String(),
			Yield:         p.Yield.String(),
			Deposited:     p.Window.Deposited.Dec(),
			Requested:     p.Window.Requested.Dec(),
			ManagementFee: p.Fees.Management.Dec(),
			PerfFee:       p.Fees.Performance.Dec(),
			ExecuteAfter:  p.ExecuteAfter,
			ManagementTS:  managementTS,
			PerformanceTS: performanceTS,
		}}, nil
	})
	return id, err
}

// CanExecute reports whether a proposal exists and its cooldown has passed
func (r *Router) CanExecute(id common.Hash) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settlement.CanExecute(id)
}

// ExecuteSettlement settles the proposal's batch. Anyone may execute once
// the cooldown has passed.
func (r *Router) ExecuteSettlement(ctx context.Context, caller common.Address, id common.Hash) (*Settlement, error) {
	var settled *Settlement
	err := r.run(ctx, "execute_settlement", func() ([]event.Event, error) {
		s, err := r.settlement.Execute(id)
		if err != nil {
			if r.metrics != nil {
				r.metrics.Proposals.WithLabelValues("execute_failed").Inc()
			}
			return nil, err
		}
		settled = s

		holder := s.Holder.Hex()
		events := []event.Event{
			&event.BatchSettled{
				BatchID: s.BatchID.Hex(),
				Holder:  holder,
				Asset:   s.Asset.Hex(),
			},
			&event.SettlementExecuted{
				ProposalID:  id.Hex(),
				Vault:       holder,
				Asset:       s.Asset.Hex(),
				BatchID:     s.BatchID.Hex(),
				SharePrice:  s.SharePrice.Dec(),
				Minted:      s.Minted.Dec(),
				Reserved:    s.Reserved.Dec(),
				FeesCharged: s.Fees.Total.Dec(),
				TotalAssets: r.adapterTotal(s.Holder, s.Asset).Dec(),
			},
		}

		if s.Kind == HolderVault {
			if !s.Fees.Total.IsZero() {
				h, _ := r.holders.Get(s.Holder)
				fs, _ := r.fees.State(s.Holder)
				events = append(events, &event.FeesCharged{
					Vault:         holder,
					BatchID:       s.BatchID.Hex(),
					Treasury:      h.Treasury.Hex(),
					ManagementFee: s.Fees.Management.Dec(),
					PerfFee:       s.Fees.Performance.Dec(),
					ManagementTS:  fs.LastManagementCharged,
					PerformanceTS: fs.LastPerformanceCharged,
				})
			}
			if s.WatermarkAdvanced {
				events = append(events, &event.WatermarkAdvanced{
					Vault:     holder,
					Watermark: s.SharePrice.Dec(),
				})
			}
		}

		if r.metrics != nil {
			r.metrics.Proposals.WithLabelValues("executed").Inc()
			r.metrics.BatchTransitions.WithLabelValues(state.BatchSettled.String()).Inc()
			if s.Kind == HolderVault {
				r.metrics.AddFees(holder, "management", s.Fees.Management)
				r.metrics.AddFees(holder, "performance", s.Fees.Performance)
				r.metrics.SetSharePrice(holder, s.SharePrice, r.decimals)
				if wm, err := r.fees.Watermark(s.Holder); err == nil {
					r.metrics.SetWatermark(holder, wm, r.decimals)
				}
			}
		}
		r.observeOutstanding(s.Holder, s.Asset)

		r.log.Info().
			Str("proposal", id.Hex()).
			Str("caller", caller.Hex()).
			Str("batch", s.BatchID.Hex()).
			Str("share_price", s.SharePrice.Dec()).
			Str("minted", s.Minted.Dec()).
			Str("reserved", s.Reserved.Dec()).
			Msg("settlement executed")
		return events, nil
	})
	return settled, err
}

// CancelProposal drops an outstanding proposal (guardian only)
func (r *Router) CancelProposal(ctx context.Context, caller common.Address, id common.Hash) error {
	return r.run(ctx, "cancel_proposal", func() ([]event.Event, error) {
		p, err := r.settlement.Cancel(caller, id)
		if err != nil {
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.Proposals.WithLabelValues("cancelled").Inc()
		}
		r.log.Warn().Str("proposal", id.Hex()).Str("guardian", caller.Hex()).Msg("settlement proposal cancelled")
		return []event.Event{&event.SettlementCancelled{
			ProposalID: id.Hex(),
			Vault:      p.Holder.Hex(),
			BatchID:    p.BatchID.Hex(),
		}}, nil
	})
}

// ReportTotalAssets sets the adapter-reported total of holder's asset.
// Reports carry a per-adapter sequence: stale ones are ignored, gaps are fine.
// Returns whether the report was applied.
func (r *Router) ReportTotalAssets(
	ctx context.Context,
	caller, holder, asset common.Address,
	sequence int64,
	totalAssets *uint256.Int,
) (bool, error) {
	applied := false
	err := r.run(ctx, "report_total_assets", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		if err := r.auth.Require(caller, access.CapRelayer); err != nil {
			return nil, err
		}
		if totalAssets == nil {
			return nil, fmt.Errorf("%w: missing total assets", ErrInvalidTotalAssets)
		}
		adapter, err := r.adapters.Adapter(holder, asset)
		if err != nil {
			return nil, err
		}
		partition := "adapter:" + holder.Hex() + ":" + asset.Hex()
		if !r.reports.ValidateReportSequence(partition, sequence) {
			r.log.Debug().Str("partition", partition).Int64("seq", sequence).Msg("stale total assets report ignored")
			return nil, nil
		}
		if err := adapter.SetTotalAssets(r.identity, asset, totalAssets); err != nil {
			return nil, err
		}
		applied = true

		return []event.Event{&event.TotalAssetsReported{
			Holder:      holder.Hex(),
			Asset:       asset.Hex(),
			TotalAssets: totalAssets.Dec(),
			Sequence:    sequence,
		}}, nil
	})
	return applied, err
}

// TransferVirtual books capital moving from source to dest in their open batches
func (r *Router) TransferVirtual(ctx context.Context, caller, source, dest, asset common.Address, amount *uint256.Int) error {
	return r.run(ctx, "transfer_virtual", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		if err := r.auth.Require(caller, access.CapRelayer); err != nil {
			return nil, err
		}
		sourceBatch, err := r.activeBatch(source, asset)
		if err != nil {
			return nil, err
		}
		destBatch, err := r.activeBatch(dest, asset)
		if err != nil {
			return nil, err
		}
		if err := r.virtual.RecordTransfer(source, dest, asset, sourceBatch, destBatch, amount); err != nil {
			return nil, err
		}
		r.observeOutstanding(source, asset)

		return []event.Event{&event.VirtualTransfer{
			Op:      "transfer",
			Source:  source.Hex(),
			Dest:    dest.Hex(),
			Asset:   asset.Hex(),
			BatchID: sourceBatch.Hex(),
			Amount:  amount.Dec(),
		}}, nil
	})
}

// RequestPull books a pull of holder's capital in its open batch, bounded
// by the adapter-reported total assets.
func (r *Router) RequestPull(ctx context.Context, caller, holder, asset common.Address, amount *uint256.Int) error {
	return r.run(ctx, "request_pull", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		if err := r.auth.Require(caller, access.CapRelayer); err != nil {
			return nil, err
		}
		batchID, err := r.activeBatch(holder, asset)
		if err != nil {
			return nil, err
		}
		if err := r.virtual.RecordPullRequest(holder, asset, batchID, amount); err != nil {
			return nil, err
		}
		r.observeOutstanding(holder, asset)

		return []event.Event{&event.VirtualTransfer{
			Op:      "pull",
			Source:  holder.Hex(),
			Asset:   asset.Hex(),
			BatchID: batchID.Hex(),
			Amount:  amount.Dec(),
		}}, nil
	})
}

func (r *Router) activeBatch(holderAddr, asset common.Address) (common.Hash, error) {
	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := holder.ShareToken(asset); err != nil {
		return common.Hash{}, err
	}
	return holder.Batches.ActiveBatch(asset)
}

// ClaimStakedShares pays the shares of a settled stake request
func (r *Router) ClaimStakedShares(ctx context.Context, caller, vault common.Address, id common.Hash) (*ClaimResult, error) {
	return r.claim(ctx, "claim_staked_shares", func() (*ClaimResult, error) {
		return r.claims.ClaimStakedShares(caller, vault, id)
	})
}

// ClaimUnstakedAssets pays the assets of a settled unstake request
func (r *Router) ClaimUnstakedAssets(ctx context.Context, caller, vault common.Address, id common.Hash) (*ClaimResult, error) {
	return r.claim(ctx, "claim_unstaked_assets", func() (*ClaimResult, error) {
		return r.claims.ClaimUnstakedAssets(caller, vault, id)
	})
}

// ClaimMintedTokens pays the kTokens of a settled mint request
func (r *Router) ClaimMintedTokens(ctx context.Context, caller common.Address, id common.Hash) (*ClaimResult, error) {
	return r.claim(ctx, "claim_minted_tokens", func() (*ClaimResult, error) {
		return r.claims.ClaimMintedTokens(caller, r.minter, id)
	})
}

// ClaimBurnedAssets pays the assets of a settled burn request
func (r *Router) ClaimBurnedAssets(ctx context.Context, caller common.Address, id common.Hash) (*ClaimResult, error) {
	return r.claim(ctx, "claim_burned_assets", func() (*ClaimResult, error) {
		return r.claims.ClaimBurnedAssets(caller, r.minter, id)
	})
}

func (r *Router) claim(ctx context.Context, op string, resolve func() (*ClaimResult, error)) (*ClaimResult, error) {
	var result *ClaimResult
	err := r.run(ctx, op, func() ([]event.Event, error) {
		res, err := resolve()
		if err != nil {
			return nil, err
		}
		result = res
		req := res.Request
		delete(r.pullEstimates, req.ID)

		if r.metrics != nil {
			r.metrics.Claims.WithLabelValues(req.Kind.String()).Inc()
		}
		r.log.Info().
			Str("request", req.ID.Hex()).
			Str("kind", req.Kind.String()).
			Str("recipient", req.Recipient.Hex()).
			Str("shares", res.Shares.Dec()).
			Str("assets", res.Assets.Dec()).
			Msg("request claimed")

		return []event.Event{&event.RequestClaimed{
			RequestID: req.ID.Hex(),
			Kind:      req.Kind.String(),
			Recipient: req.Recipient.Hex(),
			Shares:    res.Shares.Dec(),
			Assets:    res.Assets.Dec(),
		}}, nil
	})
	return result, err
}
