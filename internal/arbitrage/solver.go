package arbitrage

import "triarb/pkg/types"

// resolveMaxVolume finds the largest initial-coin volume the chain can push
// through all three legs and rewrites every step's volume consistently with
// it. It returns the adjusted steps and the initial-coin volume.
//
// Each step's available proposedVolume is projected back into initial-coin
// units through the prior steps' propose/receive ratios; the minimum of the
// three projections is the executable start volume, which is then propagated
// forward so that step i+1 consumes exactly what step i produces.
//
// If any step has zero volume the whole chain is unexecutable and all volumes
// are zeroed.
func resolveMaxVolume(steps []types.ChainStep) ([]types.ChainStep, float64) {
	out := append([]types.ChainStep(nil), steps...)

	for _, s := range out {
		if s.Volume == 0 {
			for i := range out {
				out[i].Volume = 0
			}
			return out, 0
		}
	}

	// Back-projection: how much initial coin each leg could absorb on its own.
	start := 0.0
	factor := 1.0
	for i, s := range out {
		if i > 0 {
			prev := out[i-1]
			factor *= prev.ProposedVolume() / prev.ReceivedVolume()
		}
		inInitial := s.ProposedVolume() * factor
		if i == 0 || inInitial < start {
			start = inInitial
		}
	}

	// Forward pass: spend the start volume through the chain.
	available := start
	for i := range out {
		if out[i].IsBuy() {
			out[i].Volume = available / out[i].Price
		} else {
			out[i].Volume = available
		}
		available = out[i].ReceivedVolume()
	}
	return out, start
}
