// Package agent provides the reference trading strategies the engine
// dispatches each block. Every strategy implements handle.Agent and
// reads the simulation exclusively through the handle.Handle it is
// given — none of them import pkg/sim/engine.
package agent

import "math"

// buyingIntent returns baseVolume*exp(growthRate*(margin-threshold)):
// exactly baseVolume when margin equals threshold, growing
// exponentially above it and decaying toward 0 below it. Used by the
// yield-chasing strategies (LV depositor, CT long-term) to size a
// purchase from a risk-premium gap.
func buyingIntent(margin, baseVolume, threshold, growthRate float64) float64 {
	return baseVolume * math.Exp(growthRate*(margin-threshold))
}

// buyingIntentIncreasingAbove1 maps value > 1 to an intent that
// approaches 1 asymptotically, used by the repurchase arbitrage agent
// to size a purchase from how far LST+DS exceeds 1.
func buyingIntentIncreasingAbove1(value, growthRate float64) float64 {
	if value <= 1 {
		return 0
	}
	return 1 - math.Exp(-growthRate*(value-1))
}

// buyingIntentIncreasingBelow1 maps margin < threshold to an intent
// approaching 1 as the margin falls further below threshold, used by
// the redemption arbitrage agent to size a purchase from how far
// LST+DS+fee falls short of 1.
func buyingIntentIncreasingBelow1(margin, threshold, growthRate float64) float64 {
	if margin >= threshold {
		return 0
	}
	intent := math.Exp(growthRate * (threshold - margin))
	return 1 - (1 / (1 + intent))
}

// calculateARP estimates the annualized risk premium implied by a
// token's current price and the LST's native yield, extrapolated to
// the full run length.
func calculateARP(tokenPrice, lstYieldPerBlock float64, numBlocks, currentBlock uint64) float64 {
	remaining := float64(numBlocks) - float64(currentBlock) + 1
	if remaining <= 0 {
		remaining = 1
	}
	fullExpiryPrice := tokenPrice * (float64(numBlocks) / remaining)
	fullExpiryYield := lstYieldPerBlock * float64(numBlocks)
	return fullExpiryYield - fullExpiryPrice
}

// ewmaSlope computes the exponentially weighted moving average of the
// differences of the last n values of series, or of all of them when
// the series is shorter (recursive/adjust=false form), reporting
// whether it crosses the decline/incline thresholds.
func ewmaSlope(series []float64, n int, alpha, declineThreshold, inclineThreshold float64) (sharpDecline, sharpIncline bool, slope float64) {
	if len(series) < n {
		n = len(series)
	}
	tail := series[len(series)-n:]
	diffs := make([]float64, 0, len(tail)-1)
	for i := 1; i < len(tail); i++ {
		diffs = append(diffs, tail[i]-tail[i-1])
	}
	if len(diffs) == 0 {
		return false, false, 0
	}
	ewma := diffs[0]
	for _, d := range diffs[1:] {
		ewma = alpha*d + (1-alpha)*ewma
	}
	return ewma < declineThreshold, ewma > inclineThreshold, ewma
}

// countConsecutiveUnderThreshold counts how many trailing entries of
// history fall below threshold, stopping at the first that does not.
func countConsecutiveUnderThreshold(history []float64, threshold float64) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] < threshold {
			count++
		} else {
			break
		}
	}
	return count
}
