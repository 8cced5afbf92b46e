package engine

import (
	"fmt"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
)

func entryMessage(p *domain.Position) string {
	return fmt.Sprintf("📈 Trade Executed: BUY %g %s @ %g (TP %.6g, SL %.6g) [%s]",
		p.Quantity, p.Symbol, p.EntryPrice, p.TakeProfit, p.StopLoss, p.Key())
}

func exitMessage(p *domain.Position, total float64) string {
	return fmt.Sprintf("📉 Trade Executed: SELL %g %s @ %.6g (%s) PNL %.4f, cumulative %.4f [%s]",
		p.Quantity, p.Symbol, p.ExitPrice, p.ExitReason, p.PNL, total, p.Key())
}

func hedgeMessage(key string, f *ports.Fill) string {
	return fmt.Sprintf("🛡 Hedge Executed: BUY %g %s @ %g for %s", f.Quantity, f.Symbol, f.Price, key)
}

func hedgeFailedMessage(key, symbol string, err error) string {
	return fmt.Sprintf("⚠️ Hedge on %s for %s failed: %v", symbol, key, err)
}

func rejectionMessage(symbol string, side domain.OrderSide, err error) string {
	return fmt.Sprintf("⚠️ %s %s not executed: %v", side, symbol, err)
}

func stalledMessage(p *domain.Position, ticks int) string {
	return fmt.Sprintf("⏸ Price feed for %s stalled for %d checks while holding %s", p.Symbol, ticks, p.Key())
}

func abortMessage(p *domain.Position, rejections int) string {
	return fmt.Sprintf("🛑 Exit of %s aborted after %d rejected sells, %g %s still held. Manual action required.",
		p.Key(), rejections, p.Remaining, p.Symbol)
}

func haltMessage(total, target float64) string {
	return fmt.Sprintf("🏁 Profit target reached: %.4f >= %.4f. No new entries.", total, target)
}
