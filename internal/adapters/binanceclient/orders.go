package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tripwireBot/internal/domain"
	"tripwireBot/internal/ports"
	"tripwireBot/internal/risk"
)

// SubmitLimitBuy places an immediate-or-cancel limit buy at price.
func (c *Client) SubmitLimitBuy(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	return c.submitLimit(ctx, "SubmitLimitBuy", symbol, binance.SideTypeBuy, qty, price)
}

// SubmitLimitSell places an immediate-or-cancel limit sell at price.
func (c *Client) SubmitLimitSell(ctx context.Context, symbol string, qty, price float64) (*ports.Fill, error) {
	return c.submitLimit(ctx, "SubmitLimitSell", symbol, binance.SideTypeSell, qty, price)
}

func (c *Client) submitLimit(ctx context.Context, op, symbol string, side binance.SideType, qty, price float64) (*ports.Fill, error) {
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	inst := c.instrument(symbol)
	clientID := uuid.NewString()
	fields := map[string]interface{}{"symbol": symbol, "side": side, "quantity": qty, "price": price, "clientOrderId": clientID}
	c.logger.Debug(ctx, op+": submitting", fields)

	order, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeIOC).
		Quantity(risk.FormatStep(qty, inst.StepSize)).
		Price(formatPrice(price, inst.TickSize)).
		NewClientOrderID(clientID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.orderError(ctx, err, op)
	}
	return c.fillFrom(ctx, op, order)
}

// SubmitMarketBuy places a market buy for qty.
func (c *Client) SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (*ports.Fill, error) {
	op := "SubmitMarketBuy"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	inst := c.instrument(symbol)
	order, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		Quantity(risk.FormatStep(qty, inst.StepSize)).
		NewClientOrderID(uuid.NewString()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.orderError(ctx, err, op)
	}
	return c.fillFrom(ctx, op, order)
}

// orderError maps a failed submission. Rate limits and timeouts pass through;
// everything the exchange refused becomes a rejection.
func (c *Client) orderError(ctx context.Context, err error, op string) error {
	mapped := c.handleError(ctx, err, op)
	switch {
	case errors.Is(mapped, ports.ErrRateLimited),
		errors.Is(mapped, ports.ErrTimeout),
		errors.Is(mapped, ports.ErrContextCanceled),
		errors.Is(mapped, ports.ErrConnectionFailed):
		return mapped
	case errors.Is(mapped, ports.ErrInsufficientFunds):
		return ports.NewRejected("insufficient funds", mapped)
	case errors.Is(mapped, ports.ErrInvalidRequest):
		return ports.NewRejected("invalid order", mapped)
	default:
		return ports.NewRejected("refused by exchange", mapped)
	}
}

func (c *Client) fillFrom(ctx context.Context, op string, order *binance.CreateOrderResponse) (*ports.Fill, error) {
	fill, err := translateOrder(order)
	if err != nil {
		c.logger.Warn(ctx, op+": order not filled", map[string]interface{}{"symbol": order.Symbol, "status": order.Status, "error": err.Error()})
		return nil, err
	}
	c.logger.Info(ctx, op+": filled", map[string]interface{}{"symbol": fill.Symbol, "orderId": fill.OrderID, "price": fill.Price, "quantity": fill.Quantity})
	return fill, nil
}

// translateOrder computes the executed quantity and average price of an
// order response.
func translateOrder(order *binance.CreateOrderResponse) (*ports.Fill, error) {
	executed := parseFloat(order.ExecutedQuantity)
	if executed <= 0 {
		return nil, ports.NewRejected(fmt.Sprintf("not filled (%s)", order.Status), nil)
	}

	var notional, filled float64
	for _, f := range order.Fills {
		p, q := parseFloat(f.Price), parseFloat(f.Quantity)
		notional += p * q
		filled += q
	}
	var price float64
	switch {
	case filled > 0:
		price = notional / filled
	case parseFloat(order.CummulativeQuoteQuantity) > 0:
		price = parseFloat(order.CummulativeQuoteQuantity) / executed
	default:
		price = parseFloat(order.Price)
	}

	return &ports.Fill{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Symbol:   order.Symbol,
		Side:     domain.OrderSide(order.Side),
		Price:    price,
		Quantity: executed,
		Time:     msToTime(order.TransactTime),
	}, nil
}

// formatPrice rounds price to the nearest tick.
func formatPrice(price, tick float64) string {
	if tick <= 0 {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	t := decimal.NewFromFloat(tick)
	places := -t.Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).StringFixed(places)
}
