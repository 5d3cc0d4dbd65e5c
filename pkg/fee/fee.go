// Package fee computes payment processing fees per payment method.
package fee

import (
	"fmt"
	"strings"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"github.com/shopspring/decimal"
)

// Rate describes how a payment method is charged:
// fee = max(gross*Percent + Fixed, Minimum).
type Rate struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
	Minimum decimal.Decimal
}

// Breakdown is the result of a fee computation. It is never persisted on its own.
type Breakdown struct {
	Method      models.PaymentMethod `json:"method"`
	GrossAmount decimal.Decimal      `json:"gross_amount"`
	FeeRate     decimal.Decimal      `json:"fee_rate"`
	FixedFee    decimal.Decimal      `json:"fixed_fee"`
	ComputedFee decimal.Decimal      `json:"computed_fee"`
	NetAmount   decimal.Decimal      `json:"net_amount"`
}

// DefaultRates is the platform rate table.
func DefaultRates() map[models.PaymentMethod]Rate {
	return map[models.PaymentMethod]Rate{
		models.PaymentMethodCard: {
			Percent: decimal.RequireFromString("0.035"),
			Fixed:   decimal.NewFromInt(15),
			Minimum: decimal.Zero,
		},
		models.PaymentMethodGCash: {
			Percent: decimal.RequireFromString("0.025"),
			Minimum: decimal.NewFromInt(10),
		},
		models.PaymentMethodMaya: {
			Percent: decimal.RequireFromString("0.022"),
			Minimum: decimal.NewFromInt(10),
		},
		models.PaymentMethodGrabPay: {
			Percent: decimal.RequireFromString("0.022"),
			Minimum: decimal.NewFromInt(10),
		},
	}
}

// RatesFromConfig overlays configured methods on DefaultRates. Empty amounts
// read as zero.
func RatesFromConfig(cfg config.FeesConfig) (map[models.PaymentMethod]Rate, error) {
	rates := DefaultRates()
	for name, rc := range cfg.Methods {
		method := models.PaymentMethod(strings.ToLower(strings.TrimSpace(name)))
		if method == models.PaymentMethodCOD {
			return nil, fmt.Errorf("fee: cash on delivery cannot carry a rate")
		}
		var (
			r   Rate
			err error
		)
		if r.Percent, err = parseAmount(rc.Percent); err != nil {
			return nil, fmt.Errorf("fee: %s percent: %w", method, err)
		}
		if r.Fixed, err = parseAmount(rc.Fixed); err != nil {
			return nil, fmt.Errorf("fee: %s fixed: %w", method, err)
		}
		if r.Minimum, err = parseAmount(rc.Minimum); err != nil {
			return nil, fmt.Errorf("fee: %s minimum: %w", method, err)
		}
		rates[method] = r
	}
	return rates, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

type Calculator struct {
	rates map[models.PaymentMethod]Rate
}

// NewCalculator copies rates; a nil map falls back to DefaultRates.
func NewCalculator(rates map[models.PaymentMethod]Rate) *Calculator {
	if rates == nil {
		rates = DefaultRates()
	}
	c := &Calculator{rates: make(map[models.PaymentMethod]Rate, len(rates))}
	for m, r := range rates {
		c.rates[m] = r
	}
	return c
}

// Supports reports whether method is cash-on-delivery or has a rate entry.
func (c *Calculator) Supports(method models.PaymentMethod) bool {
	if method == models.PaymentMethodCOD {
		return true
	}
	_, ok := c.rates[method]
	return ok
}

// Compute returns the fee breakdown for charging gross through method.
// Amounts are rounded to two decimal places, half up.
func (c *Calculator) Compute(method models.PaymentMethod, gross decimal.Decimal) (Breakdown, error) {
	if gross.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: %s", models.ErrInvalidAmount, gross.String())
	}
	gross = gross.Round(2)

	if method == models.PaymentMethodCOD {
		return Breakdown{
			Method:      method,
			GrossAmount: gross,
			FeeRate:     decimal.Zero,
			FixedFee:    decimal.Zero,
			ComputedFee: decimal.Zero,
			NetAmount:   gross,
		}, nil
	}

	rate, ok := c.rates[method]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %q", models.ErrUnsupportedPaymentMethod, method)
	}

	fee := gross.Mul(rate.Percent).Add(rate.Fixed)
	if fee.LessThan(rate.Minimum) {
		fee = rate.Minimum
	}
	fee = fee.Round(2)

	return Breakdown{
		Method:      method,
		GrossAmount: gross,
		FeeRate:     rate.Percent,
		FixedFee:    rate.Fixed,
		ComputedFee: fee,
		NetAmount:   gross.Sub(fee).Round(2),
	}, nil
}
