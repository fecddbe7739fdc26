package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	utilisation  *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
	depositRate  *prometheus.GaugeVec
	deposits     *prometheus.GaugeVec
	borrows      *prometheus.GaugeVec
	loansOpened  *prometheus.CounterVec
	loansClosed  *prometheus.CounterVec
	liquidations *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_utilisation_bps",
				Help: "Borrows as a share of pool deposits per market in basis points.",
			}, []string{"symbol"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_borrow_rate_bps",
				Help: "Annual borrow rate per market in basis points as of the last accrual.",
			}, []string{"symbol"}),
			depositRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_deposit_rate_bps",
				Help: "Annual deposit rate per market in basis points as of the last accrual.",
			}, []string{"symbol"}),
			deposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_total_deposits",
				Help: "Pool deposits per market in base token units.",
			}, []string{"symbol"}),
			borrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_total_borrows",
				Help: "Outstanding borrows per market in base token units.",
			}, []string{"symbol"}),
			loansOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_loans_opened_total",
				Help: "Count of loans opened by borrow market.",
			}, []string{"symbol"}),
			loansClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_loans_closed_total",
				Help: "Count of loans fully repaid by borrow market and closing status.",
			}, []string{"symbol", "status"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of liquidation executions by borrow market and outcome.",
			}, []string{"symbol", "outcome"}),
		}
		prometheus.MustRegister(
			lendingRegistry.utilisation,
			lendingRegistry.borrowRate,
			lendingRegistry.depositRate,
			lendingRegistry.deposits,
			lendingRegistry.borrows,
			lendingRegistry.loansOpened,
			lendingRegistry.loansClosed,
			lendingRegistry.liquidations,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) SetMarketRates(symbol string, utilisationBps, borrowRateBps, depositRateBps uint64) {
	if m == nil {
		return
	}
	label := labelSymbol(symbol)
	m.utilisation.WithLabelValues(label).Set(float64(utilisationBps))
	m.borrowRate.WithLabelValues(label).Set(float64(borrowRateBps))
	m.depositRate.WithLabelValues(label).Set(float64(depositRateBps))
}

func (m *LendingMetrics) SetMarketSize(symbol string, deposits, borrows *big.Int) {
	if m == nil {
		return
	}
	label := labelSymbol(symbol)
	m.deposits.WithLabelValues(label).Set(bigToFloat(deposits))
	m.borrows.WithLabelValues(label).Set(bigToFloat(borrows))
}

func (m *LendingMetrics) IncLoanOpened(symbol string) {
	if m == nil {
		return
	}
	m.loansOpened.WithLabelValues(labelSymbol(symbol)).Inc()
}

func (m *LendingMetrics) IncLoanClosed(symbol, status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.loansClosed.WithLabelValues(labelSymbol(symbol), status).Inc()
}

func (m *LendingMetrics) IncLiquidation(symbol, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.liquidations.WithLabelValues(labelSymbol(symbol), outcome).Inc()
}

func (m *LendingMetrics) InitMarket(symbol string) {
	if m == nil {
		return
	}
	label := labelSymbol(symbol)
	m.utilisation.WithLabelValues(label).Set(0)
	m.borrowRate.WithLabelValues(label).Set(0)
	m.depositRate.WithLabelValues(label).Set(0)
	m.deposits.WithLabelValues(label).Set(0)
	m.borrows.WithLabelValues(label).Set(0)
	m.loansOpened.WithLabelValues(label).Add(0)
}

func (m *LendingMetrics) UtilisationGauge() *prometheus.GaugeVec {
	if m == nil {
		return nil
	}
	return m.utilisation
}

func (m *LendingMetrics) BorrowRateGauge() *prometheus.GaugeVec {
	if m == nil {
		return nil
	}
	return m.borrowRate
}

func (m *LendingMetrics) LoansOpenedVec() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.loansOpened
}

func (m *LendingMetrics) LoansClosedVec() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.loansClosed
}

func (m *LendingMetrics) LiquidationsVec() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.liquidations
}

func labelSymbol(symbol string) string {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, _ := new(big.Float).SetInt(value).Float64()
	if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0
	}
	return floatVal
}
