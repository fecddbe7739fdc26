package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"lendpool/crypto"
	"lendpool/native/lendbook"
	"lendpool/native/lending"
	"lendpool/native/oracle"
)

func decodeBech32(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// bigString renders amounts as decimal strings so clients never lose
// precision to JSON numbers.
func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(raw []byte) string {
	return crypto.MustNewAddress(crypto.LendPrefix, raw).String()
}

type BalanceResult struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

type TokenResult struct {
	Symbol                  string `json:"symbol"`
	Decimals                uint8  `json:"decimals"`
	LtvBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	ReserveFactorBps        uint64 `json:"reserveFactorBps"`
	BorrowCap               string `json:"borrowCap,omitempty"`
	BaseRateBps             uint64 `json:"baseRateBps"`
	Slope1Bps               uint64 `json:"slope1Bps"`
	Slope2Bps               uint64 `json:"slope2Bps"`
	KinkBps                 uint64 `json:"kinkBps"`
	IsActive                bool   `json:"isActive"`
	IsLoanable              bool   `json:"isLoanable"`
}

func NewTokenResult(cfg *lending.TokenConfig) TokenResult {
	result := TokenResult{
		Symbol:                  cfg.Symbol,
		Decimals:                cfg.Decimals,
		LtvBps:                  cfg.LtvBps,
		LiquidationThresholdBps: cfg.LiquidationThresholdBps,
		LiquidationBonusBps:     cfg.LiquidationBonusBps,
		ReserveFactorBps:        cfg.ReserveFactorBps,
		BaseRateBps:             cfg.Interest.BaseRateBps,
		Slope1Bps:               cfg.Interest.Slope1Bps,
		Slope2Bps:               cfg.Interest.Slope2Bps,
		KinkBps:                 cfg.Interest.KinkBps,
		IsActive:                cfg.IsActive,
		IsLoanable:              cfg.IsLoanable,
	}
	if cfg.BorrowCap != nil && cfg.BorrowCap.Sign() > 0 {
		result.BorrowCap = cfg.BorrowCap.String()
	}
	return result
}

type MarketResult struct {
	Token              *TokenResult `json:"token,omitempty"`
	Symbol             string       `json:"symbol"`
	TotalDeposits      string       `json:"totalDeposits"`
	TotalBorrows       string       `json:"totalBorrows"`
	TotalDepositShares string       `json:"totalDepositShares"`
	LiquidityIndex     string       `json:"liquidityIndex"`
	BorrowIndex        string       `json:"borrowIndex"`
	UtilisationBps     uint64       `json:"utilisationBps"`
	DepositRateBps     uint64       `json:"depositRateBps"`
	BorrowRateBps      uint64       `json:"borrowRateBps"`
	LastUpdate         uint64       `json:"lastUpdate"`
}

func NewMarketResult(snapshot *lending.ReserveSnapshot, cfg *lending.TokenConfig) MarketResult {
	result := MarketResult{
		Symbol:             snapshot.Reserve.Symbol,
		TotalDeposits:      bigString(snapshot.Reserve.TotalDeposits),
		TotalBorrows:       bigString(snapshot.Reserve.TotalBorrows),
		TotalDepositShares: bigString(snapshot.Reserve.TotalDepositShares),
		LiquidityIndex:     bigString(snapshot.Reserve.LiquidityIndex),
		BorrowIndex:        bigString(snapshot.Reserve.BorrowIndex),
		UtilisationBps:     snapshot.UtilisationBps,
		DepositRateBps:     snapshot.Rates.DepositRateBps,
		BorrowRateBps:      snapshot.Rates.BorrowRateBps,
		LastUpdate:         snapshot.Reserve.LastUpdateTimestamp,
	}
	if cfg != nil {
		token := NewTokenResult(cfg)
		result.Token = &token
	}
	return result
}

type PositionResult struct {
	Address           string `json:"address"`
	Symbol            string `json:"symbol"`
	DepositShares     string `json:"depositShares"`
	CollateralBalance string `json:"collateralBalance"`
	Pledged           string `json:"pledged"`
	NormalizedDebt    string `json:"normalizedDebt"`
	UseAsCollateral   bool   `json:"useAsCollateral"`
}

func NewPositionResult(position *lending.UserPosition) PositionResult {
	return PositionResult{
		Address:           formatAddress(position.Address),
		Symbol:            position.Symbol,
		DepositShares:     bigString(position.DepositShares),
		CollateralBalance: bigString(position.CollateralBalance),
		Pledged:           bigString(position.Pledged),
		NormalizedDebt:    bigString(position.NormalizedDebt),
		UseAsCollateral:   position.UseAsCollateral,
	}
}

type CollateralResult struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type LoanResult struct {
	ID                 uint64             `json:"id"`
	Borrower           string             `json:"borrower"`
	BorrowSymbol       string             `json:"borrowSymbol"`
	BorrowAmount       string             `json:"borrowAmount"`
	NormalizedDebt     string             `json:"normalizedDebt"`
	InterestRateBps    uint64             `json:"interestRateBps"`
	CreatedAt          uint64             `json:"createdAt"`
	LastInterestUpdate uint64             `json:"lastInterestUpdate"`
	DueAt              uint64             `json:"dueAt,omitempty"`
	Status             string             `json:"status"`
	Collaterals        []CollateralResult `json:"collaterals"`
}

func NewLoanResult(loan *lending.Loan) LoanResult {
	collaterals := make([]CollateralResult, 0, len(loan.Collaterals))
	for _, entry := range loan.Collaterals {
		collaterals = append(collaterals, CollateralResult{
			Symbol: entry.Symbol,
			Amount: bigString(entry.Amount),
		})
	}
	return LoanResult{
		ID:                 loan.ID,
		Borrower:           formatAddress(loan.Borrower),
		BorrowSymbol:       loan.BorrowSymbol,
		BorrowAmount:       bigString(loan.BorrowAmount),
		NormalizedDebt:     bigString(loan.NormalizedDebt),
		InterestRateBps:    loan.InterestRateBps,
		CreatedAt:          loan.CreatedAt,
		LastInterestUpdate: loan.LastInterestUpdate,
		DueAt:              loan.DueAt,
		Status:             loan.Status.String(),
		Collaterals:        collaterals,
	}
}

type ListingResult struct {
	ID              uint64 `json:"id"`
	Lender          string `json:"lender"`
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	MinRateBps      uint64 `json:"minRateBps"`
	MaxDurationSecs uint64 `json:"maxDurationSecs,omitempty"`
	CreatedAt       uint64 `json:"createdAt"`
	Status          string `json:"status"`
	MatchedRateBps  uint64 `json:"matchedRateBps,omitempty"`
	MatchedLoanID   uint64 `json:"matchedLoanId,omitempty"`
	MatchedAt       uint64 `json:"matchedAt,omitempty"`
}

func NewListingResult(listing *lendbook.Listing) ListingResult {
	return ListingResult{
		ID:              listing.ID,
		Lender:          formatAddress(listing.Lender),
		Symbol:          listing.Symbol,
		Amount:          bigString(listing.Amount),
		MinRateBps:      listing.MinRateBps,
		MaxDurationSecs: listing.MaxDurationSecs,
		CreatedAt:       listing.CreatedAt,
		Status:          listing.Status.String(),
		MatchedRateBps:  listing.MatchedRateBps,
		MatchedLoanID:   listing.MatchedLoanID,
		MatchedAt:       listing.MatchedAt,
	}
}

type QuoteResult struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt uint64 `json:"updatedAt"`
	Source    string `json:"source,omitempty"`
}

func NewQuoteResult(symbol string, quote oracle.Quote) QuoteResult {
	return QuoteResult{
		Symbol:    symbol,
		Price:     bigString(quote.Price),
		Decimals:  quote.Decimals,
		UpdatedAt: quote.UpdatedAt,
		Source:    quote.Source,
	}
}
