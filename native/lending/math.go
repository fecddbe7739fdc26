package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	usdScale    = mustBigInt("1000000000000000000")          // USD values carry 1e18 precision
	oneBig      = big.NewInt(1)
)

// SecondsPerYear is the accrual denominator for annualised basis-point rates.
const SecondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// mulDivDown computes a*b/den truncated toward zero. Operands are
// non-negative everywhere the engine calls it; truncation is therefore the
// protocol-favoring floor the accounting rules require.
func mulDivDown(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// mulDivUp computes a*b/den rounded away from zero. Debt-increasing
// quantities use it so accrued obligations are never under-counted.
func mulDivUp(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, new(big.Int).Sub(den, oneBig))
	return product.Quo(product, den)
}

// rayMulDown scales a value by a ray index, truncating.
func rayMulDown(a, index *big.Int) *big.Int {
	return mulDivDown(a, index, ray)
}

// rayMulUp scales a value by a ray index, rounding up.
func rayMulUp(a, index *big.Int) *big.Int {
	return mulDivUp(a, index, ray)
}

// rayDivDown normalises a value against a ray index, truncating.
func rayDivDown(a, index *big.Int) *big.Int {
	return mulDivDown(a, ray, index)
}

// rayDivUp normalises a value against a ray index, rounding up. Debt is
// normalised with this so denormalising never understates what is owed.
func rayDivUp(a, index *big.Int) *big.Int {
	return mulDivUp(a, ray, index)
}

var pow10Table = func() [28]*big.Int {
	var table [28]*big.Int
	v := big.NewInt(1)
	for i := range table {
		table[i] = new(big.Int).Set(v)
		v.Mul(v, big.NewInt(10))
	}
	return table
}()

func pow10(exp uint8) *big.Int {
	if int(exp) < len(pow10Table) {
		return pow10Table[exp]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
