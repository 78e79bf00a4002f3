// Package amount implements the non-negative, overflow-checked quantity
// type used throughout the data model (spec.md §3, "Amount — non-negative
// integer with addition/subtraction that fails (does not wrap) on
// overflow/underflow; zero is invalid for outputs").
package amount

import "fmt"

// Amount is a quantity of the chain's native currency, denominated in the
// smallest indivisible unit.
type Amount uint64

// Max is the largest representable Amount before addition would overflow
// the underlying uint64.
const Max = Amount(^uint64(0))

// Add returns a+b, or an error if the sum would overflow uint64.
func Add(a, b Amount) (Amount, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("amount: addition overflow: %d + %d", a, b)
	}
	return sum, nil
}

// Sub returns a-b, or an error if b > a (the result would be negative).
func Sub(a, b Amount) (Amount, error) {
	if b > a {
		return 0, fmt.Errorf("amount: subtraction underflow: %d - %d", a, b)
	}
	return a - b, nil
}

// SumAll adds every element of vs, failing on the first overflow.
func SumAll(vs ...Amount) (Amount, error) {
	var total Amount
	var err error
	for _, v := range vs {
		total, err = Add(total, v)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Valid reports whether a is a valid output value: non-zero (spec.md §3,
// "zero is invalid for outputs").
func Valid(a Amount) bool {
	return a != 0
}
