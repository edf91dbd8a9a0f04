package suballoc

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// ErrPowerOfTwo is returned from CheckPow2 when the number being tested is not a power of two
var ErrPowerOfTwo = errors.New("number must be a power of two")

func CheckPow2[T constraints.Integer](number T, name string) error {
	if number&(number-1) != 0 {
		return errors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}
