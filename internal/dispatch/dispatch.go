// Package dispatch checks derived function selectors against contract bytecode.
//
// Solidity dispatchers compare the call selector against constants pushed
// onto the stack, so every externally callable function leaves a PUSH of its
// selector in the runtime code. The optimizer uses the shortest push that
// fits, which means selectors with leading zero bytes may appear as PUSH3 or
// shorter. Compilers that dispatch through jump tables (recent Vyper) do not
// follow this pattern and will report false misses.
package dispatch

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/gateway-fm/abisig/internal/abisig"
	"github.com/gateway-fm/abisig/pkg/types"
)

// Selectors walks code and returns every push immediate of at most four
// bytes, left-padded to a selector. Push data is skipped so it is never
// interpreted as opcodes.
func Selectors(code []byte) map[abisig.Selector]struct{} {
	found := make(map[abisig.Selector]struct{})
	for pc := 0; pc < len(code); pc++ {
		op := vm.OpCode(code[pc])
		if op < vm.PUSH1 || op > vm.PUSH32 {
			continue
		}
		size := int(op-vm.PUSH1) + 1
		start, end := pc+1, pc+1+size
		pc += size
		if size > abisig.SelectorLength || end > len(code) {
			continue
		}
		var sel abisig.Selector
		copy(sel[abisig.SelectorLength-size:], code[start:end])
		found[sel] = struct{}{}
	}
	return found
}

// Check reports which function entries in derived have no selector constant
// in code. Events and errors are not dispatched and are ignored.
func Check(source string, code []byte, derived []types.Derived) *types.DispatchReport {
	report := &types.DispatchReport{Source: source}
	if len(code) == 0 {
		report.NoCode = true
		return report
	}

	present := Selectors(code)
	for _, d := range derived {
		if d.Kind != types.KindFunction {
			continue
		}
		report.Checked++
		sel, err := abisig.ParseSelector(d.Selector)
		if err != nil {
			report.Missing = append(report.Missing, d.Signature)
			continue
		}
		if _, ok := present[sel]; !ok {
			report.Missing = append(report.Missing, d.Signature)
		}
	}
	return report
}
