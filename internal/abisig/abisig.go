// Package abisig derives canonical signatures and 4-byte selectors from ABI entries.
package abisig

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/abisig/pkg/types"
)

// SelectorLength is the number of hash bytes kept for a selector.
const SelectorLength = 4

const tuplePrefix = "tuple"

var (
	// ErrMissingType is returned for a non-tuple parameter without a type.
	ErrMissingType = errors.New("missing type")
	// ErrUnnamed is returned when deriving an entry that has no name.
	ErrUnnamed = errors.New("entry has no name")
	// ErrInvalidSelector is returned by ParseSelector.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrInvalidSignature is returned by ValidateSignature.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Param is an ABI parameter. A param whose Components field was present in
// the source JSON (non-nil, possibly empty) is a tuple.
type Param struct {
	Name         string  `json:"name,omitempty"`
	Type         string  `json:"type"`
	InternalType string  `json:"internalType,omitempty"`
	Indexed      bool    `json:"indexed,omitempty"`
	Components   []Param `json:"components,omitempty"`
}

// IsTuple reports whether p is a structured parameter.
func (p Param) IsTuple() bool {
	return p.Components != nil
}

// Entry is one item of a contract ABI. Outputs and mutability are kept for
// completeness; they never take part in the signature.
type Entry struct {
	Type            types.EntryKind `json:"type,omitempty"`
	Name            string          `json:"name,omitempty"`
	Inputs          []Param         `json:"inputs,omitempty"`
	Outputs         []Param         `json:"outputs,omitempty"`
	StateMutability string          `json:"stateMutability,omitempty"`
	Anonymous       bool            `json:"anonymous,omitempty"`
}

// Kind returns the entry type. Old compilers omit "type" for functions.
func (e Entry) Kind() types.EntryKind {
	if e.Type == "" {
		return types.KindFunction
	}
	return e.Type
}

// Selector is the first four bytes of keccak256(signature).
type Selector [SelectorLength]byte

// String returns the 0x-prefixed lowercase hex form.
func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// ParseSelector parses "0xa9059cbb" or "a9059cbb".
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(raw) != 2*SelectorLength {
		return sel, fmt.Errorf("%w: %q: want %d hex characters", ErrInvalidSelector, s, 2*SelectorLength)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return sel, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, s, err)
	}
	copy(sel[:], b)
	return sel, nil
}

// CanonicalType resolves the type string of p. Primitives contribute their
// declared keyword; tuples contribute their component types, comma-joined in
// parentheses, followed by any array suffix of the declared type.
func CanonicalType(p Param) (string, error) {
	if !p.IsTuple() {
		if p.Type == "" {
			return "", ErrMissingType
		}
		return p.Type, nil
	}

	inner, err := joinTypes(p.Components)
	if err != nil {
		return "", err
	}

	suffix := ""
	if strings.HasPrefix(p.Type, tuplePrefix) {
		suffix = p.Type[len(tuplePrefix):]
	}
	return "(" + inner + ")" + suffix, nil
}

// joinTypes resolves params in order. Errors carry the index path of the
// failing param, e.g. "param 1.0: missing type".
func joinTypes(params []Param) (string, error) {
	parts := make([]string, len(params))
	for i, p := range params {
		t, err := CanonicalType(p)
		if err != nil {
			var pe *ParamError
			if errors.As(err, &pe) {
				return "", &ParamError{Path: append([]int{i}, pe.Path...), Err: pe.Err}
			}
			return "", &ParamError{Path: []int{i}, Err: err}
		}
		parts[i] = t
	}
	return strings.Join(parts, ","), nil
}

// ParamError locates a parameter failure inside nested components.
type ParamError struct {
	Path []int
	Err  error
}

func (e *ParamError) Error() string {
	idx := make([]string, len(e.Path))
	for i, n := range e.Path {
		idx[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("param %s: %v", strings.Join(idx, "."), e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// Signature returns name(type1,type2,...). A missing inputs list is treated
// the same as an empty one.
func Signature(e Entry) (string, error) {
	if e.Name == "" {
		return "", ErrUnnamed
	}
	inner, err := joinTypes(e.Inputs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.Name, err)
	}
	return e.Name + "(" + inner + ")", nil
}

// SelectorOf hashes the UTF-8 bytes of sig and keeps the first four bytes.
func SelectorOf(sig string) Selector {
	var sel Selector
	copy(sel[:], crypto.Keccak256([]byte(sig))[:SelectorLength])
	return sel
}

// TopicOf returns the full keccak256 of sig, used as topic0 for events.
func TopicOf(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

// Derive builds the signature and selector for e.
func Derive(e Entry) (types.Derived, error) {
	sig, err := Signature(e)
	if err != nil {
		return types.Derived{}, err
	}
	d := types.Derived{
		Name:      e.Name,
		Kind:      e.Kind(),
		Signature: sig,
		Selector:  SelectorOf(sig).String(),
	}
	if d.Kind == types.KindEvent {
		d.Topic = TopicOf(sig).Hex()
	}
	return d, nil
}

// ValidateSignature does a shallow shape check of a signature typed by a
// user: a non-empty name, balanced parentheses closing at the end, and no
// whitespace.
func ValidateSignature(sig string) error {
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return fmt.Errorf("%w: %q: want name(types)", ErrInvalidSignature, sig)
	}
	if strings.ContainsAny(sig, " \t\r\n") {
		return fmt.Errorf("%w: %q: contains whitespace", ErrInvalidSignature, sig)
	}
	depth := 0
	for i := open; i < len(sig); i++ {
		switch sig[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 || (depth == 0 && i != len(sig)-1) {
				return fmt.Errorf("%w: %q: unbalanced parentheses", ErrInvalidSignature, sig)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %q: unbalanced parentheses", ErrInvalidSignature, sig)
	}
	return nil
}

// DeriveSignature derives from a signature string typed by hand, such as
// "transfer(address,uint256)". The kind is taken as given; events get their
// topic too.
func DeriveSignature(sig string, kind types.EntryKind) (types.Derived, error) {
	if err := ValidateSignature(sig); err != nil {
		return types.Derived{}, err
	}
	if kind == "" {
		kind = types.KindFunction
	}
	d := types.Derived{
		Name:      sig[:strings.IndexByte(sig, '(')],
		Kind:      kind,
		Signature: sig,
		Selector:  SelectorOf(sig).String(),
	}
	if kind == types.KindEvent {
		d.Topic = TopicOf(sig).Hex()
	}
	return d, nil
}
