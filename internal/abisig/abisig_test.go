package abisig

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/gateway-fm/abisig/pkg/types"
)

func prim(t string) Param {
	return Param{Type: t}
}

func tuple(typ string, comps ...Param) Param {
	if comps == nil {
		comps = []Param{}
	}
	return Param{Type: typ, Components: comps}
}

func TestSignature(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "no inputs",
			entry: Entry{Type: types.KindFunction, Name: "totalSupply", Inputs: []Param{}},
			want:  "totalSupply()",
		},
		{
			name:  "missing inputs field is zero arity",
			entry: Entry{Name: "pause"},
			want:  "pause()",
		},
		{
			name:  "primitive inputs keep order",
			entry: Entry{Name: "transfer", Inputs: []Param{prim("uint256"), prim("address")}},
			want:  "transfer(uint256,address)",
		},
		{
			name:  "single tuple input",
			entry: Entry{Name: "foo", Inputs: []Param{tuple("tuple", prim("uint256"), prim("address"))}},
			want:  "foo((uint256,address))",
		},
		{
			name: "nested tuple",
			entry: Entry{Name: "fulfill", Inputs: []Param{
				tuple("tuple", prim("address"), tuple("tuple", prim("uint8"), prim("bytes32")), prim("uint256")),
				prim("bool"),
			}},
			want: "fulfill((address,(uint8,bytes32),uint256),bool)",
		},
		{
			name:  "tuple array keeps suffix",
			entry: Entry{Name: "batch", Inputs: []Param{tuple("tuple[]", prim("uint256"), prim("address"))}},
			want:  "batch((uint256,address)[])",
		},
		{
			name:  "fixed and dynamic tuple array suffix",
			entry: Entry{Name: "grid", Inputs: []Param{tuple("tuple[2][]", prim("int24"))}},
			want:  "grid((int24)[2][])",
		},
		{
			name:  "empty components is an empty tuple",
			entry: Entry{Name: "nothing", Inputs: []Param{tuple("tuple")}},
			want:  "nothing(())",
		},
		{
			name:  "param names and internal types are ignored",
			entry: Entry{Name: "approve", Inputs: []Param{{Name: "spender", Type: "address", InternalType: "address"}, {Name: "amount", Type: "uint256"}}},
			want:  "approve(address,uint256)",
		},
		{
			name:  "event",
			entry: Entry{Type: types.KindEvent, Name: "Transfer", Inputs: []Param{{Type: "address", Indexed: true}, {Type: "address", Indexed: true}, prim("uint256")}},
			want:  "Transfer(address,address,uint256)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Signature(tt.entry)
			if err != nil {
				t.Fatalf("Signature() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Signature() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignature_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantIs  error
		wantMsg string
	}{
		{
			name:   "unnamed entry",
			entry:  Entry{Type: types.KindConstructor, Inputs: []Param{prim("address")}},
			wantIs: ErrUnnamed,
		},
		{
			name:    "missing type on primitive",
			entry:   Entry{Name: "broken", Inputs: []Param{prim("uint256"), {Name: "x"}}},
			wantIs:  ErrMissingType,
			wantMsg: "broken: param 1: missing type",
		},
		{
			name:    "missing type inside tuple",
			entry:   Entry{Name: "deep", Inputs: []Param{tuple("tuple", prim("bool"), tuple("tuple", Param{}))}},
			wantIs:  ErrMissingType,
			wantMsg: "deep: param 0.1.0: missing type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Signature(tt.entry)
			if err == nil {
				t.Fatal("Signature() expected error, got nil")
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("Signature() error = %v, want errors.Is %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("Signature() error = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestSelectorOf_KnownValues(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "0xa9059cbb"},
		{"transferFrom(address,address,uint256)", "0x23b872dd"},
		{"approve(address,uint256)", "0x095ea7b3"},
		{"balanceOf(address)", "0x70a08231"},
		{"totalSupply()", "0x18160ddd"},
		{"Error(string)", "0x08c379a0"},
		{"Panic(uint256)", "0x4e487b71"},
	}

	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			if got := SelectorOf(tt.sig).String(); got != tt.want {
				t.Errorf("SelectorOf(%q) = %s, want %s", tt.sig, got, tt.want)
			}
		})
	}
}

func TestSelectorOf_Deterministic(t *testing.T) {
	sig := "fulfillAdvancedOrder(((address,address,(uint8,address,uint256,uint256,uint256)[]),uint120,uint120,bytes,bytes),(uint256,uint8,uint256,uint256,bytes32[])[],bytes32,address)"
	first := SelectorOf(sig)
	for i := 0; i < 10; i++ {
		if got := SelectorOf(sig); got != first {
			t.Fatalf("run %d: SelectorOf() = %s, want %s", i, got, first)
		}
	}
}

func TestSelectorOf_OrderSensitive(t *testing.T) {
	a := SelectorOf("transfer(address,uint256)")
	b := SelectorOf("transfer(uint256,address)")
	if a == b {
		t.Errorf("swapping input order should change the selector, both are %s", a)
	}
}

func TestTopicOf(t *testing.T) {
	const want = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if got := TopicOf("Transfer(address,address,uint256)").Hex(); got != want {
		t.Errorf("TopicOf() = %s, want %s", got, want)
	}
}

func TestDerive(t *testing.T) {
	d, err := Derive(Entry{Name: "transfer", Inputs: []Param{prim("address"), prim("uint256")}})
	if err != nil {
		t.Fatalf("Derive() unexpected error: %v", err)
	}
	if d.Kind != types.KindFunction {
		t.Errorf("Kind = %q, want %q", d.Kind, types.KindFunction)
	}
	if d.Selector != "0xa9059cbb" {
		t.Errorf("Selector = %s, want 0xa9059cbb", d.Selector)
	}
	if d.Topic != "" {
		t.Errorf("Topic = %q, want empty for functions", d.Topic)
	}

	ev, err := Derive(Entry{Type: types.KindEvent, Name: "Approval", Inputs: []Param{prim("address"), prim("address"), prim("uint256")}})
	if err != nil {
		t.Fatalf("Derive(event) unexpected error: %v", err)
	}
	if !strings.HasPrefix(ev.Topic, ev.Selector) {
		t.Errorf("event topic %s should start with selector %s", ev.Topic, ev.Selector)
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0xa9059cbb", want: "0xa9059cbb"},
		{in: "a9059cbb", want: "0xa9059cbb"},
		{in: "0XA9059CBB", want: "0xa9059cbb"},
		{in: " 0x70a08231 ", want: "0x70a08231"},
		{in: "0xa9059c", wantErr: true},
		{in: "0xa9059cbb00", wantErr: true},
		{in: "0xzz059cbb", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSelector(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSelector) {
					t.Errorf("ParseSelector(%q) error = %v, want ErrInvalidSelector", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSelector(%q) unexpected error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseSelector(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateSignature(t *testing.T) {
	valid := []string{"f()", "transfer(address,uint256)", "foo((uint256,address)[])"}
	for _, sig := range valid {
		if err := ValidateSignature(sig); err != nil {
			t.Errorf("ValidateSignature(%q) unexpected error: %v", sig, err)
		}
	}

	invalid := []string{"", "()", "transfer", "transfer(address", "f(a))", "f(a)(b)", "transfer(address, uint256)"}
	for _, sig := range invalid {
		if err := ValidateSignature(sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("ValidateSignature(%q) error = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

// The go-ethereum ABI parser builds the same canonical strings; use it as an
// oracle for tuple handling.
func TestSignature_MatchesGoEthereum(t *testing.T) {
	const abiJSON = `[
		{"type":"function","name":"plain","inputs":[{"name":"a","type":"address"},{"name":"b","type":"uint256[]"}]},
		{"type":"function","name":"nested","inputs":[
			{"name":"order","type":"tuple","components":[
				{"name":"offerer","type":"address"},
				{"name":"items","type":"tuple[]","components":[
					{"name":"itemType","type":"uint8"},
					{"name":"amount","type":"uint256"}
				]}
			]},
			{"name":"sig","type":"bytes"}
		]},
		{"type":"function","name":"fixed","inputs":[{"name":"pairs","type":"tuple[3]","components":[{"name":"x","type":"int128"},{"name":"y","type":"bool"}]}]}
	]`

	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		t.Fatalf("abi.JSON: %v", err)
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(abiJSON), &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}

	for _, e := range entries {
		t.Run(e.Name, func(t *testing.T) {
			method, ok := parsed.Methods[e.Name]
			if !ok {
				t.Fatalf("method %s not found in go-ethereum ABI", e.Name)
			}
			d, err := Derive(e)
			if err != nil {
				t.Fatalf("Derive() unexpected error: %v", err)
			}
			if d.Signature != method.Sig {
				t.Errorf("Signature = %q, go-ethereum = %q", d.Signature, method.Sig)
			}
			sel := SelectorOf(d.Signature)
			if string(sel[:]) != string(method.ID) {
				t.Errorf("Selector = %x, go-ethereum = %x", sel[:], method.ID)
			}
		})
	}
}

func TestDeriveSignature(t *testing.T) {
	d, err := DeriveSignature("transfer(address,uint256)", "")
	if err != nil {
		t.Fatalf("DeriveSignature() unexpected error: %v", err)
	}
	if d.Name != "transfer" || d.Kind != types.KindFunction || d.Selector != "0xa9059cbb" || d.Topic != "" {
		t.Errorf("DeriveSignature() = %+v", d)
	}

	ev, err := DeriveSignature("Transfer(address,address,uint256)", types.KindEvent)
	if err != nil {
		t.Fatalf("DeriveSignature() unexpected error: %v", err)
	}
	if ev.Topic != "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef" {
		t.Errorf("event topic = %s", ev.Topic)
	}

	if _, err := DeriveSignature("transfer(address, uint256)", ""); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("DeriveSignature() with whitespace error = %v, want ErrInvalidSignature", err)
	}
}
