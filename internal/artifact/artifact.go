// Package artifact decodes compiled contract artifacts (Foundry, Hardhat,
// Truffle or a bare ABI array) into ABI entries and deployed bytecode.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/abisig/internal/abisig"
)

var (
	// ErrInvalidJSON is returned when a file is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrInvalidABI is returned when the abi field has an unexpected shape.
	ErrInvalidABI = errors.New("invalid abi field")
)

// Artifact is the part of a compiled artifact the deriver cares about.
type Artifact struct {
	// HasABI is false when the file carries no abi key. That is not an
	// error: such a file simply has no selectors.
	HasABI           bool
	ABI              []abisig.Entry
	DeployedBytecode []byte
}

// rawArtifact keeps abi and deployedBytecode undecoded because both come in
// several shapes depending on the toolchain.
type rawArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	DeployedBytecode json.RawMessage `json:"deployedBytecode"`
}

// ReadFile reads and decodes one artifact. The file is closed before returning.
func ReadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return Decode(data)
}

// Decode parses artifact JSON.
func Decode(data []byte) (*Artifact, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, syntaxError(trimmed))
	}

	// A bare array is an ABI file on its own (solc --abi output).
	if len(trimmed) > 0 && trimmed[0] == '[' {
		entries, err := decodeEntries(trimmed)
		if err != nil {
			return nil, err
		}
		return &Artifact{HasABI: true, ABI: entries}, nil
	}

	var raw rawArtifact
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	art := &Artifact{}
	if len(raw.ABI) > 0 && !isNull(raw.ABI) {
		abiJSON := raw.ABI
		// Truffle and some older tools store the abi as a JSON string.
		if abiJSON[0] == '"' {
			var s string
			if err := json.Unmarshal(abiJSON, &s); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidABI, err)
			}
			abiJSON = json.RawMessage(s)
		}
		entries, err := decodeEntries(abiJSON)
		if err != nil {
			return nil, err
		}
		art.HasABI = true
		art.ABI = entries
	}

	code, err := decodeBytecode(raw.DeployedBytecode)
	if err != nil {
		return nil, err
	}
	art.DeployedBytecode = code

	return art, nil
}

func decodeEntries(data []byte) ([]abisig.Entry, error) {
	var entries []abisig.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidABI, err)
	}
	return entries, nil
}

// decodeBytecode accepts "0x..." (Hardhat) or {"object":"0x..."} (Foundry).
// Unlinked library placeholders make the hex undecodable; such code is
// treated as absent.
func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}

	var hexStr string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &hexStr); err != nil {
			return nil, fmt.Errorf("failed to decode deployedBytecode: %w", err)
		}
	case '{':
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode deployedBytecode: %w", err)
		}
		hexStr = obj.Object
	default:
		return nil, nil
	}

	hexStr = strings.TrimSpace(hexStr)
	if hexStr == "" || hexStr == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(hexStr, "0x") {
		hexStr = "0x" + hexStr
	}
	code, err := hexutil.Decode(hexStr)
	if err != nil {
		return nil, nil
	}
	return code, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// syntaxError returns the decoder error for invalid input, with its offset.
func syntaxError(data []byte) error {
	var v any
	err := json.Unmarshal(data, &v)
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return fmt.Errorf("%v (offset %d)", se, se.Offset)
	}
	if err == nil {
		return errors.New("unknown syntax error")
	}
	return err
}
