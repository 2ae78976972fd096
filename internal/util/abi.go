// Package util collects small, dependency-light helpers shared across the
// engine: ABI loading, hex conversion, and a bounded exponential backoff
// used by the Orchestrator's subscription reconnector (spec.md §5).
package util

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// hardhatArtifact is the subset of a Hardhat/Foundry compiled-artifact
// JSON file this engine needs: the ABI array.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads a Hardhat-style compiled contract
// artifact (a JSON file with an "abi" field) and parses its ABI.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("util: read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("util: parse artifact %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("util: artifact %s has no abi field", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("util: decode abi from %s: %w", path, err)
	}
	return parsed, nil
}

// LoadABIFromFile parses a bare ABI JSON file (no Hardhat envelope).
func LoadABIFromFile(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("util: read abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("util: decode abi from %s: %w", path, err)
	}
	return parsed, nil
}

// Hex2Bytes strips an optional "0x" prefix and decodes the remaining hex.
// Invalid input decodes to nil, matching the teacher's lenient behaviour
// for log/test convenience call sites.
func Hex2Bytes(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Bytes2Hex encodes b as a "0x"-prefixed hex string.
func Bytes2Hex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
