package poolgraph

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbitrageur-go/engine/internal/domain"
)

// csvColumns is the persisted pool-cache schema from spec.md §6:
// "address, version∈{2,3}, token0, token1, decimals0, decimals1, fee".
var csvColumns = []string{"address", "version", "token0", "token1", "decimals0", "decimals1", "fee"}

// LoadCSV reads the pool cache at path for chain. A missing file is not
// an error — it signals "no cache yet, resync from factory logs" per
// spec.md §6 ("presence triggers load, absence triggers factory resync"),
// so callers distinguish the two via the bool return.
func LoadCSV(path string, chain domain.Chain) (pools []*domain.Pool, present bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("poolgraph: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, true, fmt.Errorf("poolgraph: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, true, nil
	}

	start := 0
	if records[0][0] == csvColumns[0] {
		start = 1 // skip header row if present
	}

	for _, row := range records[start:] {
		if len(row) != len(csvColumns) {
			return nil, true, fmt.Errorf("poolgraph: %s: expected %d columns, got %d", path, len(csvColumns), len(row))
		}
		pool, err := parseRow(row, chain)
		if err != nil {
			return nil, true, fmt.Errorf("poolgraph: %s: %w", path, err)
		}
		pools = append(pools, pool)
	}
	return pools, true, nil
}

func parseRow(row []string, chain domain.Chain) (*domain.Pool, error) {
	version, err := strconv.Atoi(row[1])
	if err != nil || (version != 2 && version != 3) {
		return nil, fmt.Errorf("invalid version %q", row[1])
	}
	protocol := domain.ProtocolV2
	if version == 3 {
		protocol = domain.ProtocolV3
	}

	decimals0, err := strconv.ParseUint(row[4], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid decimals0 %q", row[4])
	}
	decimals1, err := strconv.ParseUint(row[5], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid decimals1 %q", row[5])
	}
	fee, err := strconv.ParseUint(row[6], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid fee %q", row[6])
	}

	return &domain.Pool{
		Address:   common.HexToAddress(row[0]),
		Chain:     chain,
		Protocol:  protocol,
		Token0:    common.HexToAddress(row[2]),
		Token1:    common.HexToAddress(row[3]),
		Decimals0: uint8(decimals0),
		Decimals1: uint8(decimals1),
		FeeBps:    uint32(fee),
	}, nil
}

// SaveCSV flushes pools to path, used on graceful shutdown (spec.md §5:
// "Pool cache is flushed to disk on graceful shutdown").
func SaveCSV(path string, pools []*domain.Pool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("poolgraph: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(csvColumns); err != nil {
		return fmt.Errorf("poolgraph: write header to %s: %w", path, err)
	}

	for _, p := range pools {
		version := "2"
		if p.Protocol == domain.ProtocolV3 {
			version = "3"
		}
		row := []string{
			p.Address.Hex(),
			version,
			p.Token0.Hex(),
			p.Token1.Hex(),
			strconv.Itoa(int(p.Decimals0)),
			strconv.Itoa(int(p.Decimals1)),
			strconv.Itoa(int(p.FeeBps)),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("poolgraph: write row to %s: %w", path, err)
		}
	}
	return w.Error()
}
