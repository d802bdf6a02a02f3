package rootchain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	DefaultNRELength         = 2
	DefaultMaxRequests       = 1000
	DefaultWithholdingPeriod = 20 * time.Minute
	DefaultExitPeriod        = time.Hour
)

// Config holds the deployment parameters. They are read-only after New.
//
// //nolint:lll // Config struct is long
type Config struct {
	NRELength         uint64        `mapstructure:"nre_length"         yaml:"nre_length"`         // blocks per non-request epoch
	MaxRequests       uint64        `mapstructure:"max_requests"       yaml:"max_requests"`       // requests per request block
	WithholdingPeriod time.Duration `mapstructure:"withholding_period" yaml:"withholding_period"` // commit -> block finalization
	ExitPeriod        time.Duration `mapstructure:"exit_period"        yaml:"exit_period"`        // commit -> request payout
	Operator          string        `mapstructure:"operator"           yaml:"operator"`           // optional; empty accepts any submitter
	GenesisStateRoot  string        `mapstructure:"genesis_state_root" yaml:"genesis_state_root"`
	Bonds             BondsConfig   `mapstructure:"bonds"              yaml:"bonds"`
}

// BondsConfig holds the exact bond, in wei as decimal strings, per call kind.
type BondsConfig struct {
	NRB        string `mapstructure:"nrb"         yaml:"nrb"`
	ORB        string `mapstructure:"orb"         yaml:"orb"`
	URB        string `mapstructure:"urb"         yaml:"urb"`
	URBPrepare string `mapstructure:"urb_prepare" yaml:"urb_prepare"`
	ERO        string `mapstructure:"ero"         yaml:"ero"`
	ERU        string `mapstructure:"eru"         yaml:"eru"`
}

// Bonds is the parsed form of BondsConfig.
type Bonds struct {
	NRB        *uint256.Int
	ORB        *uint256.Int
	URB        *uint256.Int
	URBPrepare *uint256.Int
	ERO        *uint256.Int
	ERU        *uint256.Int
}

// DefaultConfig returns the default rootchain parameters.
func DefaultConfig() Config {
	return Config{
		NRELength:         DefaultNRELength,
		MaxRequests:       DefaultMaxRequests,
		WithholdingPeriod: DefaultWithholdingPeriod,
		ExitPeriod:        DefaultExitPeriod,
		Bonds: BondsConfig{
			NRB:        "100000000000000000", // 0.1 ether
			ORB:        "100000000000000000",
			URB:        "900000000000000000",
			URBPrepare: "100000000000000000",
			ERO:        "100000000000000000",
			ERU:        "200000000000000000",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NRELength == 0 {
		return fmt.Errorf("nre_length must be positive")
	}
	if c.MaxRequests == 0 {
		return fmt.Errorf("max_requests must be positive")
	}
	if c.WithholdingPeriod < 0 {
		return fmt.Errorf("withholding_period must not be negative")
	}
	if c.ExitPeriod < 0 {
		return fmt.Errorf("exit_period must not be negative")
	}
	if op := strings.TrimSpace(c.Operator); op != "" && !common.IsHexAddress(op) {
		return fmt.Errorf("operator %q is not a hex address", op)
	}
	if root := strings.TrimSpace(c.GenesisStateRoot); root != "" {
		if _, err := parseHash(root); err != nil {
			return fmt.Errorf("genesis_state_root: %w", err)
		}
	}
	if _, err := c.Bonds.Parse(); err != nil {
		return err
	}
	return nil
}

// Parse converts the decimal strings to amounts. Empty means zero.
func (b BondsConfig) Parse() (Bonds, error) {
	var (
		out Bonds
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"nrb", b.NRB, &out.NRB},
		{"orb", b.ORB, &out.ORB},
		{"urb", b.URB, &out.URB},
		{"urb_prepare", b.URBPrepare, &out.URBPrepare},
		{"ero", b.ERO, &out.ERO},
		{"eru", b.ERU, &out.ERU},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			*f.dst = new(uint256.Int)
			continue
		}
		if *f.dst, err = uint256.FromDecimal(raw); err != nil {
			return Bonds{}, fmt.Errorf("bonds.%s: %w", f.name, err)
		}
	}
	return out, nil
}

func (b Bonds) forBlock(kind BlockKind) *uint256.Int {
	switch kind {
	case KindNRB:
		return b.NRB
	case KindORB:
		return b.ORB
	case KindURB:
		return b.URB
	default:
		return nil
	}
}

func (b Bonds) forRequest(kind RequestKind) *uint256.Int {
	switch kind {
	case KindERO:
		return b.ERO
	case KindERU:
		return b.ERU
	default:
		return nil
	}
}

func (c *Config) operator() (common.Address, bool) {
	op := strings.TrimSpace(c.Operator)
	if op == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(op), true
}

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%q is not a 32-byte hex value", s)
	}
	return common.BytesToHash(b), nil
}
