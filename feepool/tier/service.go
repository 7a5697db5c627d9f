package tier

import (
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/slot"
)

// Source is the outbound boundary to the tier-credential collaborator. The
// collaborator must update its own ownership records before notifying the pool
// of a credential transfer, so that the level reported here is the new one.
type Source interface {
	// HighestTierLevel returns the depositor's highest qualifying tier level,
	// 0 when the depositor holds no credential.
	HighestTierLevel(addr fp.Address) (uint8, error)
}

var (
	slotCredentialAddress = fp.BytesToBytes32([]byte("tier-credential-address"))
	slotThresholds        = fp.BytesToBytes32([]byte("tier-validator-thresholds"))
)

// Service decides whether a depositor's commission share belongs to their
// personal bonus balance or to the protocol.
type Service struct {
	credentialAddress *slot.Address
	thresholds        *slot.Value[[]uint64]
	source            Source
}

func New(sctx *slot.Context) *Service {
	return &Service{
		credentialAddress: slot.NewAddress(sctx, slotCredentialAddress),
		thresholds:        slot.NewValue[[]uint64](sctx, slotThresholds),
	}
}

// SetSource wires the collaborator query interface. Without one, no depositor
// qualifies.
func (s *Service) SetSource(source Source) {
	s.source = source
}

// Qualified reports whether the depositor currently holds any qualifying tier
// credential.
func (s *Service) Qualified(addr fp.Address) (bool, error) {
	if s.source == nil {
		return false, nil
	}
	level, err := s.source.HighestTierLevel(addr)
	if err != nil {
		return false, err
	}
	return level >= 1, nil
}

// EligibleForLevel reports whether a depositor with the given share count may
// claim a credential of the given level. Exposed read-only so the collaborator
// can gate whitelist claims without any mutating power over the pool.
func (s *Service) EligibleForLevel(shares uint64, level uint8) (bool, error) {
	if level == 0 {
		return false, nil
	}
	thresholds, err := s.thresholds.Get()
	if err != nil {
		return false, err
	}
	if int(level) > len(thresholds) {
		return false, nil
	}
	return shares >= thresholds[level-1], nil
}

// Thresholds returns the per-level validator-count thresholds.
func (s *Service) Thresholds() ([]uint64, error) {
	return s.thresholds.Get()
}

// SetThresholds replaces the per-level thresholds wholesale.
func (s *Service) SetThresholds(thresholds []uint64) error {
	return s.thresholds.Set(thresholds)
}

// CredentialAddress returns the configured collaborator account.
func (s *Service) CredentialAddress() (fp.Address, error) {
	return s.credentialAddress.Get()
}

// SetCredentialAddress wires the collaborator account trusted to send transfer
// notifications.
func (s *Service) SetCredentialAddress(addr fp.Address) {
	s.credentialAddress.Set(addr)
}
