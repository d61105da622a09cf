package registry

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Abstract surfaces of the external collaborators: identity, staking,
// studio configuration and the reputation/validation registries. The core
// consumes these by interface only; wire formats live with the deployer.

// RoleBits are the opaque role flags an account holds within a studio.
type RoleBits uint8

const (
	RoleWorker   RoleBits = 1 << 0
	RoleVerifier RoleBits = 1 << 1
	RoleClient   RoleBits = 1 << 2
)

func (r RoleBits) HasWorker() bool   { return r&RoleWorker != 0 }
func (r RoleBits) HasVerifier() bool { return r&RoleVerifier != 0 }
func (r RoleBits) HasClient() bool   { return r&RoleClient != 0 }

// RoleSource resolves the role bits of an account within a studio.
type RoleSource interface {
	Role(studio, account models.Address) RoleBits
}

// StakeSource resolves the stake weight backing a validator's scores.
type StakeSource interface {
	Stake(studio, account models.Address) uint64
}

// StudioConfigSource resolves a studio's scoring policy.
type StudioConfigSource interface {
	Config(studio models.Address) models.StudioConfig
}

// PayoutResolver maps an agent to its payout alias. Implementations never
// fail: an unresolvable agent pays to itself.
type PayoutResolver interface {
	ResolvePayout(agent models.Address) models.Address
}

// ReputationSink receives per-dimension feedback events. Errors are
// swallowed (with a log line) at the publisher boundary.
type ReputationSink interface {
	GiveFeedback(target models.Address, score uint8, tag1, tag2, endpoint, uri string, contentHash chainhash.Hash) error
}

// ValidationSink receives per-work validation summaries.
type ValidationSink interface {
	ValidationResponse(requestHash chainhash.Hash, score uint8, uri string, hash chainhash.Hash, tag string) error
}
