package registry

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// In-memory reference implementations. The service boots on these when no
// external registry is wired in; tests drive them directly.

// DefaultStake backs validators with no explicit stake entry.
const DefaultStake uint64 = 1

type studioAccount struct {
	studio  models.Address
	account models.Address
}

// InMemory implements every consumed registry surface from process-local
// maps. Safe for concurrent use.
type InMemory struct {
	mu       sync.RWMutex
	roles    map[studioAccount]RoleBits
	stakes   map[studioAccount]uint64
	configs  map[models.Address]models.StudioConfig
	aliases  map[models.Address]models.Address
	AllowAll bool // dev mode: grant every role when no entry exists
}

func NewInMemory() *InMemory {
	return &InMemory{
		roles:   make(map[studioAccount]RoleBits),
		stakes:  make(map[studioAccount]uint64),
		configs: make(map[models.Address]models.StudioConfig),
		aliases: make(map[models.Address]models.Address),
	}
}

func (m *InMemory) SetRole(studio, account models.Address, bits RoleBits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[studioAccount{studio, account}] = bits
}

func (m *InMemory) Role(studio, account models.Address) RoleBits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bits, ok := m.roles[studioAccount{studio, account}]
	if !ok && m.AllowAll {
		return RoleWorker | RoleVerifier | RoleClient
	}
	return bits
}

func (m *InMemory) SetStake(studio, account models.Address, stake uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[studioAccount{studio, account}] = stake
}

func (m *InMemory) Stake(studio, account models.Address) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stake, ok := m.stakes[studioAccount{studio, account}]; ok {
		return stake
	}
	return DefaultStake
}

func (m *InMemory) SetConfig(studio models.Address, cfg models.StudioConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[studio] = cfg
}

func (m *InMemory) Config(studio models.Address) models.StudioConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[studio]; ok {
		return cfg
	}
	return models.DefaultStudioConfig()
}

func (m *InMemory) SetAlias(agent, payout models.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[agent] = payout
}

// ResolvePayout returns the alias when one is bound, else the agent itself.
func (m *InMemory) ResolvePayout(agent models.Address) models.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if alias, ok := m.aliases[agent]; ok && !alias.IsZero() {
		return alias
	}
	return agent
}

// LogSink records reputation and validation publications in memory; the
// default sink when no external registry endpoint is configured.
type LogSink struct {
	mu          sync.Mutex
	Feedback    []FeedbackRecord
	Validations []ValidationRecord
	Fail        bool // test hook: make every publication fail
}

type FeedbackRecord struct {
	Target      models.Address
	Score       uint8
	Tag1        string
	Tag2        string
	Endpoint    string
	URI         string
	ContentHash chainhash.Hash
}

type ValidationRecord struct {
	RequestHash chainhash.Hash
	Score       uint8
	URI         string
	Hash        chainhash.Hash
	Tag         string
}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) GiveFeedback(target models.Address, score uint8, tag1, tag2, endpoint, uri string, contentHash chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return errSinkUnavailable
	}
	s.Feedback = append(s.Feedback, FeedbackRecord{
		Target: target, Score: score, Tag1: tag1, Tag2: tag2,
		Endpoint: endpoint, URI: uri, ContentHash: contentHash,
	})
	return nil
}

func (s *LogSink) ValidationResponse(requestHash chainhash.Hash, score uint8, uri string, hash chainhash.Hash, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return errSinkUnavailable
	}
	s.Validations = append(s.Validations, ValidationRecord{
		RequestHash: requestHash, Score: score, URI: uri, Hash: hash, Tag: tag,
	})
	return nil
}

// FeedbackCount is a race-safe length read for tests.
func (s *LogSink) FeedbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Feedback)
}

func (s *LogSink) ValidationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Validations)
}

var errSinkUnavailable = errors.New("registry sink unavailable")
