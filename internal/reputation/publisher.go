package reputation

import (
	"log"

	"github.com/google/uuid"

	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Publisher translates close reports into dimensional reputation events and
// validation summaries on the external registries. Every publication is
// best-effort: an individual failure is logged and swallowed, it never
// affects sibling events or the money-side record.

// Tags for validator accuracy and the per-work summary.
const (
	TagValidatorAccuracy = "VALIDATOR_ACCURACY"
	TagConsensusMatch    = "CONSENSUS_MATCH"
	TagConsensusSummary  = "CHAOSCHAIN_CONSENSUS"
)

// Endpoint identifies this engine on published feedback events.
const Endpoint = "chaoschain-verdict-engine"

// Broadcaster mirrors published events to live observers (the websocket
// hub). May be nil.
type Broadcaster func(event models.ReputationEvent)

type Publisher struct {
	feedback   registry.ReputationSink
	validation registry.ValidationSink
	configs    registry.StudioConfigSource
	broadcast  Broadcaster
}

func NewPublisher(feedback registry.ReputationSink, validation registry.ValidationSink, configs registry.StudioConfigSource, broadcast Broadcaster) *Publisher {
	return &Publisher{
		feedback:   feedback,
		validation: validation,
		configs:    configs,
		broadcast:  broadcast,
	}
}

// PublishWork emits every reputation effect of one closed work: D events
// per scored worker, one accuracy event per scoring validator, and one
// validation summary binding the universal-dimension mean to the work id.
func (p *Publisher) PublishWork(report *models.WorkCloseReport, evidencePointer string) {
	cfg := p.configs.Config(report.Studio)
	evidenceHash := models.EvidenceHash(evidencePointer)
	studioTag := report.Studio.Hex()

	for i := range report.Consensus {
		res := &report.Consensus[i]
		if res.Default() {
			// Nothing observed: a neutral default says nothing about the
			// worker, so no reputation is published for it.
			continue
		}
		for d, score := range res.Scores {
			tag := cfg.DimensionTag(d)
			p.giveFeedback(models.ReputationEvent{
				EventID:        uuid.NewString(),
				Target:         res.Worker,
				Score:          score,
				Tag1:           tag,
				Tag2:           studioTag,
				URI:            evidencePointer,
				ContentHash:    evidenceHash,
				IdempotenceKey: models.FeedbackKey(report.WorkID, res.Worker, tag, score),
			})
		}
	}

	for _, vr := range report.ValidatorRewards {
		p.giveFeedback(models.ReputationEvent{
			EventID:        uuid.NewString(),
			Target:         vr.Validator,
			Score:          vr.Performance,
			Tag1:           TagValidatorAccuracy,
			Tag2:           TagConsensusMatch,
			URI:            evidencePointer,
			ContentHash:    evidenceHash,
			IdempotenceKey: models.FeedbackKey(report.WorkID, vr.Validator, TagValidatorAccuracy, vr.Performance),
		})
	}

	if summary, ok := universalMean(report); ok {
		if err := p.validation.ValidationResponse(report.WorkID, summary, evidencePointer, evidenceHash, TagConsensusSummary); err != nil {
			log.Printf("Reputation: validation summary for work %s failed (continuing): %v", report.WorkID, err)
		}
	}
}

func (p *Publisher) giveFeedback(ev models.ReputationEvent) {
	err := p.feedback.GiveFeedback(ev.Target, ev.Score, ev.Tag1, ev.Tag2, Endpoint, ev.URI, ev.ContentHash)
	if err != nil {
		log.Printf("Reputation: feedback %s/%s for %s failed (continuing): %v", ev.Tag1, ev.Tag2, ev.Target, err)
		return
	}
	if p.broadcast != nil {
		p.broadcast(ev)
	}
}

// universalMean is the integer mean of universal-dimension consensus scores
// across the work's scored workers. ok is false when no worker was scored.
func universalMean(report *models.WorkCloseReport) (uint8, bool) {
	var sum, n uint64
	for i := range report.Consensus {
		res := &report.Consensus[i]
		if res.Default() {
			continue
		}
		for d := 0; d < models.UniversalDimensions && d < len(res.Scores); d++ {
			sum += uint64(res.Scores[d])
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return uint8(sum / n), true
}
