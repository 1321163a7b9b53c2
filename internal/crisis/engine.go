package crisis

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/internal/compose"
	"github.com/attunehealth/attune/internal/retrieval"
	"github.com/attunehealth/attune/internal/session"
	"github.com/attunehealth/attune/internal/telemetry"
	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// Auditor persists the minimal compliance records. Implemented by the
// postgres store; nil disables persistence (tests).
type Auditor interface {
	RecordCrisis(ctx context.Context, rec models.AuditRecord) error
	SaveHandoff(ctx context.Context, rec models.HandoffRecord) error
}

// TurnResult is the outcome of one policy-graph traversal.
type TurnResult struct {
	SessionID  string                   `json:"session_id"`
	Reply      models.Reply             `json:"reply"`
	Risk       models.RiskAssessment    `json:"risk"`
	Node       Node                     `json:"node"`
	Candidates []models.RankedCandidate `json:"-"`
}

// Engine drives the crisis policy graph. Every inbound utterance is
// shadow-evaluated for risk; when risk crosses the gate the scripted crisis
// playbook preempts the retrieval pipeline entirely for that turn.
type Engine struct {
	detector    *Detector
	guard       *Guard
	scripts     *ScriptSet
	sessions    session.Store
	pipeline    *retrieval.Pipeline
	generator   provider.Generator
	escalations provider.EscalationChannel
	audit       Auditor
	cfg         config.CrisisConfig
	gateLevel   models.RiskLevel
	metrics     *telemetry.Metrics
	logger      *log.Logger

	// Per-session serialization: no two concurrent turns may race to
	// advance the same session's state machine.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(
	detector *Detector,
	guard *Guard,
	scripts *ScriptSet,
	sessions session.Store,
	pipeline *retrieval.Pipeline,
	generator provider.Generator,
	escalations provider.EscalationChannel,
	audit Auditor,
	cfg config.CrisisConfig,
	metrics *telemetry.Metrics,
	logger *log.Logger,
) (*Engine, error) {
	if err := ValidateGraph(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CRISIS] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	gate := models.RiskLevel(cfg.GateLevel)
	if !gate.Valid() {
		gate = models.RiskMedium
	}
	return &Engine{
		detector:    detector,
		guard:       guard,
		scripts:     scripts,
		sessions:    sessions,
		pipeline:    pipeline,
		generator:   generator,
		escalations: escalations,
		audit:       audit,
		cfg:         cfg,
		gateLevel:   gate,
		metrics:     metrics,
		logger:      logger,
		locks:       map[string]*sync.Mutex{},
	}, nil
}

// Scripts exposes the fixed template set (for verification and clients).
func (e *Engine) Scripts() *ScriptSet { return e.scripts }

// EndSession discards a session's stored state together with its
// serialization lock.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	err := e.sessions.End(ctx, sessionID)
	e.locksMu.Lock()
	delete(e.locks, sessionID)
	e.locksMu.Unlock()
	return err
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[sessionID] = mu
	}
	return mu
}

// Turn advances the policy graph for one inbound utterance and returns the
// final reply. The user always receives some reply: enhancement failures
// degrade, safety failures resolve toward caution, and only a total backend
// outage yields the generic trouble message.
func (e *Engine) Turn(ctx context.Context, sessionID, utterance string) TurnResult {
	st, err := e.sessions.Ensure(ctx, sessionID)
	if err != nil {
		e.logger.Printf("session store unavailable: %v", err)
		e.metrics.TurnsTotal.WithLabelValues(string(models.PathFallback)).Inc()
		return TurnResult{
			SessionID: sessionID,
			Reply:     models.Reply{Text: e.scripts.Trouble(), Path: models.PathFallback},
			Node:      NodeIngress,
		}
	}

	mu := e.lockFor(st.SessionID)
	mu.Lock()
	defer mu.Unlock()

	// Each turn re-enters the graph at ingress; the stored node records
	// where the previous turn ended.
	st.CurrentNode = string(EntryNode)
	st.VisitedNodes = append(st.VisitedNodes, string(EntryNode))
	advance := func(n Node) {
		if !CanTransition(Node(st.CurrentNode), n) {
			// Defect in the traversal logic, not in user input. Fail loudly
			// in logs but keep the turn moving.
			e.logger.Printf("illegal transition %s -> %s", st.CurrentNode, n)
		}
		st.CurrentNode = string(n)
		st.VisitedNodes = append(st.VisitedNodes, string(n))
	}

	advance(NodePIIScrub)
	scrubbed := ScrubPII(utterance)

	advance(NodeRiskDetect)
	assessment, err := e.detector.Assess(ctx, scrubbed)
	if err != nil {
		// Fatal-to-the-turn: resolve toward safety, never toward a default
		// non-crisis reply.
		e.logger.Printf("risk detection failed, forcing caution: %v", err)
		return e.cautionTurn(ctx, st)
	}
	st.RiskHistory = append(st.RiskHistory, models.RiskEvent{
		At: assessment.At, Level: assessment.Level, Reasons: assessment.Reasons,
	})

	advance(NodeCrisisGate)
	if assessment.Level.AtLeast(e.gateLevel) || HasPatternReason(assessment) {
		return e.crisisTurn(ctx, st, assessment, advance)
	}

	return e.normalTurn(ctx, st, scrubbed, assessment, advance)
}

// crisisTurn walks the scripted playbook path. No free-form generation is
// permitted here, and the retrieval pipeline is bypassed entirely.
func (e *Engine) crisisTurn(ctx context.Context, st models.PolicyGraphState, a models.RiskAssessment, advance func(Node)) TurnResult {
	advance(NodeCrisisPlaybook)

	advance(NodeSafetyScript)
	text := e.scripts.Pick(a)

	advance(NodeResourceOffer)
	resources := []string{e.scripts.Hotline()}

	advance(NodeHandoffRouter)
	handoff := BuildHandoff(st.SessionID, a, len(st.RiskHistory))
	e.deliver(ctx, handoff)

	advance(NodeDocumentMinimal)
	e.record(ctx, models.AuditRecord{
		At:              time.Now(),
		RiskLevel:       a.Level,
		TriggerCategory: firstTag(a),
		HandoffID:       handoff.ID,
	}, handoff)

	advance(NodeEndSession)
	e.save(ctx, st)
	e.metrics.TurnsTotal.WithLabelValues(string(models.PathCrisis)).Inc()

	return TurnResult{
		SessionID: st.SessionID,
		Reply:     models.Reply{Text: text, Path: models.PathCrisis, Resources: resources},
		Risk:      a,
		Node:      NodeEndSession,
	}
}

// cautionTurn is the conservative path for risk-detection failure: scripted
// caution language with the crisis resource attached, audited like a crisis
// turn but without a counselor handoff.
func (e *Engine) cautionTurn(ctx context.Context, st models.PolicyGraphState) TurnResult {
	st.CurrentNode = string(NodeCrisisPlaybook)
	st.VisitedNodes = append(st.VisitedNodes, string(NodeCrisisPlaybook), string(NodeSafetyScript),
		string(NodeResourceOffer), string(NodeHandoffRouter), string(NodeDocumentMinimal), string(NodeEndSession))
	st.CurrentNode = string(NodeEndSession)

	e.record(ctx, models.AuditRecord{
		At:              time.Now(),
		RiskLevel:       models.RiskHigh,
		TriggerCategory: "risk_detection_failure",
	}, models.HandoffRecord{})
	e.save(ctx, st)
	e.metrics.TurnsTotal.WithLabelValues(string(models.PathCrisis)).Inc()

	return TurnResult{
		SessionID: st.SessionID,
		Reply: models.Reply{
			Text:      e.scripts.Caution(),
			Path:      models.PathCrisis,
			Resources: []string{e.scripts.Hotline()},
		},
		Node: NodeEndSession,
	}
}

// normalTurn runs the retrieval-backed reply path. Failures in any of its
// enhancement stages degrade to a neutral empathetic fallback, never to a
// user-visible error.
func (e *Engine) normalTurn(ctx context.Context, st models.PolicyGraphState, scrubbed string, a models.RiskAssessment, advance func(Node)) TurnResult {
	path := models.PathNormal

	advance(NodeEmotionInfer)
	emotion := compose.InferEmotion(scrubbed)

	advance(NodeRetrieveKC)
	var candidates []models.RankedCandidate
	query := models.Query{Text: scrubbed, TopK: e.pipeline.TopK(), EmotionTag: emotion}
	candidates, rerr := e.pipeline.Search(ctx, query)
	if rerr != nil {
		e.logger.Printf("retrieval degraded for session %s: %v", st.SessionID, rerr)
	}

	advance(NodePolicySelect)
	policy := compose.SelectPolicy(emotion, candidates)

	advance(NodeToolPlan)
	prompt := compose.BuildPrompt(policy, scrubbed, emotion)

	advance(NodeComposeReply)
	var text string
	var gerr error
	if e.generator != nil {
		text, gerr = e.generator.Generate(ctx, prompt, compose.Snippets(candidates, 3))
	}
	if e.generator == nil || gerr != nil || text == "" {
		if gerr != nil {
			e.logger.Printf("generation failed, using fallback: %v", gerr)
		}
		text = e.scripts.Fallback(len(st.VisitedNodes))
		path = models.PathFallback
	}

	// The disclosure ships inside the reply, so it must fit the guard's
	// sentence budget together with the composed text.
	disclose := !st.DisclosureShown && e.cfg.Disclosure != ""
	if disclose {
		if room := e.cfg.MaxSentences - CountSentences(e.cfg.Disclosure); room > 0 && CountSentences(text) > room {
			text = TruncateSentences(text, room)
		}
		text = text + " " + e.cfg.Disclosure
	}

	advance(NodeOutputGuard)
	res, err := e.guard.Inspect(ctx, text)
	if err != nil {
		e.logger.Printf("output guard failed, forcing caution: %v", err)
		return e.cautionTurn(ctx, st)
	}
	if res.Drift {
		return e.driftTurn(ctx, st, text)
	}
	if !res.OK {
		text, path = e.repair(ctx, st, text, res)
	}
	// Repair may have dropped the disclosure; only mark it shown when it
	// actually egresses.
	if disclose && strings.Contains(text, e.cfg.Disclosure) {
		st.DisclosureShown = true
	}

	advance(NodeEgress)
	e.save(ctx, st)
	e.metrics.TurnsTotal.WithLabelValues(string(path)).Inc()

	return TurnResult{
		SessionID:  st.SessionID,
		Reply:      models.Reply{Text: text, Path: path},
		Risk:       a,
		Node:       NodeEgress,
		Candidates: candidates,
	}
}

// driftTurn handles the output guard's drift catch: the generated reply is
// discarded and the turn is redirected to the crisis playbook even though
// the inbound gate passed. Repeated drift within a session escalates to
// human review.
func (e *Engine) driftTurn(ctx context.Context, st models.PolicyGraphState, discarded string) TurnResult {
	e.metrics.DriftCatches.Inc()
	st.DriftCount++
	e.logger.Printf("output drift caught for session %s (count %d), reply discarded", st.SessionID, st.DriftCount)

	if st.DriftCount >= e.cfg.DriftEscalation {
		esc := BuildDriftEscalation(st.SessionID, st.DriftCount)
		e.deliver(ctx, esc)
		if e.audit != nil {
			if err := e.audit.SaveHandoff(ctx, esc); err != nil {
				e.logger.Printf("drift escalation audit failed: %v", err)
			}
		}
	}

	assessment := models.RiskAssessment{
		Level:      models.RiskMedium,
		Confidence: 1,
		Reasons:    []models.RiskReason{{Tag: "output_drift"}},
		At:         time.Now(),
	}
	st.RiskHistory = append(st.RiskHistory, models.RiskEvent{
		At: assessment.At, Level: assessment.Level, Reasons: assessment.Reasons,
	})
	advance := func(n Node) {
		st.CurrentNode = string(n)
		st.VisitedNodes = append(st.VisitedNodes, string(n))
	}
	return e.crisisTurn(ctx, st, assessment, advance)
}

// repair fixes rule breaches that are not risk drift: an over-long reply is
// truncated to budget; anything else is replaced with a pre-approved
// fallback.
func (e *Engine) repair(ctx context.Context, st models.PolicyGraphState, text string, res GuardResult) (string, models.ReplyPath) {
	onlySentenceCount := len(res.Violations) == 1 && res.Violations[0] == ViolationSentenceCount
	if onlySentenceCount {
		truncated := e.guard.Truncate(text)
		if again, err := e.guard.Inspect(ctx, truncated); err == nil && again.OK {
			return truncated, models.PathNormal
		}
	}
	return e.scripts.Fallback(len(st.VisitedNodes)), models.PathFallback
}

func (e *Engine) deliver(ctx context.Context, rec models.HandoffRecord) {
	if e.escalations == nil {
		return
	}
	if err := e.escalations.Deliver(ctx, rec); err != nil {
		// Delivery mechanics are outside the core; the record is still
		// audited below.
		e.logger.Printf("handoff delivery failed for %s: %v", rec.ID, err)
		return
	}
	e.metrics.CrisisHandoffs.Inc()
}

func (e *Engine) record(ctx context.Context, rec models.AuditRecord, handoff models.HandoffRecord) {
	if e.audit == nil {
		return
	}
	if handoff.ID != "" {
		if err := e.audit.SaveHandoff(ctx, handoff); err != nil {
			e.logger.Printf("handoff audit failed: %v", err)
		}
	}
	if err := e.audit.RecordCrisis(ctx, rec); err != nil {
		e.logger.Printf("crisis audit failed: %v", err)
	}
}

func (e *Engine) save(ctx context.Context, st models.PolicyGraphState) {
	if err := e.sessions.Save(ctx, st); err != nil {
		e.logger.Printf("session save failed for %s: %v", st.SessionID, err)
	}
}

func firstTag(a models.RiskAssessment) string {
	if len(a.Reasons) == 0 {
		return "unspecified"
	}
	return a.Reasons[0].Tag
}
