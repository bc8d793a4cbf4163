package bus

// Descriptor declares a topic's wire contract: which Go type its payload
// must satisfy, and its default delivery policy. Handlers register
// against a Descriptor, not a bare string, so an unknown payload type is
// rejected at Publish time instead of panicking deep inside a handler.
type Descriptor struct {
	Topic Topic

	// Validate returns an error if payload does not match this topic's
	// contract. Kept as a function (rather than reflection on a sample
	// value) so payload validation can check invariants, not just type.
	Validate func(payload any) error

	// DefaultOrdered controls whether subscribers default to ordered
	// (single executor) or parallel dispatch if they don't override it.
	DefaultOrdered bool
}

// Registry is the set of topics a Bus knows how to carry. It is built once
// at startup (see DefaultRegistry) and is immutable thereafter — topic
// shapes are not hot-reloadable, only routing/privacy/policy/endpoint
// configuration is (see internal/config).
type Registry struct {
	descriptors map[Topic]Descriptor
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[Topic]Descriptor)}
}

// Declare registers a topic descriptor. Declaring the same topic twice
// panics — that is a programming error caught at init, not a runtime one.
func (r *Registry) Declare(d Descriptor) {
	if _, exists := r.descriptors[d.Topic]; exists {
		panic("bus: topic already declared: " + string(d.Topic))
	}
	r.descriptors[d.Topic] = d
}

// Lookup returns the descriptor for a topic and whether it is known.
func (r *Registry) Lookup(t Topic) (Descriptor, bool) {
	d, ok := r.descriptors[t]
	return d, ok
}

// Topic name constants, fixed by §6 of the specification.
const (
	// Inputs
	TopicMarketAny              Topic = "market.*"
	TopicAccountExposure        Topic = "account.exposure"
	TopicPortfolioPolicy        Topic = "portfolio.policy"
	TopicExecutionIntent        Topic = "execution.intent.accepted"
	TopicVivoFeasibility        Topic = "vivo.feasibility"
	TopicRiskState              Topic = "risk.state"
	TopicOpsActionsProposed     Topic = "ops.actions.proposed"
	TopicOperatorChoiceLog      Topic = "operator.choice.log"
	TopicTradeSummaryClosed     Topic = "trade.summary.closed"
	TopicSessionActivity        Topic = "session.activity"
	TopicDialogMetrics          Topic = "dialog.metrics"
	TopicClockTick1m            Topic = "clock.tick1m"
	TopicEndpointCatalog        Topic = "endpoint.catalog"
	TopicEndpointProbeResult    Topic = "endpoint.probe.result"
	TopicTelemetryMetrics       Topic = "telemetry.metrics"
	TopicLogRaw                 Topic = "log.raw"
	TopicRedactRequest          Topic = "redact.request"
	TopicRedactDictionaryUpdate Topic = "redact.dictionary.update"

	// Outputs
	TopicRiskGovernanceRecommendation Topic = "risk.governance.recommendation"
	TopicDrawdownAlert                Topic = "drawdown.alert"
	TopicEndpointSwitchPlan           Topic = "endpoint.switch.plan"
	TopicEndpointSwitched             Topic = "endpoint.switched"
	TopicEndpointHealthSnapshot       Topic = "endpoint.health.snapshot"
	TopicEndpointBrownoutStep         Topic = "endpoint.brownout.step"
	TopicOpsActions                   Topic = "ops.actions"
	TopicOpsGuardrailReport           Topic = "ops.guardrail.report"
	TopicVivoPacingPlan                Topic = "vivo.pacing.plan"
	TopicPortfolioIntentApproved       Topic = "portfolio.intent.approved"
	TopicPortfolioIntentAdjusted       Topic = "portfolio.intent.adjusted"
	TopicPortfolioIntentRejected       Topic = "portfolio.intent.rejected"
	TopicPortfolioIntentDeferred       Topic = "portfolio.intent.deferred"
	TopicVivoSpotRebalance             Topic = "vivo.spot.rebalance"
	TopicVivoDialogComplete            Topic = "vivo.dialog_complete"
	TopicVivoExplainCard               Topic = "vivo.explain.card"
	TopicTelemetryAnomalySignal        Topic = "telemetry.anomaly.signal"
	TopicTelemetryAlert                Topic = "telemetry.alert"
	TopicTelemetryAnomalyMetrics       Topic = "telemetry.anomaly.metrics"
	TopicLogSinkBatch                  Topic = "log.sink.batch"
	TopicLogRouterMetrics              Topic = "log.router.metrics"
	TopicRedactReady                   Topic = "redact.ready"
	TopicSentryAlert                   Topic = "sentry.alert"
	TopicAuditLog                      Topic = "audit.log"
)

// DefaultRegistry declares every topic named in spec §6 with a permissive
// validator (non-nil payload). Components that need a stronger contract
// (e.g. the guardrail bridge requiring an ActionBundle) can additionally
// type-assert in their handler; the registry's job is only to catch the
// "nothing was published" and "wrong bus entirely" class of bug early.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	topics := []Topic{
		TopicMarketAny, TopicAccountExposure, TopicPortfolioPolicy, TopicExecutionIntent,
		TopicVivoFeasibility, TopicRiskState, TopicOpsActionsProposed, TopicOperatorChoiceLog,
		TopicTradeSummaryClosed, TopicSessionActivity, TopicDialogMetrics, TopicClockTick1m,
		TopicEndpointCatalog, TopicEndpointProbeResult, TopicTelemetryMetrics, TopicLogRaw,
		TopicRedactRequest, TopicRedactDictionaryUpdate,
		TopicRiskGovernanceRecommendation, TopicDrawdownAlert, TopicEndpointSwitchPlan,
		TopicEndpointSwitched, TopicEndpointHealthSnapshot, TopicEndpointBrownoutStep,
		TopicOpsActions, TopicOpsGuardrailReport, TopicVivoPacingPlan,
		TopicPortfolioIntentApproved, TopicPortfolioIntentAdjusted, TopicPortfolioIntentRejected,
		TopicPortfolioIntentDeferred, TopicVivoSpotRebalance, TopicVivoDialogComplete,
		TopicVivoExplainCard, TopicTelemetryAnomalySignal, TopicTelemetryAlert,
		TopicTelemetryAnomalyMetrics, TopicLogSinkBatch, TopicLogRouterMetrics,
		TopicRedactReady, TopicSentryAlert, TopicAuditLog,
	}
	for _, t := range topics {
		r.Declare(Descriptor{
			Topic:          t,
			DefaultOrdered: true,
			Validate: func(payload any) error {
				if payload == nil {
					return errNilPayload
				}
				return nil
			},
		})
	}
	return r
}
