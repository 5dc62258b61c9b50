// Package handoff moves the active role between personas: it validates the
// request, announces the transfer, and only then switches the role.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/conversation"
	"yuzu/concierge/internal/persona"
	"yuzu/concierge/internal/speech"
)

var (
	ErrIllegalTransition = errors.New("transition not allowed from current persona")
	ErrMissingTopic      = errors.New("transition requires a topic")
)

// IsRecoverable reports errors after which the active persona simply
// carries on.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrMissingTopic) ||
		errors.Is(err, persona.ErrUnknownTool)
}

type Outcome struct {
	Changed bool
	// End means the caller must run the termination sequence.
	End    bool
	From   persona.Name
	To     persona.Name
	Notice string
	// Greeting is the destination persona's opening line.
	Greeting string
}

type Controller struct {
	reg    *persona.Registry
	logger *zap.Logger
}

func NewController(reg *persona.Registry, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{reg: reg, logger: logger.Named("handoff")}
}

// RequestTransition executes req against role. The notice is spoken on sp in
// the outgoing persona's voice and must finish before role changes. convo is
// only read.
func (c *Controller) RequestTransition(ctx context.Context, sp speech.Speaker, role *ActiveRole, convo *conversation.Context, req persona.TransitionRequest) (Outcome, error) {
	cur := role.Descriptor()
	out := Outcome{From: cur.Name, To: cur.Name}
	log := c.logger.With(zap.String("from", string(cur.Name)), zap.String("kind", string(req.Kind)))

	// Returning to the router while already there is a no-op, not an error.
	if req.Kind == persona.ToRouter && cur.Name == persona.Router {
		metricHandoffNoops.Inc()
		log.Debug("already router")
		return out, nil
	}
	if !cur.Allows(req.Kind) {
		metricRejections.WithLabelValues("illegal_transition").Inc()
		log.Warn("rejected transition")
		return out, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.Name, req.Kind)
	}
	if req.Kind == persona.End {
		out.End = true
		return out, nil
	}

	topic := strings.TrimSpace(req.Topic)
	if req.Kind.NeedsTopic() && topic == "" {
		metricRejections.WithLabelValues("missing_topic").Inc()
		log.Warn("rejected transition without topic")
		return out, fmt.Errorf("%w: %s", ErrMissingTopic, req.Kind)
	}
	if !req.Kind.NeedsTopic() {
		topic = ""
	}

	targetName, _ := req.Kind.Target()
	target, err := c.reg.Lookup(targetName)
	if err != nil {
		return out, err
	}

	notice := target.Notice(topic)
	start := time.Now()
	h, err := sp.Speak(ctx, speech.Utterance{Text: notice, VoiceID: cur.VoiceID, Interruptible: false, Kind: speech.KindNotice})
	if err != nil {
		metricRejections.WithLabelValues("notice_failed").Inc()
		return out, fmt.Errorf("handoff notice: %w", err)
	}
	if err := h.Wait(ctx); err != nil {
		metricRejections.WithLabelValues("notice_failed").Inc()
		return out, fmt.Errorf("handoff notice: %w", err)
	}
	metricNoticeMs.Observe(float64(time.Since(start).Milliseconds()))

	role.set(target, topic)
	metricHandoffs.WithLabelValues(string(cur.Name), string(target.Name)).Inc()
	log.Info("handoff", zap.String("to", string(target.Name)), zap.String("topic", topic))

	out.Changed = true
	out.To = target.Name
	out.Notice = notice
	out.Greeting = target.Greeting(topic, convo != nil && convo.HasUserTurns())
	return out, nil
}
