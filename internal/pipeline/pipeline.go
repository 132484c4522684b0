// Package pipeline implements the message-processing pipeline: access
// control gating, bounded context assembly, generation invocation, and
// idempotent recording of the turn pair.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/metrics"
	"github.com/quicklingo/quicklingo/internal/openai"
	"github.com/quicklingo/quicklingo/internal/telegram"
	"github.com/quicklingo/quicklingo/internal/update"
)

// Generator invokes the generation provider.
type Generator interface {
	Generate(ctx context.Context, history []database.Message, userText string) (*openai.Reply, error)
}

// Sender delivers text to a chat and returns the delivery receipt.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, replyToMessageID int) (*telegram.Receipt, error)
}

// Status is the terminal state of a processed event.
type Status string

// Terminal outcome statuses.
const (
	StatusReplied  Status = "replied"
	StatusRejected Status = "rejected"
	StatusWelcomed Status = "welcomed"
)

// Outcome is the pipeline's result for one inbound event. It is what the
// queue layer stores in the result store.
type Outcome struct {
	Status Status `json:"status"`
	Reply  string `json:"reply,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Pipeline orchestrates one inbound event end to end.
type Pipeline struct {
	gate      *Gate
	assembler *Assembler
	recorder  *Recorder
	generator Generator
	sender    Sender
	messages  config.BotConfig
	logger    *slog.Logger
}

// New creates a pipeline orchestrator.
func New(
	gate *Gate,
	assembler *Assembler,
	recorder *Recorder,
	generator Generator,
	sender Sender,
	messages config.BotConfig,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gate:      gate,
		assembler: assembler,
		recorder:  recorder,
		generator: generator,
		sender:    sender,
		messages:  messages,
		logger:    logger.With("component", "pipeline"),
	}
}

// Process runs one classified event through the pipeline and returns its
// terminal outcome. An error return means the invocation failed and the
// queue layer may redeliver; every write already made is safe to repeat.
func (p *Pipeline) Process(ctx context.Context, upd *update.Update) (*Outcome, error) {
	outcome, err := p.process(ctx, upd)
	if err != nil {
		metrics.PipelineOutcomes.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.PipelineOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	return outcome, nil
}

func (p *Pipeline) process(ctx context.Context, upd *update.Update) (*Outcome, error) {
	switch upd.Kind {
	case update.KindMessage:
		if upd.Message == nil {
			return nil, fmt.Errorf("message update without message payload")
		}
		return p.processMessage(ctx, upd.Message)
	case update.KindNewMember:
		if upd.NewMember == nil {
			return nil, fmt.Errorf("new-member update without member payload")
		}
		return p.processNewMember(ctx, upd.NewMember)
	default:
		return nil, fmt.Errorf("unknown update kind %q", upd.Kind)
	}
}

func (p *Pipeline) processMessage(ctx context.Context, ev *update.MessageEvent) (*Outcome, error) {
	log := p.logger.With("chat_id", ev.Chat.ID, "user_id", ev.From.ID, "message_id", ev.MessageID)

	if err := p.recorder.EnsureParticipants(ctx, ev.From, ev.Chat); err != nil {
		return nil, err
	}

	decision, err := p.gate.Check(ctx, ev.Chat.ID, ev.From.ID, ev.Chat.Type, ev.Text)
	if err != nil {
		return nil, err
	}

	if decision != Proceed {
		return p.reject(ctx, ev, decision)
	}

	// Context is fetched before the user turn lands so the prompt carries
	// prior turns only; the new text is appended by the invoker.
	history, err := p.assembler.Assemble(ctx, ev.Chat.ID, ev.From.ID)
	if err != nil {
		return nil, err
	}

	if err := p.recorder.RecordUserTurn(ctx, ev, true); err != nil {
		return nil, err
	}

	reply, err := p.generator.Generate(ctx, history, ev.Text)
	if err != nil {
		// No assistant row, no reply. The queue layer redelivers.
		log.ErrorContext(ctx, "Generation failed", "error", err)
		return nil, err
	}

	receipt, err := p.sender.Send(ctx, ev.Chat.ID, reply.Text, ev.MessageID)
	if err != nil {
		// The reply may have reached the chat even though the receipt is
		// unusable; recording is skipped for this invocation.
		log.ErrorContext(ctx, "Reply delivery failed", "error", err)
		return nil, err
	}

	if err := p.recorder.RecordAssistantTurn(ctx, ev.Chat.ID, receipt, reply); err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "Exchange recorded",
		"reply_message_id", receipt.MessageID,
		"input_tokens", reply.InputTokens,
		"output_tokens", reply.OutputTokens,
		"cost", reply.Cost)

	return &Outcome{Status: StatusReplied, Reply: reply.Text}, nil
}

// reject records the user's turn and, for rejection reasons the user should
// hear about, sends the configured notice. Untagged group chatter is
// answered with silence.
func (p *Pipeline) reject(ctx context.Context, ev *update.MessageEvent, decision Decision) (*Outcome, error) {
	if err := p.recorder.RecordUserTurn(ctx, ev, decision.ConsumesQuota()); err != nil {
		return nil, err
	}

	notice := ""
	switch decision {
	case RejectUnauthorized:
		notice = p.messages.MsgUnauthorized
	case RejectNoCredits:
		notice = p.messages.MsgNoCredits
	case RejectUntagged:
		// Deliberate silence.
	}

	if notice != "" {
		if _, err := p.sender.Send(ctx, ev.Chat.ID, notice, ev.MessageID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to send rejection notice",
				"chat_id", ev.Chat.ID, "reason", decision.String(), "error", err)
			return nil, err
		}
	}

	p.logger.InfoContext(ctx, "Message rejected",
		"chat_id", ev.Chat.ID, "user_id", ev.From.ID, "reason", decision.String())

	return &Outcome{Status: StatusRejected, Reason: decision.String()}, nil
}

// processNewMember bypasses gating and generation entirely: welcome the new
// member and acknowledge.
func (p *Pipeline) processNewMember(ctx context.Context, ev *update.NewMemberEvent) (*Outcome, error) {
	if err := p.recorder.EnsureParticipants(ctx, ev.NewMember, ev.Chat); err != nil {
		return nil, err
	}

	// Plain substitution: operator-configured text may carry stray percent
	// signs that printf verbs would mangle.
	text := strings.ReplaceAll(p.messages.MsgWelcome, "%s", ev.NewMember.FirstName)

	if _, err := p.sender.Send(ctx, ev.Chat.ID, text, 0); err != nil {
		p.logger.ErrorContext(ctx, "Failed to send welcome notice", "chat_id", ev.Chat.ID, "error", err)
		return nil, err
	}

	p.logger.InfoContext(ctx, "Welcomed new member", "chat_id", ev.Chat.ID, "user_id", ev.NewMember.ID)
	return &Outcome{Status: StatusWelcomed}, nil
}
