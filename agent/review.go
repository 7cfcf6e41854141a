package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/schema"
)

// InterruptToolApproval tags interrupts raised by WithHumanReview.
const InterruptToolApproval = "tool_approval"

// RejectedMessage is the tool result reported to the model after a reject.
const RejectedMessage = "The tool call was rejected by the user. Try another approach or decline to answer."

// ErrUnsupportedResponse is returned for resume commands the reviewer may not use.
var ErrUnsupportedResponse = errors.New("unsupported interrupt response type")

type reviewedTool struct {
	inner  tools.Tool
	config schema.InterruptConfig
	logger log.Logger
}

var _ SchemaTool = (*reviewedTool)(nil)

// ReviewOption configures WithHumanReview.
type ReviewOption func(*reviewedTool)

// WithReviewLogger sets the logger of a reviewed tool.
func WithReviewLogger(l log.Logger) ReviewOption {
	return func(r *reviewedTool) { r.logger = l }
}

// WithHumanReview wraps t so each call first pauses the run and asks a human
// to accept, edit, reject or answer in place of the tool.
func WithHumanReview(t tools.Tool, config schema.InterruptConfig, opts ...ReviewOption) tools.Tool {
	r := &reviewedTool{inner: t, config: config, logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *reviewedTool) Name() string        { return r.inner.Name() }
func (r *reviewedTool) Description() string { return r.inner.Description() }

func (r *reviewedTool) Parameters() map[string]any {
	return parameters(r.inner)
}

func (r *reviewedTool) Call(ctx context.Context, input string) (string, error) {
	args := parseArgs(input)

	resume, err := Interrupt(ctx, r.request(args))
	if err != nil {
		return "", err
	}
	cmd, err := resumeCommand(resume)
	if err != nil {
		return "", err
	}
	if !r.config.Permits(cmd.Type) {
		return "", fmt.Errorf("%w: %q is not allowed for %s", ErrUnsupportedResponse, cmd.Type, r.Name())
	}
	r.logger.Info("review of %s: %s", r.Name(), cmd.Type)

	switch cmd.Type {
	case schema.ResponseAccept:
		return r.invoke(ctx, args)

	case schema.ResponseEdit:
		edited, err := cmd.EditedArgs()
		if err != nil {
			return "", err
		}
		if _, ok := r.inner.(SchemaTool); ok {
			if err := argsValidator.Validate(r.Parameters(), edited); err != nil {
				return "", fmt.Errorf("edited arguments for %s: %w", r.Name(), err)
			}
		}
		return r.invoke(ctx, edited)

	case schema.ResponseReject:
		return RejectedMessage, nil

	case schema.ResponseFeedback:
		return cmd.Feedback(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedResponse, cmd.Type)
}

func (r *reviewedTool) invoke(ctx context.Context, args map[string]any) (string, error) {
	r.logger.Info("calling tool %s with %v", r.Name(), args)
	out, err := r.inner.Call(ctx, toolInput(r.inner, args))
	if err != nil {
		r.logger.Error("tool %s failed: %v", r.Name(), err)
		return "", err
	}
	return out, nil
}

func (r *reviewedTool) request(args map[string]any) schema.HumanInterrupt {
	rendered, err := json.Marshal(args)
	if err != nil {
		rendered = []byte(fmt.Sprint(args))
	}
	return schema.HumanInterrupt{
		ActionRequest: schema.ActionRequest{Action: r.Name(), Args: args},
		Config:        r.config,
		Description: fmt.Sprintf("About to call the %s tool:\n- args: %s\n\n"+
			"Continue?\n"+
			"Enter 'yes' to accept the tool call\n"+
			"Enter 'no' to reject the tool call\n"+
			"Enter 'edit' to change the arguments before calling the tool\n"+
			"Enter 'response' to skip the tool and reply directly", r.Name(), rendered),
		InterruptType: InterruptToolApproval,
	}
}

func resumeCommand(v any) (schema.ResumeCommand, error) {
	switch c := v.(type) {
	case schema.ResumeCommand:
		return c, nil
	case *schema.ResumeCommand:
		if c != nil {
			return *c, nil
		}
	case map[string]any:
		t, _ := c["type"].(string)
		return schema.ResumeCommand{Type: schema.ResponseType(t), Args: c["args"]}, nil
	}
	return schema.ResumeCommand{}, fmt.Errorf("%w: resume value %T", ErrUnsupportedResponse, v)
}
