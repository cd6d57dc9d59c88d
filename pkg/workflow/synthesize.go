package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/malbeclabs/retail-insights/pkg/llm"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
)

// Synthesize produces the final response. Failed and empty results get an
// explanatory model response; summaries always go to the model; questions
// are answered directly when a rule applies and otherwise by a short model
// call.
func (w *Workflow) Synthesize(ctx context.Context, st *State) error {
	var (
		response string
		err      error
	)

	switch st.Status {
	case StatusFailed:
		errText := "Unknown error"
		if f, ok := st.Data.(*Failed); ok && f.Error != "" {
			errText = f.Error
		}
		userPrompt := fmt.Sprintf("User Query: %s\n\nError Information: %s\n\nProvide a helpful, conversational response.", st.UserQuery, errText)
		response, err = w.complete(ctx, "failed", w.cfg.Prompts.Failed, userPrompt, llm.Long)

	case StatusWarning:
		userPrompt := fmt.Sprintf("User Query: %s\n\nThe query returned no results. Explain possible reasons and suggest alternative queries.", st.UserQuery)
		response, err = w.complete(ctx, "warning", w.cfg.Prompts.Warning, userPrompt, llm.Long)

	default:
		if st.Mode == ModeSummary {
			data, merr := marshalResult(st.Data)
			if merr != nil {
				return merr
			}
			userPrompt := fmt.Sprintf("Data Summary:\n%s\n\nGenerate a professional business summary of the retail performance.", data)
			response, err = w.complete(ctx, "summary", w.cfg.Prompts.Summary, userPrompt, llm.Long)
			break
		}

		if answer, rule, ok := directAnswer(st.UserQuery, st.Data); ok {
			w.log.Info("workflow: direct answer", "rule", rule)
			metrics.DirectAnswersTotal.WithLabelValues(rule).Inc()
			response = answer
			break
		}

		userPrompt := fmt.Sprintf("%s\n%s", st.UserQuery, answerContext(st.UserQuery, st.Data))
		response, err = w.complete(ctx, "answer", w.cfg.Prompts.Answer, userPrompt, llm.Short)
	}
	if err != nil {
		return err
	}

	st.FinalResponse = response
	st.appendMessage(RoleAssistant, response)
	return nil
}

func (w *Workflow) complete(ctx context.Context, path, systemPrompt, userPrompt string, opts llm.Options) (string, error) {
	w.log.Debug("workflow: synthesis model call", "path", path)
	response, err := w.cfg.LLM.Complete(ctx, systemPrompt, userPrompt, opts)
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(path, "error").Inc()
		return "", fmt.Errorf("%w: synthesis (%s): %w", ErrLLMUnavailable, path, err)
	}
	metrics.LLMCallsTotal.WithLabelValues(path, "ok").Inc()
	return response, nil
}

func answerContext(query string, data Result) string {
	switch d := data.(type) {
	case *Tabular:
		return FormatRows(d, llmContextRows)
	case *Statistics:
		if d.Summary != nil {
			return ConciseStatistics(query, d.Summary)
		}
	}
	return ""
}

func marshalResult(data Result) (string, error) {
	var v any = data
	if s, ok := data.(*Statistics); ok {
		v = s.Summary
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode data for summary: %w", err)
	}
	return string(out), nil
}
