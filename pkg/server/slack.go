package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
	"github.com/slack-go/slack"
)

const (
	slackMaxBodyBytes  = 1 << 20
	slackMaxBlockChars = 3000
	slackPostTimeout   = 10 * time.Second

	responseTypeEphemeral = "ephemeral"
	responseTypeInChannel = "in_channel"
)

// handleSlackCommand serves a slash command. The request is acknowledged
// immediately and the answer is posted to the command's response URL.
//
//	/retail summary    executive summary
//	/retail metrics    cache counters, cost and alerts
//	/retail <question> anything else is answered as a question
func (s *Server) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, slackMaxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, s.cfg.SlackSigningSecret)
	if err != nil {
		s.log.Debug("slack: invalid verification headers", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := sv.Write(body); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := sv.Ensure(); err != nil {
		s.log.Debug("slack: signature verification failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		s.writeSlack(w, &slack.WebhookMessage{
			ResponseType: responseTypeEphemeral,
			Text:         fmt.Sprintf("Usage: %s summary | metrics | <question>", cmd.Command),
		})
		return
	}

	subcommand := "ask"
	switch strings.ToLower(text) {
	case "summary":
		subcommand = "summary"
	case "metrics":
		subcommand = "metrics"
	}
	metrics.SlackCommandsTotal.WithLabelValues(subcommand).Inc()
	s.log.Info("slack: command received", "user", cmd.UserID, "channel", cmd.ChannelID, "subcommand", subcommand)

	if subcommand == "metrics" {
		s.writeSlack(w, &slack.WebhookMessage{
			ResponseType: responseTypeEphemeral,
			Blocks:       &slack.Blocks{BlockSet: textBlocks(s.metricsText())},
		})
		return
	}

	s.writeSlack(w, &slack.WebhookMessage{
		ResponseType: responseTypeEphemeral,
		Text:         "Working on it...",
	})

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout)
		defer cancel()

		var (
			answer string
			err    error
		)
		if subcommand == "summary" {
			answer, err = s.assistant.GetSummary(ctx)
		} else {
			answer, err = s.assistant.ProcessQuery(ctx, text, workflow.ModeQA)
		}

		msg := &slack.WebhookMessage{ResponseType: responseTypeInChannel, ReplaceOriginal: true}
		if err != nil {
			s.log.Error("slack: command failed", "subcommand", subcommand, "error", err)
			msg.ResponseType = responseTypeEphemeral
			msg.Text = "Sorry, I couldn't answer that right now."
		} else {
			msg.Text = answer
			msg.Blocks = &slack.Blocks{BlockSet: textBlocks(toSlackMarkdown(answer))}
		}
		// The query context may already be spent; the reply gets its own.
		postCtx, postCancel := context.WithTimeout(context.Background(), slackPostTimeout)
		defer postCancel()
		if err := slack.PostWebhookContext(postCtx, cmd.ResponseURL, msg); err != nil {
			s.log.Error("slack: failed to post response", "error", err)
		}
	}()
}

func (s *Server) metricsText() string {
	var sb strings.Builder
	if m := s.assistant.GetPerformanceMetrics(); m != nil {
		fmt.Fprintf(&sb, "*Cache*: %d hits, %d misses, %s hit rate\n", m.CacheHits, m.CacheMisses, m.HitRateString())
	}
	cost := s.assistant.CostSummary()
	fmt.Fprintf(&sb, "*Queries*: %d, total cost %s, avg %s per query, avg time %s\n",
		cost.TotalQueries, cost.TotalCostString(), cost.AvgCostPerQueryString(), cost.AvgExecutionTimeString())
	alerts := s.assistant.GetAlerts(0, 0)
	if len(alerts) == 0 {
		sb.WriteString("No active alerts")
	}
	for _, a := range alerts {
		sb.WriteString(":warning: " + a + "\n")
	}
	return strings.TrimSpace(sb.String())
}

func (s *Server) writeSlack(w http.ResponseWriter, msg *slack.WebhookMessage) {
	s.writeJSON(w, http.StatusOK, msg)
}

var (
	markdownBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// toSlackMarkdown converts the Markdown the workflow emits to Slack mrkdwn.
func toSlackMarkdown(text string) string {
	text = markdownHeading.ReplaceAllString(text, "*$1*")
	return markdownBold.ReplaceAllString(text, "*$1*")
}

// textBlocks splits text into expanded mrkdwn section blocks, one per
// paragraph, each within Slack's section text limit.
func textBlocks(text string) []slack.Block {
	var blocks []slack.Block
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		for para != "" {
			chunk := para
			if len(chunk) > slackMaxBlockChars {
				cut := strings.LastIndex(chunk[:slackMaxBlockChars], "\n")
				if cut <= 0 {
					cut = slackMaxBlockChars
					for cut > 0 && !utf8.RuneStart(chunk[cut]) {
						cut--
					}
				}
				chunk = chunk[:cut]
			}
			para = strings.TrimSpace(para[len(chunk):])
			section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false), nil, nil)
			section.Expand = true
			blocks = append(blocks, section)
		}
	}
	return blocks
}
