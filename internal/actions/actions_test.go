package actions

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DiscoClaw/discoclaw-sub001/internal/chat"
	"github.com/DiscoClaw/discoclaw-sub001/internal/tasks"
	"github.com/DiscoClaw/discoclaw-sub001/internal/testharness"
)

func TestParseExtractsBlocks(t *testing.T) {
	text := "Here you go.\n<discord-action>{\"type\":\"taskList\"}</discord-action>\nAnything else?"
	res := Parse(text)
	if len(res.Actions) != 1 || res.Actions[0].Type != "taskList" {
		t.Fatalf("Actions = %+v", res.Actions)
	}
	if strings.Contains(res.CleanText, "discord-action") {
		t.Fatalf("CleanText still contains block: %q", res.CleanText)
	}
	if !strings.Contains(res.CleanText, "Here you go.") || !strings.Contains(res.CleanText, "Anything else?") {
		t.Fatalf("CleanText lost prose: %q", res.CleanText)
	}
}

func TestParseStripsUnrecognized(t *testing.T) {
	text := "<discord-action>{\"type\":\"launchMissiles\"}</discord-action>"
	res := Parse(text)
	if len(res.Actions) != 0 {
		t.Fatalf("unknown type must not yield actions: %+v", res.Actions)
	}
	if len(res.Unrecognized) != 1 || res.Unrecognized[0] != "launchMissiles" {
		t.Fatalf("Unrecognized = %v", res.Unrecognized)
	}
	if strings.TrimSpace(res.CleanText) != "" {
		t.Fatalf("block should be stripped, got %q", res.CleanText)
	}
}

func TestParseMalformedPayload(t *testing.T) {
	res := Parse("<discord-action>{\"type\": }</discord-action>")
	if len(res.Actions) != 0 {
		t.Fatalf("malformed block must not yield actions")
	}
	if len(res.Unrecognized) != 1 {
		t.Fatalf("Unrecognized = %v", res.Unrecognized)
	}
}

func TestParseRoundTrip(t *testing.T) {
	clean := "Listing tasks now.\n"
	original := Parse(clean + "<discord-action>{\"type\":\"taskList\"}</discord-action><discord-action>{\"type\":\"memorySearch\",\"query\":\"tabs\"}</discord-action>")

	var rebuilt strings.Builder
	rebuilt.WriteString(original.CleanText)
	for _, a := range original.Actions {
		rebuilt.WriteString(RenderBlock(a))
	}
	again := Parse(rebuilt.String())
	if again.CleanText != original.CleanText {
		t.Fatalf("clean text changed: %q vs %q", again.CleanText, original.CleanText)
	}
	if len(again.Actions) != len(original.Actions) {
		t.Fatalf("action count changed: %d vs %d", len(again.Actions), len(original.Actions))
	}
	for i := range again.Actions {
		if again.Actions[i].Type != original.Actions[i].Type {
			t.Fatalf("action %d type = %q, want %q", i, again.Actions[i].Type, original.Actions[i].Type)
		}
	}
}

func TestExecuteDisabledCategoryUnavailable(t *testing.T) {
	e := NewExecutor(Subsystems{Chat: testharness.NewFakeChat()}, nil)
	flags := Flags{CategoryMessaging: false}
	res := Parse("<discord-action>{\"type\":\"sendMessage\",\"content\":\"hi\"}</discord-action>")
	results, unavailable := e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, flags, res.Actions)
	if len(results) != 0 {
		t.Fatalf("disabled category executed: %+v", results)
	}
	if len(unavailable) != 1 || unavailable[0] != "sendMessage" {
		t.Fatalf("unavailable = %v", unavailable)
	}
}

func TestExecuteSendMessage(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"sendMessage\",\"content\":\"hello\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.Sent) != 1 || svc.Sent[0].Content != "hello" {
		t.Fatalf("Sent = %+v", svc.Sent)
	}
}

func TestExecuteTaskListFollowUp(t *testing.T) {
	store, err := tasks.Open(filepath.Join(t.TempDir(), "tasks.jsonl"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := store.Create("Review logging", "", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	e := NewExecutor(Subsystems{Tasks: store}, nil)
	res := Parse("<discord-action>{\"type\":\"taskList\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].FollowUp {
		t.Fatalf("taskList must be follow-up eligible: %+v", results)
	}
	if !FollowUpEligible(results) {
		t.Fatalf("FollowUpEligible() = false")
	}
	prompt := BuildFollowUpPrompt(results)
	if !strings.Contains(prompt, "[Auto-follow-up]") {
		t.Fatalf("prompt missing header: %q", prompt)
	}
	if !strings.Contains(prompt, "Review logging") {
		t.Fatalf("prompt missing task data: %q", prompt)
	}
}

func TestExecutePinMessageDefaultsToContext(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"pinMessage\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{ChannelID: "c1", MessageID: "m7"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.PinnedIDs) != 1 || svc.PinnedIDs[0] != "m7" {
		t.Fatalf("PinnedIDs = %v", svc.PinnedIDs)
	}
}

func TestExecuteGuildInfoFollowUp(t *testing.T) {
	svc := testharness.NewFakeChat()
	svc.Guilds["g1"] = &chat.Guild{ID: "g1", Name: "Home", MemberCount: 3}
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"guildInfo\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{GuildID: "g1"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK || !results[0].FollowUp {
		t.Fatalf("results = %+v", results)
	}
	if !strings.Contains(results[0].Data, "Home") || !strings.Contains(results[0].Data, "members: 3") {
		t.Fatalf("Data = %q", results[0].Data)
	}

	// A DM context has no guild to report.
	results, _ = e.Execute(context.Background(), ActionContext{}, AllFlags(), res.Actions)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("guildInfo without a guild must fail: %+v", results)
	}
}

func TestExecuteTimeoutMember(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"timeoutMember\",\"user_id\":\"u9\",\"duration_minutes\":5}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{GuildID: "g1"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.Timeouts) != 1 || svc.Timeouts[0] != "u9" {
		t.Fatalf("Timeouts = %v", svc.Timeouts)
	}

	res = Parse("<discord-action>{\"type\":\"timeoutMember\"}</discord-action>")
	results, _ = e.Execute(context.Background(), ActionContext{GuildID: "g1"}, AllFlags(), res.Actions)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("timeout without user_id must fail: %+v", results)
	}
}

func TestExecutePurgeMessages(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"purgeMessages\",\"count\":250}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	// Counts are capped at 100 per request.
	if len(svc.Purged) != 1 || svc.Purged[0] != 100 {
		t.Fatalf("Purged = %v", svc.Purged)
	}

	res = Parse("<discord-action>{\"type\":\"purgeMessages\",\"count\":0}</discord-action>")
	results, _ = e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, AllFlags(), res.Actions)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("zero count must fail: %+v", results)
	}
}

func TestExecuteCreatePoll(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"createPoll\",\"question\":\"lunch?\",\"answers\":[\"pizza\",\"sushi\"]}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	if len(svc.Polls) != 1 || svc.Polls[0] != "lunch?" {
		t.Fatalf("Polls = %v", svc.Polls)
	}

	res = Parse("<discord-action>{\"type\":\"createPoll\",\"question\":\"lunch?\",\"answers\":[\"pizza\"]}</discord-action>")
	results, _ = e.Execute(context.Background(), ActionContext{ChannelID: "c1"}, AllFlags(), res.Actions)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("single-answer poll must fail: %+v", results)
	}
}

func TestExecuteSetStatus(t *testing.T) {
	svc := testharness.NewFakeChat()
	e := NewExecutor(Subsystems{Chat: svc}, nil)
	res := Parse("<discord-action>{\"type\":\"setStatus\",\"status\":\"reading mail\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{}, AllFlags(), res.Actions)
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("results = %+v", results)
	}
	if svc.Presence != "reading mail" {
		t.Fatalf("Presence = %q", svc.Presence)
	}
}

func TestExecuteMissingSubsystem(t *testing.T) {
	e := NewExecutor(Subsystems{}, nil)
	res := Parse("<discord-action>{\"type\":\"forgeRun\",\"description\":\"x\"}</discord-action>")
	results, _ := e.Execute(context.Background(), ActionContext{}, AllFlags(), res.Actions)
	if len(results) != 1 || results[0].OK {
		t.Fatalf("absent subsystem must fail: %+v", results)
	}
}

func TestRenderResultsSuppressesSendDone(t *testing.T) {
	results := []Result{
		{Type: "sendMessage", OK: true, Summary: "Done"},
		{Type: "taskCreate", OK: true, Summary: "Created ws-1"},
		{Type: "memorySave", OK: false, Err: "memory store unavailable"},
	}
	out := RenderResults(results, []string{"cronRun"})
	if strings.Contains(out, "sendMessage") {
		t.Fatalf("sendMessage line must be suppressed: %q", out)
	}
	if !strings.Contains(out, "Created ws-1") {
		t.Fatalf("missing task line: %q", out)
	}
	if !strings.Contains(out, "memory store unavailable") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "cronRun: unavailable") {
		t.Fatalf("missing unavailable line: %q", out)
	}
}

func TestCronRestrictedFlags(t *testing.T) {
	flags := AllFlags().WithoutCronRestricted()
	if flags.Enabled(CategoryCrons) || flags.Enabled(CategoryMemory) || flags.Enabled(CategoryConfig) {
		t.Fatalf("restricted categories still enabled: %+v", flags)
	}
	if !flags.Enabled(CategoryMessaging) {
		t.Fatalf("messaging should stay enabled")
	}
}
