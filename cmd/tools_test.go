package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"sigs.k8s.io/yaml"

	"m365gate/internal/tools"
	"m365gate/internal/upstream/upstreamtest"
)

func resetToolsFlags() {
	toolsOutput = OutputFormatTable
	toolsScopes = nil
	toolsModule = ""
}

func TestToolsCommand_JSONWithScopes(t *testing.T) {
	defer resetToolsFlags()

	out, err := execute(t, "tools", "-o", "json", "--scopes", "Tasks.Read")
	if err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	var list []tools.Tool
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(list) != 2 || list[0].Name != "listTaskLists" || list[1].Name != "getTasks" {
		t.Errorf("Unexpected tools for Tasks.Read: %+v", list)
	}
}

func TestToolsCommand_YAMLModuleFilter(t *testing.T) {
	defer resetToolsFlags()

	out, err := execute(t, "tools", "-o", "yaml", "--module", "groups")
	if err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	var list []map[string]any
	if err := yaml.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 group tools, got %d", len(list))
	}
	if list[0]["name"] != "listGroups" {
		t.Errorf("Expected listGroups first, got %v", list[0]["name"])
	}
}

func TestToolsCommand_Table(t *testing.T) {
	defer resetToolsFlags()

	out, err := execute(t, "tools", "--module", "mail")
	if err != nil {
		t.Fatalf("tools failed: %v", err)
	}
	for _, want := range []string{"sendEmail", "POST /v1/mail/send", "Mail.Send", "8 TOOLS"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table output:\n%s", want, out)
		}
	}
}

func TestToolsCommand_UnknownFormat(t *testing.T) {
	defer resetToolsFlags()

	if _, err := execute(t, "tools", "-o", "xml"); err == nil {
		t.Error("Expected an error for an unsupported output format")
	}
}

func TestInspectToken(t *testing.T) {
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Mail.Read Mail.Send")

	report := inspectToken("Bearer "+token, upstreamtest.Audience)
	if !report.Valid {
		t.Fatalf("Expected a valid token, got %s: %s", report.Error, report.Message)
	}
	if report.User != "ann@contoso.com" || report.Name != "Ann" {
		t.Errorf("Unexpected subject %q / %q", report.User, report.Name)
	}
	if strings.Join(report.Scopes, ",") != "Mail.Read,Mail.Send" {
		t.Errorf("Unexpected scopes %v", report.Scopes)
	}
	if len(report.AvailableTools) == 0 || report.AvailableTools[0] != "getInbox" {
		t.Errorf("Unexpected tools %v", report.AvailableTools)
	}
}

func TestInspectToken_ExpiredAndGarbage(t *testing.T) {
	expired := upstreamtest.Token(upstreamtest.Claims("ann@contoso.com", "Ann", "Mail.Read", -time.Minute))
	if report := inspectToken(expired, upstreamtest.Audience); report.Valid || report.Error == "" {
		t.Errorf("Expected an expired token to be reported invalid, got %+v", report)
	}

	report := inspectToken("not-a-jwt", upstreamtest.Audience)
	if report.Valid {
		t.Error("Expected garbage to be invalid")
	}
	if report.Scopes == nil || report.AvailableTools == nil {
		t.Error("Expected empty, non-nil lists for JSON output")
	}
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("M365GATE_MODE", "development")
	t.Setenv("M365GATE_SIGNING_SECRET", "0123456789abcdef0123456789abcdef")
	defer func() {
		configPath, tokenOutput, issueUser, issueDevice, issueLong = "", OutputFormatTable, "", "", false
	}()

	out, err := execute(t, "token", "issue", "--user", "Ann@Contoso.com", "--device-id", "dev-1", "-o", "json",
		"--config-path", t.TempDir())
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}
	var issued map[string]any
	if err := json.Unmarshal([]byte(out), &issued); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if issued["sub"] != "ms365:ann@contoso.com" || issued["deviceId"] != "dev-1" {
		t.Errorf("Unexpected claims %v", issued)
	}
	if tok, _ := issued["access_token"].(string); strings.Count(tok, ".") != 2 {
		t.Errorf("Expected a JWT, got %q", tok)
	}
}
