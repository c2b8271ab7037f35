package n8n

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/apl/infrastructure/parser"
)

const triggerSource = `program support(errorWorkflow="wf-errors")

agent desk:
    capability storage

    # n8n: trigger webhook path="/apl/intake" method="put"
    def intake(ticket):
        summary = call_llm(prompt="Summarize {{ticket}}")
        return summary
    end

    def internal():
        return 1
    end

    def escalate(ticket, level):
        # n8n: trigger webhook runtimeUrl="https://apl.example.org/run"
        return level
    end
end
`

func TestExport(t *testing.T) {
	t.Parallel()

	prog, err := parser.Parse(triggerSource)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wf, err := Export(prog, Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if wf.Name != "support" {
		t.Errorf("Name = %s, want support", wf.Name)
	}
	if len(wf.Nodes) != 4 {
		t.Fatalf("len(Nodes) = %d, want 4", len(wf.Nodes))
	}
	if wf.Settings.ErrorWorkflow == nil || *wf.Settings.ErrorWorkflow != "wf-errors" {
		t.Errorf("ErrorWorkflow = %v, want wf-errors", wf.Settings.ErrorWorkflow)
	}

	hook := wf.Nodes[0]
	if hook.ID != "Webhook_1" || hook.Name != "desk.intake Trigger" || hook.Type != webhookNodeType {
		t.Errorf("webhook node = %+v", hook)
	}
	if hook.Parameters["path"] != "apl/intake" || hook.Parameters["httpMethod"] != "PUT" {
		t.Errorf("webhook parameters = %v", hook.Parameters)
	}

	req := wf.Nodes[1]
	if req.ID != "HttpRequest_1" || req.Position != [2]int{0, rowHeight} {
		t.Errorf("http node = %+v", req)
	}
	if req.Parameters["url"] != DefaultRuntimeURL {
		t.Errorf("url = %v, want %s", req.Parameters["url"], DefaultRuntimeURL)
	}
	var body struct {
		Routine string   `json:"routine"`
		Args    []string `json:"args"`
		Steps   []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(req.Parameters["bodyParametersJson"].(string)), &body); err != nil {
		t.Fatalf("body error = %v", err)
	}
	if body.Routine != "desk.intake" || len(body.Args) != 1 || len(body.Steps) != 2 {
		t.Errorf("body = %+v", body)
	}

	second := wf.Nodes[2]
	if second.ID != "Webhook_2" || second.Position != [2]int{columnWidth, 0} {
		t.Errorf("second webhook = %+v", second)
	}
	if second.Parameters["path"] != "desk_escalate" || second.Parameters["httpMethod"] != "POST" {
		t.Errorf("second webhook parameters = %v", second.Parameters)
	}
	if wf.Nodes[3].Parameters["url"] != "https://apl.example.org/run" {
		t.Errorf("second url = %v", wf.Nodes[3].Parameters["url"])
	}

	conn, ok := wf.Connections["desk.intake Trigger"]
	if !ok || conn.Main[0][0].Node != "desk.intake -> APL Runtime" {
		t.Errorf("Connections = %+v", wf.Connections)
	}

	desk := wf.Meta.APL.Agents["desk"]
	if len(desk.Routines) != 3 || desk.Capabilities[0] != "storage" {
		t.Errorf("agent meta = %+v", desk)
	}
}

func TestExport_Options(t *testing.T) {
	t.Parallel()

	prog, err := parser.Parse("agent a:\n    # n8n: trigger webhook\n    def r():\n        return 1\n    end\nend\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wf, err := Export(prog, Options{RuntimeURL: "http://localhost:8080/run"})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if wf.Name != DefaultName {
		t.Errorf("Name = %s, want %s", wf.Name, DefaultName)
	}
	if wf.Settings.ErrorWorkflow != nil {
		t.Errorf("ErrorWorkflow = %v, want nil", *wf.Settings.ErrorWorkflow)
	}
	if wf.Nodes[1].Parameters["url"] != "http://localhost:8080/run" {
		t.Errorf("url = %v", wf.Nodes[1].Parameters["url"])
	}

	data, err := Marshal(wf)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"errorWorkflow": null`) {
		t.Errorf("Marshal() = %s, want null errorWorkflow", data)
	}
}

func TestExport_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want error
	}{
		{"no triggers", "agent a:\n    def r():\n        return 1\n    end\nend\n", ErrNoTriggers},
		{"cron trigger", "agent a:\n    # n8n: trigger cron every=\"5m\"\n    def r():\n        return 1\n    end\nend\n", ErrUnsupportedTrigger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prog, err := parser.Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if _, err := Export(prog, Options{}); !errors.Is(err, tt.want) {
				t.Errorf("Export() error = %v, want %v", err, tt.want)
			}
		})
	}
}
