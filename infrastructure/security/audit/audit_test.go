package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
)

var ts = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestJSONLogger_RecordAndRead(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewJSONLogger(&buf)
	ctx := context.Background()

	recs := []capability.AuditRecord{
		{RunID: "r1", StepID: "a.r@3", Capability: "storage", Allowed: true, Timestamp: ts},
		{RunID: "r2", StepID: "b.r@2", Capability: "mail", Params: capability.Params{"api_token": "t0p", "region": "eu"}, Allowed: true, Timestamp: ts},
		{RunID: "r1", StepID: "a.r@4", Capability: "payments", Reason: "spend limit exceeded", Timestamp: ts},
	}
	for _, rec := range recs {
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if strings.Contains(buf.String(), "t0p") {
		t.Error("sensitive value written to audit log")
	}

	trail, err := ReadTrail(bytes.NewReader(buf.Bytes()), "r1")
	if err != nil {
		t.Fatalf("ReadTrail() error = %v", err)
	}
	if len(trail) != 2 || trail[1].Reason != "spend limit exceeded" || trail[1].Allowed {
		t.Errorf("ReadTrail(r1) = %+v", trail)
	}

	all, err := ReadTrail(bytes.NewReader(buf.Bytes()), "")
	if err != nil {
		t.Fatalf("ReadTrail() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(ReadTrail()) = %d, want 3", len(all))
	}
	if all[1].Params["api_token"] != Redacted || all[1].Params["region"] != "eu" {
		t.Errorf("Params = %v", all[1].Params)
	}
	if !all[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", all[0].Timestamp, ts)
	}
}

func TestJSONLogger_WithoutRedaction(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewJSONLogger(&buf, WithoutRedaction())
	rec := capability.AuditRecord{RunID: "r", Capability: "mail", Params: capability.Params{"password": "p"}}
	if err := l.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"password":"p"`) {
		t.Errorf("log = %s, want verbatim password", buf.String())
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	in := capability.Params{"SMTP_Password": "x", "limit": "100", "clientSecret": "y"}
	out := Redact(in)
	if out["SMTP_Password"] != Redacted || out["clientSecret"] != Redacted || out["limit"] != "100" {
		t.Errorf("Redact() = %v", out)
	}
	if in["SMTP_Password"] != "x" {
		t.Error("Redact() modified its input")
	}
	if Redact(nil) != nil {
		t.Error("Redact(nil) != nil")
	}
}

func TestReadTrail_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ReadTrail(strings.NewReader("{\"run_id\":\"r\"}\nnot json\n"), "")
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("ReadTrail() error = %v, want line 2 failure", err)
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	for i := 0; i < 2; i++ {
		l, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile() error = %v", err)
		}
		if err := l.Record(context.Background(), capability.AuditRecord{RunID: "r", Capability: "storage", Allowed: true}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	trail, err := ReadTrail(f, "r")
	if err != nil || len(trail) != 2 {
		t.Errorf("ReadTrail() = %d records, %v, want 2", len(trail), err)
	}
}
