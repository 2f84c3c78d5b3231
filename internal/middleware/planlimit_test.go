package middleware

import (
	"context"
	"testing"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

func testPlan(rpm, burst int) *models.GatewayPlan {
	return &models.GatewayPlan{
		ID:                "plan-1",
		TeamID:            "team-1",
		Name:              "starter",
		RequestsPerMinute: rpm,
		Burst:             burst,
	}
}

func TestPlanLimiter_FallbackEnforcesPlanRate(t *testing.T) {
	pl := NewPlanLimiter(nil)
	defer pl.Stop()

	plan := testPlan(60, 2)
	allowed := 0
	for i := 0; i < 4; i++ {
		d, err := pl.Allow(context.Background(), "key-1", plan)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d requests, want the plan burst of 2", allowed)
	}
}

func TestPlanLimiter_FallbackKeysAreIndependent(t *testing.T) {
	pl := NewPlanLimiter(nil)
	defer pl.Stop()

	plan := testPlan(60, 1)
	if d, _ := pl.Allow(context.Background(), "key-a", plan); !d.Allowed {
		t.Error("first request for key-a rejected")
	}
	if d, _ := pl.Allow(context.Background(), "key-b", plan); !d.Allowed {
		t.Error("first request for key-b rejected despite fresh key")
	}
	if d, _ := pl.Allow(context.Background(), "key-a", plan); d.Allowed {
		t.Error("key-a exceeded its burst but was allowed")
	}
}

func TestPlanLimiter_DeniedDecisionCarriesRetryAfter(t *testing.T) {
	pl := NewPlanLimiter(nil)
	defer pl.Stop()

	plan := testPlan(60, 1)
	pl.Allow(context.Background(), "key-1", plan)
	d, err := pl.Allow(context.Background(), "key-1", plan)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", d.RetryAfter)
	}
}
