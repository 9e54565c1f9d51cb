package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHazard_TransitionTo(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name        string
		policy      TransitionPolicy
		from        HazardStatus
		resolvedAt  *time.Time
		to          HazardStatus
		wantErr     bool
		wantChanged bool
		wantState   HazardStatus
		wantResolve *time.Time
	}{
		{"active to resolved", TransitionPolicy{}, HazardStatusActive, nil, HazardStatusResolved, false, true, HazardStatusResolved, &now},
		{"active to active", TransitionPolicy{}, HazardStatusActive, nil, HazardStatusActive, false, false, HazardStatusActive, nil},
		{"resolved to resolved keeps timestamp", TransitionPolicy{}, HazardStatusResolved, &earlier, HazardStatusResolved, false, false, HazardStatusResolved, &earlier},
		{"resolved to active rejected", TransitionPolicy{}, HazardStatusResolved, &earlier, HazardStatusActive, true, false, HazardStatusResolved, &earlier},
		{"resolved to active with reopen", TransitionPolicy{AllowReopen: true}, HazardStatusResolved, &earlier, HazardStatusActive, false, true, HazardStatusActive, nil},
		{"unknown target", TransitionPolicy{}, HazardStatusActive, nil, HazardStatus("closed"), true, false, HazardStatusActive, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Hazard{ID: "h1", Status: tt.from, ResolvedAt: tt.resolvedAt}
			changed, err := h.TransitionTo(tt.policy, tt.to, now)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "cannot transition")
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantState, h.Status)
			assert.Equal(t, tt.wantResolve, h.ResolvedAt)
		})
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   RiskLevel
		wantOK bool
	}{
		{"high", RiskLevelHigh, true},
		{"HIGH", RiskLevelHigh, true},
		{" Medium ", RiskLevelMedium, true},
		{"ｌｏｗ", RiskLevelLow, true},
		{"高", RiskLevelHigh, true},
		{"高风险", RiskLevelHigh, true},
		{"中风险", RiskLevelMedium, true},
		{"一般", RiskLevelLow, true},
		{"critical", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRiskLevel(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleFromHelmet(t *testing.T) {
	assert.Equal(t, PersonRoleManager, RoleFromHelmet("红色"))
	assert.Equal(t, PersonRoleManager, RoleFromHelmet("White"))
	assert.Equal(t, PersonRoleWorker, RoleFromHelmet("黄色"))
	assert.Equal(t, PersonRoleOther, RoleFromHelmet(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	// "塔" is three bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", Truncate("a塔吊", 3))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EPARSE, ErrorCode(NewParseError("detection", "bad", "x")))
	assert.Equal(t, EPERSIST, ErrorCode(&PersistenceError{Op: "tracker.update"}))
	assert.Equal(t, ENOTFOUND, ErrorCode(NotFound("hazard.get", "hazard", "h1")))
	assert.Equal(t, EPROVIDER, ErrorCode(Provider(assert.AnError, "analysis.frame")))
	assert.Equal(t, EINTERNAL, ErrorCode(assert.AnError))
}
