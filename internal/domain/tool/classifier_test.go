package tool

import (
	"testing"
)

func TestClassifyRisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		toolName string
		want     RiskLevel
	}{
		{"delete operation", "file_delete", RiskLevelHigh},
		{"push operation", "git_push", RiskLevelHigh},
		{"exec operation", "exec_script", RiskLevelHigh},
		{"send operation", "send_email", RiskLevelHigh},
		{"mixed case high", "FILE_DELETE", RiskLevelHigh},
		{"commit operation", "git_commit", RiskLevelMedium},
		{"generate operation", "document_generate", RiskLevelMedium},
		{"export operation", "export_report", RiskLevelMedium},
		{"read operation", "git_status", RiskLevelLow},
		{"calculation", "exact_calculate", RiskLevelLow},
		{"search", "fuzzy_search", RiskLevelLow},
		{"empty name", "", RiskLevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyRisk(tt.toolName); got != tt.want {
				t.Errorf("ClassifyRisk(%q) = %v, want %v", tt.toolName, got, tt.want)
			}
		})
	}
}

func TestClassifyRisk_HighBeatsMedium(t *testing.T) {
	t.Parallel()

	// "update_and_delete" matches both tiers; high wins.
	if got := ClassifyRisk("update_and_delete"); got != RiskLevelHigh {
		t.Errorf("ClassifyRisk(update_and_delete) = %v, want %v", got, RiskLevelHigh)
	}
}
