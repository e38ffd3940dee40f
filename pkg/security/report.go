package security

import "time"

// SecurityReport aggregates alert statistics, the current posture, and
// operator recommendations.
type SecurityReport struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	System           SystemState    `json:"system"`
	TotalAlerts      int            `json:"total_alerts"`
	AlertsByType     map[string]int `json:"alerts_by_type"`
	AlertsBySeverity map[string]int `json:"alerts_by_severity"`
	RecentCritical   []Alert        `json:"recent_critical"`
	Sources          []SourceStatus `json:"sources"`
	ActiveSessions   int            `json:"active_sessions"`
	BlockedSessions  int            `json:"blocked_sessions"`
	Recommendations  []string       `json:"recommendations"`
}

// BuildReport assembles a point-in-time security report.
func BuildReport(alerts *AlertStore, state *StateManager, sources []SourceStatus) *SecurityReport {
	history := alerts.List(AlertFilter{Limit: alerts.Len()})
	byType := make(map[string]int)
	bySeverity := make(map[string]int)
	var recentCritical []Alert
	for _, a := range history {
		byType[string(a.Type)]++
		bySeverity[string(a.Severity)]++
		if a.Severity == LevelCritical && len(recentCritical) < 5 {
			recentCritical = append(recentCritical, a)
		}
	}

	sessions := state.Sessions()
	blockedSessions := 0
	for _, s := range sessions {
		if s.Blocked {
			blockedSessions++
		}
	}

	report := &SecurityReport{
		GeneratedAt:      time.Now().UTC(),
		System:           state.Snapshot(),
		TotalAlerts:      len(history),
		AlertsByType:     byType,
		AlertsBySeverity: bySeverity,
		RecentCritical:   recentCritical,
		Sources:          sources,
		ActiveSessions:   len(sessions),
		BlockedSessions:  blockedSessions,
	}
	report.Recommendations = recommendations(report)
	return report
}

// recommendations derives French operator guidance from the report stats.
func recommendations(r *SecurityReport) []string {
	var recs []string
	if r.System.Blocked {
		recs = append(recs, "Le système est bloqué : examiner la cause ("+r.System.BlockReason+") avant tout déblocage.")
	}
	if n := r.AlertsBySeverity[string(LevelCritical)]; n > 0 {
		recs = append(recs, "Examiner immédiatement les alertes critiques.")
	}
	if r.AlertsByType[string(AlertNetwork)] > 3 {
		recs = append(recs, "Activité réseau anormale répétée : vérifier les journaux de trafic.")
	}
	if r.AlertsByType[string(AlertVulnerability)] > 3 {
		recs = append(recs, "Tentatives d'exploitation répétées : renforcer le filtrage des entrées.")
	}
	if r.BlockedSessions > 0 {
		recs = append(recs, "Des sessions sont bloquées : contacter les utilisateurs concernés si nécessaire.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Aucune action requise : le système fonctionne normalement.")
	}
	return recs
}
