package config

// Recommendations are suggestions derived from a metrics snapshot.
type Recommendations struct {
	LowerStepRate        bool
	IncreaseCatchUp      bool
	IncreaseEventBuffer  bool
	IncreaseClientBuffer bool
	Notes                []string
}

// Analyze examines a metrics snapshot (as produced by metrics.Collector.Snapshot)
// against cfg and returns tuning recommendations.
func Analyze(cfg *Config, snapshot map[string]interface{}) *Recommendations {
	rec := &Recommendations{Notes: make([]string, 0)}

	if tick, ok := snapshot["tick"].(map[string]interface{}); ok {
		budgetMs := float64(cfg.StepInterval().Microseconds()) / 1000
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > budgetMs {
			rec.LowerStepRate = true
			rec.Notes = append(rec.Notes, "Tick latency exceeds the step interval - lower step_rate")
		}
		if skipped, ok := tick["steps_skipped"].(int64); ok && skipped > 0 {
			rec.IncreaseCatchUp = true
			rec.Notes = append(rec.Notes, "Steps were dropped by the catch-up clamp - raise max_catch_up")
		}
	}

	if events, ok := snapshot["events"].(map[string]interface{}); ok {
		if maxLat, ok := events["max_write_lat_ms"].(float64); ok && maxLat > 50 {
			rec.IncreaseEventBuffer = true
			rec.Notes = append(rec.Notes, "Event write latency exceeds 50ms - increase event_channel_buffer")
		}
		if errs, ok := events["errors"].(int64); ok && errs > 0 {
			rec.Notes = append(rec.Notes, "Event write errors detected - check the database file")
		}
	}

	if ws, ok := snapshot["websocket"].(map[string]interface{}); ok {
		if errs, ok := ws["errors"].(int64); ok && errs > 0 {
			rec.IncreaseClientBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client_send_buffer")
		}
	}

	return rec
}

// ApplyRecommendations modifies cfg based on rec and returns it.
func ApplyRecommendations(cfg *Config, rec *Recommendations) *Config {
	if rec.LowerStepRate && cfg.StepRate > 1 {
		cfg.StepRate /= 2
	}
	if rec.IncreaseCatchUp {
		cfg.MaxCatchUp *= 2
	}
	if rec.IncreaseEventBuffer {
		cfg.EventChannelBuffer *= 2
	}
	if rec.IncreaseClientBuffer {
		cfg.ClientSendBuffer *= 2
	}
	return cfg
}
