package opt

import "sync"

type stageKey struct {
	Instance    string
	Constructor string
	Stage       string
}

var (
	mu     sync.Mutex
	stages = map[stageKey]StageReport{}
)

// RecordStage keeps the latest report of a stage per instance and constructor.
func RecordStage(instance, constructor string, s StageReport) {
	mu.Lock()
	stages[stageKey{Instance: instance, Constructor: constructor, Stage: s.Stage}] = s
	mu.Unlock()
}

// StageMetrics returns the latest stage reports of an instance keyed by
// "constructor/stage".
func StageMetrics(instance string) map[string]StageReport {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]StageReport{}
	for k, v := range stages {
		if k.Instance == instance {
			out[k.Constructor+"/"+k.Stage] = v
		}
	}
	return out
}
