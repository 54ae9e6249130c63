package view

import "github.com/tuanbt/hivestream/internal/task"

// Reconcile combines the live log and the stored snapshot of a task held by
// reg. Whenever the log has events they win for every field they can
// derive; the snapshot only fills what the log cannot.
func Reconcile(reg *task.Registry, id int64) State {
	var snap *task.Snapshot
	if s, ok := reg.Snapshot(id); ok {
		snap = &s
	}

	log, ok := reg.Log(id)
	if !ok {
		return Project(id, nil, task.LocalEnd{}, snap)
	}
	return Project(id, log.Events(), log.LocalEnd(), snap)
}

// ReconcileActive reconciles the task currently selected in reg.
func ReconcileActive(reg *task.Registry) (State, bool) {
	id, ok := reg.Active()
	if !ok {
		return State{Status: task.StatusIdle}, false
	}
	return Reconcile(reg, id), true
}

// Summaries lists every task known to reg, newest first, with reconciled
// statuses.
func Summaries(reg *task.Registry) []task.Summary {
	ids := reg.IDs()
	out := make([]task.Summary, 0, len(ids))
	for _, id := range ids {
		st := Reconcile(reg, id)
		_, live := reg.Log(id)
		out = append(out, task.Summary{
			ID:     id,
			Prompt: st.Prompt,
			Status: st.Status,
			Live:   live,
		})
	}
	return out
}
