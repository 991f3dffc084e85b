package viewport

// Scheduler coalesces re-render requests: a viewport marked dirty more than
// once before the next Flush renders once.
type Scheduler struct {
	dirty map[ID]struct{}
	order []ID
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{dirty: make(map[ID]struct{})}
}

// MarkDirty schedules id for the next flush. It returns false when id was
// already scheduled.
func (s *Scheduler) MarkDirty(id ID) bool {
	if _, ok := s.dirty[id]; ok {
		return false
	}
	s.dirty[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// IsDirty reports whether id is scheduled.
func (s *Scheduler) IsDirty(id ID) bool {
	_, ok := s.dirty[id]
	return ok
}

// Pending returns the scheduled ids in marking order.
func (s *Scheduler) Pending() []ID {
	return append([]ID(nil), s.order...)
}

// Flush calls render once per scheduled id, in marking order, and clears the
// schedule. It returns the number of viewports rendered.
func (s *Scheduler) Flush(render func(ID)) int {
	pending := s.order
	s.order = nil
	s.dirty = make(map[ID]struct{})
	for _, id := range pending {
		render(id)
	}
	return len(pending)
}

// Forget drops id from the schedule, e.g. when its viewport is torn down.
func (s *Scheduler) Forget(id ID) {
	if _, ok := s.dirty[id]; !ok {
		return
	}
	delete(s.dirty, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
