package device

// Security is a camera, motion sensor or alarm that can be armed.
type Security struct {
	base
	kind        SecurityType
	armed       bool
	alarmActive bool
}

// NewSecurity creates a disarmed security device that starts off.
func NewSecurity(id, name string, kind SecurityType, opts ...Option) *Security {
	s := &Security{kind: kind}
	s.init(id, name, opts)
	return s
}

// Type implements Device.
func (s *Security) Type() Type { return TypeSecurity }

// SecurityType returns the kind of equipment.
func (s *Security) SecurityType() SecurityType { return s.kind }

// TurnOn implements Device.
func (s *Security) TurnOn() { s.update(func() { s.on = true }) }

// TurnOff implements Device. A device that is off cannot be in alarm.
func (s *Security) TurnOff() {
	s.update(func() {
		s.on = false
		s.alarmActive = false
	})
}

// Toggle implements Device. Turning off clears an active alarm.
func (s *Security) Toggle() bool {
	var on bool
	s.update(func() {
		s.on = !s.on
		if !s.on {
			s.alarmActive = false
		}
		on = s.on
	})
	return on
}

// IsArmed implements Armable.
func (s *Security) IsArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Arm implements Armable.
func (s *Security) Arm() { s.update(func() { s.armed = true }) }

// Disarm implements Armable; it also clears an active alarm.
func (s *Security) Disarm() {
	s.update(func() {
		s.armed = false
		s.alarmActive = false
	})
}

// TriggerAlarm implements Armable.
func (s *Security) TriggerAlarm() bool {
	s.mu.Lock()
	if !s.on || !s.armed {
		s.mu.Unlock()
		return false
	}
	s.alarmActive = true
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return true
}

// AlarmActive reports whether the alarm has been raised and not yet cleared.
func (s *Security) AlarmActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmActive
}

func (s *Security) update(fn func()) {
	s.mu.Lock()
	fn()
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Snapshot implements Device.
func (s *Security) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Security) snapshotLocked() State {
	var st State
	s.fill(&st, TypeSecurity)
	st.SecurityType = ptr(s.kind)
	st.Armed = ptr(s.armed)
	st.AlarmActive = ptr(s.alarmActive)
	return st
}

// Restore implements Restorer. An alarm is never restored as active.
func (s *Security) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = st.On
	if st.Armed != nil {
		s.armed = *st.Armed
	}
}
