package broker

// Translators are pure functions mapping one broker's output to another's
// input (or output). They are implemented purely in terms of the public
// tap/emit surface: a translator is a goroutine that reads a tap and
// re-emits into the peer broker, so there is no privileged internal API a
// translator needs that a module handler couldn't also use.
//
// Because Go methods cannot introduce additional type parameters beyond the
// receiver's, the translator constructors below are package-level
// functions rather than methods on Broker.

// AddTranslatorLink wires two brokers bidirectionally: every output of self
// is offered to other as an input via outToOtherIn (a false second return
// drops the message), and every output of other is offered to self as an input
// via otherOutToIn. Returns an index that can be passed to
// self.RemoveSubsystem to tear down both directions.
func AddTranslatorLink[I, O, OI, OO any](
	self *Broker[I, O],
	other *Broker[OI, OO],
	outToOtherIn func(O) (OI, bool),
	otherOutToIn func(OO) (I, bool),
) (int, error) {
	if self.id() == other.id() {
		return 0, ErrLinkedBrokers
	}

	selfOutTap, selfOutIdx, err := self.GetTapOutSync()
	if err != nil {
		return 0, err
	}
	otherOutTap, otherOutIdx, err := other.GetTapOutSync()
	if err != nil {
		self.RemoveSubsystem(selfOutIdx)
		return 0, err
	}

	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-selfOutTap:
				if !ok {
					return
				}
				if mapped, keep := outToOtherIn(msg); keep {
					other.EmitMsgIn(mapped)
				}
			case <-stopCh:
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case msg, ok := <-otherOutTap:
				if !ok {
					return
				}
				if mapped, keep := otherOutToIn(msg); keep {
					self.EmitMsgIn(mapped)
				}
			case <-stopCh:
				return
			}
		}
	}()

	self.mu.Lock()
	idx := self.allocIdx()
	self.stopFns[idx] = func() {
		close(stopCh)
		self.RemoveSubsystem(selfOutIdx)
		other.RemoveSubsystem(otherOutIdx)
	}
	self.mu.Unlock()

	return idx, nil
}

// AddTranslatorDirect wires self's output stream to other's *output*
// stream: every output self produces is also offered (through
// outToOtherOut) as an output of other, and vice-versa via otherInToIn
// feeding self's input. This is the shape used when a sub-broker is the
// internal implementation of an exposed broker (e.g. the façade wrapping
// the connection manager).
func AddTranslatorDirect[I, O, OI, OO any](
	self *Broker[I, O],
	other *Broker[OI, OO],
	outToOtherOut func(O) (OO, bool),
	otherInToIn func(OI) (I, bool),
) (int, error) {
	if self.id() == other.id() {
		return 0, ErrLinkedBrokers
	}

	selfOutTap, selfOutIdx, err := self.GetTapOutSync()
	if err != nil {
		return 0, err
	}
	otherInTap, otherInIdx, err := other.GetTapInSync()
	if err != nil {
		self.RemoveSubsystem(selfOutIdx)
		return 0, err
	}

	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-selfOutTap:
				if !ok {
					return
				}
				if mapped, keep := outToOtherOut(msg); keep {
					other.EmitMsgOut(mapped)
				}
			case <-stopCh:
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case msg, ok := <-otherInTap:
				if !ok {
					return
				}
				if mapped, keep := otherInToIn(msg); keep {
					self.EmitMsgIn(mapped)
				}
			case <-stopCh:
				return
			}
		}
	}()

	self.mu.Lock()
	idx := self.allocIdx()
	self.stopFns[idx] = func() {
		close(stopCh)
		self.RemoveSubsystem(selfOutIdx)
		other.RemoveSubsystem(otherInIdx)
	}
	self.mu.Unlock()

	return idx, nil
}

// Forward is the one-way version of AddTranslatorLink: every output of self
// that passes filter is emitted as an input into other. Returns an index
// that can be passed to self.RemoveSubsystem.
func Forward[I, O, OI, OO any](
	self *Broker[I, O],
	other *Broker[OI, OO],
	filter func(O) (OI, bool),
) (int, error) {
	if self.id() == other.id() {
		return 0, ErrLinkedBrokers
	}

	selfOutTap, selfOutIdx, err := self.GetTapOutSync()
	if err != nil {
		return 0, err
	}

	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-selfOutTap:
				if !ok {
					return
				}
				if mapped, keep := filter(msg); keep {
					other.EmitMsgIn(mapped)
				}
			case <-stopCh:
				return
			}
		}
	}()

	self.mu.Lock()
	idx := self.allocIdx()
	self.stopFns[idx] = func() {
		close(stopCh)
		self.RemoveSubsystem(selfOutIdx)
	}
	self.mu.Unlock()

	return idx, nil
}
