// Package observable provides a validated value cell that notifies
// observers on change.
//
// Set runs the optional validator against the proposed value. A rejection
// leaves the stored value unchanged and notifies nobody. An accepted value is
// copied in, the owner handler runs first, then every connected observer is
// notified through a flow source, immediately or through its queue. Set
// returns the number of external observers reached; the owner is not counted.
//
// Observers receive the observable itself and read the current value with
// Get, so a queued observer sees the latest value at the time it runs.
//
//	temp := observable.New("setpoint", 21,
//	    observable.WithValidator(func(_ *observable.Observable[int], v int) error {
//	        if v < 5 || v > 30 {
//	            return errors.ErrInvalidArgument
//	        }
//	        return nil
//	    }))
//	temp.Connect(observable.NewObserver("display", redraw, flow.WithQueue(uiQueue)))
//	temp.Set(23)
//
// Writers from different goroutines are serialized; each waits for the
// change in progress to finish notifying. A Set or Update issued through the
// handle an immediate observer or validator receives fails with
// errors.ErrBusy, since it would wait on itself.
package observable
