package dtp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// singleTimer wraps time.Timer with a synchronous stop: stopAndWait
// guarantees that once it returns, no in-flight firing of this timer is
// still executing, and no future firing will execute (§5 "Cancellation
// and timeouts": flow destruction "must wait for any in-flight handler
// to finish before freeing flow state").
type singleTimer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	timer   *time.Timer
	stopped bool
	running bool
}

func newSingleTimer() *singleTimer {
	st := &singleTimer{}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// arm (re)schedules the timer to fire handler after d, cancelling any
// pending firing first. A no-op once stopAndWait has been called.
func (st *singleTimer) arm(d time.Duration, handler func()) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopped {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d, func() {
		st.mu.Lock()
		if st.stopped {
			st.mu.Unlock()
			return
		}
		st.running = true
		st.mu.Unlock()

		handler()

		st.mu.Lock()
		st.running = false
		st.cond.Broadcast()
		st.mu.Unlock()
	})
}

// cancel disarms the timer without the synchronous guarantee stopAndWait
// gives — used for routine disarming (e.g. the rtx timer once rtxq
// empties), where an already-in-flight firing is harmless.
func (st *singleTimer) cancel() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
	}
}

// stopAndWait permanently disables the timer and blocks until any
// in-flight firing completes.
func (st *singleTimer) stopAndWait() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stopped = true
	if st.timer != nil {
		st.timer.Stop()
	}
	for st.running {
		st.cond.Wait()
	}
}

// timerSet is the per-flow timer set (§4.3): sender-inactivity,
// receiver-inactivity, and retransmission.
type timerSet struct {
	flow *Flow

	sndInact *singleTimer
	rcvInact *singleTimer
	rtx      *singleTimer
}

func newTimerSet(f *Flow) *timerSet {
	return &timerSet{
		flow:     f,
		sndInact: newSingleTimer(),
		rcvInact: newSingleTimer(),
		rtx:      newSingleTimer(),
	}
}

func (ts *timerSet) stopAndWait() {
	ts.sndInact.stopAndWait()
	ts.rcvInact.stopAndWait()
	ts.rtx.stopAndWait()
}

// rearmSenderInactivity rearms to now+3*mpl_r_a on every data send when
// DTCP is present (§4.3).
func (ts *timerSet) rearmSenderInactivity() {
	f := ts.flow
	ts.sndInact.arm(3*f.mplRA, func() {
		f.mu.Lock()
		f.setDRF = true
		f.mu.Unlock()
		onSenderInactivity(f)
	})
}

// rearmReceiverInactivity rearms to now+2*mpl_r_a on every data receive
// when DTCP is present (§4.3).
func (ts *timerSet) rearmReceiverInactivity() {
	f := ts.flow
	ts.rcvInact.arm(2*f.mplRA, func() {
		onReceiverInactivity(f)
	})
}

// fireRtx is the retransmission timer handler (§4.3, normal.c rtx_tmr_cb):
// it scans rtxq from rtxTmrNext, clones every entry whose deadline has
// passed into a batch and advances its deadline by rtxTmrInt; the first
// entry not yet due becomes the new rtxTmrNext and rearms. The lock is
// released before the batch is transmitted.
func (ts *timerSet) fireRtx() {
	f := ts.flow

	f.mu.Lock()
	now := time.Now()
	var batch []*Buffer
	var nextArm *Buffer

	start := 0
	if f.rtxTmrNext != nil {
		for i, e := range f.rtxq.entries {
			if e == f.rtxTmrNext {
				start = i
				break
			}
		}
	}

	for i := start; i < len(f.rtxq.entries); i++ {
		e := f.rtxq.entries[i]
		if !now.Before(e.rtxDeadline) {
			e.rtxDeadline = e.rtxDeadline.Add(f.rtxTmrInt)
			batch = append(batch, e.Clone())
		} else {
			nextArm = e
			break
		}
	}

	if nextArm != nil {
		f.rtxTmrNext = nextArm
		ts.rtx.arm(time.Until(nextArm.rtxDeadline), ts.fireRtx)
	} else {
		f.rtxTmrNext = nil
	}
	destAddr := f.RemoteAddr
	tx := f.tx
	f.mu.Unlock()

	for _, b := range batch {
		if tx == nil {
			continue
		}
		if err := tx.Transmit(context.Background(), destAddr, b, false); err != nil {
			slog.Debug("dtp: rtx retransmit failed", "flow", f.logID(), "seq", b.SeqNum(), "err", err)
		}
	}
}

// armRtxIfIdle starts the retransmission timer if it is not already
// running, due at the head of rtxq (called under f.mu, immediately
// after pushing a new entry — §4.5 step 9).
func (ts *timerSet) armRtxIfIdle() {
	f := ts.flow
	if f.rtxTmrNext != nil {
		return
	}
	head := f.rtxq.head()
	if head == nil {
		return
	}
	f.rtxTmrNext = head
	ts.rtx.arm(time.Until(head.rtxDeadline), ts.fireRtx)
}

// cancelRtx disarms the retransmission timer (called under f.mu when
// rtxq becomes empty — §4.7 step 4).
func (ts *timerSet) cancelRtx() {
	ts.flow.rtxTmrNext = nil
	ts.rtx.cancel()
}

// rearmRtxAt rearms the retransmission timer for the current rtxTmrNext
// (called under f.mu after an ack leaves rtxTmrNext cleared but rtxq
// non-empty — §4.7 step 4).
func (ts *timerSet) rearmRtxAt(next *Buffer) {
	ts.flow.rtxTmrNext = next
	ts.rtx.arm(time.Until(next.rtxDeadline), ts.fireRtx)
}
