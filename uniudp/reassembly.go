package uniudp

import (
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/templexxx/xorsimd"
)

const (
	pendingEvictAge    = 30 * time.Second
	dedupEvictAge      = 10 * time.Second
	maxPendingMessages = 100
)

// CompletionReason identifies why a MessageReport was produced.
type CompletionReason int

const (
	Completed CompletionReason = iota
	InactivityTimeout
	OverallTimeout
)

func (r CompletionReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case InactivityTimeout:
		return "inactivity_timeout"
	case OverallTimeout:
		return "overall_timeout"
	default:
		return "unknown"
	}
}

// MessageReport is the structured outcome of one reassembled (or timed-out)
// UniUDP message, per spec.md §4.4.
type MessageReport struct {
	MessageID          uint64
	Payload            []byte
	ChunksReceived     int
	LostChunks         []int
	RedundancyRequired uint16
	FECGroupSize       uint16
	FECRecoveredChunks []int
	Source             net.Addr
	CompletionReason   CompletionReason
}

// messageState is the per-message_id reassembly state, exclusively owned by
// the Reassembler that created it.
type messageState struct {
	totalChunks   int
	chunkSize     uint16
	messageLength uint32
	redundancy    uint16
	fecGroupSize  uint16

	chunks     [][]byte
	chunkLens  []int
	minAttempt []uint16

	parity           [][]byte
	parityMinAttempt []uint16

	fecRecovered []int

	source  net.Addr
	created time.Time
}

func newMessageState(p *Packet, source net.Addr) *messageState {
	total := int(p.TotalChunks)
	groupSize := p.GroupSize()
	numGroups := (total + int(groupSize) - 1) / int(groupSize)
	s := &messageState{
		totalChunks:      total,
		chunkSize:        p.ChunkSize,
		messageLength:    p.MessageLength,
		redundancy:       p.Redundancy,
		fecGroupSize:     groupSize,
		chunks:           make([][]byte, total),
		chunkLens:        make([]int, total),
		minAttempt:       make([]uint16, total),
		parity:           make([][]byte, numGroups),
		parityMinAttempt: make([]uint16, numGroups),
		source:           source,
		created:          time.Now(),
	}
	for i := range s.minAttempt {
		s.minAttempt[i] = p.Redundancy + 1
	}
	for i := range s.parityMinAttempt {
		s.parityMinAttempt[i] = p.Redundancy + 1
	}
	return s
}

// matches reports whether a later packet for the same message_id declares
// the same structural fields as the stored state (spec.md §4.4 step 2).
func (s *messageState) matches(p *Packet) bool {
	return s.totalChunks == int(p.TotalChunks) &&
		s.chunkSize == p.ChunkSize &&
		s.messageLength == p.MessageLength &&
		s.redundancy == p.Redundancy &&
		s.fecGroupSize == p.GroupSize()
}

func (s *messageState) expectedChunkLength(idx int) int {
	if idx < s.totalChunks-1 {
		return int(s.chunkSize)
	}
	tail := int(s.messageLength) - (s.totalChunks-1)*int(s.chunkSize)
	if tail < 0 {
		tail = 0
	}
	return tail
}

func (s *messageState) complete() bool {
	for _, c := range s.chunks {
		if c == nil {
			return false
		}
	}
	return true
}

// Reassembler accumulates UniUDP packets into complete messages. It owns
// two independently-locked shared structures (spec.md §4.4/§5): the
// pending-message map and the completed dedup set. Neither lock is held
// during socket I/O.
type Reassembler struct {
	pendingMu sync.Mutex
	pending   map[uint64]*messageState

	dedupMu sync.Mutex
	dedup   map[uint64]time.Time

	// completedMu/completed buffers reports produced outside of an
	// explicit caller wait (e.g. a packet that completes a message nobody
	// is currently blocked on ReceiveMessage for).
	completedMu sync.Mutex
	completed   map[uint64]*MessageReport
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		pending:   make(map[uint64]*messageState),
		dedup:     make(map[uint64]time.Time),
		completed: make(map[uint64]*MessageReport),
	}
}

// Reset clears both caches atomically — the test-support operation spec.md
// §5 calls for.
func (r *Reassembler) Reset() {
	r.pendingMu.Lock()
	r.dedupMu.Lock()
	r.completedMu.Lock()
	defer r.pendingMu.Unlock()
	defer r.dedupMu.Unlock()
	defer r.completedMu.Unlock()

	r.pending = make(map[uint64]*messageState)
	r.dedup = make(map[uint64]time.Time)
	r.completed = make(map[uint64]*MessageReport)
}

// evictDedup drops dedup entries older than dedupEvictAge. Called on every
// receive, per spec.md §4.4.
func (r *Reassembler) evictDedup() {
	now := time.Now()
	r.dedupMu.Lock()
	for id, t := range r.dedup {
		if now.Sub(t) > dedupEvictAge {
			delete(r.dedup, id)
		}
	}
	r.dedupMu.Unlock()
}

// evictPending silently drops pending states older than pendingEvictAge and
// enforces the 100-message cap by dropping the oldest excess entries. The
// per-caller InactivityTimeout/OverallTimeout delivery paths are driven by
// ReceiveMessage's own wait logic, not by this background sweep.
func (r *Reassembler) evictPending() {
	now := time.Now()
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, st := range r.pending {
		if now.Sub(st.created) > pendingEvictAge {
			delete(r.pending, id)
		}
	}
	if len(r.pending) > maxPendingMessages {
		type aged struct {
			id      uint64
			created time.Time
		}
		all := make([]aged, 0, len(r.pending))
		for id, st := range r.pending {
			all = append(all, aged{id, st.created})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })
		excess := len(all) - maxPendingMessages
		for i := 0; i < excess; i++ {
			delete(r.pending, all[i].id)
		}
	}
}

func (r *Reassembler) isDuplicate(id uint64) bool {
	r.dedupMu.Lock()
	_, ok := r.dedup[id]
	r.dedupMu.Unlock()
	return ok
}

func (r *Reassembler) markDeduped(id uint64) {
	r.dedupMu.Lock()
	r.dedup[id] = time.Now()
	r.dedupMu.Unlock()
}

// ProcessPacket ingests one already-parsed packet, per spec.md §4.4. It
// returns a non-nil report if the packet completed its message.
func (r *Reassembler) ProcessPacket(p *Packet, source net.Addr) *MessageReport {
	r.evictDedup()

	if r.isDuplicate(p.MessageID) {
		return nil
	}
	if p.Attempt < 1 || p.Attempt > p.Redundancy {
		log.Printf("uniudp: dropping packet msg=%d: attempt %d out of range [1,%d]", p.MessageID, p.Attempt, p.Redundancy)
		return nil
	}

	r.pendingMu.Lock()
	st, ok := r.pending[p.MessageID]
	if !ok {
		st = newMessageState(p, source)
		r.pending[p.MessageID] = st
	} else if !st.matches(p) {
		r.pendingMu.Unlock()
		log.Printf("uniudp: dropping packet msg=%d: fields mismatch stored state", p.MessageID)
		return nil
	}

	if int(p.ChunkIndex) >= st.totalChunks && !p.IsParity() {
		r.pendingMu.Unlock()
		log.Printf("uniudp: dropping packet msg=%d: chunk_index %d out of range", p.MessageID, p.ChunkIndex)
		return nil
	}

	var done bool
	if p.IsParity() {
		done = st.ingestParity(p)
	} else {
		done = st.ingestData(p)
	}

	if !done {
		r.pendingMu.Unlock()
		return nil
	}

	delete(r.pending, p.MessageID)
	r.pendingMu.Unlock()

	report := st.buildReport(p.MessageID, Completed)
	r.markDeduped(p.MessageID)
	return report
}

// ingestData stores a data packet's payload (first observation wins),
// updates min_attempt, and attempts FEC recovery for its group. Returns
// whether the message is now complete.
func (s *messageState) ingestData(p *Packet) bool {
	idx := int(p.ChunkIndex)
	expected := s.expectedChunkLength(idx)
	if int(p.PayloadLen) != expected {
		log.Printf("uniudp: dropping data packet msg=%d chunk=%d: payload_len %d != expected %d", p.MessageID, idx, p.PayloadLen, expected)
		return s.complete()
	}

	if s.chunks[idx] == nil {
		buf := make([]byte, len(p.Payload))
		copy(buf, p.Payload)
		s.chunks[idx] = buf
		s.chunkLens[idx] = len(buf)
	}
	if p.Attempt < s.minAttempt[idx] {
		s.minAttempt[idx] = p.Attempt
	}

	if s.fecGroupSize > 1 {
		s.tryRecoverGroup(groupIndexFor(idx, s.fecGroupSize))
	}
	return s.complete()
}

// ingestParity stores a parity packet (group-aligned index required),
// attempts FEC recovery for its group, and returns whether the message is
// now complete.
func (s *messageState) ingestParity(p *Packet) bool {
	groupStart := int(p.ChunkIndex)
	if groupStart%int(s.fecGroupSize) != 0 {
		log.Printf("uniudp: dropping parity packet msg=%d: chunk_index %d not group-aligned (group_size=%d)", p.MessageID, groupStart, s.fecGroupSize)
		return s.complete()
	}
	group := groupStart / int(s.fecGroupSize)
	if group >= len(s.parity) {
		log.Printf("uniudp: dropping parity packet msg=%d: group %d out of range", p.MessageID, group)
		return s.complete()
	}
	if int(p.PayloadLen) != int(s.chunkSize) {
		log.Printf("uniudp: dropping parity packet msg=%d: payload_len %d != chunk_size %d", p.MessageID, p.PayloadLen, s.chunkSize)
		return s.complete()
	}

	if s.parity[group] == nil {
		buf := make([]byte, len(p.Payload))
		copy(buf, p.Payload)
		s.parity[group] = buf
	}
	if p.Attempt < s.parityMinAttempt[group] {
		s.parityMinAttempt[group] = p.Attempt
	}

	s.tryRecoverGroup(group)
	return s.complete()
}

func groupIndexFor(chunkIdx int, groupSize uint16) int {
	return chunkIdx / int(groupSize)
}

// tryRecoverGroup reconstructs a single missing chunk in group via XOR of
// parity with every present data chunk, when exactly one chunk is missing
// and parity is present (spec.md §4.4 step 5).
func (s *messageState) tryRecoverGroup(group int) {
	if s.parity[group] == nil {
		return
	}
	groupStart := group * int(s.fecGroupSize)
	groupEnd := groupStart + int(s.fecGroupSize)
	if groupEnd > s.totalChunks {
		groupEnd = s.totalChunks
	}

	missingIdx := -1
	missingCount := 0
	present := make([][]byte, 0, groupEnd-groupStart)
	for idx := groupStart; idx < groupEnd; idx++ {
		if s.chunks[idx] == nil {
			missingCount++
			missingIdx = idx
			continue
		}
		present = append(present, padToChunkSize(s.chunks[idx], s.chunkSize))
	}
	if missingCount != 1 {
		return
	}

	recovered := make([]byte, s.chunkSize)
	xorsimd.Encode(recovered, append(present, s.parity[group]))

	expected := s.expectedChunkLength(missingIdx)
	s.chunks[missingIdx] = recovered[:expected]
	s.chunkLens[missingIdx] = expected
	s.minAttempt[missingIdx] = s.redundancy + 1
	s.fecRecovered = append(s.fecRecovered, missingIdx)
}

func (s *messageState) buildReport(id uint64, reason CompletionReason) *MessageReport {
	payload := make([]byte, 0, s.messageLength)
	chunksReceived := 0
	var lost []int
	for i, c := range s.chunks {
		if c != nil {
			payload = append(payload, c...)
			chunksReceived++
		} else {
			lost = append(lost, i)
		}
	}
	sort.Ints(lost)

	redundancyRequired := s.redundancy + 1
	if len(lost) == 0 {
		redundancyRequired = 0
		for _, a := range s.minAttempt {
			if a > redundancyRequired {
				redundancyRequired = a
			}
		}
	}

	recovered := append([]int(nil), s.fecRecovered...)
	sort.Ints(recovered)

	return &MessageReport{
		MessageID:          id,
		Payload:            payload,
		ChunksReceived:     chunksReceived,
		LostChunks:         lost,
		RedundancyRequired: redundancyRequired,
		FECGroupSize:       s.fecGroupSize,
		FECRecoveredChunks: recovered,
		Source:             s.source,
		CompletionReason:   reason,
	}
}

// ReceiveOptions configures one ReceiveMessage call.
type ReceiveOptions struct {
	// MessageID, when non-nil, restricts delivery to one specific message.
	MessageID *uint64

	InactivityTimeout time.Duration
	OverallTimeout    time.Duration
}

// ReceiveMessage implements spec.md §4.4's receive loop: it drains buffered
// completed messages first, then reads packets off conn, processing each
// through ProcessPacket, until a matching message completes or a timeout
// elapses.
func (r *Reassembler) ReceiveMessage(conn net.PacketConn, opts ReceiveOptions) (*MessageReport, error) {
	deadline := time.Now().Add(opts.OverallTimeout)

	if rep := r.takeBuffered(opts.MessageID); rep != nil {
		return rep, nil
	}

	readBuf := make([]byte, HeaderLength+65536)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if opts.MessageID != nil {
				if partial := r.evictOnePending(*opts.MessageID, OverallTimeout); partial != nil {
					return partial, nil
				}
			}
			return nil, fmt.Errorf("uniudp: receive_message: overall timeout elapsed")
		}

		wait := opts.InactivityTimeout
		if wait <= 0 || wait > remaining {
			wait = remaining
		}

		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return nil, fmt.Errorf("uniudp: set read deadline: %w", err)
		}
		n, addr, err := conn.ReadFrom(readBuf)
		if err != nil {
			if isTimeoutErr(err) {
				r.evictPending()
				if opts.MessageID != nil {
					if partial := r.evictOnePending(*opts.MessageID, InactivityTimeout); partial != nil {
						return partial, nil
					}
				}
				continue
			}
			return nil, fmt.Errorf("uniudp: read: %w", err)
		}

		pkt, err := ParsePacket(readBuf[:n])
		if err != nil {
			log.Printf("uniudp: dropping malformed packet from %v: %v", addr, err)
			continue
		}

		report := r.ProcessPacket(pkt, addr)
		if report == nil {
			continue
		}
		if opts.MessageID != nil && report.MessageID != *opts.MessageID {
			r.bufferCompleted(report)
			continue
		}
		return report, nil
	}
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (r *Reassembler) takeBuffered(filter *uint64) *MessageReport {
	r.completedMu.Lock()
	defer r.completedMu.Unlock()
	if filter != nil {
		if rep, ok := r.completed[*filter]; ok {
			delete(r.completed, *filter)
			return rep
		}
		return nil
	}
	for id, rep := range r.completed {
		delete(r.completed, id)
		return rep
	}
	return nil
}

func (r *Reassembler) bufferCompleted(rep *MessageReport) {
	r.completedMu.Lock()
	r.completed[rep.MessageID] = rep
	r.completedMu.Unlock()
}

// evictOnePending delivers the partial state for id (if any exists), with
// the given reason, removing it from pending.
func (r *Reassembler) evictOnePending(id uint64, reason CompletionReason) *MessageReport {
	r.pendingMu.Lock()
	st, ok := r.pending[id]
	if !ok {
		r.pendingMu.Unlock()
		return nil
	}
	delete(r.pending, id)
	r.pendingMu.Unlock()
	return st.buildReport(id, reason)
}
