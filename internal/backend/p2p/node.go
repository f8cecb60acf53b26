package p2p

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/heap"
)

// ProtocolID is the stream protocol carrying all node traffic.
const ProtocolID = "/ronet/1.0.0"

// Transport tunes dialing, framing, and failure handling.
type Transport struct {
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	MaxRetries     int

	DialRate  float64
	DialBurst int

	MaxFrameSize      int
	CompressThreshold int

	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Config places one node in the job. Peers holds every PE's full
// multiaddr (including the /p2p/ identity component), indexed by
// rank.
type Config struct {
	Rank       int
	WorldSize  int
	ListenAddr string
	Peers      []string
	Transport  Transport
}

// Node is one PE's transport endpoint. It implements both the
// backend contract (one-sided data operations against remote heaps)
// and the bootstrap contract (rank assignment, barrier, split): both
// travel as frames over the same streams. Outbound streams carry this
// node's requests and their responses; inbound streams serve peers'
// requests.
type Node struct {
	cfg    Config
	logger *slog.Logger

	host   host.Host
	region *heap.Region

	dialLimit *rate.Limiter
	seq       atomic.Uint64
	ctl       *controller
	world     *p2pComm

	mu     sync.Mutex
	links  map[int]*link
	closed atomic.Bool
}

// link is one established outbound stream.
type link struct {
	pe      int
	stream  network.Stream
	wmu     sync.Mutex
	breaker *gobreaker.CircuitBreaker

	pmu     sync.Mutex
	pending map[uint64]chan result
	dead    bool
}

type result struct {
	f   *frame
	err error
}

// NewNode creates the libp2p host and starts listening. Peer dialing
// is deferred to Start and to first use.
func NewNode(cfg Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("p2p: host: %w", err)
	}

	limit := rate.Inf
	if cfg.Transport.DialRate > 0 {
		limit = rate.Limit(cfg.Transport.DialRate)
	}
	burst := cfg.Transport.DialBurst
	if burst < 1 {
		burst = 1
	}

	n := &Node{
		cfg:       cfg,
		logger:    logger.With("component", "p2p-backend", "pe", cfg.Rank),
		host:      h,
		dialLimit: rate.NewLimiter(limit, burst),
		links:     make(map[int]*link),
	}
	n.ctl = newController()
	ranks := make([]int, cfg.WorldSize)
	for i := range ranks {
		ranks[i] = i
	}
	n.world = &p2pComm{ranks: ranks, rank: cfg.Rank, key: commKeyFor(ranks)}

	h.SetStreamHandler(ProtocolID, n.serveStream)
	n.logger.Info("p2p host listening", "peer_id", h.ID().String(), "addrs", h.Addrs())
	return n, nil
}

// BindRegion attaches the symmetric region served to peers.
func (n *Node) BindRegion(r *heap.Region) { n.region = r }

// Addr returns this node's dialable multiaddr including the /p2p/
// identity component, in the form the peer table expects. Empty if the
// host has no listen address.
func (n *Node) Addr() string {
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	id, err := ma.NewMultiaddr("/p2p/" + n.host.ID().String())
	if err != nil {
		return ""
	}
	return addrs[0].Encapsulate(id).String()
}

// Start dials every peer up front so the first data operation does
// not pay connection setup. Dial failures retry per the transport
// policy; a peer that never comes up fails Start.
func (n *Node) Start(ctx context.Context) error {
	for pe := range n.cfg.Peers {
		if pe == n.cfg.Rank {
			continue
		}
		if _, err := n.getLink(ctx, pe); err != nil {
			return fmt.Errorf("p2p: peer %d: %w", pe, err)
		}
	}
	n.logger.Info("p2p backend started", "peers", len(n.cfg.Peers)-1)
	return nil
}

// Stop tears down all streams and the host.
func (n *Node) Stop() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.mu.Lock()
	links := n.links
	n.links = make(map[int]*link)
	n.mu.Unlock()
	for _, l := range links {
		l.fail(fmt.Errorf("p2p: node stopped"))
		_ = l.stream.Reset()
	}
	return n.host.Close()
}

func (n *Node) Put(pe int, dest uint64, src []byte) error {
	if pe == n.cfg.Rank {
		return n.applyPut(dest, src)
	}
	_, err := n.roundTrip(pe, &frame{typ: msgPut, addr: dest, payload: src}, true)
	return err
}

func (n *Node) Get(pe int, src uint64, dest []byte) error {
	if pe == n.cfg.Rank {
		return n.applyGet(src, dest)
	}
	resp, err := n.roundTrip(pe, &frame{typ: msgGet, addr: src, operand: uint64(len(dest))}, true)
	if err != nil {
		return err
	}
	if len(resp.payload) != len(dest) {
		return fmt.Errorf("p2p: get returned %d bytes, want %d", len(resp.payload), len(dest))
	}
	copy(dest, resp.payload)
	return nil
}

func (n *Node) AMO(pe int, op backend.AMOOp, addr uint64, width int, operand, operand2 uint64) (uint64, error) {
	if pe == n.cfg.Rank {
		return n.applyAMO(op, addr, width, operand, operand2)
	}
	resp, err := n.roundTrip(pe, &frame{
		typ:      msgAMO,
		op:       uint64(op),
		addr:     addr,
		width:    uint64(width),
		operand:  operand,
		operand2: operand2,
	}, true)
	if err != nil {
		return 0, err
	}
	return resp.operand, nil
}

func (n *Node) Probe(pe int) error {
	if pe == n.cfg.Rank {
		return nil
	}
	_, err := n.roundTrip(pe, &frame{typ: msgPing}, true)
	return err
}

// roundTrip sends one request and waits for its response. Data-plane
// calls go through the peer's circuit breaker and the request
// timeout; control traffic (barrier, split) bypasses both, since a
// barrier legitimately blocks for as long as the slowest member
// takes.
func (n *Node) roundTrip(pe int, f *frame, data bool) (*frame, error) {
	if n.closed.Load() {
		return nil, fmt.Errorf("p2p: node stopped")
	}
	if pe < 0 || pe >= n.cfg.WorldSize {
		return nil, fmt.Errorf("p2p: no such pe %d", pe)
	}
	l, err := n.getLink(context.Background(), pe)
	if err != nil {
		return nil, err
	}

	call := func() (any, error) {
		timeout := time.Duration(0)
		if data {
			timeout = n.cfg.Transport.RequestTimeout
		}
		resp, err := n.send(l, f, timeout)
		if err != nil {
			return nil, err
		}
		if resp.status != 0 {
			return nil, fmt.Errorf("p2p: pe %d: %s", pe, resp.payload)
		}
		return resp, nil
	}

	var v any
	if data {
		v, err = l.breaker.Execute(call)
	} else {
		v, err = call()
	}
	if err != nil {
		return nil, err
	}
	return v.(*frame), nil
}

func (n *Node) send(l *link, f *frame, timeout time.Duration) (*frame, error) {
	f.seq = n.seq.Add(1)
	f.from = uint64(n.cfg.Rank)
	ch := make(chan result, 1)
	if err := l.register(f.seq, ch); err != nil {
		return nil, err
	}

	l.wmu.Lock()
	err := writeFrame(l.stream, f, n.cfg.Transport.CompressThreshold, n.cfg.Transport.MaxFrameSize)
	l.wmu.Unlock()
	if err != nil {
		l.unregister(f.seq)
		n.dropLink(l, err)
		return nil, fmt.Errorf("p2p: write to pe %d: %w", l.pe, err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case r := <-ch:
		return r.f, r.err
	case <-expired:
		l.unregister(f.seq)
		return nil, fmt.Errorf("p2p: request to pe %d timed out after %v", l.pe, timeout)
	}
}

// getLink returns the established link to pe, dialing if needed.
func (n *Node) getLink(ctx context.Context, pe int) (*link, error) {
	n.mu.Lock()
	l := n.links[pe]
	n.mu.Unlock()
	if l != nil {
		return l, nil
	}

	l, err := n.dial(ctx, pe)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	if existing := n.links[pe]; existing != nil {
		// Lost the dial race.
		n.mu.Unlock()
		_ = l.stream.Reset()
		return existing, nil
	}
	n.links[pe] = l
	n.mu.Unlock()
	go n.readLoop(l)
	return l, nil
}

func (n *Node) dial(ctx context.Context, pe int) (*link, error) {
	maddr, err := ma.NewMultiaddr(n.cfg.Peers[pe])
	if err != nil {
		return nil, fmt.Errorf("p2p: peer %d addr: %w", pe, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: peer %d addr: %w", pe, err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.Transport.MaxRetries; attempt++ {
		if attempt > 0 {
			n.logger.Debug("retrying dial", "pe", pe, "attempt", attempt, "error", lastErr)
			time.Sleep(n.cfg.Transport.ReconnectDelay)
		}
		if err := n.dialLimit.Wait(ctx); err != nil {
			return nil, err
		}
		dctx := ctx
		var cancel context.CancelFunc = func() {}
		if n.cfg.Transport.ConnectTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, n.cfg.Transport.ConnectTimeout)
		}
		if err := n.host.Connect(dctx, *info); err != nil {
			cancel()
			lastErr = err
			continue
		}
		s, err := n.host.NewStream(dctx, info.ID, ProtocolID)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return &link{
			pe:      pe,
			stream:  s,
			breaker: n.newBreaker(pe),
			pending: make(map[uint64]chan result),
		}, nil
	}
	return nil, fmt.Errorf("p2p: dial pe %d: %w", pe, lastErr)
}

func (n *Node) newBreaker(pe int) *gobreaker.CircuitBreaker {
	failures := n.cfg.Transport.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("pe-%d", pe),
		Timeout: n.cfg.Transport.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Warn("peer breaker state change", "peer", name, "from", from.String(), "to", to.String())
		},
	})
}

// readLoop demultiplexes responses on an outbound stream by seq.
func (n *Node) readLoop(l *link) {
	br := bufio.NewReader(l.stream)
	for {
		f, err := readFrame(br, n.cfg.Transport.MaxFrameSize)
		if err != nil {
			n.dropLink(l, err)
			return
		}
		l.complete(f)
	}
}

func (n *Node) dropLink(l *link, err error) {
	n.mu.Lock()
	if n.links[l.pe] == l {
		delete(n.links, l.pe)
	}
	n.mu.Unlock()
	l.fail(err)
	_ = l.stream.Reset()
	if !n.closed.Load() {
		n.logger.Warn("link down", "pe", l.pe, "error", err)
	}
}

func (l *link) register(seq uint64, ch chan result) error {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	if l.dead {
		return fmt.Errorf("p2p: link to pe %d is down", l.pe)
	}
	l.pending[seq] = ch
	return nil
}

func (l *link) unregister(seq uint64) {
	l.pmu.Lock()
	delete(l.pending, seq)
	l.pmu.Unlock()
}

func (l *link) complete(f *frame) {
	l.pmu.Lock()
	ch := l.pending[f.seq]
	delete(l.pending, f.seq)
	l.pmu.Unlock()
	if ch != nil {
		ch <- result{f: f}
	}
}

// fail resolves every waiter with err and refuses new registrations.
func (l *link) fail(err error) {
	l.pmu.Lock()
	pending := l.pending
	l.pending = make(map[uint64]chan result)
	l.dead = true
	l.pmu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// serveStream handles one peer's inbound request stream. Data
// operations are applied inline; control frames hand their reply
// callback to the controller, which fires it once the collective
// completes, so the loop keeps serving data traffic meanwhile.
func (n *Node) serveStream(s network.Stream) {
	defer s.Close()
	br := bufio.NewReader(s)
	var wmu sync.Mutex
	reply := func(f *frame) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := writeFrame(s, f, n.cfg.Transport.CompressThreshold, n.cfg.Transport.MaxFrameSize); err != nil {
			n.logger.Warn("response write failed", "error", err)
		}
	}

	for {
		req, err := readFrame(br, n.cfg.Transport.MaxFrameSize)
		if err != nil {
			return
		}
		switch req.typ {
		case msgPut:
			reply(respFor(req, nil, 0, n.applyPut(req.addr, req.payload)))
		case msgGet:
			buf := make([]byte, req.operand)
			err := n.applyGet(req.addr, buf)
			reply(respFor(req, buf, 0, err))
		case msgAMO:
			old, err := n.applyAMO(backend.AMOOp(req.op), req.addr, int(req.width), req.operand, req.operand2)
			reply(respFor(req, nil, old, err))
		case msgPing:
			reply(respFor(req, nil, 0, nil))
		case msgBarrier:
			n.ctl.barrierArrive(string(req.payload), func() {
				reply(respFor(req, nil, 0, nil))
			})
		case msgSplit:
			n.ctl.splitArrive(string(req.payload), int(req.from), int(int64(req.operand)), int(int64(req.operand2)),
				func(ranks []int) {
					reply(respFor(req, appendRanks(nil, ranks), 0, nil))
				})
		default:
			reply(respFor(req, nil, 0, fmt.Errorf("unknown frame type %d", req.typ)))
		}
	}
}

func respFor(req *frame, payload []byte, operand uint64, err error) *frame {
	resp := &frame{typ: req.typ, seq: req.seq, flags: flagResp, operand: operand, payload: payload}
	if err != nil {
		resp.status = 1
		resp.payload = []byte(err.Error())
	}
	return resp
}
