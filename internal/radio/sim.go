package radio

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hfried/meshlog/internal/logging"
)

// SimOptions configures the synthetic transport.
type SimOptions struct {
	// Interval between emitted packets. Default: 2s.
	Interval time.Duration

	// NodeCount is the number of simulated peer nodes. Default: 5.
	NodeCount int

	// Seed makes packet sequences reproducible. Zero seeds from the clock.
	Seed int64

	// Buffer is the packet channel capacity. Default: 64.
	Buffer int

	Logger *slog.Logger
}

// Sim is a synthetic transport that emits a mix of text, telemetry and
// position packets from a fixed set of fake peer nodes. It implements
// Interface and is the daemon's -transport sim mode.
type Sim struct {
	opts SimOptions
	log  *slog.Logger

	myID  string
	peers []simNode

	packets chan map[string]any
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

type simNode struct {
	id    string
	short string
	long  string
}

// NewSim creates and starts a synthetic transport.
func NewSim(opts SimOptions) *Sim {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.NodeCount <= 0 {
		opts.NodeCount = 5
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("radio-sim")
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	s := &Sim{
		opts:    opts,
		log:     log,
		myID:    fmt.Sprintf("!%08x", rng.Uint32()),
		packets: make(chan map[string]any, opts.Buffer),
		stop:    make(chan struct{}),
	}

	for i := 0; i < opts.NodeCount; i++ {
		s.peers = append(s.peers, simNode{
			id:    fmt.Sprintf("!%08x", rng.Uint32()),
			short: fmt.Sprintf("SIM%d", i+1),
			long:  fmt.Sprintf("Sim Node %d", i+1),
		})
	}

	s.wg.Add(1)
	go s.run(rng)

	return s
}

// Packets implements Interface.
func (s *Sim) Packets() <-chan map[string]any { return s.packets }

// MyInfo implements Interface.
func (s *Sim) MyInfo() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":        s.myID,
			"shortName": "SIM0",
			"longName":  "Sim Local Node",
		},
	}
}

// Nodes implements Interface.
func (s *Sim) Nodes() map[string]any {
	nodes := map[string]any{}
	for _, p := range s.peers {
		nodes[p.id] = map[string]any{
			"user": map[string]any{
				"id":        p.id,
				"shortName": p.short,
				"longName":  p.long,
			},
		}
	}
	return nodes
}

// SendText implements Interface; the sim only logs the send.
func (s *Sim) SendText(destID, text string) error {
	s.log.Info("sim send", "dest", destID, "text", text)
	return nil
}

// Close stops the generator and closes the packet channel.
func (s *Sim) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *Sim) run(rng *rand.Rand) {
	defer s.wg.Done()
	defer close(s.packets)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			pkt := s.nextPacket(rng)
			select {
			case s.packets <- pkt:
			case <-s.stop:
				return
			default:
				// Consumer is behind; drop rather than block the generator.
			}
		}
	}
}

func (s *Sim) nextPacket(rng *rand.Rand) map[string]any {
	from := s.peers[rng.Intn(len(s.peers))]

	pkt := map[string]any{
		"fromId":   from.id,
		"toId":     "^all",
		"id":       int64(rng.Uint32()),
		"channel":  int64(0),
		"rxRssi":   -60 - rng.Float64()*60,
		"rxSnr":    -10 + rng.Float64()*20,
		"hopLimit": int64(3),
		"hopStart": int64(3),
	}

	switch rng.Intn(3) {
	case 0:
		pkt["toId"] = s.myID
		pkt["decoded"] = map[string]any{
			"portnum": "TEXT_MESSAGE_APP",
			"text":    fmt.Sprintf("hello from %s #%d", from.short, rng.Intn(1000)),
		}
	case 1:
		pkt["decoded"] = map[string]any{
			"portnum": "TELEMETRY_APP",
			"telemetry": map[string]any{
				"deviceMetrics": map[string]any{
					"batteryLevel":       float64(rng.Intn(101)),
					"voltage":            3.2 + rng.Float64(),
					"channelUtilization": rng.Float64() * 25,
					"airUtilTx":          rng.Float64() * 10,
				},
				"environmentMetrics": map[string]any{
					"temperature":      15 + rng.Float64()*15,
					"relativeHumidity": 30 + rng.Float64()*50,
				},
			},
		}
	default:
		pkt["decoded"] = map[string]any{
			"portnum": "POSITION_APP",
			"position": map[string]any{
				"latitudeI":  float64(377000000 + rng.Intn(2000000)),
				"longitudeI": float64(-1224000000 - rng.Intn(2000000)),
				"altitude":   float64(rng.Intn(300)),
			},
		}
	}

	return pkt
}
