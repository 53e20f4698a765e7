package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/google/uuid"

	"voiceproc/internal/domain"
	"voiceproc/internal/infra/device"
)

type Node string

const (
	NodePlayer Node = "player"
	NodeMixer  Node = "mixer"
	NodeOutput Node = "output"
)

// Connection is a wired edge with the format pinned at wiring time.
type Connection struct {
	From   Node
	To     Node
	Format domain.Format
}

// Graph renders player -> mixer -> output onto a device stream. Its identity
// is stable for its lifetime and tags the configuration changes it owns.
//
// Lock order: mu, then renderMu, then the player's lock.
type Graph struct {
	id     string
	host   device.Host
	player *Player
	logger *slog.Logger

	mu              sync.Mutex
	attached        map[Node]bool
	connections     []Connection
	stream          device.Stream
	voiceProcessing bool
	built           bool

	rendering atomic.Bool

	renderMu sync.Mutex
	mixer    *beep.Mixer
}

func NewGraph(host device.Host, logger *slog.Logger) *Graph {
	id := uuid.NewString()
	g := &Graph{
		id:       id,
		host:     host,
		logger:   logger.With("component", "graph", "graph_id", id),
		attached: make(map[Node]bool),
		mixer:    &beep.Mixer{},
	}
	g.player = newPlayer(g, g.logger)
	return g
}

func (g *Graph) ID() string { return g.id }

func (g *Graph) Player() *Player { return g.player }

func (g *Graph) Rendering() bool { return g.rendering.Load() }

func (g *Graph) VoiceProcessingEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voiceProcessing
}

// Build rewires the graph from scratch. Any previous wiring is detached
// first, so repeated builds never duplicate connections. With voice
// processing the output leg takes the hardware default format, otherwise it
// is pinned to stereo at the current hardware rate.
func (g *Graph) Build(voiceProcessingEnabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rendering.Load() {
		return &domain.GraphError{Kind: domain.ConfigureFailed, Reason: "graph is rendering"}
	}

	g.detachAll()

	hw, err := g.host.HardwareFormat()
	if err != nil {
		return &domain.GraphError{Kind: domain.ConnectFailed, Reason: "reading hardware format", Err: err}
	}

	for _, n := range []Node{NodePlayer, NodeMixer, NodeOutput} {
		g.attached[n] = true
	}

	mixFormat := domain.StereoFormat(hw.SampleRate)
	outFormat := mixFormat
	if voiceProcessingEnabled {
		outFormat = domain.Format{}
	}

	if err := g.connect(NodePlayer, NodeMixer, mixFormat); err != nil {
		return err
	}
	if err := g.connect(NodeMixer, NodeOutput, outFormat); err != nil {
		return err
	}

	g.player.setOutputRate(hw.SampleRate)

	g.renderMu.Lock()
	g.mixer.Clear()
	g.mixer.Add(g.player)
	g.renderMu.Unlock()

	g.built = true
	g.logger.Debug("graph built",
		"voice_processing", voiceProcessingEnabled,
		"mix_format", mixFormat.String(),
		"output_format", outFormat.String(),
	)
	return nil
}

func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rendering.Load() {
		return nil
	}
	if !g.built {
		return &domain.GraphError{Kind: domain.StartFailed, Reason: "graph not built"}
	}

	format, ok := g.connectionFormat(NodeMixer, NodeOutput)
	if !ok {
		return &domain.GraphError{Kind: domain.StartFailed, Reason: "mixer not connected to output"}
	}

	stream, err := g.host.OpenOutput(format, g.render)
	if err != nil {
		return &domain.GraphError{Kind: domain.StartFailed, Reason: "opening output", Err: err}
	}
	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			g.logger.Warn("closing output", "error", cerr)
		}
		return &domain.GraphError{Kind: domain.StartFailed, Reason: "starting output", Err: err}
	}

	g.stream = stream
	g.rendering.Store(true)
	g.logger.Info("graph started", "format", stream.Format().String())
	return nil
}

// Stop is idempotent. Once it returns no render callback is in flight.
func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rendering.Store(false)
	if g.stream == nil {
		return
	}

	if err := g.stream.Stop(); err != nil {
		g.logger.Warn("stopping output", "error", err)
	}
	if err := g.stream.Close(); err != nil {
		g.logger.Warn("closing output", "error", err)
	}
	g.stream = nil
	g.logger.Debug("graph stopped")
}

func (g *Graph) SetVoiceProcessingEnabled(enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rendering.Load() {
		return &domain.GraphError{Kind: domain.ConfigureFailed, Reason: "voice processing cannot change while rendering"}
	}
	if err := g.host.SetVoiceProcessing(enabled); err != nil {
		return &domain.GraphError{Kind: domain.ConfigureFailed, Reason: "configuring output unit", Err: err}
	}
	g.voiceProcessing = enabled
	return nil
}

func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Connection(nil), g.connections...)
}

func (g *Graph) ConnectionCount(from, to Node) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, c := range g.connections {
		if c.From == from && c.To == to {
			n++
		}
	}
	return n
}

// OutputFormat is the format pinned on the mixer -> output leg.
func (g *Graph) OutputFormat() (domain.Format, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectionFormat(NodeMixer, NodeOutput)
}

func (g *Graph) connect(from, to Node, format domain.Format) error {
	if !g.attached[from] || !g.attached[to] {
		return &domain.GraphError{
			Kind:   domain.ConnectFailed,
			Reason: fmt.Sprintf("connecting %s to %s: node not attached", from, to),
		}
	}

	// A node has a single output bus; connecting it again replaces the edge.
	kept := g.connections[:0]
	for _, c := range g.connections {
		if c.From != from {
			kept = append(kept, c)
		}
	}
	g.connections = append(kept, Connection{From: from, To: to, Format: format})
	return nil
}

func (g *Graph) connectionFormat(from, to Node) (domain.Format, bool) {
	for _, c := range g.connections {
		if c.From == from && c.To == to {
			return c.Format, true
		}
	}
	return domain.Format{}, false
}

func (g *Graph) detachAll() {
	g.connections = nil
	clear(g.attached)
	g.built = false

	g.renderMu.Lock()
	g.mixer.Clear()
	g.renderMu.Unlock()
}

// HOTPATH
func (g *Graph) render(out [][2]float64) {
	g.renderMu.Lock()
	defer g.renderMu.Unlock()

	n, _ := g.mixer.Stream(out)
	for i := n; i < len(out); i++ {
		out[i] = [2]float64{}
	}
}
