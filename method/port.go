package method

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/weave/errors"
)

// Port is a call site bound to a method at runtime. Its sizes must match the
// target's exactly.
type Port struct {
	name        string
	requestSize int
	replySize   int

	mu     sync.RWMutex
	target *Method
}

// NewPort creates an unconnected port.
func NewPort(name string, requestSize, replySize int) *Port {
	return &Port{name: name, requestSize: requestSize, replySize: replySize}
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Connect binds the port to m, replacing any previous target.
func (p *Port) Connect(m *Method) error {
	if p == nil || m == nil {
		return errors.ErrInvalidArgument
	}
	if p.requestSize != m.requestSize || p.replySize != m.replySize {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Port", "Connect",
			fmt.Sprintf("match sizes %d/%d against %q %d/%d",
				p.requestSize, p.replySize, m.name, m.requestSize, m.replySize))
	}

	p.mu.Lock()
	p.target = m
	p.mu.Unlock()
	return nil
}

// Disconnect clears the target. Calls through an unconnected port fail with
// errors.ErrInvalidArgument.
func (p *Port) Disconnect() {
	p.mu.Lock()
	p.target = nil
	p.mu.Unlock()
}

// Target returns the connected method, nil when unconnected.
func (p *Port) Target() *Method {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

// Call invokes the connected method. See Method.Call.
func (p *Port) Call(request, reply []byte, timeout time.Duration) error {
	m, err := p.resolve()
	if err != nil {
		return err
	}
	return m.Call(request, reply, timeout)
}

// CallAsync dispatches through the connected method. See Method.CallAsync.
func (p *Port) CallAsync(request []byte, timeout time.Duration) (*Call, error) {
	m, err := p.resolve()
	if err != nil {
		return nil, err
	}
	return m.CallAsync(request, timeout)
}

func (p *Port) resolve() (*Method, error) {
	if p == nil {
		return nil, errors.ErrInvalidArgument
	}
	m := p.Target()
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Port", "Call",
			fmt.Sprintf("resolve target of %q", p.name))
	}
	return m, nil
}
