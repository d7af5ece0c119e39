package protocol

// Detector identifies the protocol of a connection from its first bytes
type Detector interface {
	// Match returns the protocol and true if the header bytes matched one
	Match(headerBytes []byte) (*Protocol, bool)
	// NeedsHeader reports whether Match has to wait for the first bytes
	NeedsHeader() bool
}

var _ Detector = Resolver{}

// Resolver resolves a protocol for a new connection: detection first,
// then a configured fallback.
type Resolver struct {
	Project  *Project
	Fallback string
}

// Match implements Detector
func (r Resolver) Match(headerBytes []byte) (*Protocol, bool) {
	if p, ok := r.Project.Match(headerBytes); ok {
		return p, true
	}
	if r.Fallback == "" {
		return nil, false
	}
	p, err := r.Project.Protocol(r.Fallback)
	if err != nil {
		return nil, false
	}
	return p, true
}

// NeedsHeader reports whether detection can use the first chunk.
// With no match prefixes configured the fallback applies immediately.
func (r Resolver) NeedsHeader() bool {
	for _, p := range r.Project.Protocols {
		if len(p.Match) > 0 {
			return true
		}
	}
	return false
}
