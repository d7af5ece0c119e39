package protocol

// FrameMessage is the uplink format published for every extracted frame
type FrameMessage struct {
	SessionID string   `json:"session_id"`
	Gateway   string   `json:"gateway_id"`
	Protocol  string   `json:"protocol"`
	ClientIP  string   `json:"client_ip"`
	Timestamp int64    `json:"timestamp"` // unix millis of the frame's first byte
	Data      HexBytes `json:"data"`
	Header    *Span    `json:"header,omitempty"`
	Payload   *Span    `json:"payload,omitempty"`
}

// CommandRequest asks the gateway to build and send a saved command
type CommandRequest struct {
	SessionID string         `json:"session_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	Payload   HexBytes       `json:"payload,omitempty"`
}

// NewFrameMessage wraps an extracted frame for publishing
func NewFrameMessage(sessionID, gatewayID, proto, clientIP string, frame TimedChunk) FrameMessage {
	return FrameMessage{
		SessionID: sessionID,
		Gateway:   gatewayID,
		Protocol:  proto,
		ClientIP:  clientIP,
		Timestamp: frame.Timestamp.UnixMilli(),
		Data:      frame.Data,
		Header:    frame.Header,
		Payload:   frame.Payload,
	}
}
