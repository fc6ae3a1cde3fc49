package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/alexspaceteam/hackpack-robots/pkg/statebus"
	"github.com/alexspaceteam/hackpack-robots/pkg/supervisor"
	"github.com/alexspaceteam/hackpack-robots/pkg/transport"
	"github.com/alexspaceteam/hackpack-robots/pkg/wire"
)

// ServerName / ServerVersion identify this adapter in the initialize reply.
const (
	ServerName      = "hackpack-robots-adapter"
	ServerVersion   = "1.0.0"
	protocolVersion = "2024-11-05"
)

// Supervisor is the subset of pkg/supervisor's Supervisor dispatch depends
// on, named here so tests can substitute a fake.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
	Transactor() (supervisor.Transactor, bool)
	ReportTransactError(err error)
}

// Server dispatches the three MCP methods spec.md §4.G names.
type Server struct {
	sup    Supervisor
	logger zerolog.Logger
	bus    *statebus.Bus
}

// NewServer constructs a dispatcher bound to sup.
func NewServer(sup Supervisor, logger zerolog.Logger) *Server {
	return &Server{sup: sup, logger: logger}
}

// SetBus attaches a telemetry bus; completed tool calls are announced on
// ChannelToolCalls (spec.md §4.J). Nil disables announcements.
func (s *Server) SetBus(bus *statebus.Bus) {
	s.bus = bus
}

// HandleRequest decodes one JSON-RPC request, dispatches it, and returns the
// marshaled JSON-RPC response. It never fails to produce a response: a
// malformed request yields a -32700 response, never an error return.
func (s *Server) HandleRequest(ctx context.Context, correlationID string, raw []byte) []byte {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return s.marshal(s.errorResponse(nil, ErrCodeParseError, "parse error: "+err.Error()))
	}

	logger := s.logger.With().Str("correlation_id", correlationID).Str("method", req.Method).Logger()

	var resp JSONRPCResponse
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(req)
	case "tools/list":
		resp = s.handleToolsList(req)
	case "tools/call":
		resp = s.handleToolsCall(ctx, req, logger)
	default:
		resp = s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	logger.Info().Bool("error", resp.Error != nil).Msg("handled mcp request")
	return s.marshal(resp)
}

func (s *Server) marshal(resp JSONRPCResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error marshaling response"}}`)
	}
	return data
}

func (s *Server) errorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

func (s *Server) resultResponse(id interface{}, result interface{}) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (s *Server) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	var params MCPInitializeParams
	_ = json.Unmarshal(req.Params, &params)

	pv := protocolVersion
	if params.ProtocolVersion != "" {
		pv = params.ProtocolVersion
	}

	return s.resultResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: pv,
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: ServerName, Version: ServerVersion},
	})
}

func (s *Server) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	snap := s.sup.Snapshot()
	if snap.State != supervisor.Ready || snap.Manifest == nil {
		return s.resultResponse(req.ID, MCPToolsListResult{
			Tools: []MCPTool{},
			Status: &MCPToolsListStatus{
				State:   snap.State.String(),
				Message: snap.Message,
			},
		})
	}

	tools := make([]MCPTool, 0, len(snap.Manifest.Tools())+1)
	for _, desc := range snap.Manifest.Tools() {
		d := desc
		tools = append(tools, MCPTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: inputSchema(&d),
		})
	}
	tools = append(tools, scriptToolDescriptor())

	return s.resultResponse(req.ID, MCPToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, req JSONRPCRequest, logger zerolog.Logger) JSONRPCResponse {
	var params MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, ErrCodeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	if params.Name == scriptToolName {
		result, code, msg := s.runScript(ctx, req.Params, logger)
		if code != 0 {
			return s.errorResponse(req.ID, code, msg)
		}
		return s.resultResponse(req.ID, result)
	}

	content, isErr, code, msg := s.callTool(ctx, params.Name, params.Arguments, logger)
	if code != 0 {
		return s.errorResponse(req.ID, code, msg)
	}
	return s.resultResponse(req.ID, MCPToolCallResult{Content: content, IsError: isErr})
}

// callTool performs one manifest-backed tool call: lookup, argument coercion
// and encoding, transaction, return decoding. On success it returns
// (content, isErr=false, 0, ""). code != 0 signals a JSON-RPC error of that
// code, with msg as the message.
func (s *Server) callTool(ctx context.Context, name string, arguments map[string]interface{}, logger zerolog.Logger) ([]MCPToolCallContent, bool, int, string) {
	snap := s.sup.Snapshot()
	if snap.State != supervisor.Ready || snap.Manifest == nil {
		return nil, false, ErrCodeInternalError, fmt.Sprintf("device not ready: %s", snap.Message)
	}

	desc, err := snap.Manifest.ByName(name)
	if err != nil {
		return nil, false, ErrCodeInvalidParams, fmt.Sprintf("unknown tool %q", name)
	}

	values, err := coerceArguments(desc.Parameters, arguments)
	if err != nil {
		return nil, false, ErrCodeInvalidParams, err.Error()
	}

	argBytes, err := wire.EncodeParams(desc.Parameters, values)
	if err != nil {
		return nil, false, ErrCodeInvalidParams, err.Error()
	}

	command := append([]byte{desc.Tag}, argBytes...)

	tr, ok := s.sup.Transactor()
	if !ok {
		return nil, false, ErrCodeInternalError, "device not ready"
	}

	respBytes, err := tr.Transact(ctx, command)
	if err != nil {
		s.reportIfIOError(err)
		s.publishToolCall(name, false)
		return nil, false, ErrCodeInternalError, fmt.Sprintf("transaction failed for %q: %v", name, err)
	}

	value, err := wire.DecodeReturn(respBytes, desc.Return)
	if err != nil {
		s.publishToolCall(name, false)
		return nil, false, ErrCodeInternalError, fmt.Sprintf("decoding response for %q: %v", name, err)
	}

	text := renderReturn(desc.Return, value)
	logger.Info().Str("tool", name).Msg("tool call completed")
	s.publishToolCall(name, true)
	return []MCPToolCallContent{{Type: "text", Text: text}}, false, 0, ""
}

// reportIfIOError forwards transport-level IoError/Timeout failures to the
// supervisor so it can drive Ready -> Error -> Disconnected (spec.md
// §4.F). CrcMismatch, TruncatedResponse, and DeviceError leave the
// connection Ready (spec.md §8 scenario 5).
func (s *Server) reportIfIOError(err error) {
	te, ok := err.(*transport.TransactError)
	if !ok {
		return
	}
	if te.Kind == transport.KindIoError || te.Kind == transport.KindTimeout {
		s.sup.ReportTransactError(err)
	}
}

// publishToolCall announces a completed tool call on the telemetry bus, if
// one is attached.
func (s *Server) publishToolCall(tool string, ok bool) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishToolCall(tool, ok); err != nil {
		s.logger.Warn().Err(err).Str("tool", tool).Msg("statebus publish failed")
	}
}
