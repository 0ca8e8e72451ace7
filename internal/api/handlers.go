package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sidekick-edu/sidekick-bridge/internal/blocks"
	"github.com/sidekick-edu/sidekick-bridge/internal/bridge"
)

// ToggleRequest is the body of POST /connection/toggle.
type ToggleRequest struct {
	Broker string `json:"broker"`
}

// ProgramResponse reports the program lifecycle state.
type ProgramResponse struct {
	Running bool   `json:"running"`
	Runs    uint64 `json:"runs"`
	// Changed is false when the request found the program already in the
	// requested state.
	Changed bool `json:"changed"`
}

// BlockResponse is the result of running one block.
type BlockResponse struct {
	Opcode string `json:"opcode"`
	Value  any    `json:"value"`
}

// handleListPeripherals returns the configured brokers.
func (s *Server) handleListPeripherals(w http.ResponseWriter, _ *http.Request) {
	peripherals := s.bridge.Peripherals()
	writeJSON(w, http.StatusOK, map[string]any{
		"peripherals": peripherals,
		"count":       len(peripherals),
	})
}

// handleScan starts a peripheral scan. The list arrives on the
// peripheral.list_update channel.
func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	s.bridge.Scan()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

// handleGetConnection returns the bridge snapshot.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Snapshot())
}

// handleToggleConnection connects to the requested broker, or disconnects
// when already connected. The outcome is reported asynchronously.
func (s *Server) handleToggleConnection(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Broker = strings.TrimSpace(req.Broker)
	if req.Broker == "" && s.bridge.Snapshot().Status != bridge.StatusConnected {
		writeBadRequest(w, "broker is required")
		return
	}

	s.bridge.ToggleConnect(req.Broker)
	writeJSON(w, http.StatusAccepted, s.bridge.Snapshot())
}

// handleConnectPeripheral connects to a configured broker by ID.
func (s *Server) handleConnectPeripheral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.hasPeripheral(id) {
		writeNotFound(w, "peripheral not found")
		return
	}

	s.bridge.ConnectPeripheral(id)
	writeJSON(w, http.StatusAccepted, s.bridge.Snapshot())
}

// handleDisconnect drops the broker connection.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.bridge.Disconnect()
	writeJSON(w, http.StatusOK, s.bridge.Snapshot())
}

// handleGetProgram returns the program lifecycle state.
func (s *Server) handleGetProgram(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.programResponse(false))
}

// handleStartProgram fires program-start.
func (s *Server) handleStartProgram(w http.ResponseWriter, _ *http.Request) {
	changed := s.runtime.StartProgram()
	writeJSON(w, http.StatusOK, s.programResponse(changed))
}

// handleStopProgram fires program-stop.
func (s *Server) handleStopProgram(w http.ResponseWriter, _ *http.Request) {
	changed := s.runtime.StopProgram()
	writeJSON(w, http.StatusOK, s.programResponse(changed))
}

// handleListBlocks returns the block catalogue.
func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	catalogue := blocks.Blocks()
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": catalogue,
		"count":  len(catalogue),
	})
}

// handleRunBlock runs one block with the JSON body as its arguments.
func (s *Server) handleRunBlock(w http.ResponseWriter, r *http.Request) {
	opcode := chi.URLParam(r, "opcode")

	args := blocks.Args{}
	if err := decodeBody(r, &args); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	value, err := s.blocks.Dispatch(opcode, args)
	if err != nil {
		writeBlockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BlockResponse{Opcode: opcode, Value: value})
}

func (s *Server) programResponse(changed bool) ProgramResponse {
	return ProgramResponse{
		Running: s.runtime.Running(),
		Runs:    s.runtime.Runs(),
		Changed: changed,
	}
}

func (s *Server) hasPeripheral(id string) bool {
	for _, p := range s.bridge.Peripherals() {
		if p.ID == id {
			return true
		}
	}
	return false
}
