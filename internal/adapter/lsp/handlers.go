package lsp

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.lsp.dev/protocol"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// registerHandlers wires the server-initiated traffic the host understands.
func (s *Session) registerHandlers(t *Transport) {
	t.HandleNotification(protocol.MethodTextDocumentPublishDiagnostics, s.handlePublishDiagnostics)
	t.HandleNotification(protocol.MethodWindowLogMessage, s.handleMessage("lsp server log"))
	t.HandleNotification(protocol.MethodWindowShowMessage, s.handleMessage("lsp server message"))

	t.HandleRequest(protocol.MethodWorkspaceConfiguration, handleConfiguration)
	t.HandleRequest(protocol.MethodClientRegisterCapability, acknowledge)
	t.HandleRequest(protocol.MethodClientUnregisterCapability, acknowledge)
	t.HandleRequest(protocol.MethodWorkDoneProgressCreate, acknowledge)
}

// handlePublishDiagnostics processes diagnostic notifications from the server.
func (s *Session) handlePublishDiagnostics(raw json.RawMessage) {
	var params struct {
		URI         string                 `json:"uri"`
		Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Warn("lsp: failed to unmarshal diagnostics", "error", err)
		return
	}
	if s.onDiagnostics != nil {
		s.onDiagnostics(params.URI, params.Diagnostics)
	}
}

// handleMessage logs window/logMessage and window/showMessage at the level
// matching the message type.
func (s *Session) handleMessage(msg string) NotificationHandler {
	return func(raw json.RawMessage) {
		var params protocol.LogMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			s.logger.Debug("lsp: malformed message notification", "error", err)
			return
		}
		s.logger.Log(context.Background(), messageLevel(params.Type), msg, "text", params.Message)
	}
}

func messageLevel(t protocol.MessageType) slog.Level {
	switch t {
	case protocol.MessageTypeError:
		return slog.LevelError
	case protocol.MessageTypeWarning:
		return slog.LevelWarn
	case protocol.MessageTypeInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// handleConfiguration answers workspace/configuration with one null per item.
func handleConfiguration(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.ConfigurationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &ResponseError{Code: CodeInvalidRequest, Message: err.Error()}
	}
	return make([]any, len(params.Items)), nil
}

func acknowledge(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}
