package mockagent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/parley/pkg/a2a"
)

func (a *Agent) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req a2a.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(nil, a2a.ErrCodeParse, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInvalidReq, "invalid jsonrpc version"))
		return
	}

	a.logger.Debug("rpc", slog.String("method", req.Method))
	switch req.Method {
	case a2a.MethodSend:
		a.rpcSendMessage(w, req)
	case a2a.MethodStream:
		a.rpcStreamMessage(w, req)
	case a2a.MethodGet:
		a.rpcGetTask(w, req)
	case a2a.MethodCancel:
		a.rpcCancelTask(w, req)
	default:
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func (a *Agent) decodeMessage(w http.ResponseWriter, req a2a.JSONRPCRequest) (a2a.Message, bool) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInvalidParam, "invalid params"))
		return a2a.Message{}, false
	}
	if params.Message.Text() == "" {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInvalidParam, "empty message"))
		return a2a.Message{}, false
	}
	return params.Message, true
}

func (a *Agent) rpcSendMessage(w http.ResponseWriter, req a2a.JSONRPCRequest) {
	msg, ok := a.decodeMessage(w, req)
	if !ok {
		return
	}
	task, err := a.processMessage(msg)
	if err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, a2a.NewJSONRPCResponse(req.ID, task))
}

// rpcStreamMessage answers with SSE: a working status, the reply as a flat chat event, an
// artifact batch when there is one, then the final completed status.
func (a *Agent) rpcStreamMessage(w http.ResponseWriter, req a2a.JSONRPCRequest) {
	msg, ok := a.decodeMessage(w, req)
	if !ok {
		return
	}
	task, err := a.processMessage(msg)
	if err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInternal, err.Error()))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, flusher, canFlush, "status", a2a.NewJSONRPCResponse(req.ID, statusEvent(task, a2a.TaskStateWorking, false)))
	writeSSE(w, flusher, canFlush, "message", a2a.ChatEvent{Role: a2a.RoleAgent, Content: lastAgentText(task)})
	if n := len(task.Artifacts); n > 0 && wantsArtifact(msg.Text()) {
		writeSSE(w, flusher, canFlush, "artifacts", a2a.ArtifactBatch{Artifacts: task.Artifacts[n-1:]})
	}
	writeSSE(w, flusher, canFlush, "status", a2a.NewJSONRPCResponse(req.ID, statusEvent(task, a2a.TaskStateCompleted, true)))
}

func (a *Agent) rpcGetTask(w http.ResponseWriter, req a2a.JSONRPCRequest) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInvalidParam, "invalid params"))
		return
	}
	task, err := a.store.Get(params.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeTaskNotFound, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, a2a.NewJSONRPCResponse(req.ID, task))
}

func (a *Agent) rpcCancelTask(w http.ResponseWriter, req a2a.JSONRPCRequest) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInvalidParam, "invalid params"))
		return
	}
	task, err := a.store.Get(params.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeTaskNotFound, err.Error()))
		return
	}
	if task.Status.State == a2a.TaskStateCanceled {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeNotCancel, fmt.Sprintf("task %q already canceled", task.ID)))
		return
	}
	if err := a.store.Update(task.ID, a2a.TaskStateCanceled); err != nil {
		writeJSON(w, http.StatusOK, a2a.NewJSONRPCError(req.ID, a2a.ErrCodeInternal, err.Error()))
		return
	}
	task.Status.State = a2a.TaskStateCanceled
	a.logger.Info("task canceled", slog.String("task_id", task.ID))
	writeJSON(w, http.StatusOK, a2a.NewJSONRPCResponse(req.ID, task))
}

// processMessage records msg on its task, creating the task when msg names none or an
// unknown one, and appends the echo reply.
func (a *Agent) processMessage(msg a2a.Message) (*a2a.Task, error) {
	task := a.getOrCreateTask(msg)
	_ = a.store.Update(task.ID, a2a.TaskStateWorking)

	text := msg.Text()
	reply := a2a.Message{
		Kind:      a2a.KindMessage,
		MessageID: uuid.NewString(),
		Role:      a2a.RoleAgent,
		Parts:     []a2a.Part{a2a.TextPart(echo(text))},
		TaskID:    task.ID,
		ContextID: task.ContextID,
	}
	if err := a.store.AppendMessage(task.ID, reply); err != nil {
		return nil, err
	}
	if wantsArtifact(text) {
		art := a2a.Artifact{
			ArtifactID: uuid.NewString(),
			Name:       "echo.txt",
			Parts: []a2a.Part{{
				Kind: a2a.PartFile,
				File: &a2a.FileContent{Name: "echo.txt", MimeType: "text/plain", Bytes: encodeBase64(text)},
			}},
		}
		if err := a.store.AddArtifacts(task.ID, art); err != nil {
			return nil, err
		}
	}
	if err := a.store.Update(task.ID, a2a.TaskStateCompleted); err != nil {
		return nil, err
	}
	return a.store.Get(task.ID)
}

func (a *Agent) getOrCreateTask(msg a2a.Message) *a2a.Task {
	if msg.TaskID != "" {
		if _, err := a.store.Get(msg.TaskID); err == nil {
			_ = a.store.AppendMessage(msg.TaskID, msg)
			task, _ := a.store.Get(msg.TaskID)
			return task
		}
	}

	id := msg.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	msg.TaskID = id
	msg.ContextID = contextID
	task := &a2a.Task{
		Kind:      a2a.KindTask,
		ID:        id,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Now().UTC().Format(time.RFC3339)},
		History:   []a2a.Message{msg},
	}
	a.store.Create(task)
	a.logger.Info("task created", slog.String("task_id", id), slog.String("context_id", contextID))
	return task
}

func statusEvent(task *a2a.Task, state a2a.TaskState, final bool) a2a.StatusUpdateEvent {
	return a2a.StatusUpdateEvent{
		Kind:      a2a.KindStatusUpdate,
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    a2a.TaskStatus{State: state, Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Final:     final,
	}
}

func lastAgentText(task *a2a.Task) string {
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == a2a.RoleAgent {
			return task.History[i].Text()
		}
	}
	return ""
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	if canFlush {
		flusher.Flush()
	}
}
