package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/chartbridge/chartbridge/internal/audit"
	"github.com/chartbridge/chartbridge/internal/tools"
)

// handleListTools serves the tool catalog with each tool's input schema.
func handleListTools(catalog tools.Catalog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, map[string]any{
			"tools": catalog.Tools(),
		})
	})
}

// handleCallTool executes the tool named in the path with the JSON arguments
// object from the request body. Tool execution failures are reported in the
// result body with isError set, not as HTTP errors: the transport succeeded,
// the tool did not.
func handleCallTool(runner tools.Runner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		name := r.PathValue("tool")

		entry := audit.Log(r.Context())
		entry.Tool = name

		tool, ok := runner.Catalog().Lookup(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown tool: "+name)
			return
		}
		entry.Resource = tool.Resource

		args := map[string]any{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
				log.Info().Str("tool", name).Msgf("malformed tool arguments: %v", err)
				writeJSONError(w, http.StatusBadRequest, "request body must be a JSON object")
				return
			}
		}

		result := runner.Run(r.Context(), name, args)
		entry.ToolError = result.IsError

		writeJSON(w, http.StatusOK, result)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
