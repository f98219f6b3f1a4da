package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 1 << 20

// doJSON sends a JSON request and decodes a JSON response into out.
// Every failure is returned as *Error classified for retry.
func doJSON(ctx context.Context, client HTTPDoer, destination, method, endpoint string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Destination: destination, Kind: KindRejected, Message: "encode request: " + err.Error(), Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Destination: destination, Kind: KindRejected, Message: "build request: " + err.Error(), Err: err}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "postpipe/1.0")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Transient(destination, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Transient(destination, "read response: "+err.Error(), err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{
			Destination: destination,
			Kind:        KindForStatus(resp.StatusCode),
			StatusCode:  resp.StatusCode,
			Message:     remoteMessage(respBody, resp.Status),
		}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		// the remote side accepted the request; retrying could publish twice
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{Destination: destination, Kind: KindRejected, StatusCode: resp.StatusCode, Message: "unexpected response: " + err.Error(), Err: err}
		}
	}
	return nil
}

// remoteMessage extracts the error text a platform returned, verbatim.
func remoteMessage(body []byte, status string) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
			Context string `json:"context"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
		if len(envelope.Errors) > 0 {
			msg := strings.TrimSpace(envelope.Errors[0].Message)
			if ctxMsg := strings.TrimSpace(envelope.Errors[0].Context); ctxMsg != "" {
				msg += ": " + ctxMsg
			}
			if msg != "" {
				return msg
			}
		}
		if len(envelope.Error) > 0 {
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
				return strings.TrimSpace(nested.Message)
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 500 {
			text = text[:500]
		}
		return text
	}
	return status
}

func idempotencyHeader(p Payload) http.Header {
	header := http.Header{}
	if p.IdempotencyKey != "" {
		header.Set("Idempotency-Key", p.IdempotencyKey)
	}
	return header
}
