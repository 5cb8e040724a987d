package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/types"
)

// JSON performs a JSON round trip against the backend: marshals body when
// present, sends through Do (token lifecycle included), maps non-2xx replies
// onto the typed error taxonomy, and decodes the reply into out when asked.
func (m *Manager) JSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding request body")
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding response body")
	}
	return nil
}

// decodeAPIError maps an error reply onto the client taxonomy, preferring
// the backend's own message when one is provided.
func decodeAPIError(resp *http.Response) error {
	code := pkgerrors.FromHTTPStatus(resp.StatusCode)
	message := pkgerrors.MetadataFor(code).PublicMessage

	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	typed := pkgerrors.New(code, message)
	if envelope.Error.Details != nil {
		typed = typed.WithDetails(envelope.Error.Details)
	}
	return typed
}
