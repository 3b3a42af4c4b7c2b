// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// ProxyHandler serves browser requests by forwarding them to upstream
// through c. A queued mutation is answered with 202 and the item id.
func (c *Client) ProxyHandler(upstream string) http.Handler {
	base := strings.TrimSuffix(upstream, "/")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := http.NewRequestWithContext(r.Context(), r.Method, base+r.URL.RequestURI(), r.Body)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		out.Header = r.Header.Clone()
		out.Header.Del("Connection")

		resp, err := c.Do(out)
		if err != nil {
			var queued *QueuedError
			w.Header().Set("Content-Type", "application/json")
			if errors.As(err, &queued) {
				w.WriteHeader(http.StatusAccepted)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"queued":  true,
					"id":      queued.Item.ID,
					"message": "Изменения будут синхронизированы при восстановлении связи",
				})
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   err.Error(),
				"offline": true,
			})
			return
		}
		defer resp.Body.Close()

		for name, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}
